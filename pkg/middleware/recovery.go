package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/galehq/gale/pkg/httputil"
	"github.com/galehq/gale/pkg/observability"
)

// Recovery converts handler panics into 500 responses instead of tearing
// down the connection
func Recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("panic recovered in handler")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
