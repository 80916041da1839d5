package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// ParseJSONOrError decodes the request body into dst, writing a 400 response
// and returning false on malformed input
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "invalid request body")
		return false
	}
	return true
}

// GetPathVars returns the mux path variables for a request
func GetPathVars(r *http.Request) map[string]string {
	return mux.Vars(r)
}
