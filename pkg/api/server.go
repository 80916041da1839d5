// Package api exposes the auth node's HTTP surface: registration, login,
// credential issuance, role management and ACL introspection.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/auth"
	"github.com/galehq/gale/pkg/middleware"
	"github.com/galehq/gale/pkg/observability"
)

// Server represents the auth node API server
type Server struct {
	router        *mux.Router
	store         acl.CredentialStore
	vault         *auth.Vault
	authenticator *auth.Authenticator
	issuer        *auth.Issuer
	compiler      *acl.Compiler
	logger        *observability.Logger
	metrics       *observability.Metrics
	defaultTTL    int64
}

// ServerOptions bundles the collaborators an API server needs
type ServerOptions struct {
	Store         acl.CredentialStore
	Vault         *auth.Vault
	Authenticator *auth.Authenticator
	Issuer        *auth.Issuer
	Compiler      *acl.Compiler
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Registry      *prometheus.Registry

	// DefaultTTLSeconds applies to users registered without a TTL
	DefaultTTLSeconds int64
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.DefaultTTLSeconds <= 0 {
		opts.DefaultTTLSeconds = auth.DefaultTTLSeconds
	}

	s := &Server{
		router:        mux.NewRouter(),
		store:         opts.Store,
		vault:         opts.Vault,
		authenticator: opts.Authenticator,
		issuer:        opts.Issuer,
		compiler:      opts.Compiler,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		defaultTTL:    opts.DefaultTTLSeconds,
	}

	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestLogger(s.logger))
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	s.setupRoutes(opts.Registry)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	if registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}

	s.router.HandleFunc("/auth/register", s.register).Methods("POST")
	s.router.HandleFunc("/auth/login", s.login).Methods("POST")
	s.router.HandleFunc("/auth/token", s.issueToken).Methods("POST")
	s.router.HandleFunc("/auth/roles/{name}", s.upsertRole).Methods("PUT")

	// Introspection requires a valid broker credential
	authMW := middleware.NewAuthMiddleware(s.issuer)
	s.router.Handle("/auth/users/{username}/acl", authMW.Handler(http.HandlerFunc(s.userACL))).Methods("GET")
	s.router.Handle("/auth/whoami", authMW.Handler(http.HandlerFunc(s.whoami))).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
