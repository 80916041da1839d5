package api

import (
	"errors"
	"net/http"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/httputil"
	"github.com/galehq/gale/pkg/observability"
)

// health handles GET /healthz
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// register handles POST /auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string                `json:"username"`
		Password   string                `json:"password"`
		Roles      []string              `json:"roles"`
		Resources  []acl.ResourceBinding `json:"resources"`
		TTLSeconds int64                 `json:"ttl_seconds"`
	}

	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "both username and password are required")
		return
	}

	hash, err := s.vault.Hash(req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	user := &acl.User{
		Username:     req.Username,
		PasswordHash: hash,
		Roles:        req.Roles,
		Resources:    req.Resources,
		TTLSeconds:   ttl,
	}

	if err := s.store.InsertUser(r.Context(), user); err != nil {
		if errors.Is(err, acl.ErrDuplicateCredential) {
			httputil.WriteConflict(w, "username already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"username":    user.Username,
		"roles":       user.Roles,
		"ttl_seconds": user.TTLSeconds,
	})
}

// login handles POST /auth/login. Missing users and wrong passwords get the
// same response to avoid username enumeration.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "both username and password are required")
		return
	}

	if !s.authenticator.Authenticate(r.Context(), req.Username, req.Password) {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	httputil.WriteSuccess(w, map[string]string{"message": "authenticated"})
}

// issueToken handles POST /auth/token: authenticate, compile the ACL, sign
// and return the credential alongside its payload.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "both username and password are required")
		return
	}

	if !s.authenticator.Authenticate(r.Context(), req.Username, req.Password) {
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	token, claims, err := s.issuer.IssueToken(r.Context(), req.Username)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("token issuance failed")
		httputil.WriteInternalError(w, errors.New("token issuance failed"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"token":   token,
		"payload": claims,
	})
}

// upsertRole handles PUT /auth/roles/{name}
func (s *Server) upsertRole(w http.ResponseWriter, r *http.Request) {
	vars := httputil.GetPathVars(r)
	name := vars["name"]

	var req struct {
		Rules []acl.Rule `json:"rules"`
	}

	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	for _, rule := range req.Rules {
		if rule.Permission != acl.PermissionAllow && rule.Permission != acl.PermissionDeny {
			httputil.WriteBadRequest(w, "rule permission must be allow or deny")
			return
		}
		switch rule.Action {
		case acl.ActionPublish, acl.ActionSubscribe, acl.ActionAll:
		default:
			httputil.WriteBadRequest(w, "rule action must be publish, subscribe or all")
			return
		}
	}

	if err := s.store.UpsertRole(r.Context(), name, req.Rules); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"name":  name,
		"rules": len(req.Rules),
	})
}

// userACL handles GET /auth/users/{username}/acl: recompiles and returns the
// user's grant list without issuing a credential.
func (s *Server) userACL(w http.ResponseWriter, r *http.Request) {
	vars := httputil.GetPathVars(r)
	username := vars["username"]

	entries, err := s.compiler.Compile(r.Context(), username)
	if err != nil {
		if errors.Is(err, acl.ErrNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"username": username,
		"acl":      entries,
	})
}

// whoami handles GET /auth/whoami for verified callers
func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"username": observability.GetUsername(r.Context()),
	})
}
