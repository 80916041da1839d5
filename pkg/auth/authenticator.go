package auth

import (
	"context"
	"errors"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/observability"
)

// Authenticator verifies submitted passwords and gates token issuance.
// Missing users and wrong passwords resolve to the same rejection so that
// callers cannot enumerate usernames.
type Authenticator struct {
	store   acl.CredentialStore
	vault   *Vault
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuthenticator creates an authenticator over a credential store
func NewAuthenticator(store acl.CredentialStore, vault *Vault, logger *observability.Logger, metrics *observability.Metrics) *Authenticator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Authenticator{
		store:   store,
		vault:   vault,
		logger:  logger,
		metrics: metrics,
	}
}

// Authenticate verifies a password against the stored hash. A missing user
// returns false without computing a hash, bounding the work per attempt;
// the resulting timing difference is an accepted tradeoff.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) bool {
	user, err := a.store.FindUser(ctx, username)
	if err != nil {
		if !errors.Is(err, acl.ErrNotFound) {
			a.logger.WithError(err).WithField("username", username).Error("credential lookup failed")
		}
		a.observe("failure")
		return false
	}

	if !a.vault.Verify(password, user.PasswordHash) {
		a.observe("failure")
		return false
	}

	a.observe("success")
	return true
}

func (a *Authenticator) observe(status string) {
	if a.metrics != nil {
		a.metrics.AuthAttemptsTotal.WithLabelValues(status).Inc()
	}
}
