package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/observability"
)

// DefaultTTLSeconds is the credential lifetime applied when a user record
// does not carry its own
const DefaultTTLSeconds = 3600

// ErrSigningConfig indicates a missing or invalid signing secret/algorithm.
// It is fatal at issuance time: a broken deployment, not bad input.
var ErrSigningConfig = errors.New("invalid signing configuration")

// Claims is the signed payload handed to the broker. The ACL slice order is
// the broker's evaluation order and survives signing byte-for-byte.
type Claims struct {
	Username  string      `json:"username"`
	ExpiresAt int64       `json:"exp"`
	ACL       []acl.Entry `json:"acl"`
}

// GetExpirationTime implements jwt.Claims
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

// GetIssuedAt implements jwt.Claims
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) { return nil, nil }

// GetNotBefore implements jwt.Claims
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims
func (c Claims) GetIssuer() (string, error) { return "", nil }

// GetSubject implements jwt.Claims
func (c Claims) GetSubject() (string, error) { return "", nil }

// GetAudience implements jwt.Claims
func (c Claims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// IssuerConfig is the immutable signing configuration for an Issuer
type IssuerConfig struct {
	// Secret is the HMAC signing secret. Required.
	Secret string

	// Algorithm is the signing algorithm: HS256 (default), HS384 or HS512
	Algorithm string

	// DefaultTTLSeconds applies to users without an explicit TTL
	DefaultTTLSeconds int64
}

// Issuer compiles a user's ACL and wraps it in a signed, time-limited
// credential
type Issuer struct {
	store      acl.CredentialStore
	compiler   *acl.Compiler
	secret     []byte
	method     jwt.SigningMethod
	defaultTTL int64
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewIssuer creates a token issuer. It fails with ErrSigningConfig when the
// secret is empty or the algorithm is not an HMAC variant.
func NewIssuer(store acl.CredentialStore, compiler *acl.Compiler, cfg IssuerConfig, logger *observability.Logger, metrics *observability.Metrics) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("signing secret is required: %w", ErrSigningConfig)
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "HS256"
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q: %w", algorithm, ErrSigningConfig)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing algorithm %q is not an HMAC variant: %w", algorithm, ErrSigningConfig)
	}

	defaultTTL := cfg.DefaultTTLSeconds
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTLSeconds
	}

	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Issuer{
		store:      store,
		compiler:   compiler,
		secret:     []byte(cfg.Secret),
		method:     method,
		defaultTTL: defaultTTL,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// IssueToken compiles the user's ACL, signs {username, exp, acl} and returns
// both the token string and the unsigned payload for introspection.
func (i *Issuer) IssueToken(ctx context.Context, username string) (string, *Claims, error) {
	start := i.now()

	user, err := i.store.FindUser(ctx, username)
	if err != nil {
		i.observeIssue("error")
		return "", nil, fmt.Errorf("issue token for %q: %w", username, err)
	}

	ttl := user.TTLSeconds
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	entries, err := i.compiler.Compile(ctx, username)
	if err != nil {
		i.observeIssue("error")
		return "", nil, err
	}

	claims := &Claims{
		Username:  username,
		ExpiresAt: i.now().Add(time.Duration(ttl) * time.Second).Unix(),
		ACL:       entries,
	}

	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		i.observeIssue("error")
		return "", nil, fmt.Errorf("sign token for %q: %w", username, err)
	}

	i.observeIssue("success")
	if i.metrics != nil {
		i.metrics.TokenIssuanceDuration.Observe(i.now().Sub(start).Seconds())
	}
	i.logger.WithFields(map[string]interface{}{
		"username":    username,
		"acl_entries": len(entries),
		"ttl_seconds": ttl,
	}).Info("issued broker credential")

	return token, claims, nil
}

// VerifyToken parses and validates a token issued by this node, returning
// its claims. Used by the node's own protected endpoints; the broker runs
// its equivalent on the other side.
func (i *Issuer) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != i.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}

func (i *Issuer) observeIssue(status string) {
	if i.metrics != nil {
		i.metrics.TokensIssuedTotal.WithLabelValues(status).Inc()
	}
}
