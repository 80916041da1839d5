// Package tokenclient fetches and caches broker credentials for services
// that publish or subscribe on behalf of a fixed identity. Tokens are kept
// per username and refreshed ahead of expiry.
package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/galehq/gale/pkg/observability"
)

const (
	defaultCacheSize     = 128
	defaultRefreshMargin = 30 * time.Second
	defaultMaxRetries    = 5
	defaultBackoff       = time.Second
	defaultTimeout       = 10 * time.Second
)

// Options tunes a Provider. Zero values fall back to defaults.
type Options struct {
	// RefreshMargin is how long before expiry a cached token is treated
	// as stale
	RefreshMargin time.Duration
	MaxRetries    int
	Backoff       time.Duration
	CacheSize     int
	HTTPClient    *http.Client
	Logger        *observability.Logger
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Provider obtains signed broker credentials from the auth node over HTTP
type Provider struct {
	baseURL       string
	client        *http.Client
	cache         *lru.Cache[string, cachedToken]
	refreshMargin time.Duration
	maxRetries    int
	backoff       time.Duration
	logger        *observability.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewProvider creates a token provider for the auth node at baseURL
func NewProvider(baseURL string, opts Options) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("token provider requires a base URL")
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	cache, err := lru.New[string, cachedToken](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	return &Provider{
		baseURL:       baseURL,
		client:        opts.HTTPClient,
		cache:         cache,
		refreshMargin: opts.RefreshMargin,
		maxRetries:    opts.MaxRetries,
		backoff:       opts.Backoff,
		logger:        opts.Logger,
		now:           time.Now,
	}, nil
}

// GetToken returns a valid token for the username, from cache when fresh
// and from the auth node otherwise
func (p *Provider) GetToken(ctx context.Context, username, password string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache.Get(username); ok {
		if p.now().Before(cached.expiresAt.Add(-p.refreshMargin)) {
			return cached.token, nil
		}
		p.cache.Remove(username)
	}

	token, err := p.fetch(ctx, username, password)
	if err != nil {
		return "", err
	}

	expiresAt, err := tokenExpiry(token)
	if err != nil {
		return "", fmt.Errorf("failed to read token expiry: %w", err)
	}

	p.cache.Add(username, cachedToken{token: token, expiresAt: expiresAt})
	return token, nil
}

// Invalidate drops the cached token for a username, forcing a fresh fetch
// on the next GetToken call
func (p *Provider) Invalidate(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(username)
}

func (p *Provider) fetch(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		token, err := p.requestToken(ctx, body)
		if err == nil {
			return token, nil
		}
		lastErr = err

		p.logger.WithFields(map[string]interface{}{
			"username": username,
			"attempt":  attempt,
		}).WithError(err).Warn("token fetch failed")

		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
	return "", fmt.Errorf("token fetch failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *Provider) requestToken(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, payload)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("token response contained no token")
	}
	return parsed.Token, nil
}

// tokenExpiry extracts exp without verifying the signature. The provider is
// a client; only the broker and the auth node hold the signing secret.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
