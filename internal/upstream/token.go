package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/skyward-labs/skyward/pkg/logger"
)

// TokenCache obtains and caches the upstream bearer credential. A token
// is reused until a conservative expiry (the provider's stated expiry
// minus a buffer); Invalidate forces a fresh exchange after a 401.
//
// Constructed once at startup and injected into the Client - there is no
// package-level token state.
type TokenCache struct {
	httpClient *http.Client
	tokenURL   string
	credsPath  string
	buffer     time.Duration
	logger     *logger.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache creates a new token cache
func NewTokenCache(tokenURL, credsPath string, buffer, timeout time.Duration, log *logger.Logger) *TokenCache {
	return &TokenCache{
		httpClient: &http.Client{Timeout: timeout},
		tokenURL:   tokenURL,
		credsPath:  credsPath,
		buffer:     buffer,
		logger:     log.Named("token-cache"),
	}
}

// Token returns a bearer token for the upstream provider. An empty token
// with a nil error means "proceed unauthenticated": either no credentials
// are configured, or the exchange failed and the caller may still issue
// anonymous (rate-limited) requests. Exchange failures are reported as
// *AuthError so callers can distinguish them from missing credentials.
func (t *TokenCache) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && time.Now().Before(t.expiry) {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	if t.credsPath == "" {
		return "", nil
	}
	if _, err := os.Stat(t.credsPath); err != nil {
		t.logger.Warn("Credentials file not found - proceeding as anonymous (rate limits may apply)",
			logger.String("path", t.credsPath))
		return "", nil
	}

	token, expiry, err := t.exchange(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	t.mu.Lock()
	t.token = token
	t.expiry = expiry
	t.mu.Unlock()

	t.logger.Debug("Cached new bearer token",
		logger.Time("expires_at", expiry))

	return token, nil
}

// Invalidate clears the cached token. Used after a downstream 401 so the
// next Token call performs a fresh exchange.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiry = time.Time{}
	t.mu.Unlock()

	t.logger.Debug("Bearer token invalidated")
}

// exchange loads the credentials file and performs a client-credentials
// token request. A credentials file containing an explicit access_token
// short-circuits the exchange.
func (t *TokenCache) exchange(ctx context.Context) (string, time.Time, error) {
	b, err := os.ReadFile(t.credsPath)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds struct {
		AccessToken  string `json:"access_token"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(b, &creds); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid credentials JSON: %w", err)
	}

	if creds.AccessToken != "" {
		// Tokens from file may still expire on the provider side; cache
		// with a conservative default lifetime.
		return creds.AccessToken, time.Now().Add(29 * time.Minute), nil
	}

	if creds.ClientID == "" || creds.ClientSecret == "" {
		return "", time.Time{}, fmt.Errorf("credentials must contain access_token or client_id+client_secret")
	}
	if t.tokenURL == "" {
		return "", time.Time{}, fmt.Errorf("token_url is required for client-credentials exchange")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	t.logger.Debug("Requesting OAuth2 token", logger.String("token_url", t.tokenURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.logger.Error("Token endpoint returned non-200",
			logger.Int("status", resp.StatusCode),
			logger.String("body", string(body)))
		return "", time.Time{}, fmt.Errorf("token endpoint error: %d", resp.StatusCode)
	}

	var tokResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokResp.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token response did not contain access_token")
	}

	var expiry time.Time
	if lifetime := time.Duration(tokResp.ExpiresIn) * time.Second; lifetime > t.buffer*2 {
		expiry = time.Now().Add(lifetime - t.buffer)
	} else {
		expiry = time.Now().Add(29 * time.Minute)
	}

	return tokResp.AccessToken, expiry, nil
}
