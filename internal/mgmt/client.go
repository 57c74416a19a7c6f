// Package mgmt is an authenticated client for the Auth0 Management API v2.
// Each Client acts for one chat user and lazily mints client-credentials
// access tokens, persisting them through a TokenStore.
package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"querybot/internal/domain"
	"querybot/internal/metrics"
)

const (
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 512
	maxBody        = 8 << 20
)

// TokenStore is the slice of domain.CredentialStore the client needs.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*domain.Credentials, error)
	UpdateToken(ctx context.Context, userID, token string, expiresIn time.Duration) error
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Store      TokenStore
	HTTPClient *http.Client
	Timeout    time.Duration // per outbound call
	Logger     *slog.Logger
	Now        func() time.Time
}

// Factory builds per-user Clients that share one HTTP client and one set of
// per-user refresh locks.
type Factory struct {
	store   TokenStore
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	locks   *keyedMutex
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{
		store:   cfg.Store,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     cfg.Now,
		locks:   newKeyedMutex(),
	}
}

// NewClient returns a Client acting with creds. It fails with
// domain.ErrCredentialsIncomplete when a required field is empty.
func (f *Factory) NewClient(creds *domain.Credentials) (*Client, error) {
	if creds == nil {
		return nil, domain.ErrCredentialsMissing
	}
	var missing []string
	if creds.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if creds.ClientID == "" {
		missing = append(missing, "client id")
	}
	if creds.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrCredentialsIncomplete, strings.Join(missing, ", "))
	}

	c := &Client{
		factory:      f,
		userID:       creds.UserID,
		origin:       Origin(creds.BaseURL),
		clientID:     creds.ClientID,
		clientSecret: creds.ClientSecret,
		accessToken:  creds.AccessToken,
	}
	if creds.TokenExpiresAt != nil {
		c.expiresAt = *creds.TokenExpiresAt
	}
	return c, nil
}

// Origin normalizes a tenant base URL. A bare domain such as
// "tenant.eu.auth0.com" is served over https.
func Origin(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if !strings.HasPrefix(baseURL, "https://") && !strings.HasPrefix(baseURL, "http://") {
		baseURL = "https://" + baseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// Client is a transient, per-message Management API client.
type Client struct {
	factory      *Factory
	userID       string
	origin       string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Audience is the Management API identifier for this tenant.
func (c *Client) Audience() string {
	return c.origin + "/api/v2/"
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.factory.now().UTC().Before(c.expiresAt) {
		return c.accessToken, true
	}
	return "", false
}

func (c *Client) setToken(token string, expiresAt time.Time) {
	c.mu.Lock()
	c.accessToken = token
	c.expiresAt = expiresAt
	c.mu.Unlock()
}

// AccessToken returns the cached token while it has not expired, and
// otherwise mints, caches and persists a new one.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		c.factory.logger.Debug("using cached access token", "user", c.userID)
		return tok, nil
	}

	unlock := c.factory.locks.Lock(c.userID)
	defer unlock()

	// Another message from the same user may have refreshed while we waited.
	if c.userID != "" && c.factory.store != nil {
		rec, err := c.factory.store.Get(ctx, c.userID)
		if err == nil && rec != nil && rec.AccessToken != "" && rec.TokenExpiresAt != nil &&
			c.factory.now().UTC().Before(*rec.TokenExpiresAt) {
			c.setToken(rec.AccessToken, *rec.TokenExpiresAt)
			return rec.AccessToken, nil
		}
	}

	c.factory.logger.Info("access token expired or missing, requesting new token", "user", c.userID)
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.factory.timeout)
	defer cancel()

	body, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Audience:     c.Audience(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrAuthFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrAuthFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.factory.http.Do(req)
	if err != nil {
		metrics.TokenFailures.Inc()
		return "", fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.TokenFailures.Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: HTTP %d: %s", domain.ErrAuthFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&tr); err != nil {
		metrics.TokenFailures.Inc()
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrAuthFailure, err)
	}
	if tr.AccessToken == "" {
		metrics.TokenFailures.Inc()
		return "", fmt.Errorf("%w: token response without access_token", domain.ErrAuthFailure)
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	c.setToken(tr.AccessToken, c.factory.now().UTC().Add(expiresIn))
	metrics.TokenRefreshes.Inc()

	if c.userID != "" && c.factory.store != nil {
		if err := c.factory.store.UpdateToken(ctx, c.userID, tr.AccessToken, expiresIn); err != nil {
			// The token is still usable for this message; the next one refreshes again.
			c.factory.logger.Warn("failed to persist access token", "user", c.userID, "err", err)
		}
	}

	c.factory.logger.Info("new access token obtained", "user", c.userID, "expires_in", expiresIn)
	return tr.AccessToken, nil
}

// Get issues an authenticated GET against {origin}/api/v2/{endpoint} and
// returns the raw JSON body.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.origin + "/api/v2/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.factory.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrAPIFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	c.factory.logger.Debug("management api request", "user", c.userID, "endpoint", endpoint)
	metrics.APIRequests.Inc()
	start := time.Now()
	resp, err := c.factory.http.Do(req)
	metrics.APILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIFailures.Inc()
		return nil, fmt.Errorf("%w: GET %s: %v", domain.ErrAPIFailure, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		metrics.APIFailures.Inc()
		return nil, fmt.Errorf("%w: GET %s: read body: %v", domain.ErrAPIFailure, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.APIFailures.Inc()
		return nil, fmt.Errorf("%w: GET %s: HTTP %d: %s", domain.ErrAPIFailure, endpoint, resp.StatusCode,
			strings.TrimSpace(string(truncate(body, maxErrorBody))))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		metrics.APIFailures.Inc()
		return nil, fmt.Errorf("%w: GET %s: response is not JSON", domain.ErrAPIFailure, endpoint)
	}
	return json.RawMessage(body), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
