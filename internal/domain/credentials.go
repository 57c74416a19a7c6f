package domain

import (
	"context"
	"time"
)

// Credentials are one chat user's machine-to-machine credentials for the
// Auth0 Management API, plus the cached access token.
type Credentials struct {
	UserID         string     `json:"user_id"`
	BaseURL        string     `json:"auth0_base_url"`
	ClientID       string     `json:"auth0_client_id"`
	ClientSecret   string     `json:"auth0_client_secret"`
	AccessToken    string     `json:"access_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Complete reports whether the fields required to mint a token are present.
func (c *Credentials) Complete() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// CredentialStore persists Credentials keyed by chat user id.
type CredentialStore interface {
	// Get returns nil, nil when the user has no record.
	Get(ctx context.Context, userID string) (*Credentials, error)
	// Upsert replaces the record wholesale and clears any cached token.
	Upsert(ctx context.Context, userID string, creds Credentials) error
	// UpdateToken stores a freshly minted token expiring expiresIn from now.
	UpdateToken(ctx context.Context, userID, token string, expiresIn time.Duration) error
	Delete(ctx context.Context, userID string) error
	Close() error
}
