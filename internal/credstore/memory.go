package credstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"querybot/internal/domain"
)

// MemoryStore is a process-local domain.CredentialStore. Records are lost on
// exit; it backs the "memory" store driver and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.Credentials
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.Credentials),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*domain.Credentials, error) {
	if userID == "" {
		return nil, fmt.Errorf("get credentials: %w: empty user id", domain.ErrInvalidInput)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	if rec.TokenExpiresAt != nil {
		exp := *rec.TokenExpiresAt
		rec.TokenExpiresAt = &exp
	}
	return &rec, nil
}

func (m *MemoryStore) Upsert(_ context.Context, userID string, creds domain.Credentials) error {
	if userID == "" {
		return fmt.Errorf("upsert credentials: %w: empty user id", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = domain.Credentials{
		UserID:       userID,
		BaseURL:      creds.BaseURL,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		UpdatedAt:    m.now().UTC(),
	}
	return nil
}

func (m *MemoryStore) UpdateToken(_ context.Context, userID, token string, expiresIn time.Duration) error {
	if userID == "" || token == "" {
		return fmt.Errorf("update token: %w: user id and token are required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return fmt.Errorf("update token for %s: %w", userID, domain.ErrCredentialsMissing)
	}
	now := m.now().UTC()
	exp := now.Add(expiresIn)
	rec.AccessToken = token
	rec.TokenExpiresAt = &exp
	rec.UpdatedAt = now
	m.records[userID] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ domain.CredentialStore = (*MemoryStore)(nil)
