// Package credstore persists per-user Auth0 machine-to-machine credentials
// and their cached access tokens.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"querybot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.CredentialStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*domain.Credentials, error) {
	if userID == "" {
		return nil, fmt.Errorf("get credentials: %w: empty user id", domain.ErrInvalidInput)
	}

	var (
		creds     domain.Credentials
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, base_url, client_id, client_secret,
		        COALESCE(access_token, ''), COALESCE(token_expires_at, ''), updated_at
		 FROM m2m_credentials WHERE user_id = ?`, userID,
	).Scan(&creds.UserID, &creds.BaseURL, &creds.ClientID, &creds.ClientSecret,
		&creds.AccessToken, &expiresAt, &creds.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials for %s: %w", userID, err)
	}

	if expiresAt != "" {
		t, err := time.Parse(time.RFC3339Nano, expiresAt)
		if err != nil {
			// An unreadable expiry only costs a token refresh.
			s.logger.Warn("ignoring malformed token expiry", "user", userID, "err", err)
			creds.AccessToken = ""
		} else {
			creds.TokenExpiresAt = &t
		}
	}
	return &creds, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, userID string, creds domain.Credentials) error {
	if userID == "" {
		return fmt.Errorf("upsert credentials: %w: empty user id", domain.ErrInvalidInput)
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO m2m_credentials (user_id, base_url, client_id, client_secret, access_token, token_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', '', ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   base_url = excluded.base_url,
		   client_id = excluded.client_id,
		   client_secret = excluded.client_secret,
		   access_token = '',
		   token_expires_at = '',
		   updated_at = excluded.updated_at`,
		userID, creds.BaseURL, creds.ClientID, creds.ClientSecret, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert credentials for %s: %w", userID, err)
	}
	s.logger.Debug("upserted credentials", "user", userID)
	return nil
}

func (s *SQLiteStore) UpdateToken(ctx context.Context, userID, token string, expiresIn time.Duration) error {
	if userID == "" || token == "" {
		return fmt.Errorf("update token: %w: user id and token are required", domain.ErrInvalidInput)
	}
	now := s.now().UTC()
	expiresAt := now.Add(expiresIn).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE m2m_credentials SET access_token = ?, token_expires_at = ?, updated_at = ? WHERE user_id = ?`,
		token, expiresAt, now, userID,
	)
	if err != nil {
		return fmt.Errorf("update token for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update token for %s: %w", userID, domain.ErrCredentialsMissing)
	}
	s.logger.Debug("updated access token", "user", userID, "expires_at", expiresAt)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM m2m_credentials WHERE user_id = ?`, userID)
	return err
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.CredentialStore = (*SQLiteStore)(nil)
