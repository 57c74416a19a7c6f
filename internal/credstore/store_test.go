package credstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"querybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs a subtest against every CredentialStore implementation.
func stores(t *testing.T, fn func(t *testing.T, s domain.CredentialStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

var testCreds = domain.Credentials{
	BaseURL:      "tenant.eu.auth0.com",
	ClientID:     "client-id",
	ClientSecret: "client-secret",
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		got, err := s.Get(context.Background(), "U404")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil record, got %+v", got)
		}
	})
}

func TestStore_GetEmptyUserID(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		_, err := s.Get(context.Background(), "")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestStore_UpsertAndGet(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		ctx := context.Background()
		if err := s.Upsert(ctx, "U1", testCreds); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		got, err := s.Get(ctx, "U1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil {
			t.Fatal("expected record")
		}
		if got.UserID != "U1" || got.BaseURL != testCreds.BaseURL ||
			got.ClientID != testCreds.ClientID || got.ClientSecret != testCreds.ClientSecret {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.AccessToken != "" || got.TokenExpiresAt != nil {
			t.Fatalf("expected no cached token, got %q %v", got.AccessToken, got.TokenExpiresAt)
		}
	})
}

func TestStore_UpdateToken(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		ctx := context.Background()
		if err := s.Upsert(ctx, "U1", testCreds); err != nil {
			t.Fatal(err)
		}

		before := time.Now().UTC()
		if err := s.UpdateToken(ctx, "U1", "tok-1", time.Hour); err != nil {
			t.Fatalf("update token: %v", err)
		}

		got, err := s.Get(ctx, "U1")
		if err != nil {
			t.Fatal(err)
		}
		if got.AccessToken != "tok-1" {
			t.Fatalf("expected tok-1, got %q", got.AccessToken)
		}
		if got.TokenExpiresAt == nil {
			t.Fatal("expected expiry")
		}
		if d := got.TokenExpiresAt.Sub(before); d < 59*time.Minute || d > 61*time.Minute {
			t.Fatalf("expiry %v not ~1h after %v", got.TokenExpiresAt, before)
		}
		if got.ClientSecret != testCreds.ClientSecret {
			t.Fatal("token update must not touch the client secret")
		}
	})
}

func TestStore_UpdateTokenUnknownUser(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		err := s.UpdateToken(context.Background(), "U404", "tok", time.Hour)
		if !errors.Is(err, domain.ErrCredentialsMissing) {
			t.Fatalf("expected ErrCredentialsMissing, got %v", err)
		}
	})
}

func TestStore_UpsertClearsCachedToken(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		ctx := context.Background()
		if err := s.Upsert(ctx, "U1", testCreds); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateToken(ctx, "U1", "tok-1", time.Hour); err != nil {
			t.Fatal(err)
		}

		rotated := testCreds
		rotated.ClientSecret = "rotated-secret"
		if err := s.Upsert(ctx, "U1", rotated); err != nil {
			t.Fatal(err)
		}

		got, err := s.Get(ctx, "U1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ClientSecret != "rotated-secret" {
			t.Fatalf("expected rotated secret, got %q", got.ClientSecret)
		}
		if got.AccessToken != "" || got.TokenExpiresAt != nil {
			t.Fatal("upsert should clear the cached token")
		}
	})
}

func TestStore_Delete(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		ctx := context.Background()
		if err := s.Upsert(ctx, "U1", testCreds); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "U1"); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "U1")
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Fatal("expected record to be deleted")
		}
	})
}

func TestStore_UsersAreIsolated(t *testing.T) {
	stores(t, func(t *testing.T, s domain.CredentialStore) {
		ctx := context.Background()
		other := testCreds
		other.BaseURL = "other.auth0.com"
		if err := s.Upsert(ctx, "U1", testCreds); err != nil {
			t.Fatal(err)
		}
		if err := s.Upsert(ctx, "U2", other); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateToken(ctx, "U1", "tok-u1", time.Hour); err != nil {
			t.Fatal(err)
		}

		u2, err := s.Get(ctx, "U2")
		if err != nil {
			t.Fatal(err)
		}
		if u2.BaseURL != "other.auth0.com" || u2.AccessToken != "" {
			t.Fatalf("U2 record affected by U1 updates: %+v", u2)
		}
	})
}

// --- migrations ---

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}
}

func TestRunMigrations_UpgradeFromV1(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	for _, stmt := range splitSQL(migrations[0].SQL) {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version, description) VALUES (1, 'v1')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO m2m_credentials (user_id, base_url, client_id, client_secret) VALUES ('U1', 'a', 'b', 'c')`); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}

	var token string
	if err := db.QueryRow(`SELECT access_token FROM m2m_credentials WHERE user_id = 'U1'`).Scan(&token); err != nil {
		t.Fatalf("v2 column missing after upgrade: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty default token, got %q", token)
	}
}

func TestSplitSQL(t *testing.T) {
	got := splitSQL("A; ;B;\n C ;")
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("unexpected split: %q", got)
	}
}
