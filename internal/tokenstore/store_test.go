package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"musik/internal/auth"
	"musik/internal/core"
)

func testCredential() *auth.Credential {
	return &auth.Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Scopes:       []string{"user-library-read", "playlist-read-private"},
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStore(filepath.Join(dir, "tokens.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"file":    NewFileStore(filepath.Join(dir, "nested", "token.json"), logger),
		"sqlite":  sqlite,
		"keyring": NewKeyringStoreWith(keyring.NewArrayKeyring(nil), logger),
	}
}

func TestStores_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load() on empty store error = %v, expected ErrNotFound", err)
			}

			want := testCredential()
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
				t.Errorf("Load() tokens = %q/%q, expected %q/%q", got.AccessToken, got.RefreshToken, want.AccessToken, want.RefreshToken)
			}
			if !got.ExpiresAt.Equal(want.ExpiresAt) {
				t.Errorf("Load() ExpiresAt = %v, expected %v", got.ExpiresAt, want.ExpiresAt)
			}
			if !slices.Equal(got.Scopes, want.Scopes) {
				t.Errorf("Load() Scopes = %v, expected %v", got.Scopes, want.Scopes)
			}

			// Overwrite keeps a single credential.
			want.AccessToken = "rotated"
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}
			got, _ = store.Load(ctx)
			if got == nil || got.AccessToken != "rotated" {
				t.Errorf("Load() after overwrite = %+v, expected rotated token", got)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load() after Clear() error = %v, expected ErrNotFound", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Errorf("Clear() on empty store error = %v", err)
			}
		})
	}
}

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewFileStore(path, zap.NewNop())

	if err := store.Save(context.Background(), testCredential()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != FilePermission {
		t.Errorf("token file permissions = %o, expected %o", perm, FilePermission)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), FilePermission); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := NewFileStore(path, zap.NewNop()).Load(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Load() of corrupt file error = %v, expected a decode error", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  core.TokenStoreConfig
		wantErr bool
	}{
		{"file", core.TokenStoreConfig{Backend: core.TokenStoreFile, Path: filepath.Join(dir, "t.json")}, false},
		{"sqlite", core.TokenStoreConfig{Backend: core.TokenStoreSQLite, Path: filepath.Join(dir, "t.db")}, false},
		{"unknown", core.TokenStoreConfig{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(&tt.config, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if store != nil {
				_ = store.Close()
			}
		})
	}
}

func TestBind(t *testing.T) {
	ctx := context.Background()
	store := NewKeyringStoreWith(keyring.NewArrayKeyring(nil), zap.NewNop())
	saved := testCredential()
	saved.ExpiresAt = time.Now().Add(time.Hour)
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	m, err := auth.NewManager(auth.Config{ClientID: "id", RedirectURL: "musik://callback"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := Bind(ctx, store, m, zap.NewNop()); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	token, err := m.CurrentAccessToken(ctx)
	if err != nil || token != saved.AccessToken {
		t.Fatalf("CurrentAccessToken() = %q, %v; expected restored token", token, err)
	}

	if err := m.ExpireNow(); err != nil {
		t.Fatalf("ExpireNow() error = %v", err)
	}
	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if persisted.ExpiresAt.After(time.Now()) {
		t.Errorf("persisted ExpiresAt = %v, expected the expiry change to be saved", persisted.ExpiresAt)
	}

	m.Deauthorize()
	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Deauthorize() error = %v, expected ErrNotFound", err)
	}
}
