// Package tokenstore persists the OAuth credential between runs.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"musik/internal/auth"
	"musik/internal/core"
)

// ErrNotFound is returned by Load when nothing has been saved.
var ErrNotFound = errors.New("no saved credential")

// Store loads and saves a single credential.
type Store interface {
	Load(ctx context.Context) (*auth.Credential, error)
	Save(ctx context.Context, cred *auth.Credential) error
	Clear(ctx context.Context) error
	Close() error
}

// record is the persisted form, shared by all backends.
type record struct {
	Version    int              `json:"version"`
	Credential *auth.Credential `json:"credential"`
}

const recordVersion = 1

func encode(cred *auth.Credential) ([]byte, error) {
	data, err := json.MarshalIndent(record{Version: recordVersion, Credential: cred}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*auth.Credential, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	if rec.Credential == nil || rec.Credential.AccessToken == "" {
		return nil, ErrNotFound
	}
	return rec.Credential, nil
}

// Open returns the backend selected by config.
func Open(config *core.TokenStoreConfig, logger *zap.Logger) (Store, error) {
	switch config.Backend {
	case core.TokenStoreFile, "":
		return NewFileStore(config.Path, logger), nil
	case core.TokenStoreSQLite:
		return NewSQLiteStore(config.Path, logger)
	case core.TokenStoreKeyring:
		return NewKeyringStore(config.ServiceName, logger)
	default:
		return nil, fmt.Errorf("unsupported token store: %s", config.Backend)
	}
}

// Bind restores a saved credential into m and keeps the store in sync with
// later changes. A missing credential is not an error.
func Bind(ctx context.Context, store Store, m *auth.Manager, logger *zap.Logger) error {
	cred, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Debug("No saved credential")
	case err != nil:
		return fmt.Errorf("failed to load credential: %w", err)
	default:
		m.Restore(cred)
	}

	m.SetListener(func(cred *auth.Credential) {
		// Listener calls are detached from any request context.
		saveCtx := context.WithoutCancel(ctx)
		var err error
		if cred == nil {
			err = store.Clear(saveCtx)
		} else {
			err = store.Save(saveCtx, cred)
		}
		if err != nil {
			logger.Error("Failed to persist credential", zap.Error(err))
		}
	})
	return nil
}
