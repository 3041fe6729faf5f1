package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"musik/internal/auth"
)

// FilePermission is the permission for token files.
const FilePermission = 0o600

// FileStore keeps the credential in a JSON file, replaced atomically on save.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.Named("tokenstore")}
}

func (s *FileStore) Load(_ context.Context) (*auth.Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return decode(data)
}

func (s *FileStore) Save(_ context.Context, cred *auth.Credential) error {
	data, err := encode(cred)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Chmod(s.path, FilePermission); err != nil {
		return fmt.Errorf("failed to restrict token file: %w", err)
	}

	s.logger.Debug("Credential saved", zap.String("path", s.path))
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
