package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"musik/internal/auth"
)

const keyringItemKey = "spotify-credential"

// KeyringStore keeps the credential in the OS keychain.
type KeyringStore struct {
	ring   keyring.Keyring
	logger *zap.Logger
}

// NewKeyringStore opens the platform keychain under serviceName.
func NewKeyringStore(serviceName string, logger *zap.Logger) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainTrustApplication: true,
		LibSecretCollectionName:  serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStoreWith(ring, logger), nil
}

// NewKeyringStoreWith wraps an already opened keyring.
func NewKeyringStoreWith(ring keyring.Keyring, logger *zap.Logger) *KeyringStore {
	return &KeyringStore{ring: ring, logger: logger.Named("tokenstore")}
}

func (s *KeyringStore) Load(_ context.Context) (*auth.Credential, error) {
	item, err := s.ring.Get(keyringItemKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring item: %w", err)
	}
	return decode(item.Data)
}

func (s *KeyringStore) Save(_ context.Context, cred *auth.Credential) error {
	data, err := encode(cred)
	if err != nil {
		return err
	}
	err = s.ring.Set(keyring.Item{
		Key:         keyringItemKey,
		Data:        data,
		Label:       "musik Spotify credential",
		Description: "OAuth access and refresh token",
	})
	if err != nil {
		return fmt.Errorf("failed to write keyring item: %w", err)
	}
	s.logger.Debug("Credential saved to keyring")
	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	err := s.ring.Remove(keyringItemKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove keyring item: %w", err)
	}
	return nil
}

func (s *KeyringStore) Close() error {
	return nil
}
