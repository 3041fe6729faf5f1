package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// NonceBytes is the number of random bytes in a request nonce (256 bits).
const NonceBytes = 32

// RequestState is the single-use state of one authorization attempt.
type RequestState struct {
	ID        string
	Scopes    []string
	Nonce     string
	Verifier  string
	CreatedAt time.Time
}

func newNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newRequestState(now time.Time) (*RequestState, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return &RequestState{
		Nonce:     nonce,
		Verifier:  oauth2.GenerateVerifier(),
		CreatedAt: now,
	}, nil
}
