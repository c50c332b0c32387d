package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// EntryName is the single persisted key holding the token.
const EntryName = "auth_token"

var (
	// ErrCorrupt is returned when the persisted entry cannot be decoded.
	ErrCorrupt = errors.New("credential corrupt")

	// ErrEmptyToken is returned by Save for a blank token.
	ErrEmptyToken = errors.New("empty token")
)

// Store is durable storage for one opaque token.
type Store interface {
	// Load returns the token and true, or "" and false when no token is stored.
	Load(ctx context.Context) (token string, ok bool, err error)

	// Save replaces the stored token.
	Save(ctx context.Context, token string) error

	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Fingerprint returns a short, non-reversible identifier for a token that is
// safe to put in logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

func normalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
