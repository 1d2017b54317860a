package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for a missing, unknown or revoked API key.
var ErrUnauthorized = errors.New("unauthorized")

// Scopes granted to API keys.
const (
	ScopeOrders    = "orders:write"
	ScopeAnalytics = "coupons:read"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator verifies raw API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator over the key repository.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves a raw key to its record.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, ErrUnauthorized
	}

	// The stored row must match what we computed, compared in constant time.
	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	got, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
