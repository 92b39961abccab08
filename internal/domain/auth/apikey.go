package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to coupon, order and report administration.
const ScopeAdmin = "admin"

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound when no active key matches.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
