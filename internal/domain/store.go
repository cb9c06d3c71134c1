package domain

import (
	"context"
)

// KeyValueStore is the local persistent store holding the anonymous session identity.
type KeyValueStore interface {
	// Get returns ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// IdentityProvider supplies the current authenticated principal.
// Current returns nil for an anonymous visitor.
type IdentityProvider interface {
	Current(ctx context.Context) *Identity
}
