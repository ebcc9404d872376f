// Package storage defines the generic key/value adapter consumed by the
// TTL cache and the device-local repositories. The hosting application
// supplies a concrete adapter before first use.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetItem when no value exists for a key.
var ErrNotFound = errors.New("not found")

// Adapter is the minimal key/value contract. Values are opaque strings;
// callers serialize structured data themselves.
type Adapter interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
