// Package bucket defines the pluggable key/value persistence contract
// every stateful piece of a Source (its KeyMap, transform log, request
// and sync queues) can optionally bind to.
package bucket

import "context"

// Bucket is opaque named-value storage. Values are pre-serialized by
// the caller (typically JSON) — a Bucket never interprets its payload.
type Bucket interface {
	// GetItem returns the stored value for key and true, or false if
	// the key has never been set (or was removed).
	GetItem(ctx context.Context, key string) (string, bool, error)

	SetItem(ctx context.Context, key, value string) error

	RemoveItem(ctx context.Context, key string) error

	// Clear removes every key this Bucket owns.
	Clear(ctx context.Context) error

	// GetKeys returns every key currently set.
	GetKeys(ctx context.Context) ([]string, error)
}
