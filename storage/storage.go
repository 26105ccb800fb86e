/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package storage

import (
	"context"
	"errors"
)

// ErrCapacityExceeded is returned by Backend.Set when the medium cannot fit the value
// even after the caller tried to free space.
var ErrCapacityExceeded = errors.New("storage capacity exceeded")

// Backend is a key/value storage medium managed by the keeper engine.
// All methods take a context since a backend may be remote;
// in-memory backends satisfy the interface trivially.
type Backend interface {
	// Get returns the value stored under the key.
	// The second result reports whether the key exists.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores the value under the key.
	// It may return ErrCapacityExceeded (possibly wrapped) when the medium is full.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys enumerates all keys currently present in the medium.
	Keys(ctx context.Context) ([]string, error)

	// TotalSize returns the total number of bytes occupied by all items.
	TotalSize(ctx context.Context) (int64, error)

	// ItemSize returns the number of bytes occupied by a single item.
	// The second result reports whether the key exists.
	ItemSize(ctx context.Context, key string) (size int64, found bool, err error)

	// Clear removes all items.
	Clear(ctx context.Context) error
}

// ItemSizeBytes returns the number of bytes an item occupies in a medium
// that accounts both the key and the value. It is the engine's estimation unit.
func ItemSizeBytes(key, value string) int64 {
	return int64(len(key) + len(value))
}
