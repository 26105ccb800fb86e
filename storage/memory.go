/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package storage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Memory is an in-memory Backend with optional capacity enforcement.
// It is safe for concurrent use. The total size is maintained as an atomic
// counter so TotalSize never has to scan the map.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]string
	totalSize atomic.Int64
	maxSize   int64
}

var _ Backend = (*Memory)(nil)

// MemoryOpts represents options for the in-memory backend.
type MemoryOpts struct {
	// MaxSize is the capacity of the backend in bytes, 0 means unlimited.
	// Set returns ErrCapacityExceeded when storing a value would cross it.
	MaxSize int64
}

// NewMemory creates a new in-memory backend without a capacity limit.
func NewMemory() *Memory {
	return NewMemoryWithOpts(MemoryOpts{})
}

// NewMemoryWithOpts creates a new in-memory backend with the provided options.
func NewMemoryWithOpts(opts MemoryOpts) *Memory {
	return &Memory{
		items:   make(map[string]string),
		maxSize: opts.MaxSize,
	}
}

// Get returns the value stored under the key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, found := m.items[key]
	return value, found, nil
}

// Set stores the value under the key.
// Returns ErrCapacityExceeded when the configured capacity would be crossed.
func (m *Memory) Set(_ context.Context, key, value string) error {
	newItemSize := ItemSizeBytes(key, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	var oldItemSize int64
	if oldValue, found := m.items[key]; found {
		oldItemSize = ItemSizeBytes(key, oldValue)
	}
	newTotal := m.totalSize.Load() - oldItemSize + newItemSize
	if m.maxSize > 0 && newTotal > m.maxSize {
		return fmt.Errorf("set %q (%d bytes, %d total, %d max): %w",
			key, newItemSize, newTotal, m.maxSize, ErrCapacityExceeded)
	}
	m.items[key] = value
	m.totalSize.Store(newTotal)
	return nil
}

// Remove deletes the key. Removing a missing key is not an error.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.items[key]
	if !found {
		return nil
	}
	delete(m.items, key)
	m.totalSize.Sub(ItemSizeBytes(key, value))
	return nil
}

// Keys enumerates all keys currently present in the backend.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	return keys, nil
}

// TotalSize returns the total number of bytes occupied by all items.
func (m *Memory) TotalSize(_ context.Context) (int64, error) {
	return m.totalSize.Load(), nil
}

// ItemSize returns the number of bytes occupied by a single item.
func (m *Memory) ItemSize(_ context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, found := m.items[key]
	if !found {
		return 0, false, nil
	}
	return ItemSizeBytes(key, value), true, nil
}

// Clear removes all items.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]string)
	m.totalSize.Store(0)
	return nil
}

// Len returns the number of items in the backend.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
