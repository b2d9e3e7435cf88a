// Package store persists opaque blobs by string key.
//
// The pipeline keeps one blob per logical collection (the summary set, the
// engine selection, the job journal) and always replaces it whole on save, so
// every backend only has to offer get and set. Four backends exist:
// [Memory] for tests and ephemeral runs, [File] for a directory of JSON
// files, [SQLite] for a single local database file, and [Postgres] for
// shared deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrNotFound is returned by [Store.Get] when the key has never been set.
var ErrNotFound = errors.New("store: not found")

// Store is a get/set blob store. Implementations must be safe for concurrent
// use; a Set is atomic with respect to concurrent Gets of the same key.
type Store interface {
	// Get returns the blob stored under key, or [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the blob stored under key.
	Set(ctx context.Context, key string, blob []byte) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// GetJSON loads key and unmarshals it into v. It returns [ErrNotFound]
// unchanged so callers can fall back to defaults.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("store: decode %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, b)
}

// Memory is an in-process [Store].
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(b), nil
}

func (m *Memory) Set(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = slices.Clone(blob)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.blobs))
}
