// Package kv is the small typed key-value layer that holds all of the
// kiosk's persisted state: the children list, calendar selections and
// completion records.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("kv: key not found")

// Store is implemented by SQLiteStore and MemoryStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Load decodes the JSON value at key into a T. Missing keys yield the zero
// value. Read and parse failures are logged and also yield the zero value,
// so a corrupted entry degrades to empty state instead of failing the caller.
func Load[T any](ctx context.Context, s Store, key string, logger *slog.Logger) T {
	var v T
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v
	}
	if err != nil {
		logger.Error("read state", "key", key, "error", err)
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Warn("malformed state, using default", "key", key, "error", err)
		var zero T
		return zero
	}
	return v
}

// Save JSON-encodes v and writes it at key.
func Save(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}
