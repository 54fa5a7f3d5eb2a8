package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared per-key counter behind the engine.
type CounterStore interface {
	// IncrementAndGet adds one to key and returns the new value. An absent or
	// expired key starts at 1 and expires at expiresAt.
	IncrementAndGet(ctx context.Context, key string, expiresAt time.Time) (int64, error)
}

// CounterStoreFunc adapts a function to CounterStore.
type CounterStoreFunc func(ctx context.Context, key string, expiresAt time.Time) (int64, error)

// IncrementAndGet calls f.
func (f CounterStoreFunc) IncrementAndGet(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	return f(ctx, key, expiresAt)
}
