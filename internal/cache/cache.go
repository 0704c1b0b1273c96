// Package cache provides a small keyed TTL cache with a local in-memory
// backend and an optional Redis backend, used to avoid hammering the Salla
// order API when users resend the same order id.
package cache

import (
	"context"
	"time"
)

// Store is a TTL'd string cache. A zero ttl on Set means the backend default.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
