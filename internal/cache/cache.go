// Package cache is the shared key-value cache used for read-through listing
// caches. It is never a system of record: every value is reconstructible
// from the owning service's store.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys. Get returns ok=false on
// a miss or expired entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
