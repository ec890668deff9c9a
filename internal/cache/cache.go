// Package cache holds the small key-value contract the read side caches
// rendered shipments behind.
package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
