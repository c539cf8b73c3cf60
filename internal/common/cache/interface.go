package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the services rely on.
type Cache interface {
	BasicOps
	LockOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps defines basic key-value operations.
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX sets the key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// LockOps defines owner-token distributed lock operations.
type LockOps interface {
	// TryLock acquires key for token without waiting.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock releases key only while it is still held by token.
	Unlock(ctx context.Context, key, token string) (bool, error)
}
