package cache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"
)

// NullCacheValue marks a cached miss so absent records are not refetched on every read.
const NullCacheValue = "$NULL$"

// GetWithCached implements cache-aside with JSON encoding.
// fn returns found=false for absent records; the absence is cached for emptyTTL.
// Cache failures never fail the read.
func GetWithCached[T any](
	ctx context.Context,
	c BasicOps,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	fn func(context.Context) (T, bool, error),
) (T, bool, error) {
	var zero T
	if c == nil {
		return fn(ctx)
	}

	if cached, err := c.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, false, nil
		}
		var value T
		if err := json.Unmarshal([]byte(cached), &value); err == nil {
			return value, true, nil
		}
	}

	value, found, err := fn(ctx)
	if err != nil {
		return zero, false, err
	}
	if !found {
		_ = c.Set(ctx, key, NullCacheValue, emptyTTL)
		return zero, false, nil
	}
	if payload, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, key, string(payload), JitterTTL(ttl))
	}
	return value, true, nil
}

// Invalidate drops keys after a write. Failures are ignored; entries expire on their own.
func Invalidate(ctx context.Context, c BasicOps, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	_ = c.Del(ctx, keys...)
}

// JitterTTL spreads expirations by up to 10% to avoid synchronized misses.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int64N(spread))
}
