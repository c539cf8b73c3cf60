package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

type record struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func TestGetWithCachedHitMissAndNull(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	calls := 0
	load := func(context.Context) (record, bool, error) {
		calls++
		return record{ID: "s1", State: "PC"}, true, nil
	}
	for i := 0; i < 2; i++ {
		got, found, err := GetWithCached(ctx, c, "submission:s1", time.Minute, time.Second, load)
		if err != nil || !found || got.State != "PC" {
			t.Fatalf("GetWithCached() = %+v, %v, %v", got, found, err)
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}

	missCalls := 0
	miss := func(context.Context) (record, bool, error) {
		missCalls++
		return record{}, false, nil
	}
	for i := 0; i < 2; i++ {
		_, found, err := GetWithCached(ctx, c, "submission:none", time.Minute, time.Minute, miss)
		if err != nil || found {
			t.Fatalf("expected miss, found=%v err=%v", found, err)
		}
	}
	if missCalls != 1 {
		t.Fatalf("absent record should be cached, loader called %d times", missCalls)
	}

	Invalidate(ctx, c, "submission:s1")
	if _, _, err := GetWithCached(ctx, c, "submission:s1", time.Minute, time.Second, load); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if calls != 2 {
		t.Fatalf("invalidated key should reload, calls = %d", calls)
	}
}

func TestGetWithCachedPropagatesLoaderError(t *testing.T) {
	c, _ := newTestRedis(t)
	boom := errors.New("db down")
	_, _, err := GetWithCached(context.Background(), c, "k", time.Minute, time.Minute,
		func(context.Context) (record, bool, error) { return record{}, false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetWithCachedNilCache(t *testing.T) {
	got, found, err := GetWithCached[int](context.Background(), nil, "k", time.Minute, time.Minute,
		func(context.Context) (int, bool, error) { return 7, true, nil })
	if err != nil || !found || got != 7 {
		t.Fatalf("got %d %v %v", got, found, err)
	}
}

func TestRedisUnlockRequiresOwner(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	ok, err := c.TryLock(ctx, "lock:a", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	ok, _ = c.TryLock(ctx, "lock:a", "owner-2", time.Minute)
	if ok {
		t.Fatal("second owner must not acquire")
	}
	released, err := c.Unlock(ctx, "lock:a", "owner-2")
	if err != nil || released {
		t.Fatalf("foreign unlock = %v, %v", released, err)
	}
	released, err = c.Unlock(ctx, "lock:a", "owner-1")
	if err != nil || !released {
		t.Fatalf("owner unlock = %v, %v", released, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	if ok, _ := c.TryLock(ctx, "lock:b", "x", time.Second); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := c.TryLock(ctx, "lock:b", "y", time.Second); !ok {
		t.Fatal("expired lock should be free")
	}
}

func exerciseLocker(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Obtain(ctx, "submission:s1", time.Second, 2*time.Second)
			if err != nil {
				t.Errorf("Obtain() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = release(ctx)
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("lock admitted %d holders at once", maxInside)
	}
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	exerciseLocker(t, NewLocalLocker())
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	c, _ := newTestRedis(t)
	exerciseLocker(t, NewRedisLocker(c))
}

func TestLockerWaitBudget(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	release, err := locker.Obtain(ctx, "k", time.Second, time.Second)
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if _, err := locker.Obtain(ctx, "k", time.Second, 10*time.Millisecond); !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("err = %v, want ErrLockNotObtained", err)
	}
	_ = release(ctx)
	_ = release(ctx)
	if _, err := locker.Obtain(ctx, "k", time.Second, 10*time.Millisecond); err != nil {
		t.Fatalf("released lock should be free: %v", err)
	}
}

func TestLocalLockerDropsIdleSlots(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()
	slots := func() int {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return len(locker.slots)
	}

	for i := 0; i < 50; i++ {
		release, err := locker.Obtain(ctx, fmt.Sprintf("submission-%d", i), time.Second, time.Second)
		if err != nil {
			t.Fatalf("Obtain() error = %v", err)
		}
		_ = release(ctx)
	}
	if n := slots(); n != 0 {
		t.Fatalf("slots after release = %d, want 0", n)
	}

	release, err := locker.Obtain(ctx, "k", time.Second, time.Second)
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if _, err := locker.Obtain(ctx, "k", time.Second, 10*time.Millisecond); !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("err = %v, want ErrLockNotObtained", err)
	}
	if n := slots(); n != 1 {
		t.Fatalf("slots while held = %d, want 1", n)
	}
	_ = release(ctx)
	if n := slots(); n != 0 {
		t.Fatalf("slots after timed out waiter and release = %d, want 0", n)
	}
}
