package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotObtained is returned when a lease cannot be acquired within the wait budget.
var ErrLockNotObtained = errors.New("lock not obtained")

// Release gives a lease back.
type Release func(ctx context.Context) error

// Locker grants exclusive, expiring leases on keys.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl, wait time.Duration) (Release, error)
}

// RedisLocker implements Locker on top of LockOps with owner tokens.
type RedisLocker struct {
	ops   LockOps
	retry time.Duration
}

// NewRedisLocker creates a Locker polling every 10ms while waiting.
func NewRedisLocker(ops LockOps) *RedisLocker {
	return &RedisLocker{ops: ops, retry: 10 * time.Millisecond}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl, wait time.Duration) (Release, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.ops.TryLock(ctx, key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error {
				_, err := l.ops.Unlock(ctx, key, token)
				return err
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotObtained
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLocker implements Locker for a single process.
// ttl is ignored; leases live until released. A key's slot is dropped once
// no holder or waiter references it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed lock.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Release, error) {
	s := l.ref(key)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrLockNotObtained
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
		return nil
	}, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
