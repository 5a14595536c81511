// Package lock provides the exclusive critical section keyed by document id
// that serializes full re-uploads. Locks for different keys never block each
// other, and every acquisition path releases the lock, including
// cancellation before commit.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired means the bounded wait elapsed with the lock still held by
// another request. Safe to retry.
var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Acquire blocks until the key's lock is free, the wait bound elapses
	// (ErrNotAcquired), or ctx is done. On success the returned release
	// function must be called exactly once.
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// MemoryLocker serializes within a single process. It is the backend when no
// Redis is configured and the one the tests use.
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.keys[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.keys[key] = slot
	}
	return slot
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	slot := l.slot(key)

	// Fast path so a free lock is taken even with a zero wait.
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrNotAcquired
	}
}
