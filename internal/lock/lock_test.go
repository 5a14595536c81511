package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerSerializesSameKey(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	_, err = locker.Acquire(ctx, "doc-1", 50*time.Millisecond)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second Acquire() error = %v, want ErrNotAcquired", err)
	}

	release()
	release2, err := locker.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release2()
}

func TestMemoryLockerIndependentKeysDoNotBlock(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire(doc-1) error = %v", err)
	}
	defer release1()

	release2, err := locker.Acquire(ctx, "doc-2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire(doc-2) error = %v", err)
	}
	release2()
}

func TestMemoryLockerHonorsContextCancel(t *testing.T) {
	locker := NewMemoryLocker()
	release, err := locker.Acquire(context.Background(), "doc-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "doc-1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() with cancelled ctx error = %v", err)
	}
}

func TestMemoryLockerStrictSerialization(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inSection := 0
	maxInSection := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "doc-1", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inSection--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Fatalf("critical section held by %d holders at once", maxInSection)
	}
}
