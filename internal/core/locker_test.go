package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(ctx, "assessment:lot-1|US")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
			release()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected one holder at a time, saw %d", peak)
	}
	if locker.held() != 0 {
		t.Fatalf("expected slots released, %d left", locker.held())
	}
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()
	releaseA, err := locker.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("distinct key must not wait: %v", err)
	}
	releaseB()
}

func TestKeyedLockerHonoursCancellation(t *testing.T) {
	locker := NewKeyedLocker()
	release, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	release()
	if locker.held() != 0 {
		t.Fatalf("cancelled waiter must not leak a slot, %d left", locker.held())
	}
}
