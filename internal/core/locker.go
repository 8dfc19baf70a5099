package core

import (
	"context"
	"sync"
)

// Locker serializes work on a key across callers. The returned release
// function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// KeyedLocker is an in-process Locker. Each key is a one-slot semaphore so
// that waiting honours context cancellation.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker returns an empty in-process locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.drop(key, slot)
		})
	}, nil
}

func (l *KeyedLocker) drop(key string, slot *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *KeyedLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
