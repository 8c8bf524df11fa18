// Package keylock serializes work per key, e.g. per user.
package keylock

import (
	"context"
	"sync"
)

type Locks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func New() *Locks {
	return &Locks{slots: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
