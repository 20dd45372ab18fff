// Package lock serializes work on a key across goroutines (Local) or across
// processes (Redis). The commission engine holds one lock per user while it
// reads markers, evaluates and credits; the wallet holds one per account.
package lock

import (
	"context"
	"sync"
)

// Locker acquires a named exclusive lock. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ─── Local ──────────────────────────────────────────────────────────────────

// Local is an in-process keyed mutex. Idle keys are dropped.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localKey)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.release(key, k)
		})
	}, nil
}

func (l *Local) release(key string, k *localKey) {
	l.mu.Lock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
