// Package lock provides per-key mutual exclusion for operations that must not
// run concurrently for the same account, such as renewal charges.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires short-lived, non-blocking locks.
type Locker interface {
	// TryAcquire attempts to take the lock for key. It returns acquired=false
	// when another holder has it. The lock expires after ttl even if release
	// is never called.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// InMemory implements Locker for single-instance deployments and tests.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]*entry
	seq   uint64
	now   func() time.Time
}

type entry struct {
	expires time.Time
	token   uint64
}

// NewInMemory creates an in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{
		locks: make(map[string]*entry),
		now:   time.Now,
	}
}

// TryAcquire implements Locker.
func (l *InMemory) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}

	l.seq++
	e := &entry{expires: now.Add(ttl), token: l.seq}
	l.locks[key] = e

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// Only remove our own entry; after expiry someone else may hold it.
			if cur, ok := l.locks[key]; ok && cur.token == e.token {
				delete(l.locks, key)
			}
		})
	}
	return release, true, nil
}
