// Package locks provides keyed serialization points. Reconciliation runs and
// batch-level applies for the same owner must never interleave, and refine
// calls on one proposal must be serialized; both use a Keyed lock.
package locks

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Keyed hands out a one-slot semaphore per key. Acquire blocks until the
// holder releases or the context is canceled.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewKeyed creates an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{
		locks: make(map[string]*semaphore.Weighted),
	}
}

// Acquire takes the lock for key, blocking until it is free. The returned
// release function must be called exactly once.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	sem, ok := k.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.locks[key] = sem
	}
	k.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// TryAcquire takes the lock for key without blocking. It returns a release
// function and true on success, or nil and false if the lock is held.
func (k *Keyed) TryAcquire(key string) (func(), bool) {
	k.mu.Lock()
	sem, ok := k.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.locks[key] = sem
	}
	k.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}
