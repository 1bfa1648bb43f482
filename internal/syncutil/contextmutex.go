// Package syncutil provides locking primitives that respect context cancellation.
package syncutil

import (
	"context"
	"sync"
)

// ContextMutex is a mutex implemented via a buffered channel, so a waiter can
// give up when its context is cancelled instead of blocking forever.
//
// Waiters are not guaranteed FIFO order; callers that need arrival order must
// serialize before acquiring.
type ContextMutex struct {
	ch chan struct{}
}

// NewContextMutex creates an unlocked mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex or returns ctx.Err(). On success the caller MUST call
// the returned unlock function; calling it more than once is a no-op.
func (m *ContextMutex) Lock(ctx context.Context) (func(), error) {
	// Fail fast on an already-cancelled context even if the lock is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-m.ch:
		var once sync.Once
		return func() { once.Do(func() { m.ch <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free right now.
func (m *ContextMutex) TryLock() (func(), bool) {
	select {
	case <-m.ch:
		var once sync.Once
		return func() { once.Do(func() { m.ch <- struct{}{} }) }, true
	default:
		return nil, false
	}
}
