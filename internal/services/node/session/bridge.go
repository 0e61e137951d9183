// Package session moves blocking engine sessions off request goroutines onto
// a dedicated worker pool and hands the result back.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/workerpool"
)

// ErrStopped is returned when work is submitted to a stopped bridge.
var ErrStopped = errors.New("session bridge stopped")

// Bridge owns the worker pool that runs sessions.
type Bridge struct {
	mu   sync.RWMutex
	pool *workerpool.WorkerPool
}

// NewBridge returns a bridge with workers pool goroutines (at least one).
func NewBridge(workers int) *Bridge {
	if workers < 1 {
		workers = 1
	}
	return &Bridge{pool: workerpool.New(workers)}
}

// Waiting reports sessions queued behind busy workers.
func (b *Bridge) Waiting() int {
	return b.pool.WaitingQueueSize()
}

// Stop waits for running and queued sessions, then stops the pool.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pool.StopWait()
}

type result[T any] struct {
	value T
	err   error
}

// Run executes fn on the pool and waits for it or for ctx. When ctx ends
// first the caller gets ctx's error and fn keeps running to completion on
// the pool; callers abort fn through its own inputs, e.g. by closing the
// session network.
func Run[T any](ctx context.Context, b *Bridge, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	b.mu.RLock()
	if b.pool.Stopped() {
		b.mu.RUnlock()
		return zero, ErrStopped
	}
	b.pool.Submit(func() {
		value, err := fn()
		done <- result[T]{value: value, err: err}
	})
	b.mu.RUnlock()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}
