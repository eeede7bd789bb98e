// Package rxtest helps testing code built on package rx.
package rxtest

import (
	"sync"
	"testing"
	"time"
)

// DefaultTimeout bounds how long the Wait helpers block.
const DefaultTimeout = 5 * time.Second

// Recorder is an rx.Observer that records everything it receives. It is safe
// for use from multiple goroutines.
type Recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completed bool
	changed   chan struct{}
}

func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{changed: make(chan struct{}, 1)}
}

func (r *Recorder[T]) OnNext(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder[T]) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder[T]) OnComplete() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder[T]) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Last returns the most recent value, or the zero value if there is none.
func (r *Recorder[T]) Last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		var zero T
		return zero
	}
	return r.values[len(r.values)-1]
}

func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Done reports whether the sequence has terminated either way.
func (r *Recorder[T]) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed || r.err != nil
}

// WaitFor blocks until cond returns true, failing the test after
// DefaultTimeout.
func (r *Recorder[T]) WaitFor(t testing.TB, what string, cond func(r *Recorder[T]) bool) {
	t.Helper()
	deadline := time.NewTimer(DefaultTimeout)
	defer deadline.Stop()
	for !cond(r) {
		select {
		case <-r.changed:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %s; got %d values, err = %v, completed = %v", what, r.Len(), r.Err(), r.Completed())
		}
	}
}

// WaitLen blocks until at least n values have been received.
func (r *Recorder[T]) WaitLen(t testing.TB, n int) {
	t.Helper()
	r.WaitFor(t, "values", func(r *Recorder[T]) bool {
		return r.Len() >= n
	})
}

// WaitDone blocks until the sequence terminates.
func (r *Recorder[T]) WaitDone(t testing.TB) {
	t.Helper()
	r.WaitFor(t, "termination", func(r *Recorder[T]) bool {
		return r.Done()
	})
}
