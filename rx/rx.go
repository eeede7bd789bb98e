// Package rx is a small push-based reactive toolkit.
//
// An Observable is a function that, when subscribed, pushes values to an
// Observer synchronously on whatever goroutine produces them. There is no
// scheduler: work happens in response to upstream emissions, and a stalled
// source simply stalls everything downstream of it.
//
// Every sequence is terminated by at most one OnError or OnComplete, and no
// events are delivered after that or after Unsubscribe returns.
package rx

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when publishing to a stopped Subject.
var ErrStopped = errors.New("rx: subject stopped")

type Observer[T any] interface {
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Funcs adapts plain functions to Observer. Nil fields are ignored.
type Funcs[T any] struct {
	Next     func(v T)
	Error    func(err error)
	Complete func()
}

func (f Funcs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

type Subscription interface {
	Unsubscribe()
}

type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Observable produces values for each subscriber. Implementations are called
// through Subscribe, which guarantees the terminal-event contract, so they
// don't need to guard against misbehaving callers themselves.
type Observable[T any] func(o Observer[T]) Subscription

func (src Observable[T]) Subscribe(o Observer[T]) Subscription {
	s := &safeObserver[T]{dst: o}
	sub := src(s)
	return SubscriptionFunc(func() {
		s.done.Store(true)
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

type safeObserver[T any] struct {
	dst  Observer[T]
	done atomic.Bool
}

func (s *safeObserver[T]) OnNext(v T) {
	if !s.done.Load() {
		s.dst.OnNext(v)
	}
}

func (s *safeObserver[T]) OnError(err error) {
	if s.done.CompareAndSwap(false, true) {
		s.dst.OnError(err)
	}
}

func (s *safeObserver[T]) OnComplete() {
	if s.done.CompareAndSwap(false, true) {
		s.dst.OnComplete()
	}
}

// PanicError is produced when a user-supplied function panics inside an
// operator. The sequence fails with it instead of crashing the producer.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it was an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// Safely calls f, converting a panic into *PanicError.
func Safely[T, U any](f func(T) (U, error), v T) (result U, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{p, string(debug.Stack())}
		}
	}()
	return f(v)
}

// holder keeps an upstream subscription that may arrive after the
// downstream has already asked to cancel it.
type holder struct {
	mu        sync.Mutex
	subs      []Subscription
	cancelled bool
}

func (h *holder) add(sub Subscription) {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
}

func (h *holder) Unsubscribe() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (h *holder) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}
