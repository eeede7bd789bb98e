package rx

import (
	"maps"
	"slices"
	"sync"
)

// Subject is a hot, multicast source: values published with Next go to every
// current subscriber. It remembers the last published value, and Stop ends
// all subscriptions; publishing after Stop returns ErrStopped.
//
// Next, Fail and Stop must not be called concurrently with each other.
type Subject[T any] struct {
	mu        sync.Mutex
	observers map[uint64]Observer[T]
	nextID    uint64
	last      T
	hasLast   bool
	stopped   bool
	err       error
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{observers: make(map[uint64]Observer[T])}
}

// Last returns the most recently published value.
func (s *Subject[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Subject[T]) Next(v T) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.last, s.hasLast = v, true
	obs := s.snapshotLocked()
	s.mu.Unlock()
	for _, o := range obs {
		o.OnNext(v)
	}
	return nil
}

// Fail terminates every subscription with err. Later subscribers receive err
// immediately.
func (s *Subject[T]) Fail(err error) {
	s.terminate(err)
}

// Stop completes every subscription.
func (s *Subject[T]) Stop() {
	s.terminate(nil)
}

func (s *Subject[T]) terminate(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.err = err
	obs := s.snapshotLocked()
	clear(s.observers)
	s.mu.Unlock()
	for _, o := range obs {
		if err != nil {
			o.OnError(err)
		} else {
			o.OnComplete()
		}
	}
}

func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *Subject[T]) snapshotLocked() []Observer[T] {
	obs := make([]Observer[T], 0, len(s.observers))
	for _, id := range slices.Sorted(maps.Keys(s.observers)) {
		obs = append(obs, s.observers[id])
	}
	return obs
}

func (s *Subject[T]) Observable() Observable[T] {
	return func(o Observer[T]) Subscription {
		s.mu.Lock()
		if s.stopped {
			err := s.err
			s.mu.Unlock()
			if err != nil {
				o.OnError(err)
			} else {
				o.OnComplete()
			}
			return nil
		}
		id := s.nextID
		s.nextID++
		s.observers[id] = o
		s.mu.Unlock()
		return SubscriptionFunc(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}
