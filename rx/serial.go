package rx

import "sync"

type eventKind int

const (
	evNext eventKind = iota
	evError
	evComplete
)

type event[T any] struct {
	kind eventKind
	v    T
	err  error
}

// serializer delivers events to dst one at a time, in the order they were
// queued, even when producers run on several goroutines or re-enter from
// inside a delivery. Producers queue events while holding mu, which lets them
// update their own state atomically with the queueing.
type serializer[T any] struct {
	mu       sync.Mutex
	dst      Observer[T]
	queue    []event[T]
	emitting bool
}

// emitLocked queues e and drains the queue unless another call is already
// draining it. Must be called with mu held; returns with mu released.
func (s *serializer[T]) emitLocked(e event[T]) {
	s.queue = append(s.queue, e)
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	for len(s.queue) > 0 {
		e := s.queue[0]
		s.queue[0] = event[T]{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		switch e.kind {
		case evNext:
			s.dst.OnNext(e.v)
		case evError:
			s.dst.OnError(e.err)
		case evComplete:
			s.dst.OnComplete()
		}
		s.mu.Lock()
	}
	s.queue = nil
	s.emitting = false
	s.mu.Unlock()
}
