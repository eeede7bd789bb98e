package rx

import "sync/atomic"

func Map[T, U any](src Observable[T], f func(T) U) Observable[U] {
	return TryMap(src, func(v T) (U, error) {
		return f(v), nil
	})
}

// TryMap transforms each value with f. If f returns an error or panics, the
// resulting sequence fails with that error and the upstream is unsubscribed.
func TryMap[T, U any](src Observable[T], f func(T) (U, error)) Observable[U] {
	return func(o Observer[U]) Subscription {
		h := &holder{}
		var failed atomic.Bool
		h.add(src.Subscribe(Funcs[T]{
			Next: func(v T) {
				if failed.Load() {
					return
				}
				u, err := Safely(f, v)
				if err != nil {
					failed.Store(true)
					h.Unsubscribe()
					o.OnError(err)
					return
				}
				o.OnNext(u)
			},
			Error:    o.OnError,
			Complete: o.OnComplete,
		}))
		return h
	}
}

func Filter[T any](src Observable[T], keep func(T) bool) Observable[T] {
	return func(o Observer[T]) Subscription {
		h := &holder{}
		var failed atomic.Bool
		h.add(src.Subscribe(Funcs[T]{
			Next: func(v T) {
				if failed.Load() {
					return
				}
				ok, err := Safely(func(v T) (bool, error) { return keep(v), nil }, v)
				if err != nil {
					failed.Store(true)
					h.Unsubscribe()
					o.OnError(err)
					return
				}
				if ok {
					o.OnNext(v)
				}
			},
			Error:    o.OnError,
			Complete: o.OnComplete,
		}))
		return h
	}
}

// DistinctUntilChanged drops values equal (per eq) to the previous emitted one.
func DistinctUntilChanged[T any](src Observable[T], eq func(a, b T) bool) Observable[T] {
	return func(o Observer[T]) Subscription {
		var prev T
		var has bool
		return src.Subscribe(Funcs[T]{
			Next: func(v T) {
				if has && eq(prev, v) {
					return
				}
				prev, has = v, true
				o.OnNext(v)
			},
			Error:    o.OnError,
			Complete: o.OnComplete,
		})
	}
}

// CombineLatest emits a fresh slice with the latest value of every source
// each time any of them emits, once all of them have emitted at least once.
// It completes when all sources complete, or immediately when a source
// completes without ever emitting.
func CombineLatest[T any](srcs []Observable[T]) Observable[[]T] {
	if len(srcs) == 0 {
		return Empty[[]T]()
	}
	return func(o Observer[[]T]) Subscription {
		n := len(srcs)
		s := &serializer[[]T]{dst: o}
		latest := make([]T, n)
		has := make([]bool, n)
		var ready, completed int
		var done bool
		h := &holder{}

		for i, src := range srcs {
			i := i
			h.add(src.Subscribe(Funcs[T]{
				Next: func(v T) {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					latest[i] = v
					if !has[i] {
						has[i] = true
						ready++
					}
					if ready < n {
						s.mu.Unlock()
						return
					}
					snap := make([]T, n)
					copy(snap, latest)
					s.emitLocked(event[[]T]{kind: evNext, v: snap})
				},
				Error: func(err error) {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					done = true
					s.emitLocked(event[[]T]{kind: evError, err: err})
					h.Unsubscribe()
				},
				Complete: func() {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					completed++
					if completed < n && has[i] {
						s.mu.Unlock()
						return
					}
					done = true
					s.emitLocked(event[[]T]{kind: evComplete})
					h.Unsubscribe()
				},
			}))
			if h.isCancelled() {
				break
			}
		}
		return h
	}
}

// CombineLatest2 is CombineLatest for two sources of different types.
func CombineLatest2[A, B, R any](a Observable[A], b Observable[B], f func(A, B) R) Observable[R] {
	left := Map(a, func(v A) any { return v })
	right := Map(b, func(v B) any { return v })
	return Map(CombineLatest([]Observable[any]{left, right}), func(vs []any) R {
		return f(vs[0].(A), vs[1].(B))
	})
}

// Merge interleaves the values of all sources in arrival order. It fails as
// soon as any source fails and completes once all of them complete.
func Merge[T any](srcs ...Observable[T]) Observable[T] {
	if len(srcs) == 0 {
		return Empty[T]()
	}
	return func(o Observer[T]) Subscription {
		s := &serializer[T]{dst: o}
		var completed int
		var done bool
		h := &holder{}
		for _, src := range srcs {
			h.add(src.Subscribe(Funcs[T]{
				Next: func(v T) {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					s.emitLocked(event[T]{kind: evNext, v: v})
				},
				Error: func(err error) {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					done = true
					s.emitLocked(event[T]{kind: evError, err: err})
					h.Unsubscribe()
				},
				Complete: func() {
					s.mu.Lock()
					if done {
						s.mu.Unlock()
						return
					}
					completed++
					if completed < len(srcs) {
						s.mu.Unlock()
						return
					}
					done = true
					s.emitLocked(event[T]{kind: evComplete})
				},
			}))
			if h.isCancelled() {
				break
			}
		}
		return h
	}
}
