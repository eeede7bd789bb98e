package rx

// Of emits the given values synchronously and completes.
func Of[T any](values ...T) Observable[T] {
	return func(o Observer[T]) Subscription {
		for _, v := range values {
			o.OnNext(v)
		}
		o.OnComplete()
		return nil
	}
}

func Empty[T any]() Observable[T] {
	return func(o Observer[T]) Subscription {
		o.OnComplete()
		return nil
	}
}

// Never emits nothing and never terminates.
func Never[T any]() Observable[T] {
	return func(o Observer[T]) Subscription {
		return nil
	}
}

func Fail[T any](err error) Observable[T] {
	return func(o Observer[T]) Subscription {
		o.OnError(err)
		return nil
	}
}

// Defer calls factory on every subscription. A panic in factory fails the
// subscription with *PanicError.
func Defer[T any](factory func() Observable[T]) Observable[T] {
	return func(o Observer[T]) Subscription {
		src, err := Safely(func(struct{}) (Observable[T], error) {
			return factory(), nil
		}, struct{}{})
		if err != nil {
			o.OnError(err)
			return nil
		}
		return src.Subscribe(o)
	}
}
