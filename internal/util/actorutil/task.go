package actorutil

import (
	"errors"
	"time"

	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a blocking call (opening a port, dialing a
// broker) with an optional timeout and hands the outcome to callbacks on the
// calling goroutine.
type SafeBackgroundTask[T any] struct {
	fn        func() (*T, error)
	timeout   *time.Duration
	onError   func(error)
	onSuccess func(T)
}

var errNilResult = errors.New("result is nil")

func NewBackgroundTask[T any](fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		fn: fn,
	}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) OnError(fn func(error)) *SafeBackgroundTask[T] {
	t.onError = fn
	return t
}

func (t *SafeBackgroundTask[T]) OnSuccess(fn func(T)) *SafeBackgroundTask[T] {
	t.onSuccess = fn
	return t
}

// Run blocks until fn returns or the timeout fires. A nil result counts as
// an error.
func (t *SafeBackgroundTask[T]) Run() {
	bg := io.Eval(func() (T, error) {
		a, err := t.fn()
		if err != nil {
			var zero T
			return zero, err
		}
		if a == nil {
			var zero T
			return zero, errNilResult
		}
		return *a, nil
	})
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	if result.Error != nil {
		if t.onError != nil {
			t.onError(result.Error)
		}
		return
	}
	if t.onSuccess != nil {
		t.onSuccess(result.Value)
	}
}
