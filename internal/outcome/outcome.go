// Package outcome turns fallible calls into inspectable success/failure values.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrUnknownFault is used when a failure is recorded without an error value.
var ErrUnknownFault = errors.New("outcome: unknown fault")

// Outcome is either Success(value) or Failure(err).
type Outcome[T any] struct {
	value T
	err   error
	ok    bool
}

// Success wraps a settled value.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{value: value, ok: true}
}

// Failure wraps a fault. A nil err is replaced by ErrUnknownFault.
func Failure[T any](err error) Outcome[T] {
	if err == nil {
		err = ErrUnknownFault
	}
	return Outcome[T]{err: err}
}

// OK reports whether the outcome is a Success.
func (o Outcome[T]) OK() bool { return o.ok }

// Value returns the success value and true, or the zero value and false.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.ok
}

// Err returns the failure detail, nil on success.
func (o Outcome[T]) Err() error {
	if o.ok {
		return nil
	}
	if o.err == nil {
		return ErrUnknownFault
	}
	return o.err
}

// Unwrap returns the outcome in (value, error) form.
func (o Outcome[T]) Unwrap() (T, error) {
	return o.value, o.Err()
}

// PanicError is the failure recorded when the wrapped call panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value to errors.Is/As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Run executes fn and always resolves to an Outcome; errors and panics become Failure.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure[T](&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	value, err := fn(ctx)
	if err != nil {
		return Failure[T](err)
	}
	return Success(value)
}
