// Package failure normalises the two ways a Go call can fail, a returned error
// or a panic, into a single error value that keeps the stack of the failure site.
package failure

import (
	"fmt"

	"github.com/pkg/errors"
)

// PanicError is a recovered panic converted into an error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Guard runs fn and returns its result. A panic raised by fn is recovered and
// returned as a *PanicError wrapped with the stack of the panic site.
func Guard[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			// Deferred calls run on top of the panicking frames, so the
			// stack recorded here still contains the origin of the panic.
			err = errors.WithStack(&PanicError{Value: r})
		}
	}()
	return fn()
}

// AsPanic reports whether err carries a recovered panic.
func AsPanic(err error) (*PanicError, bool) {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Trace renders err with every stack trace attached to it.
func Trace(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
