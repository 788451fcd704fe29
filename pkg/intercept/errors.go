package intercept

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrAborted is matched by the error returned when the operator quits a
// session or input ends. The caller decides whether to stop the program.
var ErrAborted = errors.New("call aborted by operator")

// AbortError carries the failure that was being handled when the operator
// gave up.
type AbortError struct {
	Target string
	Reason string
	Last   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("call to %s aborted (%s): %v", e.Target, e.Reason, e.Last)
}

// Unwrap exposes both ErrAborted and the last target failure.
func (e *AbortError) Unwrap() []error {
	return []error{ErrAborted, e.Last}
}

// ArgumentError reports arguments that do not fit the target's signature,
// typically after resume was called with the wrong arity or types. It is
// treated as a failure of the target.
type ArgumentError struct {
	Target string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Reason)
}

func argumentErrorf(target, format string, a ...any) *ArgumentError {
	return &ArgumentError{Target: target, Reason: fmt.Sprintf(format, a...)}
}

// ResultTypeError reports a skip value that cannot be returned as the
// target's result type.
type ResultTypeError struct {
	Target string
	Want   reflect.Type
	Value  any
}

func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("%s: skip value %v of type %T is not a %s", e.Target, e.Value, e.Value, e.Want)
}
