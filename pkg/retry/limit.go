package retry

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrInvalidLimit is returned for limits that are neither a non-negative
// count nor Unlimited.
var ErrInvalidLimit = errors.New("invalid retry limit")

// Limit is the number of retries after the first attempt.
type Limit struct {
	n         int
	unlimited bool
}

// Times allows n retries, so at most n+1 attempts.
func Times(n int) Limit {
	return Limit{n: n}
}

var (
	// Unlimited retries until the target succeeds.
	Unlimited = Limit{unlimited: true}
	// Default is one retry.
	Default = Times(1)
)

// IsUnlimited reports whether the limit is Unlimited.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Count returns the number of retries, or -1 when unlimited.
func (l Limit) Count() int {
	if l.unlimited {
		return -1
	}
	return l.n
}

func (l Limit) String() string {
	if l.unlimited {
		return "unbounded"
	}
	return strconv.Itoa(l.n)
}

func (l Limit) validate() error {
	if !l.unlimited && l.n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, l.n)
	}
	return nil
}

// ParseLimit reads a limit from configuration: a non-negative integer, or
// "unlimited" (also "unbounded", "inf").
func ParseLimit(s string) (Limit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unlimited", "unbounded", "inf":
		return Unlimited, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	l := Times(n)
	if err := l.validate(); err != nil {
		return Limit{}, err
	}
	return l, nil
}

// LimitOf accepts a limit of dynamic type: a Limit or any integer kind.
// Everything else, including strings and floats, is rejected.
func LimitOf(v any) (Limit, error) {
	if l, ok := v.(Limit); ok {
		if err := l.validate(); err != nil {
			return Limit{}, err
		}
		return l, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 || n > int64(maxInt) {
			return Limit{}, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
		}
		return Times(int(n)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > uint64(maxInt) {
			return Limit{}, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
		}
		return Times(int(n)), nil
	}
	return Limit{}, fmt.Errorf("%w: %v (%T)", ErrInvalidLimit, v, v)
}

const maxInt = int(^uint(0) >> 1)
