package retry

import (
	"context"
	"reflect"
	"runtime"
	"strings"
)

// Func wraps f with the Default limit of one retry.
func Func[R any](f func(context.Context) (R, error)) func(context.Context) (R, error) {
	return FuncWith(defaultPolicy(f), f)
}

// Func1 wraps a one-argument f with the Default limit.
func Func1[A, R any](f func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return Func1With(defaultPolicy(f), f)
}

// FuncWith wraps f with policy p. The signature of f is preserved.
func FuncWith[R any](p *Policy, f func(context.Context) (R, error)) func(context.Context) (R, error) {
	p = named(p, f)
	return func(ctx context.Context) (R, error) {
		return Run(ctx, p, f)
	}
}

// Func1With wraps a one-argument f with policy p.
func Func1With[A, R any](p *Policy, f func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	p = named(p, f)
	return func(ctx context.Context, a A) (R, error) {
		return Run(ctx, p, func(ctx context.Context) (R, error) {
			return f(ctx, a)
		})
	}
}

func defaultPolicy(f any) *Policy {
	// Default always validates.
	p, _ := New(Default, WithName(targetName(f)))
	return p
}

// named returns p, or a copy of p carrying f's name when p has none. The
// copy shares p's rate limiter.
func named(p *Policy, f any) *Policy {
	if p.name != "" {
		return p
	}
	cp := *p
	cp.name = targetName(f)
	return &cp
}

func targetName(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return ""
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
