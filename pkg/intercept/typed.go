package intercept

import (
	"context"
	"reflect"
	"slices"
)

// Func0 wraps a function taking no arguments.
func Func0[R any](f func(context.Context) (R, error), opts ...Option) func(context.Context) (R, error) {
	w := wrapTyped(f, 0, opts, func(ctx context.Context, c *call) (any, error) {
		return f(ctx)
	})
	return func(ctx context.Context) (R, error) {
		v, err := w.Call(ctx)
		return resultAs[R](w.name, v, err)
	}
}

// Func1 wraps a function of one argument.
func Func1[A, R any](f func(context.Context, A) (R, error), opts ...Option) func(context.Context, A) (R, error) {
	w := wrapTyped(f, 1, opts, func(ctx context.Context, c *call) (any, error) {
		a, err := arg[A](c, 0)
		if err != nil {
			return nil, err
		}
		return f(ctx, a)
	})
	return func(ctx context.Context, a A) (R, error) {
		v, err := w.Call(ctx, a)
		return resultAs[R](w.name, v, err)
	}
}

// Func2 wraps a function of two arguments.
func Func2[A, B, R any](f func(context.Context, A, B) (R, error), opts ...Option) func(context.Context, A, B) (R, error) {
	w := wrapTyped(f, 2, opts, func(ctx context.Context, c *call) (any, error) {
		a, err := arg[A](c, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](c, 1)
		if err != nil {
			return nil, err
		}
		return f(ctx, a, b)
	})
	return func(ctx context.Context, a A, b B) (R, error) {
		v, err := w.Call(ctx, a, b)
		return resultAs[R](w.name, v, err)
	}
}

// Func3 wraps a function of three arguments.
func Func3[A, B, C, R any](f func(context.Context, A, B, C) (R, error), opts ...Option) func(context.Context, A, B, C) (R, error) {
	w := wrapTyped(f, 3, opts, func(ctx context.Context, c *call) (any, error) {
		a, err := arg[A](c, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](c, 1)
		if err != nil {
			return nil, err
		}
		cc, err := arg[C](c, 2)
		if err != nil {
			return nil, err
		}
		return f(ctx, a, b, cc)
	})
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		v, err := w.Call(ctx, a, b, c)
		return resultAs[R](w.name, v, err)
	}
}

// call is the argument list of one typed invocation.
type call struct {
	target string
	params []string
	args   []any
	kwargs map[string]any
}

func wrapTyped(f any, arity int, opts []Option, body func(context.Context, *call) (any, error)) *Wrapper {
	w := Wrap(nil, append([]Option{WithName(funcName(f))}, opts...)...)
	w.target = func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		c := &call{target: w.name, params: w.params, args: args, kwargs: kwargs}
		if err := c.checkArity(arity); err != nil {
			return nil, err
		}
		return body(ctx, c)
	}
	return w
}

func (c *call) checkArity(arity int) error {
	if len(c.args) > arity {
		return argumentErrorf(c.target, "takes %d arguments but %d were given", arity, len(c.args))
	}
	for name := range c.kwargs {
		i := slices.Index(c.params, name)
		if i < 0 || i >= arity {
			return argumentErrorf(c.target, "unexpected named argument %q", name)
		}
		if i < len(c.args) {
			return argumentErrorf(c.target, "got multiple values for argument %q", name)
		}
	}
	return nil
}

func arg[T any](c *call, i int) (T, error) {
	var zero T
	name := paramName(c.params, i)

	v, ok := any(nil), false
	if i < len(c.args) {
		v, ok = c.args[i], true
	} else if kv, found := c.kwargs[name]; found {
		v, ok = kv, true
	}
	if !ok {
		return zero, argumentErrorf(c.target, "missing argument %q", name)
	}

	t, ok := as[T](v)
	if !ok {
		return zero, argumentErrorf(c.target, "argument %q is %T, want %s", name, v, reflect.TypeFor[T]())
	}
	return t, nil
}

func resultAs[R any](target string, v any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := as[R](v)
	if !ok {
		return zero, &ResultTypeError{Target: target, Want: reflect.TypeFor[R](), Value: v}
	}
	return r, nil
}
