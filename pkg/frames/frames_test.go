package frames

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBottom = errors.New("hit bottom")

func descend(ctx context.Context, n int) (err error) {
	ctx, fr := Enter(ctx, "descend", "n", n)
	defer fr.Leave(&err)
	if n <= 0 {
		return errBottom
	}
	return descend(ctx, n-1)
}

func TestCaptureIncludesFramesBelowTheCaller(t *testing.T) {
	ctx, root := Enter(context.Background(), "root", "grab_me", "AAAAA")

	err := descend(ctx, 3)
	require.ErrorIs(t, err, errBottom)

	stack := Capture(root)
	require.Len(t, stack, 5)

	var ns []any
	for _, s := range stack {
		ns = append(ns, s.Bindings["n"])
	}
	assert.Equal(t, []any{0, 1, 2, 3, nil}, ns)
	assert.Equal(t, "root", stack[4].Func)
	assert.Equal(t, "AAAAA", stack[4].Bindings["grab_me"])
}

func TestSuccessfulFramesArePopped(t *testing.T) {
	ctx, root := Enter(context.Background(), "root")

	func() {
		var err error
		_, fr := Enter(ctx, "child", "x", 1)
		defer fr.Leave(&err)
	}()

	stack := Capture(root)
	require.Len(t, stack, 1)
	assert.Equal(t, "root", stack[0].Func)
}

func TestHandledChildFailureIsDropped(t *testing.T) {
	ctx, root := Enter(context.Background(), "root")

	var handled = func(ctx context.Context) (err error) {
		ctx, fr := Enter(ctx, "handler")
		defer fr.Leave(&err)

		if inner := descend(ctx, 1); inner != nil {
			fr.Set("recovered", inner.Error())
		}
		return errors.New("unrelated failure")
	}

	require.Error(t, handled(ctx))

	stack := Capture(root)
	require.Len(t, stack, 2)
	assert.Equal(t, "handler", stack[0].Func)
	assert.Equal(t, "hit bottom", stack[0].Bindings["recovered"])
}

func TestWrappedFailureKeepsChain(t *testing.T) {
	ctx, root := Enter(context.Background(), "root")

	wrapping := func(ctx context.Context) (err error) {
		ctx, fr := Enter(ctx, "wrapping")
		defer fr.Leave(&err)
		if err := descend(ctx, 0); err != nil {
			return fmt.Errorf("wrapping: %w", err)
		}
		return nil
	}

	require.Error(t, wrapping(ctx))

	stack := Capture(root)
	require.Len(t, stack, 3)
	assert.Equal(t, "descend", stack[0].Func)
	assert.Equal(t, "wrapping", stack[1].Func)
}

func panicky(ctx context.Context, depth int) (err error) {
	ctx, fr := Enter(ctx, "panicky", "depth", depth)
	defer fr.Leave(&err)
	if depth == 0 {
		panic("deep panic")
	}
	return panicky(ctx, depth-1)
}

func TestPanicKeepsChain(t *testing.T) {
	ctx, root := Enter(context.Background(), "root")

	assert.PanicsWithValue(t, "deep panic", func() { _ = panicky(ctx, 2) })

	stack := Capture(root)
	require.Len(t, stack, 4)
	assert.Equal(t, 0, stack[0].Bindings["depth"])
	assert.Equal(t, 2, stack[2].Bindings["depth"])
}

func TestModuleBindingsAndPrecedence(t *testing.T) {
	mod := NewModule("main").Set("GLOBAL_VAR", "BBBB").Set("shadowed", "module")

	ctx, outer := mod.Enter(context.Background(), "outer", "shadowed", "local")
	stack := Capture(outer)
	_, inner := Enter(ctx, "inner")

	require.Len(t, stack, 1)
	assert.Equal(t, "local", stack[0].Bindings["shadowed"])
	assert.Equal(t, "BBBB", stack[0].Bindings["GLOBAL_VAR"])
	assert.Equal(t, "main.outer", stack[0].String())

	innerStack := Capture(inner)
	require.Len(t, innerStack, 2)
	assert.Equal(t, "BBBB", innerStack[0].Bindings["GLOBAL_VAR"], "module is inherited through the context")
}

func TestSnapshotIsPointInTime(t *testing.T) {
	mod := NewModule("main").Set("g", 1)
	_, fr := mod.Enter(context.Background(), "f", "x", 1)

	stack := Capture(fr)
	fr.Set("x", 2)
	mod.Set("g", 2)

	assert.Equal(t, 1, stack[0].Bindings["x"])
	assert.Equal(t, 1, stack[0].Bindings["g"])

	v, ok := fr.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCaptureWithoutChainIsEmpty(t *testing.T) {
	assert.Empty(t, Capture(nil))
	assert.Empty(t, CaptureContext(context.Background()))
	assert.NotNil(t, Capture(nil))
}

func TestPairs(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
		want map[string]any
	}{
		{"even", []any{"a", 1, "b", 2}, map[string]any{"a": 1, "b": 2}},
		{"odd", []any{"a", 1, "dangling"}, map[string]any{"a": 1, "dangling": nil}},
		{"non-string key", []any{7, "seven"}, map[string]any{"7": "seven"}},
		{"empty", nil, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pairs(tt.kv))
		})
	}
}

func TestTraceback(t *testing.T) {
	stack := CallStack{{Func: "inner"}, {Func: "outer", Module: "main"}}
	tb := stack.Traceback()
	assert.Less(t, indexOf(tb, "main.outer"), indexOf(tb, "inner"))
	assert.Equal(t, []map[string]any{nil, nil}, stack.Maps())
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
