package intercept

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/pkg/frames"
	"github.com/psantana5/rescue/pkg/session"
)

var errCrash = errors.New("crashed on purpose")

type crasher struct {
	calls int
}

func (c *crasher) crash(_ context.Context, fail bool) (string, error) {
	c.calls++
	if fail {
		return "", errCrash
	}
	return "ok", nil
}

type harness struct {
	console *session.Console
	out     *bytes.Buffer
	metrics *report.Metrics
}

func newHarness(script string) *harness {
	out := &bytes.Buffer{}
	return &harness{
		console: session.NewConsole(strings.NewReader(script), out),
		out:     out,
		metrics: report.NewMetrics(),
	}
}

func (h *harness) opts(extra ...Option) []Option {
	return append([]Option{WithConsole(h.console), WithMetrics(h.metrics)}, extra...)
}

func TestTransparentOnSuccess(t *testing.T) {
	h := newHarness("")
	identity := Func1(func(_ context.Context, x int) (int, error) { return x, nil }, h.opts()...)

	got, err := identity(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Empty(t, h.out.String(), "no session is opened on success")
}

func TestSkip(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"without value returns zero", "skip()\n", ""},
		{"with value", `skip("manual")` + "\n", "manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.script)
			c := &crasher{}
			wrapped := Func1(c.crash, h.opts()...)

			got, err := wrapped(context.Background(), true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, c.calls)
			assert.Contains(t, h.out.String(), "Call skipped")
		})
	}
}

func TestSkipWithNumber(t *testing.T) {
	h := newHarness("skip(123)\n")
	wrapped := Func0(func(context.Context) (int, error) { return 0, errCrash }, h.opts()...)

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 123, got)
}

func TestResumeCallsAgain(t *testing.T) {
	h := newHarness("resume(false)\n")
	c := &crasher{}
	wrapped := Func1(c.crash, h.opts()...)

	got, err := wrapped(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, c.calls)
	assert.Contains(t, h.out.String(), "Trying call to crash again with new arguments")
}

func TestAliasResumes(t *testing.T) {
	h := newHarness("crash(false)\n")
	c := &crasher{}
	wrapped := Func1(c.crash, h.opts()...)

	got, err := wrapped(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, c.calls)
}

func TestClosuresHaveNoAlias(t *testing.T) {
	h := newHarness("skip(1)\n")
	wrapped := Func0(func(context.Context) (int, error) { return 0, errCrash }, h.opts()...)

	_, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Use resume(arg1, ...)")
	assert.NotContains(t, h.out.String(), "func1(arg1, ...) or")
}

func TestSessionNamespace(t *testing.T) {
	h := newHarness("5 + 5\nargs\nkwargs\nskip()\n")
	c := &crasher{}
	wrapped := Func1(c.crash, h.opts()...)

	_, err := wrapped(context.Background(), true)
	require.NoError(t, err)

	out := h.out.String()
	assert.Contains(t, out, "Caught failure: crashed on purpose")
	assert.Contains(t, out, "Call to crash(args=[true], kwargs={}) failed.")
	assert.Contains(t, out, ">>> 10\n")
	assert.Contains(t, out, ">>> [true]\n")
	assert.Contains(t, out, ">>> {}\n")
}

func TestCallStackExposesCalleesAndCallers(t *testing.T) {
	h := newHarness(strings.Join([]string{
		"len(call_stack)",
		"call_stack[0].x",
		"call_stack[1].x",
		"call_stack[2].grab_me",
		"call_stack[2].GLOBAL_VAR",
		"skip(0)",
	}, "\n") + "\n")

	mod := frames.NewModule("main").Set("GLOBAL_VAR", "BBBB")
	ctx, _ := mod.Enter(context.Background(), "main", "grab_me", "AAAAA")

	inner := func(ctx context.Context, x int) (err error) {
		_, fr := frames.Enter(ctx, "inner", "x", x)
		defer fr.Leave(&err)
		return errCrash
	}
	outer := Func1(func(ctx context.Context, x int) (int, error) {
		return 0, inner(ctx, x*2)
	}, h.opts(WithName("outer"), WithParams("x"))...)

	_, err := outer(ctx, 7)
	require.NoError(t, err)

	out := h.out.String()
	assert.Contains(t, out, ">>> 3\n")
	assert.Contains(t, out, ">>> 14\n")
	assert.Contains(t, out, ">>> 7\n")
	assert.Contains(t, out, `>>> "AAAAA"`)
	assert.Contains(t, out, `>>> "BBBB"`)
	assert.Contains(t, out, "[2] main.main")
}

func TestQuitAborts(t *testing.T) {
	tests := []struct {
		name   string
		script string
		reason string
	}{
		{"quit", "quit()\n", session.ReasonQuit},
		{"exit", "exit()\n", session.ReasonQuit},
		{"end of input", "args\n", session.ReasonEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.script)
			c := &crasher{}
			wrapped := Func1(c.crash, h.opts()...)

			got, err := wrapped(context.Background(), true)
			assert.Equal(t, "", got)
			require.ErrorIs(t, err, ErrAborted)
			assert.ErrorIs(t, err, errCrash)

			var abort *AbortError
			require.ErrorAs(t, err, &abort)
			assert.Equal(t, tt.reason, abort.Reason)
			assert.Equal(t, 1, c.calls)
		})
	}
}

func TestConsoleReleasedOnEveryExit(t *testing.T) {
	for _, script := range []string{"resume(false)\n", "skip()\n", "quit()\n", ""} {
		h := newHarness(script)
		c := &crasher{}
		_, _ = Func1(c.crash, h.opts()...)(context.Background(), true)

		assert.Equal(t, 0, h.console.Depth(), "script %q", script)
		assert.Equal(t, "", h.console.Holder(), "script %q", script)
	}
}

func TestBadResumeOpensNewSession(t *testing.T) {
	h := newHarness("resume(1, 2)\nresume(\"yes\")\nresume(false)\n")
	c := &crasher{}
	wrapped := Func1(c.crash, h.opts(WithParams("fail"))...)

	got, err := wrapped(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, c.calls, "argument errors never reach the target")

	out := h.out.String()
	assert.Contains(t, out, "takes 1 arguments but 2 were given")
	assert.Contains(t, out, `argument "fail" is string, want bool`)
	assert.Equal(t, 3, strings.Count(out, "Caught failure:"))
}

func TestNamedArguments(t *testing.T) {
	h := newHarness("resume(10, kw({\"b\": 5}))\n")
	calls := 0
	div := Func2(func(_ context.Context, a, b int) (int, error) {
		calls++
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	}, h.opts(WithName("div"), WithParams("a", "b"))...)

	got, err := div(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, calls)
}

func TestPanicsAreIntercepted(t *testing.T) {
	h := newHarness("skip(5)\n")
	wrapped := Func0(func(context.Context) (int, error) {
		var m map[string]int
		m["boom"] = 1
		return 0, nil
	}, h.opts()...)

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	assert.Contains(t, h.out.String(), "Caught failure: panic: assignment to entry in nil map")
}

func TestSkipValueConversion(t *testing.T) {
	t.Run("convertible", func(t *testing.T) {
		h := newHarness("skip(2.0)\n")
		wrapped := Func0(func(context.Context) (int64, error) { return 0, errCrash }, h.opts()...)
		got, err := wrapped(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), got)
	})

	t.Run("not convertible", func(t *testing.T) {
		h := newHarness("skip(\"nope\")\n")
		wrapped := Func0(func(context.Context) (int, error) { return 0, errCrash }, h.opts()...)
		got, err := wrapped(context.Background())
		assert.Equal(t, 0, got)
		var rte *ResultTypeError
		assert.ErrorAs(t, err, &rte)
	})
}

func TestUntypedWrapper(t *testing.T) {
	h := newHarness("resume(kw({\"path\": \"/tmp/ok\"}))\n")
	var seen []string
	w := Wrap(func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		path, _ := kwargs["path"].(string)
		seen = append(seen, path)
		if path != "/tmp/ok" {
			return nil, errors.New("bad path")
		}
		return len(path), nil
	}, h.opts(WithName("save"))...)

	got, err := w.CallNamed(context.Background(), map[string]any{"path": "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, []string{"/nonexistent", "/tmp/ok"}, seen)
	assert.Equal(t, "save", w.Name())
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness("resume(false)\n")
	c := &crasher{}
	_, err := Func1(c.crash, h.opts()...)(context.Background(), true)
	require.NoError(t, err)

	snap := h.metrics.Snapshot()
	assert.Equal(t, 2.0, snap[`rescue_attempts_total{wrapper="intercept"}`])
	assert.Equal(t, 1.0, snap[`rescue_failures_total{kind="error",wrapper="intercept"}`])
	assert.Equal(t, 1.0, snap[`rescue_sessions_total{outcome="resumed"}`])
	assert.Equal(t, 1.0, snap[`rescue_calls_total{outcome="succeeded",wrapper="intercept"}`])
	assert.Equal(t, 0.0, snap["rescue_sessions_active"])
}

func TestNestedFailureOpensLayeredSession(t *testing.T) {
	h := newHarness("skip(1)\nresume()\nskip(2)\n")

	innerCalls := 0
	inner := Func0(func(context.Context) (int, error) {
		innerCalls++
		return 0, errCrash
	}, h.opts(WithName("inner"))...)

	outerCalls := 0
	outer := Func0(func(ctx context.Context) (int, error) {
		outerCalls++
		v, err := inner(ctx)
		if err != nil {
			return 0, err
		}
		if outerCalls == 1 {
			return 0, errors.New("outer rejected the first value")
		}
		return v + 1, nil
	}, h.opts(WithName("outer"))...)

	got, err := outer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 2, innerCalls)
	assert.Equal(t, 2, outerCalls)
	assert.Equal(t, 3, strings.Count(h.out.String(), "Caught failure:"))
	assert.Equal(t, 0, h.console.Depth())
}

// rawTerminal counts how often a session switched the terminal mode.
type rawTerminal struct {
	script []string
	raw    bool
	opens  int
	closes int
}

func (r *rawTerminal) open() (session.LineReader, io.Closer, error) {
	r.opens++
	r.raw = true
	return r, r, nil
}

func (r *rawTerminal) Close() error {
	r.closes++
	r.raw = false
	return nil
}

func (r *rawTerminal) ReadLine(string) (string, error) {
	if len(r.script) == 0 {
		return "", io.EOF
	}
	line := r.script[0]
	r.script = r.script[1:]
	return line, nil
}

func TestTerminalRestoredAfterCall(t *testing.T) {
	tests := []struct {
		name     string
		script   []string
		sessions int
		wantErr  bool
	}{
		{"skip", []string{`skip("x")`}, 1, false},
		{"resume fails again then skip", []string{"resume(true)", `skip("y")`}, 2, false},
		{"resume succeeds", []string{"crash(false)"}, 1, false},
		{"quit", []string{"quit()"}, 1, true},
		{"end of input", nil, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := &rawTerminal{script: tt.script}
			c := &crasher{}
			wrapped := Func1(c.crash,
				WithConsole(session.NewSessionConsole(term.open, &bytes.Buffer{})),
				WithMetrics(report.NewMetrics()),
			)

			_, err := wrapped(context.Background(), true)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAborted)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.sessions, term.opens)
			assert.Equal(t, term.opens, term.closes)
			assert.False(t, term.raw, "terminal left in session mode")
		})
	}
}
