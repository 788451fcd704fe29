package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/rescue/pkg/frames"
)

func runScript(t *testing.T, script string, b Bindings) (Outcome, string) {
	t.Helper()
	var out bytes.Buffer
	console := NewConsole(strings.NewReader(script), &out)
	o := NewController(console).Run(context.Background(), b)
	assert.Equal(t, 0, console.Depth(), "console must be released")
	return o, out.String()
}

func TestOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   Outcome
	}{
		{"skip without value", "skip()\n", Skipped{}},
		{"skip with value", "skip(123)\n", Skipped{Value: 123}},
		{"resume", "resume(false)\n", Resumed{Args: []any{false}, Kwargs: map[string]any{}}},
		{"alias", "wrappedCrash(false)\n", Resumed{Args: []any{false}, Kwargs: map[string]any{}}},
		{"named arguments", `resume(1, kw({"b": 2}))` + "\n", Resumed{Args: []any{1}, Kwargs: map[string]any{"b": 2}}},
		{"quit", "quit()\n", Quit{Reason: ReasonQuit}},
		{"exit", "exit()\n", Quit{Reason: ReasonQuit}},
		{"end of input", "", Quit{Reason: ReasonEOF}},
		{"end of input after statements", "1 + 1\n", Quit{Reason: ReasonEOF}},
		{"missing trailing newline", "skip(7)", Skipped{Value: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := runScript(t, tt.script, Bindings{Name: "wrappedCrash", Args: []any{true}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionResultsAreEchoed(t *testing.T) {
	_, out := runScript(t, "5 + 5\nargs\nkwargs\nskip()\n", Bindings{
		Name:   "f",
		Args:   []any{1, "a"},
		Kwargs: map[string]any{"k": true},
	})

	assert.Contains(t, out, "10\n")
	assert.Contains(t, out, `[1, "a"]`)
	assert.Contains(t, out, `{"k": true}`)
	assert.Contains(t, out, "Call skipped")
}

func TestResumePrintsNotice(t *testing.T) {
	_, out := runScript(t, "resume(1)\n", Bindings{Name: "save"})
	assert.Contains(t, out, "Trying call to save again with new arguments")
}

func TestStatementsAfterResumeDoNotRun(t *testing.T) {
	got, out := runScript(t, "resume(1); 40 + 2\n", Bindings{Name: "f"})
	assert.Equal(t, Resumed{Args: []any{1}, Kwargs: map[string]any{}}, got)
	assert.NotContains(t, out, "42")
}

func TestAssignmentIsSessionScoped(t *testing.T) {
	got, out := runScript(t, "x = 2; x * 3\nskip(x)\n", Bindings{Name: "f"})
	assert.Contains(t, out, "6\n")
	assert.Equal(t, Skipped{Value: 2}, got)
}

func TestReservedNamesCannotBeAssigned(t *testing.T) {
	_, out := runScript(t, "skip = 1\nf = 2\nskip()\n", Bindings{Name: "f"})
	assert.Contains(t, out, "error: cannot assign to skip")
	assert.Contains(t, out, "error: cannot assign to f")
}

func TestEvaluationErrorsDoNotEndSession(t *testing.T) {
	got, out := runScript(t, "nosuchname\nargs[10]\nskip(1, 2)\nskip(\"ok\")\n", Bindings{Name: "f"})
	assert.Contains(t, out, "unknown name nosuchname")
	assert.Contains(t, out, "skip takes at most one value, got 2")
	assert.GreaterOrEqual(t, strings.Count(out, "error: "), 3)
	assert.Equal(t, Skipped{Value: "ok"}, got)
}

func TestAliasOnlyForIdentifiers(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		got, out := runScript(t, "func1(1)\n", Bindings{Name: "run.func1"})
		assert.Equal(t, Quit{Reason: ReasonEOF}, got)
		assert.Contains(t, out, "error: ")
		assert.NotContains(t, out, "run.func1(arg1, ...) or")
	})

	t.Run("named", func(t *testing.T) {
		_, out := runScript(t, "skip()\n", Bindings{Name: "save"})
		assert.Contains(t, out, "Use save(arg1, ...) or resume(arg1, ...)")
	})

	for _, name := range []string{"let", "map", "len", "not", "true", "matches", "filter"} {
		t.Run("expression keyword "+name, func(t *testing.T) {
			got, out := runScript(t, "resume(false)\n", Bindings{Name: name})
			assert.Equal(t, Resumed{Args: []any{false}, Kwargs: map[string]any{}}, got)
			assert.NotContains(t, out, name+"(arg1, ...) or")
		})
	}
}

func TestAliasable(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"save", true},
		{"wrappedCrash", true},
		{"", false},
		{"run.func1", false},
		{"<func1>", false},
		{"args", false},
		{"let", false},
		{"if", false},
		{"nil", false},
		{"map", false},
		{"sum", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aliasable(tt.name))
		})
	}
}

func TestAliasCallable(t *testing.T) {
	for _, name := range []string{"save", "crash", "fetchData"} {
		t.Run(name, func(t *testing.T) {
			got, out := runScript(t, name+"(false)\n", Bindings{Name: name})
			assert.Equal(t, Resumed{Args: []any{false}, Kwargs: map[string]any{}}, got)
			assert.NotContains(t, out, "error:")
		})
	}
}

func TestCallStackAccess(t *testing.T) {
	stack := frames.CallStack{
		{Func: "crash", Bindings: map[string]any{"x": true}},
		{Func: "main", Module: "main", Bindings: map[string]any{"GLOBAL_VAR": "BBBB"}},
	}
	_, out := runScript(t, "call_stack[0][\"x\"]\ncall_stack[1].GLOBAL_VAR\nwhere()\nskip()\n", Bindings{
		Name:      "crash",
		CallStack: stack,
	})

	assert.Contains(t, out, "true\n")
	assert.Contains(t, out, `"BBBB"`)
	assert.Contains(t, out, "main.main")
}

func TestHelpReprintsBanner(t *testing.T) {
	_, out := runScript(t, "help()\nskip()\n", Bindings{Name: "f", Args: []any{1}})
	assert.Equal(t, 2, strings.Count(out, "Call to f(args=[1], kwargs={}) failed."))
}

func TestProcReportsStats(t *testing.T) {
	_, out := runScript(t, "proc().pid > 0\nskip()\n", Bindings{Name: "f"})
	assert.Contains(t, out, "true\n")
}

func TestUnconsumedInputCarriesOver(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(strings.NewReader("skip(1)\nskip(2)\n"), &out)
	c := NewController(console)

	assert.Equal(t, Skipped{Value: 1}, c.Run(context.Background(), Bindings{Name: "f"}))
	assert.Equal(t, Skipped{Value: 2}, c.Run(context.Background(), Bindings{Name: "f"}))
}

func TestCanceledContextQuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	c := NewController(NewConsole(strings.NewReader("skip()\n"), &out))
	assert.Equal(t, Quit{Reason: ReasonCanceled}, c.Run(ctx, Bindings{Name: "f"}))
}

type failingReader struct{}

func (failingReader) ReadLine(string) (string, error) { return "", errors.New("tty gone") }

func TestReadErrorEndsSession(t *testing.T) {
	var out bytes.Buffer
	c := NewController(NewLineConsole(failingReader{}, &out))
	assert.Equal(t, Quit{Reason: ReasonEOF}, c.Run(context.Background(), Bindings{}))
	assert.Contains(t, out.String(), "Call to <anonymous>")
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a; b", []string{"a", " b"}},
		{`"x;y"; z`, []string{`"x;y"`, " z"}},
		{`'a\';b'`, []string{`'a\';b'`}},
		{"", []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.in))
		})
	}
}

func TestSplitAssignment(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		rhs    string
		assign bool
	}{
		{"x = 1", "x", "1", true},
		{"x=args[0]", "x", "args[0]", true},
		{"x == 1", "", "", false},
		{"x <= 1", "", "", false},
		{"x != 1", "", "", false},
		{`f("a=b")`, "", "", false},
		{"x =", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, rhs, ok := splitAssignment(tt.in)
			assert.Equal(t, tt.assign, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.rhs, rhs)
		})
	}
}

func TestConsoleHolders(t *testing.T) {
	console := NewConsole(strings.NewReader(""), &bytes.Buffer{})
	outer := console.acquire("outer")
	inner := console.acquire("inner")
	require.Equal(t, "inner", console.Holder())

	inner()
	inner()
	assert.Equal(t, "outer", console.Holder())
	outer()
	assert.Equal(t, "", console.Holder())
}

func TestConsoleRedirect(t *testing.T) {
	var orig, redirected bytes.Buffer
	console := NewConsole(strings.NewReader("original\n"), &orig)

	restore := console.Redirect(strings.NewReader("redirected\n"), &redirected)
	line, err := console.ReadLine("")
	require.NoError(t, err)
	assert.Equal(t, "redirected", line)
	console.Println("to redirected")
	restore()

	line, err = console.ReadLine("")
	require.NoError(t, err)
	assert.Equal(t, "original", line)
	console.Println("to original")

	assert.Equal(t, "to redirected\n", redirected.String())
	assert.Equal(t, "to original\n", orig.String())
}
