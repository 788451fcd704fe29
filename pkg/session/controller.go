// Package session runs the interactive console an operator uses to inspect a
// failed call and decide how to continue: call it again with new arguments,
// supply a result in its place, or give up.
package session

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	"github.com/google/uuid"

	"github.com/psantana5/rescue/pkg/failure"
	"github.com/psantana5/rescue/pkg/frames"
	"github.com/psantana5/rescue/pkg/logging"
)

// DefaultPrompt is shown before every line of input.
const DefaultPrompt = ">>> "

// Bindings describe the failed call a session is opened for.
type Bindings struct {
	// Name is the declared name of the failed function. When it is a valid
	// identifier it is also bound as an alias of resume.
	Name      string
	Args      []any
	Kwargs    map[string]any
	CallStack frames.CallStack
	Failure   error
}

// Controller runs sessions on one console.
type Controller struct {
	console *Console
	logger  *logging.Logger
	prompt  string
}

// Option configures a Controller.
type Option func(*Controller)

// WithPrompt replaces the input prompt.
func WithPrompt(prompt string) Option {
	return func(c *Controller) { c.prompt = prompt }
}

// WithLogger sets the logger for session lifecycle events.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller bound to console.
func NewController(console *Console, opts ...Option) *Controller {
	c := &Controller{
		console: console,
		logger:  logging.Discard(),
		prompt:  DefaultPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Console returns the console the controller talks through.
func (c *Controller) Console() *Console { return c.console }

// Run opens a session for b and blocks until the operator resumes, skips or
// quits. Errors raised while evaluating operator input are printed and never
// end the session.
func (c *Controller) Run(ctx context.Context, b Bindings) Outcome {
	id := uuid.NewString()
	release := c.console.acquire(id)
	defer release()

	log := c.logger.WithField("session_id", id)
	log.Debug("Session opened", map[string]interface{}{
		"target": b.Name,
		"frames": len(b.CallStack),
		"depth":  c.console.Depth(),
	})

	s := newScope(c, b)
	c.console.Println(s.banner())

	for {
		if err := ctx.Err(); err != nil {
			log.Debug("Session canceled", map[string]interface{}{"error": err.Error()})
			return Quit{Reason: ReasonCanceled}
		}

		line, err := c.console.ReadLine(c.prompt)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("Session input failed", map[string]interface{}{"error": err.Error()})
			}
			c.console.Println()
			return Quit{Reason: ReasonEOF}
		}

		for _, stmt := range splitStatements(line) {
			s.exec(stmt)
			if s.outcome != nil {
				log.Debug("Session closed", map[string]interface{}{"outcome": fmt.Sprintf("%T", s.outcome)})
				return s.outcome
			}
		}
	}
}

// scope is the namespace of one session.
type scope struct {
	c       *Controller
	b       Bindings
	alias   string
	vars    map[string]any
	outcome Outcome
}

// reserved names cannot be rebound by assignment.
var reserved = map[string]bool{
	"args": true, "kwargs": true, "call_stack": true,
	"resume": true, "skip": true, "kw": true,
	"quit": true, "exit": true, "help": true, "where": true, "proc": true,
}

func newScope(c *Controller, b Bindings) *scope {
	s := &scope{c: c, b: b, vars: make(map[string]any)}
	if aliasable(b.Name) {
		s.alias = b.Name
	}
	return s
}

// exprKeywords are identifiers the expression language parses as operators or
// literals rather than names.
var exprKeywords = map[string]bool{
	"not": true, "in": true, "and": true, "or": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true,
	"let": true, "if": true, "else": true,
	"true": true, "false": true, "nil": true,
}

// aliasable reports whether name can be offered as an alias of resume. It must
// be a Go identifier that the expression language also resolves to the
// session binding.
func aliasable(name string) bool {
	if name == "" || !token.IsIdentifier(name) || reserved[name] || exprKeywords[name] {
		return false
	}
	_, isBuiltin := builtin.Index[name]
	return !isBuiltin
}

func (s *scope) env() map[string]any {
	args := s.b.Args
	if args == nil {
		args = []any{}
	}
	kwargs := s.b.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	env := map[string]any{
		"args":       args,
		"kwargs":     kwargs,
		"call_stack": s.b.CallStack.Maps(),
		"resume":     s.resume,
		"skip":       s.skip,
		"kw":         kw,
		"quit":       s.quit,
		"exit":       s.quit,
		"help":       s.help,
		"where":      s.where,
		"proc":       proc,
	}
	for k, v := range s.vars {
		env[k] = v
	}
	if s.alias != "" {
		env[s.alias] = s.resume
	}
	return env
}

// exec runs one statement: either "name = expression" or an expression whose
// non-nil result is echoed.
func (s *scope) exec(stmt string) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return
	}

	name, rhs, isAssign := splitAssignment(stmt)
	if isAssign && (reserved[name] || exprKeywords[name] || name == s.alias) {
		s.c.console.Printf("error: cannot assign to %s\n", name)
		return
	}
	if !isAssign {
		rhs = stmt
	}

	value, err := s.eval(rhs)
	if err != nil {
		s.c.console.Printf("error: %v\n", err)
		return
	}
	if isAssign {
		s.vars[name] = value
		return
	}
	if value != nil && s.outcome == nil {
		s.c.console.Println(Repr(value))
	}
}

func (s *scope) eval(src string) (any, error) {
	return failure.Guard(func() (any, error) {
		env := s.env()
		program, err := expr.Compile(src, expr.Env(env))
		if err != nil {
			return nil, err
		}
		return expr.Run(program, env)
	})
}

func (s *scope) resume(params ...any) any {
	if s.outcome != nil {
		return nil
	}
	args := make([]any, 0, len(params))
	kwargs := make(map[string]any)
	for _, p := range params {
		if named, ok := p.(Named); ok {
			for k, v := range named {
				kwargs[k] = v
			}
			continue
		}
		args = append(args, p)
	}
	s.outcome = Resumed{Args: args, Kwargs: kwargs}
	s.c.console.Printf("Trying call to %s again with new arguments\n", s.displayName())
	return nil
}

func (s *scope) skip(params ...any) (any, error) {
	if len(params) > 1 {
		return nil, fmt.Errorf("skip takes at most one value, got %d", len(params))
	}
	if s.outcome != nil {
		return nil, nil
	}
	var value any
	if len(params) == 1 {
		value = params[0]
	}
	s.outcome = Skipped{Value: value}
	s.c.console.Println("Call skipped")
	return nil, nil
}

func (s *scope) quit(...any) any {
	if s.outcome == nil {
		s.outcome = Quit{Reason: ReasonQuit}
	}
	return nil
}

func (s *scope) help() any {
	s.c.console.Println(s.banner())
	return nil
}

func kw(m map[string]any) Named {
	return Named(m)
}

func (s *scope) displayName() string {
	if s.b.Name == "" {
		return "<anonymous>"
	}
	return s.b.Name
}

func (s *scope) banner() string {
	name := s.displayName()
	resumeStr := ""
	if s.alias != "" {
		resumeStr = s.alias + "(arg1, ...) or "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Call to %s(args=%s, kwargs=%s) failed.\n\n", name, Repr(s.b.Args), Repr(s.b.Kwargs))
	fmt.Fprintf(&b, "Use %sresume(arg1, ...) to call the function again with the given arguments and resume execution.\n", resumeStr)
	b.WriteString("Named arguments are passed with kw({\"name\": value}).\n")
	b.WriteString("If the function fails again, you will end up at another console.\n\n")
	b.WriteString("Use skip(return_value) to skip the function call and resume execution as if it had returned 'return_value'.\n\n")
	b.WriteString("Variables are available for all scopes on the call stack under the list call_stack.\n")
	fmt.Fprintf(&b, "e.g. call_stack[0][\"x\"] returns the variable 'x' from %s (the failing function),\n", name)
	fmt.Fprintf(&b, "and call_stack[1][\"y\"] returns the variable 'y' from the function that called %s.\n\n", name)
	b.WriteString("The original positional arguments are available as the list 'args',\n")
	b.WriteString("and named arguments are available as the map 'kwargs'.\n\n")
	b.WriteString("Use where() to list the call stack and proc() for process statistics.\n")
	b.WriteString("Use quit() or exit() to give up and stop the whole program.")
	return b.String()
}

// splitStatements splits a line on semicolons outside string literals.
func splitStatements(line string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote rune
		esc   bool
	)
	for _, r := range line {
		switch {
		case esc:
			esc = false
		case quote != 0 && r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == ';':
			stmts = append(stmts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(stmts, cur.String())
}

// splitAssignment recognises "name = expression". Comparisons such as
// "a == b" or "a <= b" are not assignments.
func splitAssignment(stmt string) (name, rhs string, ok bool) {
	i := strings.IndexByte(stmt, '=')
	if i <= 0 || i+1 < len(stmt) && stmt[i+1] == '=' {
		return "", "", false
	}
	name = strings.TrimSpace(stmt[:i])
	if !token.IsIdentifier(name) {
		return "", "", false
	}
	rhs = strings.TrimSpace(stmt[i+1:])
	if rhs == "" {
		return "", "", false
	}
	return name, rhs, true
}
