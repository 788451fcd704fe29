// Package intercept wraps a function so that a failure (a returned error or a
// panic) drops the operator into an interactive session instead of
// propagating. From the session the operator can inspect the arguments and
// every captured frame, then call the function again with repaired arguments
// or supply the result it should have returned.
//
//	save := intercept.Func1(func(ctx context.Context, path string) (int, error) {
//		return writeReport(ctx, path)
//	}, intercept.WithName("save"), intercept.WithParams("path"))
//
//	n, err := save(ctx, "/nonexistent/out.txt")
//	if errors.Is(err, intercept.ErrAborted) {
//		os.Exit(1)
//	}
package intercept

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/pkg/failure"
	"github.com/psantana5/rescue/pkg/frames"
	"github.com/psantana5/rescue/pkg/logging"
	"github.com/psantana5/rescue/pkg/session"
	"github.com/psantana5/rescue/pkg/tracing"
)

// Target is the untyped form of a wrapped function. ctx carries the frame the
// wrapper pushed for the call.
type Target func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Invocation is the mutable record of one wrapped call.
type Invocation struct {
	ID     string
	Args   []any
	Kwargs map[string]any

	// ShouldContinue stays true while failures lead to another session.
	ShouldContinue bool
	// Override is returned instead of a result once ShouldContinue is false.
	Override any

	State       State
	Attempts    int
	Sessions    int
	LastFailure error
}

func (inv *Invocation) transition(to State) error {
	if err := ValidateTransition(inv.State, to); err != nil {
		return fmt.Errorf("invocation %s: %w", inv.ID, err)
	}
	inv.State = to
	return nil
}

// Wrapper intercepts failures of one target.
type Wrapper struct {
	target  Target
	name    string
	params  []string
	console *session.Console
	logger  *logging.Logger
	metrics *report.Metrics
	prompt  string
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithName sets the name shown in the session and bound as the resume alias.
func WithName(name string) Option {
	return func(w *Wrapper) { w.name = name }
}

// WithParams names the target's parameters in order. Named parameters are
// bound in the target's frame and accepted by resume as kw({"name": value}).
func WithParams(names ...string) Option {
	return func(w *Wrapper) { w.params = names }
}

// WithConsole sets the console sessions run on. Defaults to session.Stdio().
func WithConsole(c *session.Console) Option {
	return func(w *Wrapper) { w.console = c }
}

// WithLogger sets the logger for interception events.
func WithLogger(l *logging.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// WithMetrics sets where call results are recorded. Defaults to report.Global().
func WithMetrics(m *report.Metrics) Option {
	return func(w *Wrapper) { w.metrics = m }
}

// WithPrompt replaces the session prompt.
func WithPrompt(prompt string) Option {
	return func(w *Wrapper) { w.prompt = prompt }
}

// Wrap returns a wrapper around target.
func Wrap(target Target, opts ...Option) *Wrapper {
	w := &Wrapper{
		target:  target,
		name:    funcName(target),
		logger:  logging.Discard(),
		metrics: report.Global(),
		prompt:  session.DefaultPrompt,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the target's display name.
func (w *Wrapper) Name() string { return w.name }

// Call invokes the target with positional arguments.
func (w *Wrapper) Call(ctx context.Context, args ...any) (any, error) {
	return w.CallNamed(ctx, nil, args...)
}

// CallNamed invokes the target with positional and named arguments. It
// returns the target's result, the value supplied with skip, or nil and an
// error matching ErrAborted when the operator quit.
func (w *Wrapper) CallNamed(ctx context.Context, kwargs map[string]any, args ...any) (any, error) {
	inv := &Invocation{
		ID:             uuid.NewString(),
		Args:           args,
		Kwargs:         kwargs,
		ShouldContinue: true,
		State:          StateInvoking,
	}

	ctx, span := tracing.Start(ctx, "intercept.call",
		attribute.String("rescue.target", w.name),
		attribute.String("rescue.call_id", inv.ID),
	)
	defer span.End()

	log := w.logger.WithField("call_id", inv.ID).WithField("target", w.name)
	timing := report.NewTiming()

	var stack frames.CallStack
	for {
		switch inv.State {
		case StateInvoking:
			result, captured, err := w.invoke(ctx, inv)
			if err == nil {
				if terr := inv.transition(StateTerminated); terr != nil {
					return nil, terr
				}
				w.finish(inv, timing, report.OutcomeSucceeded, nil, log)
				return result, nil
			}

			inv.LastFailure = err
			stack = captured
			w.metrics.RecordFailure(report.WrapperIntercept, err)
			tracing.AddEvent(ctx, "intercept.failure", attribute.String("error", err.Error()))
			log.Warn("Intercepted failure", map[string]interface{}{
				"attempt": inv.Attempts,
				"error":   err.Error(),
				"frames":  len(stack),
			})
			if terr := inv.transition(StateFailed); terr != nil {
				return nil, terr
			}

		case StateFailed:
			outcome := w.openSession(ctx, inv, stack, log)
			stack = nil

			switch o := outcome.(type) {
			case session.Resumed:
				inv.Args, inv.Kwargs = o.Args, o.Kwargs
				log.Info("Resuming with new arguments", map[string]interface{}{"args": len(o.Args), "kwargs": len(o.Kwargs)})
				if terr := inv.transition(StateResuming); terr != nil {
					return nil, terr
				}

			case session.Skipped:
				inv.ShouldContinue = false
				inv.Override = o.Value
				if terr := inv.transition(StateTerminated); terr != nil {
					return nil, terr
				}
				w.finish(inv, timing, report.OutcomeSkipped, nil, log)
				return inv.Override, nil

			case session.Quit:
				inv.ShouldContinue = false
				inv.Override = nil
				if terr := inv.transition(StateTerminated); terr != nil {
					return nil, terr
				}
				err := &AbortError{Target: w.name, Reason: o.Reason, Last: inv.LastFailure}
				tracing.SetError(ctx, err)
				w.finish(inv, timing, report.OutcomeAborted, err, log)
				return inv.Override, err
			}

		case StateResuming:
			if terr := inv.transition(StateInvoking); terr != nil {
				return nil, terr
			}

		default:
			return nil, fmt.Errorf("invocation %s: unexpected state %s", inv.ID, inv.State)
		}
	}
}

// invoke runs the target once under its own frame. Panics are converted to
// errors; on failure the frames below and above the target are captured.
func (w *Wrapper) invoke(ctx context.Context, inv *Invocation) (result any, stack frames.CallStack, err error) {
	inv.Attempts++
	w.metrics.IncrAttempt(report.WrapperIntercept)

	ctx, span := tracing.Start(ctx, "intercept.attempt", attribute.Int("rescue.attempt", inv.Attempts))
	defer span.End()

	fctx, fr := frames.Enter(ctx, w.name, w.bindings(inv)...)
	result, err = failure.Guard(func() (out any, err error) {
		defer fr.Leave(&err)
		return w.target(fctx, inv.Args, inv.Kwargs)
	})
	if err != nil {
		tracing.SetError(ctx, err)
		stack = frames.Capture(fr)
	}
	return result, stack, err
}

// bindings names the current arguments for the target's frame.
func (w *Wrapper) bindings(inv *Invocation) []any {
	kv := make([]any, 0, 2*(len(inv.Args)+len(inv.Kwargs)))
	for i, a := range inv.Args {
		kv = append(kv, paramName(w.params, i), a)
	}
	for k, v := range inv.Kwargs {
		kv = append(kv, k, v)
	}
	return kv
}

func paramName(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return fmt.Sprintf("arg%d", i)
}

func (w *Wrapper) openSession(ctx context.Context, inv *Invocation, stack frames.CallStack, log *logging.Logger) session.Outcome {
	console := w.console
	if console == nil {
		console = session.Stdio()
	}

	console.Printf("Caught failure: %v\n", inv.LastFailure)
	if trace := failure.Trace(inv.LastFailure); trace != inv.LastFailure.Error() {
		console.Println(trace)
	}
	if len(stack) > 0 {
		console.Printf("%s", stack.Traceback())
	}

	inv.Sessions++
	w.metrics.SessionStarted()
	tracing.AddEvent(ctx, "session.opened", attribute.Int("rescue.session", inv.Sessions))

	ctrl := session.NewController(console, session.WithLogger(log), session.WithPrompt(w.prompt))
	outcome := ctrl.Run(ctx, session.Bindings{
		Name:      w.name,
		Args:      inv.Args,
		Kwargs:    inv.Kwargs,
		CallStack: stack,
		Failure:   inv.LastFailure,
	})

	label := outcomeLabel(outcome)
	w.metrics.SessionEnded(label)
	tracing.AddEvent(ctx, "session.closed", attribute.String("rescue.outcome", label))
	return outcome
}

func outcomeLabel(o session.Outcome) string {
	switch o.(type) {
	case session.Resumed:
		return "resumed"
	case session.Skipped:
		return "skipped"
	default:
		return "quit"
	}
}

func (w *Wrapper) finish(inv *Invocation, timing *report.Timing, outcome report.Outcome, err error, log *logging.Logger) {
	r := report.NewResult(inv.ID, report.WrapperIntercept, w.name, timing, inv.Attempts, outcome).
		WithSessions(inv.Sessions).
		WithError(err)
	w.metrics.RecordResult(r)
	r.LogSummary(log)
}
