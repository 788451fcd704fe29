// Package retry re-invokes a failing function up to a limit before handing
// the last failure back to the caller.
//
//	fetch := retry.Func(getData)            // one retry
//
//	p, err := retry.New(retry.Times(5))
//	fetch := retry.FuncWith(p, getData)     // five retries
package retry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/pkg/failure"
	"github.com/psantana5/rescue/pkg/logging"
	"github.com/psantana5/rescue/pkg/tracing"
)

// Config holds backoff between attempts. The zero Config retries immediately.
type Config struct {
	InitialBackoff time.Duration // Pause after the first failure
	MaxBackoff     time.Duration // Upper bound for the pause
	Multiplier     float64       // Backoff multiplier (exponential)
}

// DefaultBackoff returns a modest exponential backoff
func DefaultBackoff() Config {
	return Config{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Policy decides how often and how fast a target is retried.
type Policy struct {
	limit   Limit
	backoff Config
	limiter *rate.Limiter
	name    string

	diag    *logging.Logger
	logger  *logging.Logger
	metrics *report.Metrics

	sleep func(context.Context, time.Duration) error
}

// Option configures a Policy.
type Option func(*Policy)

// WithBackoff pauses between attempts.
func WithBackoff(cfg Config) Option {
	return func(p *Policy) { p.backoff = cfg }
}

// WithRateLimit caps the attempt rate across every call sharing the policy.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(p *Policy) { p.limiter = rate.NewLimiter(r, burst) }
}

// WithName names the target in diagnostics and metrics.
func WithName(name string) Option {
	return func(p *Policy) { p.name = name }
}

// WithOutput sends the per-attempt diagnostic lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Policy) {
		p.diag = logging.NewLogger(logging.WARN, false)
		p.diag.SetOutput(w)
	}
}

// WithDiagnostics sends the per-attempt diagnostic lines through l.
func WithDiagnostics(l *logging.Logger) Option {
	return func(p *Policy) { p.diag = l }
}

// WithLogger sets the logger for the per-call summary.
func WithLogger(l *logging.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithMetrics sets where call results are recorded. Defaults to report.Global().
func WithMetrics(m *report.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// New validates limit and builds a policy. An invalid limit fails here,
// before any target runs.
func New(limit Limit, opts ...Option) (*Policy, error) {
	if err := limit.validate(); err != nil {
		return nil, err
	}

	diag := logging.NewLogger(logging.WARN, false)
	diag.SetOutput(os.Stdout)

	p := &Policy{
		limit:   limit,
		diag:    diag,
		logger:  logging.Discard(),
		metrics: report.Global(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Limit returns the policy's retry limit.
func (p *Policy) Limit() Limit { return p.limit }

// Do calls fn until it succeeds or the limit is exhausted.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run calls fn until it succeeds or the limit is exhausted. Panics count as
// failures. After the last attempt the failure is returned unchanged.
func Run[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callID := uuid.NewString()
	timing := report.NewTiming()

	ctx, span := tracing.Start(ctx, "retry.call",
		attribute.String("rescue.target", p.name),
		attribute.String("rescue.call_id", callID),
		attribute.String("rescue.limit", p.limit.String()),
	)
	defer span.End()

	finish := func(attempts int, outcome report.Outcome, err error) {
		r := report.NewResult(callID, report.WrapperRetry, p.name, timing, attempts, outcome).WithError(err)
		p.metrics.RecordResult(r)
		r.LogSummary(p.logger.WithField("call_id", callID))
	}

	backoff := p.backoff.InitialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return zero, p.canceled(ctx, attempt-1, lastErr, finish)
			}
		}

		p.metrics.IncrAttempt(report.WrapperRetry)
		v, err := failure.Guard(func() (T, error) { return fn(ctx) })
		if err == nil {
			finish(attempt, report.OutcomeSucceeded, nil)
			return v, nil
		}

		lastErr = err
		p.metrics.RecordFailure(report.WrapperRetry, err)
		tracing.AddEvent(ctx, "retry.failure",
			attribute.Int("rescue.attempt", attempt),
			attribute.String("error", err.Error()),
		)
		p.diag.Warn(fmt.Sprintf("Caught failure: %v, retry %d/%s", err, attempt, p.limit))

		if !p.limit.unlimited && attempt > p.limit.n {
			tracing.SetError(ctx, err)
			finish(attempt, report.OutcomeExhausted, err)
			return zero, err
		}

		if backoff > 0 {
			if err := p.sleep(ctx, backoff); err != nil {
				return zero, p.canceled(ctx, attempt, lastErr, finish)
			}
			backoff = time.Duration(float64(backoff) * p.backoff.Multiplier)
			if p.backoff.MaxBackoff > 0 && backoff > p.backoff.MaxBackoff {
				backoff = p.backoff.MaxBackoff
			}
		} else if ctx.Err() != nil {
			return zero, p.canceled(ctx, attempt, lastErr, finish)
		}
	}
}

func (p *Policy) canceled(ctx context.Context, attempts int, lastErr error, finish func(int, report.Outcome, error)) error {
	var err error
	if lastErr != nil {
		err = fmt.Errorf("retry canceled after %d attempts: %w (last failure: %w)", attempts, ctx.Err(), lastErr)
	} else {
		err = fmt.Errorf("retry canceled: %w", ctx.Err())
	}
	tracing.SetError(ctx, err)
	finish(attempts, report.OutcomeCanceled, err)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
