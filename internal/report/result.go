// Package report records what happened to each wrapped call. A Result is
// built once when the call returns; metrics and the summary log line are both
// derived from it.
package report

import (
	"fmt"
	"time"

	"github.com/psantana5/rescue/pkg/logging"
)

// Outcome is the final state of a wrapped call.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded" // target returned without failure
	OutcomeSkipped   Outcome = "skipped"   // operator supplied the result
	OutcomeAborted   Outcome = "aborted"   // operator quit or input ended
	OutcomeExhausted Outcome = "exhausted" // retry limit reached
	OutcomeCanceled  Outcome = "canceled"  // context canceled between attempts
)

// Result is call-level truth. Set once, never change.
type Result struct {
	CallID  string `json:"call_id"`
	Wrapper string `json:"wrapper"`
	Target  string `json:"target"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Attempts int     `json:"attempts"`
	Sessions int     `json:"sessions,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// NewResult freezes a call's timing into a Result.
func NewResult(callID, wrapper, target string, timing *Timing, attempts int, outcome Outcome) *Result {
	timing.Complete()
	return &Result{
		CallID:    callID,
		Wrapper:   wrapper,
		Target:    target,
		StartTime: timing.StartedAt,
		EndTime:   timing.CompletedAt,
		Duration:  timing.Duration(),
		Attempts:  attempts,
		Outcome:   outcome,
	}
}

// WithSessions records how many interactive sessions the call opened.
func (r *Result) WithSessions(n int) *Result {
	r.Sessions = n
	return r
}

// WithError records the failure the call ended with.
func (r *Result) WithError(err error) *Result {
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// LogSummary emits the one-line human-readable summary of the call.
func (r *Result) LogSummary(logger *logging.Logger) {
	msg := fmt.Sprintf("CALL %s | %s | target=%s | outcome=%s | attempts=%d | runtime=%s",
		r.CallID,
		r.Wrapper,
		r.Target,
		r.Outcome,
		r.Attempts,
		r.Duration.Round(time.Millisecond),
	)
	if r.Sessions > 0 {
		msg += fmt.Sprintf(" | sessions=%d", r.Sessions)
	}
	if r.Error != "" {
		msg += " | error=" + r.Error
	}

	switch r.Outcome {
	case OutcomeSucceeded, OutcomeSkipped:
		logger.Info(msg)
	default:
		logger.Warn(msg)
	}
}
