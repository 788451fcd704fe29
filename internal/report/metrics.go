package report

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/rescue/pkg/failure"
)

// Wrapper names used as the "wrapper" label.
const (
	WrapperIntercept = "intercept"
	WrapperRetry     = "retry"
)

// Metrics are boring counters derived from call Results. Every series can be
// explained by looking at the Results that produced it.
type Metrics struct {
	registry *prometheus.Registry

	calls    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	failures *prometheus.CounterVec
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewMetrics creates a metrics set on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_calls_total",
				Help: "Wrapped calls by final outcome",
			},
			[]string{"wrapper", "outcome"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_attempts_total",
				Help: "Invocations of wrapped targets",
			},
			[]string{"wrapper"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_failures_total",
				Help: "Failed invocations by kind (error or panic)",
			},
			[]string{"wrapper", "kind"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_sessions_total",
				Help: "Interactive sessions by outcome",
			},
			[]string{"outcome"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rescue_sessions_active",
			Help: "Interactive sessions currently waiting for the operator",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rescue_call_duration_seconds",
				Help:    "Wall time of wrapped calls including sessions and retries",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"wrapper"},
		),
	}

	m.registry.MustRegister(m.calls, m.attempts, m.failures, m.sessions, m.active, m.duration)
	return m
}

var globalMetrics = NewMetrics()

// Global returns the process-wide metrics.
func Global() *Metrics {
	return globalMetrics
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResult updates counters from a single finished call.
// This is the only way call outcomes reach the metrics.
func (m *Metrics) RecordResult(r *Result) {
	m.calls.WithLabelValues(r.Wrapper, string(r.Outcome)).Inc()
	m.duration.WithLabelValues(r.Wrapper).Observe(r.Duration.Seconds())
}

// IncrAttempt counts one invocation of a wrapped target.
func (m *Metrics) IncrAttempt(wrapper string) {
	m.attempts.WithLabelValues(wrapper).Inc()
}

// RecordFailure counts one failed invocation.
func (m *Metrics) RecordFailure(wrapper string, err error) {
	kind := "error"
	if _, ok := failure.AsPanic(err); ok {
		kind = "panic"
	}
	m.failures.WithLabelValues(wrapper, kind).Inc()
}

// SessionStarted marks an interactive session as open.
func (m *Metrics) SessionStarted() {
	m.active.Inc()
}

// SessionEnded marks a session closed with the given outcome.
func (m *Metrics) SessionEnded(outcome string) {
	m.active.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

// Snapshot returns current values keyed as name{label="value",...}.
// Histograms contribute their sample count under name_count.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"=\""+lp.GetValue()+"\"")
			}
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				countKey := mf.GetName() + "_count"
				if len(labels) > 0 {
					countKey += "{" + strings.Join(labels, ",") + "}"
				}
				out[countKey] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText writes every metric family in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
