// Package metrics exposes Prometheus instruments for guarded model calls.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_guard"

// Call outcomes used as the "outcome" label.
const (
	OutcomeSuccess       = "success"
	OutcomeProviderError = "provider_error"
	OutcomeRateLimited   = "rate_limited"
)

type Metrics struct {
	Calls         *prometheus.CounterVec
	Retries       prometheus.Counter
	CallLatency   prometheus.Histogram
	CostUSD       prometheus.Counter
	Tokens        *prometheus.CounterVec
	PIIRedactions *prometheus.CounterVec
	Purged        *prometheus.CounterVec
	Feedback      *prometheus.CounterVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Guarded model calls by terminal outcome",
		}, []string{"outcome"}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_retries_total",
			Help:      "Provider attempts retried after a transient failure",
		}),
		CallLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of successful provider invocations",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
		}),
		CostUSD: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated cost of successful calls in USD",
		}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_tokens_total",
			Help:      "Estimated tokens of successful calls",
		}, []string{"kind"}),
		PIIRedactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_redactions_total",
			Help:      "PII matches redacted from prompts, embedding inputs and feedback",
		}, []string{"label"}),
		Purged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_total",
			Help:      "Records removed by retention purges",
		}, []string{"store"}),
		Feedback: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_submitted_total",
			Help:      "Feedback items submitted by category",
		}, []string{"category"}),
	}
}

// ObserveSuccess records a successful call.
func (m *Metrics) ObserveSuccess(latency time.Duration, costUSD float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(OutcomeSuccess).Inc()
	m.CallLatency.Observe(latency.Seconds())
	m.CostUSD.Add(costUSD)
	m.Tokens.WithLabelValues("prompt").Add(float64(promptTokens))
	m.Tokens.WithLabelValues("completion").Add(float64(completionTokens))
}

// ObserveOutcome counts a terminal outcome without latency or cost.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(outcome).Inc()
}

// IncRetries counts one retried attempt.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// ObserveRedactions counts detected PII labels.
func (m *Metrics) ObserveRedactions(labels []string) {
	if m == nil {
		return
	}
	for _, label := range labels {
		m.PIIRedactions.WithLabelValues(label).Inc()
	}
}

// ObservePurge counts records removed from store.
func (m *Metrics) ObservePurge(store string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.Purged.WithLabelValues(store).Add(float64(removed))
}

// feedbackCategories bounds the "category" label; anything else is "other".
var feedbackCategories = map[string]bool{
	"parse_error":   true,
	"bias":          true,
	"hallucination": true,
	"other":         true,
}

// ObserveFeedback counts a submitted feedback item.
func (m *Metrics) ObserveFeedback(category string) {
	if m == nil {
		return
	}
	if !feedbackCategories[category] {
		category = "other"
	}
	m.Feedback.WithLabelValues(category).Inc()
}
