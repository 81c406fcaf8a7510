// Package retention purges traces and feedback older than their TTLs.
//
// The policy owns the durations; each store owns its purge mechanism.
package retention

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/logger"
	"github.com/spigell/ai-guard/internal/metrics"
)

const day = 24 * time.Hour

// Step names reported by Run.
const (
	StepTraces   = "traces"
	StepFeedback = "feedback"
)

// Purger is implemented by stores that support age-based purges.
type Purger interface {
	PurgeOlderThan(cutoff time.Time) (int, error)
	Len() int
}

// Policy holds the retention TTLs. It is immutable after startup.
type Policy struct {
	TraceTTL    time.Duration
	FeedbackTTL time.Duration
}

// DefaultPolicy keeps traces for 30 days and feedback for 90 days.
func DefaultPolicy() Policy {
	return PolicyFromDays(30, 90)
}

// PolicyFromDays builds a Policy from TTLs expressed in days.
func PolicyFromDays(traceDays, feedbackDays int) Policy {
	return Policy{
		TraceTTL:    time.Duration(traceDays) * day,
		FeedbackTTL: time.Duration(feedbackDays) * day,
	}
}

// Step describes the result of one purge.
type Step struct {
	Name    string
	Cutoff  time.Time
	Initial int
	Dropped int
	Left    int
}

// Report is the outcome of Run.
type Report struct {
	Traces   Step
	Feedback Step
}

// Removed returns the total number of purged records.
func (r Report) Removed() int {
	return r.Traces.Dropped + r.Feedback.Dropped
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the time source used to compute cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics records purged counts.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager applies a Policy to stores handed to it by the caller.
type Manager struct {
	policy  Policy
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a Manager for policy.
func NewManager(policy Policy, l *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		policy: policy,
		now:    time.Now,
		logger: logger.OrNop(l),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// TraceCutoff returns the creation time before which traces are purged.
func (m *Manager) TraceCutoff() time.Time {
	return m.now().Add(-m.policy.TraceTTL)
}

// FeedbackCutoff returns the creation time before which feedback is purged.
func (m *Manager) FeedbackCutoff() time.Time {
	return m.now().Add(-m.policy.FeedbackTTL)
}

// ApplyTraces purges traces older than the trace TTL.
func (m *Manager) ApplyTraces(store Purger) (int, error) {
	step, err := m.apply(StepTraces, store, m.TraceCutoff())
	return step.Dropped, err
}

// ApplyFeedback purges feedback older than the feedback TTL.
func (m *Manager) ApplyFeedback(queue Purger) (int, error) {
	step, err := m.apply(StepFeedback, queue, m.FeedbackCutoff())
	return step.Dropped, err
}

// Run purges traces and then feedback. A nil purger is skipped. Each step is
// logged at debug level; a summary is logged only when something was removed.
func (m *Manager) Run(traces, feedback Purger) (Report, error) {
	var report Report
	var err error

	if traces != nil {
		if report.Traces, err = m.apply(StepTraces, traces, m.TraceCutoff()); err != nil {
			return report, fmt.Errorf("%s: %w", StepTraces, err)
		}
	}

	if feedback != nil {
		if report.Feedback, err = m.apply(StepFeedback, feedback, m.FeedbackCutoff()); err != nil {
			return report, fmt.Errorf("%s: %w", StepFeedback, err)
		}
	}

	if report.Removed() > 0 {
		m.logger.Info("retention purged records",
			zap.Int("traces", report.Traces.Dropped),
			zap.Int("feedback", report.Feedback.Dropped),
			zap.String("feedback_cutoff", report.Feedback.Cutoff.Format(time.DateOnly)),
		)
	}

	return report, nil
}

func (m *Manager) apply(name string, p Purger, cutoff time.Time) (Step, error) {
	step := Step{Name: name, Cutoff: cutoff, Initial: p.Len()}

	removed, err := p.PurgeOlderThan(cutoff)
	if err != nil {
		return step, err
	}

	step.Dropped = removed
	step.Left = p.Len()
	m.metrics.ObservePurge(name, removed)

	m.logger.Debug("retention step",
		zap.String("name", step.Name),
		zap.Time("cutoff", cutoff),
		zap.Int("initial", step.Initial),
		zap.Int("dropped", step.Dropped),
		zap.Int("left", step.Left),
	)

	return step, nil
}
