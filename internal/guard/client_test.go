package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/metrics"
	"github.com/spigell/ai-guard/internal/pii"
	"github.com/spigell/ai-guard/internal/ratelimit"
	"github.com/spigell/ai-guard/internal/tracing"
)

type fakeProvider struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	replies []error
	reply   string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Invoke(_ context.Context, prompt, model string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prompts = append(p.prompts, prompt)
	p.models = append(p.models, model)

	n := len(p.prompts) - 1
	if n < len(p.replies) && p.replies[n] != nil {
		return "", p.replies[n]
	}
	return p.reply, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type failingSink struct{}

func (failingSink) Add(tracing.Record) error { return errors.New("disk full") }

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type fixture struct {
	client   *Client
	provider *fakeProvider
	traces   *tracing.Store
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	waits    []time.Duration
}

func newFixture(t *testing.T, maxCalls int, provider *fakeProvider) *fixture {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: maxCalls, Period: time.Minute})
	require.NoError(t, err)

	f := &fixture{
		provider: provider,
		traces:   tracing.NewStore(filepath.Join(t.TempDir(), "traces.json"), zap.NewNop()),
		limiter:  limiter,
		metrics:  metrics.New(prometheus.NewRegistry()),
	}

	clock := &stepClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), step: 10 * time.Millisecond}
	f.client, err = New(pii.MustNew(), limiter, f.traces, provider, zap.NewNop(),
		WithClock(clock.Now),
		WithMetrics(f.metrics),
	)
	require.NoError(t, err)

	f.client.wait = func(_ context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		return nil
	}

	return f
}

func TestCallSuccessRedactsAndTraces(t *testing.T) {
	f := newFixture(t, 10, &fakeProvider{reply: "ok done"})

	res, err := f.client.Call(context.Background(), "email jane@example.com now")
	require.NoError(t, err)

	require.Equal(t, []string{"email [EMAIL REDACTED] now"}, f.provider.prompts)
	assert.Equal(t, []string{DefaultModel}, f.provider.models)

	assert.Equal(t, DefaultModel, res.Model)
	assert.Equal(t, "ok done", res.Completion)
	assert.Equal(t, 4, res.PromptTokens)
	assert.Equal(t, 2, res.CompletionTokens)
	assert.InDelta(t, 0.000016, res.CostUSD, 1e-12)
	assert.InDelta(t, 10.0, res.LatencyMs, 1e-9)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, f.waits)

	traces := f.traces.ListRecent(0)
	require.Len(t, traces, 1)
	assert.Equal(t, res.TraceID, traces[0].TraceID)
	assert.Equal(t, tracing.StatusSuccess, traces[0].Status)
	assert.Equal(t, "email [EMAIL REDACTED] now", traces[0].Prompt)
	assert.Equal(t, 4, traces[0].PromptTokens)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Calls.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PIIRedactions.WithLabelValues("email")))
}

func TestCallModelOverride(t *testing.T) {
	f := newFixture(t, 10, &fakeProvider{reply: "x"})

	res, err := f.client.Call(context.Background(), "hello", WithModel("gemini-2.5-flash"))
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", res.Model)
	assert.Equal(t, []string{"gemini-2.5-flash"}, f.provider.models)
	assert.Equal(t, "gemini-2.5-flash", f.traces.ListRecent(1)[0].Model)
}

func TestCallAlwaysFailingTracesOnce(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, 10, &fakeProvider{replies: []error{boom, boom, boom}})

	res, err := f.client.Call(context.Background(), "hello", WithMaxRetries(2))
	require.Error(t, err)
	assert.Nil(t, res)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeProviderError, OutcomeOf(err))
	assert.Equal(t, http.StatusBadGateway, OutcomeOf(err).HTTPStatus())

	assert.Equal(t, 3, f.provider.calls())
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, f.waits)

	traces := f.traces.ListRecent(0)
	require.Len(t, traces, 1)
	assert.Equal(t, perr.TraceID, traces[0].TraceID)
	assert.Equal(t, tracing.StatusFailed, traces[0].Status)
	assert.Equal(t, "boom", traces[0].Metadata[tracing.MetadataError])
	assert.Zero(t, traces[0].LatencyMs)
	assert.Zero(t, traces[0].CostUSD)
	assert.Zero(t, traces[0].PromptTokens)
	assert.Zero(t, traces[0].CompletionTokens)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Calls.WithLabelValues(metrics.OutcomeProviderError)))
}

func TestCallRecoversAfterRetry(t *testing.T) {
	f := newFixture(t, 10, &fakeProvider{replies: []error{errors.New("flaky")}, reply: "fine"})

	res, err := f.client.Call(context.Background(), "hello", WithBackoffBase(50*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, f.waits)

	traces := f.traces.ListRecent(0)
	require.Len(t, traces, 1)
	assert.Equal(t, tracing.StatusSuccess, traces[0].Status)
}

func TestCallZeroRetries(t *testing.T) {
	f := newFixture(t, 10, &fakeProvider{replies: []error{errors.New("down")}})

	_, err := f.client.Call(context.Background(), "hello", WithMaxRetries(0))

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
	assert.Equal(t, 1, f.provider.calls())
	assert.Empty(t, f.waits)
	assert.Equal(t, 1, f.traces.Len())
}

func TestCallRateLimitedBeforeFirstAttempt(t *testing.T) {
	f := newFixture(t, 1, &fakeProvider{reply: "x"})
	require.NoError(t, f.limiter.Check())

	res, err := f.client.Call(context.Background(), "hello")
	assert.Nil(t, res)
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)
	assert.Equal(t, OutcomeRateLimited, OutcomeOf(err))
	assert.Equal(t, http.StatusTooManyRequests, OutcomeOf(err).HTTPStatus())

	assert.Zero(t, f.provider.calls())
	assert.Zero(t, f.traces.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Calls.WithLabelValues(metrics.OutcomeRateLimited)))
}

func TestCallSingleAdmissionPerAttempt(t *testing.T) {
	f := newFixture(t, 2, &fakeProvider{reply: "x"})

	_, err := f.client.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, f.limiter.Count())

	_, err = f.client.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, f.traces.Len())
}

func TestCallRateLimitedMidRetryIsNotTraced(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, 2, &fakeProvider{replies: []error{boom, boom, boom, boom}})

	_, err := f.client.Call(context.Background(), "hello", WithMaxRetries(3))
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)

	var perr *ProviderError
	assert.False(t, errors.As(err, &perr))
	assert.Equal(t, 2, f.provider.calls())
	assert.Zero(t, f.traces.Len())
}

func TestCallCancelledDuringBackoff(t *testing.T) {
	f := newFixture(t, 10, &fakeProvider{replies: []error{errors.New("boom")}})
	f.client.wait = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	_, err := f.client.Call(context.Background(), "hello", WithMaxRetries(2))

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.provider.calls())

	traces := f.traces.ListRecent(0)
	require.Len(t, traces, 1)
	assert.Equal(t, tracing.StatusFailed, traces[0].Status)
}

func TestCallTracePersistenceFailureDoesNotRetry(t *testing.T) {
	provider := &fakeProvider{reply: "x"}
	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: 10, Period: time.Minute})
	require.NoError(t, err)

	c, err := New(pii.MustNew(), limiter, failingSink{}, provider, zap.NewNop())
	require.NoError(t, err)

	res, err := c.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "x", res.Completion)
	assert.Equal(t, 1, provider.calls())

	provider.replies = []error{nil, errors.New("down")}
	_, err = c.Call(context.Background(), "hello", WithMaxRetries(0))

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, perr.TraceID)
}

func TestNewRequiresDependencies(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: 1, Period: time.Second})
	require.NoError(t, err)
	store := tracing.NewStore(filepath.Join(t.TempDir(), "t.json"), nil)

	_, err = New(nil, limiter, store, &fakeProvider{}, nil)
	assert.Error(t, err)
	_, err = New(pii.MustNew(), nil, store, &fakeProvider{}, nil)
	assert.Error(t, err)
	_, err = New(pii.MustNew(), limiter, nil, &fakeProvider{}, nil)
	assert.Error(t, err)
	_, err = New(pii.MustNew(), limiter, store, nil, nil)
	assert.Error(t, err)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   Outcome
		status int
	}{
		{name: "nil", err: nil, want: OutcomeAdmitted, status: http.StatusOK},
		{name: "rate limited", err: fmt.Errorf("call: %w", &ratelimit.ExceededError{MaxCalls: 1, Period: time.Second}), want: OutcomeRateLimited, status: http.StatusTooManyRequests},
		{name: "provider", err: &ProviderError{Attempts: 1, Err: errors.New("x")}, want: OutcomeProviderError, status: http.StatusBadGateway},
		{name: "other", err: errors.New("x"), want: OutcomeInternal, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutcomeOf(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.status, got.HTTPStatus())
		})
	}
}

func TestEstimates(t *testing.T) {
	pt, ct := EstimateTokens("", "  ")
	assert.Equal(t, 1, pt)
	assert.Equal(t, 1, ct)

	pt, ct = EstimateTokens("one two three", "a b")
	assert.Equal(t, 3, pt)
	assert.Equal(t, 2, ct)

	assert.Equal(t, 0.000006, EstimateCost(1, 1))
	assert.Equal(t, 0.00014, EstimateCost(10, 30))
}
