// Package guard wraps model provider calls with PII redaction, rate limiting,
// retries and tracing. Every call that reaches a terminal provider outcome
// produces exactly one trace record; rate-limit rejections produce none.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/ai"
	"github.com/spigell/ai-guard/internal/logger"
	"github.com/spigell/ai-guard/internal/metrics"
	"github.com/spigell/ai-guard/internal/tracing"
	"github.com/spigell/ai-guard/internal/utils"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxRetries  = 2
	DefaultBackoffBase = 300 * time.Millisecond
	defaultMaxLogLen   = 200

	promptTokenPrice     = 0.000002
	completionTokenPrice = 0.000004
)

// Redactor removes PII from text before it leaves the process.
type Redactor interface {
	Redact(text string) string
	Labels(text string) []string
}

// Admitter admits or rejects one provider attempt.
type Admitter interface {
	Check() error
}

// TraceSink persists trace records.
type TraceSink interface {
	Add(record tracing.Record) error
}

// Result is the outcome of a successful call.
type Result struct {
	TraceID          string  `json:"trace_id"`
	Model            string  `json:"model"`
	LatencyMs        float64 `json:"latency_ms"`
	CostUSD          float64 `json:"cost_usd"`
	Completion       string  `json:"completion"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Attempts         int     `json:"attempts"`
}

type Option func(*Client)

func WithDefaultModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.defaultModel = model
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = mt
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxLogLength bounds prompt previews in debug logs.
func WithMaxLogLength(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxLogLen = n
		}
	}
}

// WithCallDefaults sets the retry policy used when a call does not override it.
func WithCallDefaults(maxRetries int, backoffBase time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if backoffBase >= 0 {
			c.backoffBase = backoffBase
		}
	}
}

type callOptions struct {
	model       string
	maxRetries  int
	backoffBase time.Duration
}

type CallOption func(*callOptions)

func WithModel(model string) CallOption {
	return func(o *callOptions) {
		if model = strings.TrimSpace(model); model != "" {
			o.model = model
		}
	}
}

func WithMaxRetries(n int) CallOption {
	return func(o *callOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithBackoffBase(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d >= 0 {
			o.backoffBase = d
		}
	}
}

type Client struct {
	redactor Redactor
	limiter  Admitter
	traces   TraceSink
	provider ai.Provider
	logger   *zap.Logger
	metrics  *metrics.Metrics

	defaultModel string
	maxRetries   int
	backoffBase  time.Duration
	maxLogLen    int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

func New(redactor Redactor, limiter Admitter, traces TraceSink, provider ai.Provider, l *zap.Logger, opts ...Option) (*Client, error) {
	switch {
	case redactor == nil:
		return nil, errors.New("redactor is required")
	case limiter == nil:
		return nil, errors.New("rate limiter is required")
	case traces == nil:
		return nil, errors.New("trace store is required")
	case provider == nil:
		return nil, errors.New("ai provider is required")
	}

	c := &Client{
		redactor:     redactor,
		limiter:      limiter,
		traces:       traces,
		provider:     provider,
		logger:       logger.WithCommonFields(l, provider.Name(), ""),
		defaultModel: DefaultModel,
		maxRetries:   DefaultMaxRetries,
		backoffBase:  DefaultBackoffBase,
		maxLogLen:    defaultMaxLogLen,
		now:          time.Now,
		wait:         utils.WaitFor,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Call redacts prompt, then invokes the provider up to maxRetries+1 times.
// Each attempt must pass the rate limiter; a rejection ends the call
// immediately with an error matching ratelimit.ErrRateLimited. When all
// attempts fail, a failed trace is recorded and *ProviderError is returned.
func (c *Client) Call(ctx context.Context, prompt string, opts ...CallOption) (*Result, error) {
	o := callOptions{model: c.defaultModel, maxRetries: c.maxRetries, backoffBase: c.backoffBase}
	for _, opt := range opts {
		opt(&o)
	}

	redacted := c.redactor.Redact(prompt)
	c.metrics.ObserveRedactions(c.redactor.Labels(prompt))

	log := c.logger.With(zap.String(logger.FieldModel, o.model))
	log.Debug("ai call started",
		zap.String("prompt", utils.TruncateForLog(redacted, c.maxLogLen)),
		zap.Int("max_retries", o.maxRetries),
	)

	attempts := o.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Check(); err != nil {
			log.Warn("rate limit hit", zap.Int(logger.FieldAttempt, attempt+1), zap.Error(err))
			c.metrics.ObserveOutcome(metrics.OutcomeRateLimited)
			return nil, err
		}

		start := c.now()
		completion, err := c.provider.Invoke(ctx, redacted, o.model)
		latency := c.now().Sub(start)
		if err == nil {
			return c.succeed(log, redacted, completion, o.model, latency, attempt+1), nil
		}

		lastErr = err
		log.Warn("ai call failed",
			zap.Int(logger.FieldAttempt, attempt+1),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)

		if attempt+1 >= attempts {
			break
		}

		if werr := c.wait(ctx, utils.Backoff(o.backoffBase, attempt)); werr != nil {
			lastErr = fmt.Errorf("backoff interrupted: %w", werr)
			attempts = attempt + 1
			break
		}
		c.metrics.IncRetries()
	}

	return nil, c.fail(log, redacted, o.model, attempts, lastErr)
}

func (c *Client) succeed(log *zap.Logger, prompt, completion, model string, latency time.Duration, attempts int) *Result {
	promptTokens, completionTokens := EstimateTokens(prompt, completion)
	cost := EstimateCost(promptTokens, completionTokens)
	latencyMs := float64(latency) / float64(time.Millisecond)

	record := tracing.Build(tracing.Params{
		Prompt:           prompt,
		Model:            model,
		LatencyMs:        latencyMs,
		CostUSD:          cost,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Status:           tracing.StatusSuccess,
	}, c.now())
	if err := c.traces.Add(record); err != nil {
		log.Error("failed to persist trace", zap.String(logger.FieldTraceID, record.TraceID), zap.Error(err))
	}

	c.metrics.ObserveSuccess(latency, cost, promptTokens, completionTokens)
	log.Info("ai call success",
		zap.String(logger.FieldTraceID, record.TraceID),
		zap.Float64("latency_ms", latencyMs),
		zap.Float64("cost_usd", cost),
		zap.Int("attempts", attempts),
	)

	return &Result{
		TraceID:          record.TraceID,
		Model:            model,
		LatencyMs:        latencyMs,
		CostUSD:          cost,
		Completion:       completion,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Attempts:         attempts,
	}
}

func (c *Client) fail(log *zap.Logger, prompt, model string, attempts int, cause error) error {
	record := tracing.Build(tracing.Params{
		Prompt:   prompt,
		Model:    model,
		Status:   tracing.StatusFailed,
		Metadata: map[string]string{tracing.MetadataError: cause.Error()},
	}, c.now())

	perr := &ProviderError{Attempts: attempts, Err: cause}
	if err := c.traces.Add(record); err != nil {
		log.Error("failed to persist trace", zap.String(logger.FieldTraceID, record.TraceID), zap.Error(err))
	} else {
		perr.TraceID = record.TraceID
	}

	c.metrics.ObserveOutcome(metrics.OutcomeProviderError)
	log.Error("ai call exhausted retries",
		zap.String(logger.FieldTraceID, record.TraceID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)

	return perr
}

// EstimateTokens counts whitespace-separated words, at least one per side.
func EstimateTokens(prompt, completion string) (int, int) {
	return max(1, len(strings.Fields(prompt))), max(1, len(strings.Fields(completion)))
}

// EstimateCost prices tokens and rounds to six decimal places.
func EstimateCost(promptTokens, completionTokens int) float64 {
	cost := float64(promptTokens)*promptTokenPrice + float64(completionTokens)*completionTokenPrice
	return math.Round(cost*1e6) / 1e6
}
