// Package simulated is a provider that fabricates completions locally.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spigell/ai-guard/internal/ai"
	"github.com/spigell/ai-guard/internal/utils"
)

// ErrSimulatedFailure is returned for injected failures.
var ErrSimulatedFailure = errors.New("simulated provider failure")

const (
	defaultMinLatency = 50 * time.Millisecond
	defaultMaxLatency = 250 * time.Millisecond
)

type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

type Provider struct {
	cfg   Config
	wait  func(ctx context.Context, d time.Duration) error
	roll  func() float64
	delay func(lo, hi time.Duration) time.Duration
}

var _ ai.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if cfg.MinLatency <= 0 && cfg.MaxLatency <= 0 {
		cfg.MinLatency, cfg.MaxLatency = defaultMinLatency, defaultMaxLatency
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}

	return &Provider{
		cfg:   cfg,
		wait:  utils.WaitFor,
		roll:  rand.Float64,
		delay: randomDelay,
	}
}

func (p *Provider) Name() string {
	return ai.ProviderSimulated
}

// Invoke sleeps for a random latency and returns the prompt reversed.
func (p *Provider) Invoke(ctx context.Context, prompt, model string) (string, error) {
	if err := p.wait(ctx, p.delay(p.cfg.MinLatency, p.cfg.MaxLatency)); err != nil {
		return "", err
	}

	if p.cfg.FailureRate > 0 && p.roll() < p.cfg.FailureRate {
		return "", ErrSimulatedFailure
	}

	return fmt.Sprintf("[simulated %s completion] %s", model, reverse(prompt)), nil
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
