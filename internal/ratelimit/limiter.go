// Package ratelimit admits at most MaxCalls operations per rolling Period.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is matched by every rejection returned from Check.
var ErrRateLimited = errors.New("rate limit exceeded")

// ExceededError describes a rejected admission.
type ExceededError struct {
	MaxCalls int
	Period   time.Duration
	// RetryAfter is how long until the oldest admitted call leaves the window.
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d calls per %s", e.MaxCalls, e.Period)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// Config parameterises a Limiter.
type Config struct {
	MaxCalls int
	Period   time.Duration
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. The clock is assumed never to go
// backwards; eviction only trims from the front of the window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter is a sliding-window admission controller shared by all callers.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.MaxCalls <= 0 {
		return nil, fmt.Errorf("max calls must be positive, got %d", cfg.MaxCalls)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", cfg.Period)
	}

	l := &Limiter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check admits one call or returns an *ExceededError. A rejected call is not
// recorded.
func (l *Limiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.calls) >= l.cfg.MaxCalls {
		return &ExceededError{
			MaxCalls:   l.cfg.MaxCalls,
			Period:     l.cfg.Period,
			RetryAfter: l.calls[0].Add(l.cfg.Period).Sub(now),
		}
	}

	l.calls = append(l.calls, now)
	return nil
}

// Count returns the number of admitted calls still inside the window.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.now())
	return len(l.calls)
}

// evict drops timestamps older than now-Period. Must be called with l.mu held.
func (l *Limiter) evict(now time.Time) {
	windowStart := now.Add(-l.cfg.Period)
	i := 0
	for ; i < len(l.calls); i++ {
		if !l.calls[i].Before(windowStart) {
			break
		}
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
