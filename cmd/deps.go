package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/ai"
	"github.com/spigell/ai-guard/internal/ai/gemini"
	"github.com/spigell/ai-guard/internal/ai/openai"
	"github.com/spigell/ai-guard/internal/ai/simulated"
	"github.com/spigell/ai-guard/internal/guard"
	"github.com/spigell/ai-guard/internal/logger"
	"github.com/spigell/ai-guard/internal/metrics"
	"github.com/spigell/ai-guard/internal/pii"
	"github.com/spigell/ai-guard/internal/ratelimit"
	"github.com/spigell/ai-guard/internal/retention"
	"github.com/spigell/ai-guard/internal/review"
	"github.com/spigell/ai-guard/internal/secrets"
	"github.com/spigell/ai-guard/internal/tracing"
)

const (
	tracesFile   = "traces.json"
	feedbackFile = "feedback.json"
)

// services are constructed once per command and shared by every consumer.
type services struct {
	config    *Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	pii       *pii.Guard
	traces    *tracing.Store
	queue     *review.Queue
	retention *retention.Manager
}

// setup builds the logger and reads the config. Failures are fatal, as
// nothing useful can run without them.
func setup() (*Config, *zap.Logger) {
	lg, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		lg.Fatal("getting a config", zap.Error(err))
	}

	return config, lg
}

func newServices(config *Config, lg *zap.Logger) (*services, error) {
	guardPII, err := pii.New()
	if err != nil {
		return nil, fmt.Errorf("loading pii rules: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(registry)

	policy := retention.PolicyFromDays(config.Retention.TraceTTLDays, config.Retention.FeedbackTTLDays)
	if policy.TraceTTL <= 0 || policy.FeedbackTTL <= 0 {
		return nil, fmt.Errorf("retention ttl must be positive: traces=%d feedback=%d days",
			config.Retention.TraceTTLDays, config.Retention.FeedbackTTLDays)
	}

	dataDir := strings.TrimSpace(config.DataDir)
	if dataDir == "" {
		dataDir = "."
	}

	return &services{
		config:    config,
		logger:    lg,
		registry:  registry,
		metrics:   mt,
		pii:       guardPII,
		traces:    tracing.NewStore(filepath.Join(dataDir, tracesFile), lg.Named("traces")),
		queue:     review.NewQueue(filepath.Join(dataDir, feedbackFile), guardPII, lg.Named("feedback")),
		retention: retention.NewManager(policy, lg.Named("retention"), retention.WithMetrics(mt)),
	}, nil
}

// newClient builds the guarded call client on top of the configured provider.
func (s *services) newClient(ctx context.Context) (*guard.Client, error) {
	cfg := s.config.AI

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxCalls: s.config.RateLimit.Calls,
		Period:   s.config.RateLimit.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	provider, err := newProvider(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}

	return guard.New(s.pii, limiter, s.traces, provider, s.logger.Named("guard"),
		guard.WithDefaultModel(defaultModel(cfg)),
		guard.WithCallDefaults(cfg.MaxRetries, cfg.BackoffBase),
		guard.WithMaxLogLength(cfg.MaxLogLength),
		guard.WithMetrics(s.metrics),
	)
}

func newProvider(ctx context.Context, cfg *AIConfig, lg *zap.Logger) (ai.Provider, error) {
	switch providerName(cfg) {
	case ai.ProviderSimulated:
		return simulated.New(simulated.Config{
			MinLatency:  cfg.Simulated.MinLatency,
			MaxLatency:  cfg.Simulated.MaxLatency,
			FailureRate: cfg.Simulated.FailureRate,
		}), nil
	case ai.ProviderGemini:
		apiKey, err := secrets.Load(secrets.Source{
			Name:    "gemini api key",
			Value:   cfg.Gemini.APIKey,
			File:    cfg.Gemini.APIKeyFile,
			FileEnv: "GEMINI_API_KEY_FILE",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
		}
		return gemini.NewGenerator(ctx, apiKey, cfg.Model, lg)
	case ai.ProviderOpenAI:
		apiKey, err := secrets.Load(secrets.Source{
			Name:    "openai api key",
			Value:   cfg.OpenAI.APIKey,
			File:    cfg.OpenAI.APIKeyFile,
			FileEnv: "OPENAI_API_KEY_FILE",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or OPENAI_API_KEY_FILE)", err)
		}
		return openai.New(openai.Config{
			APIKey:       apiKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
		}, lg)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

func providerName(cfg *AIConfig) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return ai.ProviderSimulated
	}
	return name
}

// defaultModel resolves the model used when a call does not name one.
func defaultModel(cfg *AIConfig) string {
	if model := strings.TrimSpace(cfg.Model); model != "" {
		return model
	}

	switch providerName(cfg) {
	case ai.ProviderGemini:
		return gemini.DefaultModel
	case ai.ProviderOpenAI:
		return openai.DefaultModel
	default:
		return guard.DefaultModel
	}
}
