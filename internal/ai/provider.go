// Package ai defines the model provider contract consumed by the guard.
package ai

import "context"

// Provider names accepted in configuration.
const (
	ProviderSimulated = "simulated"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

// Provider invokes a generative model. Prompts passed to Invoke are already
// redacted. Any returned error is treated as a failed attempt.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, prompt, model string) (string, error)
}

// Func adapts a function to the Provider interface.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, prompt, model string) (string, error)
}

func (f Func) Name() string {
	return f.ProviderName
}

func (f Func) Invoke(ctx context.Context, prompt, model string) (string, error) {
	return f.Fn(ctx, prompt, model)
}
