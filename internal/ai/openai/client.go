// Package openai adapts the OpenAI chat completion API to ai.Provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/ai"
	"github.com/spigell/ai-guard/internal/logger"
)

const DefaultModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for OpenAI-compatible gateways.
	BaseURL      string
	Model        string
	SystemPrompt string
}

type Client struct {
	chat         chatCompleter
	model        string
	systemPrompt string
	logger       *zap.Logger
}

var _ ai.Provider = (*Client)(nil)

func New(cfg Config, l *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return newClient(goopenai.NewClientWithConfig(clientCfg), cfg, l), nil
}

func newClient(chat chatCompleter, cfg Config, l *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		chat:         chat,
		model:        model,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		logger:       logger.WithCommonFields(l, ai.ProviderOpenAI, model),
	}
}

func (c *Client) Name() string {
	return ai.ProviderOpenAI
}

// Invoke sends one chat completion request and returns the first choice.
func (c *Client) Invoke(ctx context.Context, prompt, model string) (string, error) {
	if model = strings.TrimSpace(model); model == "" {
		model = c.model
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: c.systemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.chat.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openai returned empty content")
	}

	c.logger.Debug("openai chat completion response",
		zap.String("requested_model", model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)

	return content, nil
}
