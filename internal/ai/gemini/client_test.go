package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeModels struct {
	mu    sync.Mutex
	calls []generateCall
	resp  *genai.GenerateContentResponse
	err   error
}

type generateCall struct {
	model    string
	contents []*genai.Content
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{model: model, contents: contents})
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}, nil, {Content: nil}},
	}
}

func TestGeneratorInvoke(t *testing.T) {
	models := &fakeModels{resp: textResponse("  first ", "", "second")}
	g := newGenerator(models, "gemini-2.5-flash", zap.NewNop())

	output, err := g.Invoke(context.Background(), "  summarise [EMAIL REDACTED]  ", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if output != "first\nsecond" {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.calls))
	}

	call := models.calls[0]
	if call.model != "gemini-2.5-flash" {
		t.Fatalf("expected default model, got %q", call.model)
	}

	if got := call.contents[0].Parts[0].Text; got != "summarise [EMAIL REDACTED]" {
		t.Fatalf("unexpected prompt sent: %q", got)
	}
}

func TestGeneratorInvokeUsesRequestedModel(t *testing.T) {
	models := &fakeModels{resp: textResponse("ok")}
	g := newGenerator(models, "", zap.NewNop())

	if g.Model() != DefaultModel {
		t.Fatalf("expected default model %q, got %q", DefaultModel, g.Model())
	}

	if _, err := g.Invoke(context.Background(), "hi", "gemini-2.0-flash"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if models.calls[0].model != "gemini-2.0-flash" {
		t.Fatalf("expected requested model, got %q", models.calls[0].model)
	}
}

func TestGeneratorInvokeErrors(t *testing.T) {
	apiErr := genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}

	tests := []struct {
		name    string
		models  *fakeModels
		prompt  string
		wantErr string
	}{
		{name: "empty prompt", models: &fakeModels{}, prompt: "  ", wantErr: "prompt must not be empty"},
		{name: "api error", models: &fakeModels{err: apiErr}, prompt: "hi", wantErr: "generate content"},
		{name: "empty response", models: &fakeModels{resp: textResponse(" ")}, prompt: "hi", wantErr: "empty response"},
		{name: "nil response", models: &fakeModels{}, prompt: "hi", wantErr: "empty response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(tt.models, "", zap.NewNop())
			_, err := g.Invoke(context.Background(), tt.prompt, "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	var nilGenerator *Generator
	if _, err := nilGenerator.Invoke(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error from nil generator")
	}

	var wrapped genai.APIError
	g := newGenerator(&fakeModels{err: apiErr}, "", zap.NewNop())
	_, err := g.Invoke(context.Background(), "hi", "")
	if !errors.As(err, &wrapped) || wrapped.Code != http.StatusInternalServerError {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestNewGeneratorRequiresKey(t *testing.T) {
	if _, err := NewGenerator(context.Background(), " ", "", zap.NewNop()); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
