package tracing

import (
	"time"

	"github.com/google/uuid"
)

// Status of a terminal call outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// MetadataError is the metadata key holding the error text of a failed call.
const MetadataError = "error"

// Record is the trace of one terminal call outcome. Prompt is always the
// redacted prompt.
type Record struct {
	TraceID          string            `json:"trace_id"`
	Prompt           string            `json:"prompt"`
	Model            string            `json:"model"`
	LatencyMs        float64           `json:"latency_ms"`
	CostUSD          float64           `json:"cost_usd"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	Status           Status            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	Metadata         map[string]string `json:"metadata"`
}

// Params holds the caller-supplied fields of a new Record.
type Params struct {
	Prompt           string
	Model            string
	LatencyMs        float64
	CostUSD          float64
	PromptTokens     int
	CompletionTokens int
	Status           Status
	Metadata         map[string]string
}

// Build creates a Record with a fresh identifier stamped at now.
func Build(p Params, now time.Time) Record {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return Record{
		TraceID:          uuid.NewString(),
		Prompt:           p.Prompt,
		Model:            p.Model,
		LatencyMs:        p.LatencyMs,
		CostUSD:          p.CostUSD,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		Status:           p.Status,
		CreatedAt:        now.UTC(),
		Metadata:         metadata,
	}
}
