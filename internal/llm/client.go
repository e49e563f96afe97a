package llm

import (
	"context"
	"encoding/json"
)

// Normalized finish reasons across providers.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishError         = "error"
	FinishUnknown       = "unknown"
)

// ToolDefinition is the wire-level tool schema passed to providers.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response is the normalized result of one model round-trip.
type Response struct {
	Message      Message `json:"message"`
	Usage        *Usage  `json:"usage,omitempty"`
	Model        string  `json:"model,omitempty"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Options are per-request provider controls. A nil Options is valid.
type Options struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Client is the model capability consumed by the engine. Implementations
// keep all vendor wire mapping behind this boundary.
type Client interface {
	// Complete performs one non-streaming model round-trip.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition, opts *Options) (*Response, error)

	ModelName() string
	ProviderName() string
}
