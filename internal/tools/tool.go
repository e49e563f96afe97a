package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/corohq/coro-agent/internal/llm"
)

// Definition describes a tool to the registry and to model providers.
//
// Notes:
//   - CompletionSignal marks tools whose successful call ends the task
//     (the "task finished" signal).
//   - ThoughtStream marks tools whose calls are internal reasoning and
//     should not be surfaced as regular tool activity.
//   - RequiresConfirmation gates execution behind user approval.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	CompletionSignal     bool `json:"completion_signal,omitempty"`
	ThoughtStream        bool `json:"thought_stream,omitempty"`
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// StringParam decodes the named string parameter, "" when absent.
func (c Call) StringParam(key string) string {
	if len(c.Parameters) == 0 {
		return ""
	}
	var params map[string]any
	if err := json.Unmarshal(c.Parameters, &params); err != nil {
		return ""
	}
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

// Result is the outcome of one tool invocation. A failed tool run is a
// regular result with Success=false; it never aborts the task.
type Result struct {
	ToolUseID string         `json:"tool_use_id"`
	Success   bool           `json:"success"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func successResult(call Call, content string) Result {
	return Result{ToolUseID: call.ID, Success: true, Content: content}
}

func errorResult(call Call, content string) Result {
	return Result{ToolUseID: call.ID, Success: false, Content: content}
}

// Tool is one executable capability exposed to the model.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, call Call) Result
}

// ProviderDefinition converts a registry definition into the wire-level
// schema providers consume.
func ProviderDefinition(def Definition) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
	}
}
