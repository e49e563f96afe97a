package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Built-in tool names.
const (
	NameTaskDone           = "task_done"
	NameSequentialThinking = "sequentialthinking"
)

// NewBuiltin returns the built-in tool registered under name, or an
// error for names with no built-in implementation.
func NewBuiltin(name string) (Tool, error) {
	switch strings.TrimSpace(name) {
	case NameTaskDone:
		return &taskDoneTool{}, nil
	case NameSequentialThinking:
		return &sequentialThinkingTool{}, nil
	default:
		return nil, fmt.Errorf("no built-in tool %q", name)
	}
}

// RegisterBuiltins registers the named built-in tools. Unknown names fail.
func RegisterBuiltins(reg *Registry, names []string) error {
	for _, name := range names {
		tool, err := NewBuiltin(name)
		if err != nil {
			return err
		}
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// taskDoneTool is the completion signal. Calling it tells the engine the
// task is finished; the summary parameter becomes the final result text.
type taskDoneTool struct{}

func (t *taskDoneTool) Definition() Definition {
	return Definition{
		Name:        NameTaskDone,
		Description: "Signal that the task is complete. Call this exactly once, when the user's request has been fully addressed, with a short summary of what was done.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "Short summary of the completed work."}
			},
			"required": ["summary"]
		}`),
		CompletionSignal: true,
	}
}

func (t *taskDoneTool) Execute(_ context.Context, call Call) Result {
	summary := call.StringParam("summary")
	if summary == "" {
		summary = "Task completed."
	}
	res := successResult(call, summary)
	res.Data = map[string]any{"summary": summary}
	return res
}

// sequentialThinkingTool accepts structured reasoning steps. Thoughts are
// acknowledged, not acted upon; the value is in the model writing them.
type sequentialThinkingTool struct{}

func (t *sequentialThinkingTool) Definition() Definition {
	return Definition{
		Name:        NameSequentialThinking,
		Description: "Work through a problem step by step. Record one thought per call, revising earlier thoughts when needed, until no further thought is needed.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"thought": {"type": "string", "description": "The current thinking step."},
				"thought_number": {"type": "integer", "description": "Index of this thought, starting at 1."},
				"total_thoughts": {"type": "integer", "description": "Current estimate of thoughts needed."},
				"next_thought_needed": {"type": "boolean", "description": "Whether another thought follows."}
			},
			"required": ["thought", "thought_number", "total_thoughts", "next_thought_needed"]
		}`),
		ThoughtStream: true,
	}
}

func (t *sequentialThinkingTool) Execute(_ context.Context, call Call) Result {
	thought := call.StringParam("thought")
	if thought == "" {
		return errorResult(call, "missing required parameter: thought")
	}
	var params struct {
		ThoughtNumber     int  `json:"thought_number"`
		TotalThoughts     int  `json:"total_thoughts"`
		NextThoughtNeeded bool `json:"next_thought_needed"`
	}
	if len(call.Parameters) > 0 {
		_ = json.Unmarshal(call.Parameters, &params)
	}
	res := successResult(call, fmt.Sprintf("Thought %d recorded.", params.ThoughtNumber))
	res.Data = map[string]any{
		"thought_number":      params.ThoughtNumber,
		"total_thoughts":      params.TotalThoughts,
		"next_thought_needed": params.NextThoughtNeeded,
	}
	return res
}
