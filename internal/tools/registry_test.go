package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, []string{NameSequentialThinking, NameTaskDone}); err != nil {
		t.Fatalf("register builtins failed: %v", err)
	}
	return reg
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	names := reg.Names()
	if len(names) != 2 || names[0] != NameSequentialThinking || names[1] != NameTaskDone {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestRegistryCapabilityFlags(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	if !reg.IsCompletionSignal(NameTaskDone) {
		t.Fatalf("task_done must be a completion signal")
	}
	if reg.IsCompletionSignal(NameSequentialThinking) {
		t.Fatalf("sequentialthinking must not be a completion signal")
	}
	if !reg.IsThoughtStream(NameSequentialThinking) {
		t.Fatalf("sequentialthinking must be a thought stream")
	}
	if reg.IsThoughtStream("no_such_tool") {
		t.Fatalf("unknown tool must not report capabilities")
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	res := reg.Execute(context.Background(), Call{ID: "call_1", Name: "bogus"})
	if res.Success {
		t.Fatalf("unknown tool must produce an error result")
	}
	if res.ToolUseID != "call_1" {
		t.Fatalf("got=%q, want=%q", res.ToolUseID, "call_1")
	}
}

func TestTaskDoneCarriesSummary(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	call := Call{
		ID:         "call_2",
		Name:       NameTaskDone,
		Parameters: json.RawMessage(`{"summary":"refactored the parser"}`),
	}
	res := reg.Execute(context.Background(), call)
	if !res.Success {
		t.Fatalf("task_done failed: %s", res.Content)
	}
	if res.Content != "refactored the parser" {
		t.Fatalf("got=%q, want summary text", res.Content)
	}
}

func TestSequentialThinkingRequiresThought(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	res := reg.Execute(context.Background(), Call{
		ID:         "call_3",
		Name:       NameSequentialThinking,
		Parameters: json.RawMessage(`{"thought_number":1}`),
	})
	if res.Success {
		t.Fatalf("missing thought must fail")
	}

	res = reg.Execute(context.Background(), Call{
		ID:         "call_4",
		Name:       NameSequentialThinking,
		Parameters: json.RawMessage(`{"thought":"check the cache path","thought_number":1,"total_thoughts":3,"next_thought_needed":true}`),
	})
	if !res.Success {
		t.Fatalf("valid thought failed: %s", res.Content)
	}
	if res.Data["next_thought_needed"] != true {
		t.Fatalf("thought metadata lost: %+v", res.Data)
	}
}

func TestRegistryExecuteCanceledContext(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := reg.Execute(ctx, Call{ID: "call_5", Name: NameTaskDone, Parameters: json.RawMessage(`{"summary":"x"}`)})
	if res.Success {
		t.Fatalf("canceled context must produce an error result")
	}
}
