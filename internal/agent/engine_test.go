package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corohq/coro-agent/internal/config"
	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
	"github.com/corohq/coro-agent/internal/tools"
)

type scriptedClient struct {
	mu     sync.Mutex
	calls  [][]llm.Message
	script []func(ctx context.Context) (*llm.Response, error)
}

func (c *scriptedClient) Complete(ctx context.Context, messages []llm.Message, _ []llm.ToolDefinition, _ *llm.Options) (*llm.Response, error) {
	c.mu.Lock()
	idx := len(c.calls)
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	c.calls = append(c.calls, snapshot)
	c.mu.Unlock()
	if idx >= len(c.script) {
		return nil, errors.New("script exhausted")
	}
	return c.script[idx](ctx)
}

func (c *scriptedClient) ModelName() string    { return "fake-model" }
func (c *scriptedClient) ProviderName() string { return "fake" }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func respond(resp *llm.Response) func(context.Context) (*llm.Response, error) {
	return func(context.Context) (*llm.Response, error) { return resp, nil }
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Message:      llm.Assistant(text),
		Usage:        &llm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		FinishReason: llm.FinishStop,
	}
}

func toolUseResponse(id, name, args string) *llm.Response {
	return &llm.Response{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			Content: llm.BlockContent(llm.Block{
				Type: llm.BlockTypeToolUse, ID: id, Name: name, Input: json.RawMessage(args),
			}),
		},
		Usage:        &llm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		FinishReason: llm.FinishToolCalls,
	}
}

func doneResponse(summary string) *llm.Response {
	return toolUseResponse("call_done", tools.NameTaskDone, fmt.Sprintf(`{"summary":%q}`, summary))
}

type captureSink struct {
	mu       sync.Mutex
	events   []output.Event
	approve  bool
	confirms int
	onEvent  func(output.Event)
}

func (s *captureSink) EmitEvent(_ context.Context, ev output.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
	return nil
}

func (s *captureSink) RequestConfirmation(_ context.Context, _ output.ConfirmationRequest) (output.ConfirmationDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirms++
	if s.approve {
		return output.ConfirmationDecision{Approved: true}, nil
	}
	return output.ConfirmationDecision{Approved: false, Note: "denied"}, nil
}

func (s *captureSink) Flush(_ context.Context) error { return nil }

func (s *captureSink) countType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (s *captureSink) terminalCount() int {
	return s.countType(output.EventTaskCompleted) + s.countType(output.EventTaskInterrupted)
}

func newTestEngine(t *testing.T, client llm.Client, sink output.Output, maxSteps int) *Engine {
	t.Helper()
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, []string{tools.NameTaskDone, tools.NameSequentialThinking}); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	eng, err := NewEngine(EngineParams{
		Config:   config.Agent{MaxSteps: maxSteps},
		Client:   client,
		Registry: reg,
		Output:   sink,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestExecuteTaskCompletesOnTaskDone(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(textResponse("let me look around")),
		respond(doneResponse("fixed the flaky test")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	exec, err := eng.ExecuteTask(context.Background(), "fix the flaky test")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.State != StateCompleted {
		t.Fatalf("got=%q, want=%q (%s)", exec.State, StateCompleted, exec.FinalResult)
	}
	if exec.FinalResult != "fixed the flaky test" {
		t.Fatalf("got=%q, want summary text", exec.FinalResult)
	}
	if exec.StepsExecuted != 2 {
		t.Fatalf("got=%d steps, want=2", exec.StepsExecuted)
	}
	if sink.terminalCount() != 1 {
		t.Fatalf("got=%d terminal events, want exactly 1", sink.terminalCount())
	}
	if sink.countType(output.EventTaskInterrupted) != 0 {
		t.Fatalf("completed run must not emit an interrupted event")
	}
}

func TestExecuteTaskFailsOnModelError(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		func(context.Context) (*llm.Response, error) { return nil, errors.New("overloaded") },
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	exec, err := eng.ExecuteTask(context.Background(), "do a thing")
	if err != nil {
		t.Fatalf("execute returned transport error: %v", err)
	}
	if exec.State != StateFailed {
		t.Fatalf("got=%q, want=%q", exec.State, StateFailed)
	}
	if !strings.Contains(exec.FinalResult, "step 1 failed") {
		t.Fatalf("failure must name the step: %q", exec.FinalResult)
	}
	if sink.terminalCount() != 1 {
		t.Fatalf("got=%d terminal events, want exactly 1", sink.terminalCount())
	}
}

func TestExecuteTaskFailsAfterMaxSteps(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(textResponse("still thinking")),
		respond(textResponse("still thinking")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 2)

	exec, err := eng.ExecuteTask(context.Background(), "never finishes")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.State != StateFailed {
		t.Fatalf("got=%q, want=%q", exec.State, StateFailed)
	}
	if exec.StepsExecuted != 2 {
		t.Fatalf("got=%d steps, want=2", exec.StepsExecuted)
	}
	if !strings.Contains(exec.FinalResult, "incomplete") {
		t.Fatalf("exhaustion must report incompleteness: %q", exec.FinalResult)
	}
}

func TestCancelBeforeFirstStep(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(doneResponse("should never run")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)
	sink.onEvent = func(ev output.Event) {
		if ev.Type == output.EventTaskStarted {
			eng.Cancel()
		}
	}

	exec, err := eng.ExecuteTask(context.Background(), "doomed task")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.State != StateInterrupted {
		t.Fatalf("got=%q, want=%q", exec.State, StateInterrupted)
	}
	if exec.StepsExecuted != 0 {
		t.Fatalf("got=%d steps, want=0", exec.StepsExecuted)
	}
	if client.callCount() != 0 {
		t.Fatalf("model must not be invoked after pre-step cancel")
	}
	if sink.countType(output.EventTaskInterrupted) != 1 || sink.countType(output.EventTaskCompleted) != 0 {
		t.Fatalf("want exactly one interrupted event and no completed event")
	}
}

func TestCancelDuringStep(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		func(ctx context.Context) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	go func() {
		time.Sleep(20 * time.Millisecond)
		eng.Cancel()
	}()

	exec, err := eng.ExecuteTask(context.Background(), "long running")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.State != StateInterrupted {
		t.Fatalf("got=%q, want=%q", exec.State, StateInterrupted)
	}
	if sink.terminalCount() != 1 {
		t.Fatalf("got=%d terminal events, want exactly 1", sink.terminalCount())
	}
}

func TestDanglingToolUseRepairedBeforeNextTask(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(doneResponse("ok")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	eng.RestoreHistory([]llm.Message{
		llm.User("earlier task"),
		{
			Role: llm.RoleAssistant,
			Content: llm.BlockContent(llm.Block{
				Type: llm.BlockTypeToolUse, ID: "call_dangling", Name: "bash", Input: json.RawMessage(`{}`),
			}),
		},
	})

	if _, err := eng.ExecuteTask(context.Background(), "follow-up"); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	history := eng.History()
	var repaired bool
	for i, msg := range history {
		if msg.Role != llm.RoleTool {
			continue
		}
		for _, block := range msg.Content.Blocks {
			if block.ToolUseID == "call_dangling" {
				repaired = true
				if block.IsError == nil || !*block.IsError {
					t.Fatalf("synthesized result must be an error result")
				}
				// The repair lands before the new user turn.
				if i+1 >= len(history) || history[i+1].Role != llm.RoleUser {
					t.Fatalf("repair must precede the appended user turn")
				}
			}
		}
	}
	if !repaired {
		t.Fatalf("dangling tool use was not repaired: %+v", history)
	}
}

type gatedTool struct {
	mu   sync.Mutex
	runs int
}

func (g *gatedTool) Definition() tools.Definition {
	return tools.Definition{Name: "dangerous_op", RequiresConfirmation: true}
}

func (g *gatedTool) Execute(_ context.Context, call tools.Call) tools.Result {
	g.mu.Lock()
	g.runs++
	g.mu.Unlock()
	return tools.Result{ToolUseID: call.ID, Success: true, Content: "ran"}
}

func TestConfirmationDenialFailsClosed(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(toolUseResponse("call_1", "dangerous_op", `{}`)),
		respond(doneResponse("done without it")),
	}}
	sink := &captureSink{approve: false}
	eng := newTestEngine(t, client, sink, 10)
	gated := &gatedTool{}
	if err := eng.registry.Register(gated); err != nil {
		t.Fatalf("register gated tool: %v", err)
	}

	exec, err := eng.ExecuteTask(context.Background(), "try the dangerous op")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.State != StateCompleted {
		t.Fatalf("denial must not abort the task: %q %s", exec.State, exec.FinalResult)
	}
	if gated.runs != 0 {
		t.Fatalf("denied tool must not execute")
	}
	if sink.confirms != 1 {
		t.Fatalf("got=%d confirmations, want=1", sink.confirms)
	}

	var sawCancelled bool
	for _, msg := range eng.History() {
		if msg.Role != llm.RoleTool {
			continue
		}
		for _, block := range msg.Content.Blocks {
			if block.ToolUseID == "call_1" && strings.Contains(block.Content, "cancelled by user") {
				sawCancelled = true
			}
		}
	}
	if !sawCancelled {
		t.Fatalf("denied call must leave a cancelled-by-user result in history")
	}
}

func TestOriginalGoalPersistsAcrossTasks(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(doneResponse("first done")),
		respond(doneResponse("second done")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	if _, err := eng.ExecuteTask(context.Background(), "first task"); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	if _, err := eng.ExecuteTask(context.Background(), "second task"); err != nil {
		t.Fatalf("second execute failed: %v", err)
	}

	snap := eng.Export()
	if snap.ExecutionContext == nil {
		t.Fatalf("missing execution context")
	}
	if got, want := snap.ExecutionContext.OriginalGoal, "first task"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
	if got, want := snap.ExecutionContext.CurrentTask, "second task"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func TestTokenUsageAccumulates(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []func(context.Context) (*llm.Response, error){
		respond(textResponse("a")),
		respond(doneResponse("b")),
	}}
	sink := &captureSink{}
	eng := newTestEngine(t, client, sink, 10)

	if _, err := eng.ExecuteTask(context.Background(), "count tokens"); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	usage := eng.Export().ExecutionContext.TokenUsage
	if usage.Input != 200 || usage.Output != 40 || usage.Total != 240 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if sink.countType(output.EventTokenUsage) != 2 {
		t.Fatalf("want a token update per model call")
	}
}
