package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
	"github.com/corohq/coro-agent/internal/tools"
	"github.com/corohq/coro-agent/internal/trajectory"
)

type stepOutcome struct {
	done      bool
	result    string
	cancelled bool
	err       error
}

// executeStep performs one model round-trip and dispatches any tool
// calls the assistant requested, in model-provided order.
func (e *Engine) executeStep(ctx context.Context, step int) stepOutcome {
	outbound := e.outboundMessages()
	e.record(trajectory.Entry{
		Type:     trajectory.EntryLLMRequest,
		Step:     step,
		Messages: outbound,
		Tools:    e.registry.Names(),
	})

	resp, err := e.client.Complete(ctx, outbound, e.registry.ProviderDefinitions(), nil)
	if err != nil {
		return stepOutcome{err: err}
	}

	if resp.Usage != nil {
		e.execCtx.TokenUsage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		usage := e.execCtx.TokenUsage
		e.emitter.Emit(ctx, output.Event{Type: output.EventTokenUsage, Usage: &usage})
	}
	e.record(trajectory.Entry{Type: trajectory.EntryLLMResponse, Step: step, Response: resp})

	e.history = append(e.history, resp.Message)

	uses := resp.Message.ToolUses()
	if len(uses) == 0 {
		if txt := strings.TrimSpace(resp.Message.Text()); txt != "" {
			e.emitter.Emit(ctx, output.Event{Type: output.EventMessage, Level: output.LevelInfo, Content: txt})
		}
		return stepOutcome{}
	}

	for _, use := range uses {
		if done, result := e.dispatchToolUse(ctx, step, use); done {
			return stepOutcome{done: true, result: result}
		}
	}
	return stepOutcome{}
}

// outboundMessages builds the request list, injecting the system prompt
// only when history does not already begin with one.
func (e *Engine) outboundMessages() []llm.Message {
	if len(e.history) > 0 && e.history[0].Role == llm.RoleSystem {
		return e.History()
	}
	prompt := ""
	if e.cfg.SystemPrompt != nil {
		prompt = strings.TrimSpace(*e.cfg.SystemPrompt)
	}
	if prompt == "" {
		prompt = BuildSystemPrompt(e.projectPath, e.registry.Names())
	}
	out := make([]llm.Message, 0, len(e.history)+1)
	out = append(out, llm.System(prompt))
	out = append(out, e.history...)
	return out
}

// dispatchToolUse runs one tool-use block. Returns done=true when the
// block was a successful completion signal.
func (e *Engine) dispatchToolUse(ctx context.Context, step int, use llm.Block) (bool, string) {
	call := tools.Call{ID: use.ID, Name: use.Name, Parameters: use.Input}
	e.emitter.Emit(ctx, output.Event{Type: output.EventToolStarted, Step: step, ToolCallID: call.ID, ToolName: call.Name})
	e.record(trajectory.Entry{
		Type:       trajectory.EntryToolCall,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Parameters: call.Parameters,
	})

	var res tools.Result
	if e.requiresConfirmation(call.Name) {
		decision := e.emitter.Confirm(ctx, output.ConfirmationRequest{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Parameters: string(call.Parameters),
		})
		if decision.Approved {
			res = e.registry.Execute(ctx, call)
		} else {
			note := strings.TrimSpace(decision.Note)
			content := "Tool call cancelled by user."
			if note != "" {
				content += " " + note
			}
			res = tools.Result{ToolUseID: call.ID, Success: false, Content: content}
		}
	} else {
		res = e.registry.Execute(ctx, call)
	}

	e.record(trajectory.Entry{
		Type:       trajectory.EntryToolResult,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    res.Content,
		Success:    boolPtr(res.Success),
	})
	e.emitter.Emit(ctx, output.Event{
		Type:       output.EventToolCompleted,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    boolPtr(res.Success),
		Result:     res.Content,
	})

	if e.registry.IsThoughtStream(call.Name) {
		if thought := extractThought(call, res); thought != "" {
			e.emitter.Emit(ctx, output.Event{Type: output.EventThinking, Step: step, Content: thought})
		}
	}

	if e.registry.IsCompletionSignal(call.Name) && res.Success {
		return true, res.Content
	}

	e.history = append(e.history, llm.ToolResultMessage(call.ID, res.Content, !res.Success))
	return false, ""
}

func (e *Engine) requiresConfirmation(name string) bool {
	tool, ok := e.registry.Lookup(name)
	return ok && tool.Definition().RequiresConfirmation
}

// extractThought pulls the thought text out of a thought-stream call:
// structured parameters first, free-text result content as a fallback.
func extractThought(call tools.Call, res tools.Result) string {
	if len(call.Parameters) > 0 {
		var params map[string]any
		if err := json.Unmarshal(call.Parameters, &params); err == nil {
			if thought, _ := params["thought"].(string); strings.TrimSpace(thought) != "" {
				return strings.TrimSpace(thought)
			}
		}
	}
	if thought, _ := res.Data["thought"].(string); strings.TrimSpace(thought) != "" {
		return strings.TrimSpace(thought)
	}
	return strings.TrimSpace(res.Content)
}
