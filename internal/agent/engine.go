package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corohq/coro-agent/internal/config"
	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
	"github.com/corohq/coro-agent/internal/tools"
	"github.com/corohq/coro-agent/internal/trajectory"
)

// State is the terminal disposition of one task run.
type State string

const (
	StateIdle        State = "idle"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
)

// Execution is the result of one ExecuteTask invocation.
type Execution struct {
	State         State  `json:"state"`
	FinalResult   string `json:"final_result,omitempty"`
	StepsExecuted int    `json:"steps_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

// EngineParams configures a new engine instance.
type EngineParams struct {
	Config      config.Agent
	Client      llm.Client
	Registry    *tools.Registry
	Output      output.Output
	Recorder    *trajectory.Recorder
	Logger      *slog.Logger
	ProjectPath string
	TokenBudget int64
}

// Engine drives the step loop for one agent instance.
//
// Notes:
//   - One engine runs at most one task at a time; ExecuteTask serializes
//     reentrant callers but concurrent invocation is a caller bug.
//   - Conversation history and the original goal persist across tasks on
//     the same instance; current task and step counters reset per task.
type Engine struct {
	runMu sync.Mutex

	id          string
	cfg         config.Agent
	client      llm.Client
	registry    *tools.Registry
	emitter     *output.Emitter
	conv        *ConversationManager
	recorder    *trajectory.Recorder
	log         *slog.Logger
	projectPath string

	ctrlMu     sync.Mutex
	controller *AbortController

	history []llm.Message
	execCtx *output.ExecutionContext
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Client == nil {
		return nil, errors.New("engine requires a model client")
	}
	if params.Registry == nil {
		return nil, errors.New("engine requires a tool registry")
	}
	log := params.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := params.Config
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = config.DefaultAgent().MaxSteps
	}
	out := params.Output
	if out == nil {
		out = output.NullOutput{}
	}
	return &Engine{
		id:          uuid.NewString(),
		cfg:         cfg,
		client:      params.Client,
		registry:    params.Registry,
		emitter:     output.NewEmitter(out, log),
		conv:        NewConversationManager(params.TokenBudget),
		recorder:    params.Recorder,
		log:         log,
		projectPath: strings.TrimSpace(params.ProjectPath),
		controller:  NewAbortController(),
	}, nil
}

// ID returns the agent instance identifier.
func (e *Engine) ID() string { return e.id }

// Cancel requests cancellation of the task currently in flight. Safe to
// call from any goroutine, including when no task is running.
func (e *Engine) Cancel() {
	if e == nil {
		return
	}
	e.ctrlMu.Lock()
	ctrl := e.controller
	e.ctrlMu.Unlock()
	ctrl.Cancel()
}

// History returns a copy of the conversation history.
func (e *Engine) History() []llm.Message {
	if e == nil {
		return nil
	}
	out := make([]llm.Message, len(e.history))
	copy(out, e.history)
	return out
}

// swapController scopes cancellation to the upcoming task. The old
// controller stays cancellable by whoever still holds it.
func (e *Engine) swapController() AbortRegistration {
	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()
	e.controller = NewAbortController()
	return e.controller.Register()
}

// ExecuteTask runs one task to a terminal state. The same instance can
// run follow-up tasks afterwards; history and the original goal carry over.
func (e *Engine) ExecuteTask(ctx context.Context, task string) (*Execution, error) {
	if e == nil {
		return nil, errors.New("nil engine")
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, errors.New("empty task")
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()

	reg := e.swapController()
	started := time.Now()

	if e.execCtx == nil {
		e.execCtx = &output.ExecutionContext{
			AgentID:      e.id,
			OriginalGoal: task,
			ProjectPath:  e.projectPath,
			MaxSteps:     e.cfg.MaxSteps,
		}
	}
	e.execCtx.CurrentTask = task
	e.execCtx.CurrentStep = 0
	e.execCtx.MaxSteps = e.cfg.MaxSteps

	e.emitter.Emit(ctx, output.Event{Type: output.EventTaskStarted, Context: e.contextSnapshot(started)})
	e.repairDanglingToolUses()
	e.history = append(e.history, llm.User(task))
	e.record(trajectory.Entry{
		Type:     trajectory.EntryTaskStart,
		Task:     task,
		Provider: e.client.ProviderName(),
		Model:    e.client.ModelName(),
	})

	exec := e.runLoop(ctx, reg)
	exec.DurationMs = time.Since(started).Milliseconds()
	e.execCtx.ExecutionTimeMs = exec.DurationMs
	e.finish(ctx, exec, started)
	return exec, nil
}

func (e *Engine) runLoop(ctx context.Context, reg AbortRegistration) *Execution {
	exec := &Execution{State: StateIdle}
	for step := 1; step <= e.cfg.MaxSteps; step++ {
		if reg.Cancelled() || ctx.Err() != nil {
			return e.interrupted(exec, step-1)
		}

		e.compressHistory(ctx)

		if reg.Cancelled() || ctx.Err() != nil {
			return e.interrupted(exec, step-1)
		}

		e.execCtx.CurrentStep = step
		e.emitter.Emit(ctx, output.Event{Type: output.EventStepStarted, Step: step})

		outcome := e.raceStep(ctx, reg, step)
		if outcome.cancelled {
			return e.interrupted(exec, step)
		}
		if outcome.err != nil {
			exec.State = StateFailed
			exec.FinalResult = fmt.Sprintf("step %d failed: %v", step, outcome.err)
			exec.StepsExecuted = step
			e.record(trajectory.Entry{Type: trajectory.EntryError, Step: step, Error: outcome.err.Error()})
			return exec
		}

		e.emitter.Emit(ctx, output.Event{Type: output.EventStepCompleted, Step: step})
		e.record(trajectory.Entry{Type: trajectory.EntryStepComplete, Step: step})

		if outcome.done {
			exec.State = StateCompleted
			exec.FinalResult = outcome.result
			exec.StepsExecuted = step
			return exec
		}
	}

	exec.State = StateFailed
	exec.FinalResult = fmt.Sprintf("task incomplete after %d steps", e.cfg.MaxSteps)
	exec.StepsExecuted = e.cfg.MaxSteps
	return exec
}

func (e *Engine) interrupted(exec *Execution, steps int) *Execution {
	exec.State = StateInterrupted
	exec.FinalResult = "task interrupted"
	exec.StepsExecuted = steps
	if steps < e.execCtx.CurrentStep {
		e.execCtx.CurrentStep = steps
	}
	return exec
}

// compressHistory applies the conversation manager, downgrading any
// compression failure to the never-failing trim.
func (e *Engine) compressHistory(ctx context.Context) {
	messages, summary, err := e.conv.Compress(ctx, e.history, e.execCtx)
	if err != nil {
		e.log.Warn("compression failed, applying simple trim", "error", err)
		before := len(e.history)
		e.history = SimpleTrim(e.history, trimMaxMessages)
		e.emitter.Emit(ctx, output.Event{
			Type:           output.EventCompressionFailed,
			MessagesBefore: before,
			MessagesAfter:  len(e.history),
		})
		return
	}
	if summary == nil {
		return
	}
	e.emitter.Emit(ctx, output.Event{Type: output.EventCompressionStarted, CompressionLevel: summary.Level})
	e.history = messages
	e.emitter.Emit(ctx, output.Event{
		Type:             output.EventCompressionCompleted,
		CompressionLevel: summary.Level,
		TokensBefore:     summary.TokensBefore,
		TokensAfter:      summary.TokensAfter,
		MessagesBefore:   summary.MessagesBefore,
		MessagesAfter:    summary.MessagesAfter,
	})
}

// raceStep runs one step against the cancellation registration. On a
// cancel win the step context is cancelled and the step goroutine is
// drained; an in-flight tool may still run to completion.
func (e *Engine) raceStep(ctx context.Context, reg AbortRegistration, step int) stepOutcome {
	stepCtx, cancelStep := context.WithCancel(ctx)
	defer cancelStep()

	ch := make(chan stepOutcome, 1)
	go func() {
		ch <- e.executeStep(stepCtx, step)
	}()

	select {
	case <-reg.Done():
		cancelStep()
		<-ch
		return stepOutcome{cancelled: true}
	case outcome := <-ch:
		if outcome.err != nil && (errors.Is(outcome.err, context.Canceled) || reg.Cancelled()) {
			return stepOutcome{cancelled: true}
		}
		return outcome
	}
}

func (e *Engine) finish(ctx context.Context, exec *Execution, started time.Time) {
	snapshot := e.contextSnapshot(started)
	switch exec.State {
	case StateInterrupted:
		e.record(trajectory.Entry{
			Type:        trajectory.EntryTaskComplete,
			Step:        exec.StepsExecuted,
			Success:     boolPtr(false),
			FinalResult: exec.FinalResult,
		})
		e.emitter.Emit(ctx, output.Event{
			Type:    output.EventTaskInterrupted,
			Context: snapshot,
			Result:  exec.FinalResult,
		})
	default:
		success := exec.State == StateCompleted
		e.record(trajectory.Entry{
			Type:        trajectory.EntryTaskComplete,
			Step:        exec.StepsExecuted,
			Success:     boolPtr(success),
			FinalResult: exec.FinalResult,
		})
		e.emitter.Emit(ctx, output.Event{
			Type:    output.EventTaskCompleted,
			Context: snapshot,
			Success: boolPtr(success),
			Result:  exec.FinalResult,
		})
	}
	e.emitter.Flush(ctx)
}

// repairDanglingToolUses resolves tool-use blocks left unanswered by a
// prior interruption, so no assistant turn precedes another without its
// results.
func (e *Engine) repairDanglingToolUses() {
	if len(e.history) == 0 {
		return
	}
	last := e.history[len(e.history)-1]
	if last.Role != llm.RoleAssistant || !last.HasToolUse() {
		return
	}
	for _, use := range last.ToolUses() {
		e.history = append(e.history, llm.ToolResultMessage(
			use.ID,
			"Tool execution was interrupted before a result was produced.",
			true,
		))
	}
}

func (e *Engine) contextSnapshot(started time.Time) *output.ExecutionContext {
	if e.execCtx == nil {
		return nil
	}
	snap := *e.execCtx
	snap.ExecutionTimeMs = time.Since(started).Milliseconds()
	return &snap
}

func (e *Engine) record(entry trajectory.Entry) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(entry); err != nil {
		e.log.Warn("trajectory record failed", "entry_type", entry.Type, "error", err)
	}
}

func boolPtr(b bool) *bool { return &b }
