package output

// TokenUsage accumulates token counters across a run. Counters only grow.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add folds one completion's usage into the running totals.
func (u *TokenUsage) Add(input, output int64) {
	if u == nil {
		return
	}
	u.Input += input
	u.Output += output
	u.Total += input + output
}

// ExecutionContext is the run telemetry snapshot attached to events.
//
// OriginalGoal is the first task given to the agent and survives
// follow-up tasks; CurrentTask is the task being executed right now.
type ExecutionContext struct {
	AgentID         string     `json:"agent_id"`
	OriginalGoal    string     `json:"original_goal"`
	CurrentTask     string     `json:"current_task"`
	ProjectPath     string     `json:"project_path,omitempty"`
	MaxSteps        int        `json:"max_steps"`
	CurrentStep     int        `json:"current_step"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	TokenUsage      TokenUsage `json:"token_usage"`
}

// Event types emitted over the output capability.
const (
	EventTaskStarted     = "task_started"
	EventTaskCompleted   = "task_completed"
	EventTaskInterrupted = "task_interrupted"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"

	EventToolStarted   = "tool_started"
	EventToolUpdated   = "tool_updated"
	EventToolCompleted = "tool_completed"

	EventThinking   = "thinking"
	EventTokenUsage = "token_usage_updated"
	EventStatus     = "status_update"
	EventMessage    = "message"

	EventCompressionStarted   = "compression_started"
	EventCompressionCompleted = "compression_completed"
	EventCompressionFailed    = "compression_failed"
)

// Message levels for EventMessage.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one observable moment in a run. The wire shape is a flat
// object with a "type" discriminator; unused fields are omitted.
type Event struct {
	Type    string            `json:"type"`
	Context *ExecutionContext `json:"context,omitempty"`

	// step_started / step_completed
	Step int `json:"step,omitempty"`

	// task_completed / tool_completed
	Success *bool  `json:"success,omitempty"`
	Result  string `json:"result,omitempty"`

	// tool events
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// thinking / status_update / message / assistant text
	Content string `json:"content,omitempty"`
	Level   string `json:"level,omitempty"`

	// token_usage_updated
	Usage *TokenUsage `json:"usage,omitempty"`

	// compression events
	CompressionLevel string `json:"compression_level,omitempty"`
	TokensBefore     int64  `json:"tokens_before,omitempty"`
	TokensAfter      int64  `json:"tokens_after,omitempty"`
	MessagesBefore   int    `json:"messages_before,omitempty"`
	MessagesAfter    int    `json:"messages_after,omitempty"`
}

// ConfirmationRequest asks the user to approve one tool call.
type ConfirmationRequest struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Summary    string `json:"summary,omitempty"`
	Parameters string `json:"parameters,omitempty"`
}

// ConfirmationDecision is the user's answer. Absence of an explicit
// approval is a denial.
type ConfirmationDecision struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}
