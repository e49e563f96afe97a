package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
)

// Compression escalation levels, ordered by pressure. Higher levels
// produce smaller histories.
const (
	CompressionLight      = "light"
	CompressionModerate   = "moderate"
	CompressionAggressive = "aggressive"
)

const (
	// defaultTokenBudget is the assumed context window when none is configured.
	defaultTokenBudget = 120000
	// compressionTriggerFraction of the budget at which compression kicks in.
	compressionTriggerFraction = 0.7
	// trimMaxMessages bounds the simple-trim fallback.
	trimMaxMessages = 50
)

// CompressionSummary reports one applied compression pass.
type CompressionSummary struct {
	Level          string `json:"level"`
	TokensBefore   int64  `json:"tokens_before"`
	TokensAfter    int64  `json:"tokens_after"`
	TokensSaved    int64  `json:"tokens_saved"`
	MessagesBefore int    `json:"messages_before"`
	MessagesAfter  int    `json:"messages_after"`
	Summary        string `json:"summary"`
}

// ConversationManager decides when and how hard to compress history.
//
// Compression is best-effort: when a summarizer is attached its failure
// propagates to the caller, which is expected to fall back to SimpleTrim.
type ConversationManager struct {
	budget int64

	// Summarizer, when set, condenses dropped messages into a recap
	// turn. When nil the recap is a plain count of what was dropped.
	Summarizer llm.Client
}

func NewConversationManager(tokenBudget int64) *ConversationManager {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	return &ConversationManager{budget: tokenBudget}
}

// EstimateTokens approximates token cost of the history. The usual
// chars-over-four heuristic is good enough for a trigger decision.
func EstimateTokens(messages []llm.Message) int64 {
	var chars int64
	for _, msg := range messages {
		chars += int64(len(msg.Content.Text))
		for _, block := range msg.Content.Blocks {
			chars += int64(len(block.Text) + len(block.Content) + len(block.Input) + len(block.Data))
		}
	}
	return chars / 4
}

// Compress returns the history to continue with and a summary when a
// pass was applied. An unchanged history returns a nil summary.
func (m *ConversationManager) Compress(ctx context.Context, messages []llm.Message, telem *output.ExecutionContext) ([]llm.Message, *CompressionSummary, error) {
	if m == nil || len(messages) == 0 {
		return messages, nil, nil
	}
	before := EstimateTokens(messages)
	threshold := int64(float64(m.budget) * compressionTriggerFraction)
	if before <= threshold {
		return messages, nil, nil
	}

	for _, level := range []string{CompressionLight, CompressionModerate, CompressionAggressive} {
		candidate, dropped := applyCompressionLevel(messages, level)
		if len(dropped) == 0 {
			continue
		}
		after := EstimateTokens(candidate)
		if after > threshold && level != CompressionAggressive {
			continue
		}
		recap, err := m.recap(ctx, dropped, telem)
		if err != nil {
			return nil, nil, err
		}
		out := spliceRecap(candidate, recap, len(dropped) > 0)
		return out, &CompressionSummary{
			Level:          level,
			TokensBefore:   before,
			TokensAfter:    EstimateTokens(out),
			TokensSaved:    before - EstimateTokens(out),
			MessagesBefore: len(messages),
			MessagesAfter:  len(out),
			Summary:        recap,
		}, nil
	}
	return messages, nil, nil
}

// SimpleTrim is the never-failing fallback: keep a leading System
// message when present, then the most recent maxMessages entries.
func SimpleTrim(messages []llm.Message, maxMessages int) []llm.Message {
	if maxMessages <= 0 {
		maxMessages = trimMaxMessages
	}
	if len(messages) <= maxMessages {
		return messages
	}
	out := make([]llm.Message, 0, maxMessages)
	rest := messages
	if messages[0].Role == llm.RoleSystem {
		out = append(out, messages[0])
		rest = messages[1:]
	}
	keep := maxMessages - len(out)
	if keep > len(rest) {
		keep = len(rest)
	}
	out = append(out, rest[len(rest)-keep:]...)
	return out
}

// applyCompressionLevel drops the oldest slice of the interior history.
// The leading System message always survives, and the cut never starts
// the retained tail on an orphaned tool result.
func applyCompressionLevel(messages []llm.Message, level string) (kept []llm.Message, dropped []llm.Message) {
	head := 0
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		head = 1
	}
	interior := messages[head:]

	var keepCount int
	switch level {
	case CompressionLight:
		keepCount = len(interior) * 2 / 3
	case CompressionModerate:
		keepCount = len(interior) / 2
	default:
		keepCount = len(interior) / 4
		if keepCount > trimMaxMessages {
			keepCount = trimMaxMessages
		}
	}
	if keepCount >= len(interior) {
		return messages, nil
	}
	if keepCount < 1 {
		keepCount = 1
	}

	cut := len(interior) - keepCount
	// Move the cut forward past tool results whose tool_use was dropped.
	for cut < len(interior) && messages[head+cut].Role == llm.RoleTool {
		cut++
	}
	if cut >= len(interior) {
		return messages, nil
	}

	kept = make([]llm.Message, 0, head+len(interior)-cut)
	kept = append(kept, messages[:head]...)
	kept = append(kept, interior[cut:]...)
	return kept, interior[:cut]
}

// recap produces the stand-in text for dropped messages.
func (m *ConversationManager) recap(ctx context.Context, dropped []llm.Message, telem *output.ExecutionContext) (string, error) {
	if len(dropped) == 0 {
		return "", nil
	}
	if m.Summarizer == nil {
		return fmt.Sprintf("Earlier conversation condensed: %d messages removed to stay within the context budget.", len(dropped)), nil
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following conversation excerpt in a few sentences. Preserve decisions, file paths, and open items.\n\n")
	if telem != nil && strings.TrimSpace(telem.OriginalGoal) != "" {
		sb.WriteString("Overall goal: " + strings.TrimSpace(telem.OriginalGoal) + "\n\n")
	}
	for _, msg := range dropped {
		txt := strings.TrimSpace(msg.Text())
		if txt == "" {
			continue
		}
		sb.WriteString(string(msg.Role) + ": " + txt + "\n")
	}

	resp, err := m.Summarizer.Complete(ctx, []llm.Message{llm.User(sb.String())}, nil, &llm.Options{MaxTokens: 1024})
	if err != nil {
		return "", fmt.Errorf("summarize dropped history: %w", err)
	}
	recap := strings.TrimSpace(resp.Message.Text())
	if recap == "" {
		return "", fmt.Errorf("summarizer returned empty recap")
	}
	return recap, nil
}

func spliceRecap(kept []llm.Message, recap string, hadDrops bool) []llm.Message {
	if !hadDrops || strings.TrimSpace(recap) == "" {
		return kept
	}
	head := 0
	if len(kept) > 0 && kept[0].Role == llm.RoleSystem {
		head = 1
	}
	out := make([]llm.Message, 0, len(kept)+1)
	out = append(out, kept[:head]...)
	out = append(out, llm.User("[Conversation recap] "+strings.TrimSpace(recap)))
	out = append(out, kept[head:]...)
	return out
}
