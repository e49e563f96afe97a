package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/corohq/coro-agent/internal/llm"
)

func TestSimpleTrimBounds(t *testing.T) {
	t.Parallel()

	messages := []llm.Message{llm.System("you are an agent")}
	for i := 0; i < 199; i++ {
		messages = append(messages, llm.User(fmt.Sprintf("message %d", i)))
	}

	trimmed := SimpleTrim(messages, 50)
	if len(trimmed) > 50 {
		t.Fatalf("got=%d messages, want <= 50", len(trimmed))
	}
	if trimmed[0].Role != llm.RoleSystem {
		t.Fatalf("leading system message must survive the trim")
	}
	if got, want := trimmed[len(trimmed)-1].Text(), "message 198"; got != want {
		t.Fatalf("got=%q, want most recent message %q", got, want)
	}
}

func TestSimpleTrimShortHistoryUnchanged(t *testing.T) {
	t.Parallel()

	messages := []llm.Message{llm.System("s"), llm.User("u"), llm.Assistant("a")}
	trimmed := SimpleTrim(messages, 50)
	if len(trimmed) != 3 {
		t.Fatalf("got=%d messages, want=3", len(trimmed))
	}
}

func TestCompressUnderBudgetUnchanged(t *testing.T) {
	t.Parallel()

	m := NewConversationManager(1_000_000)
	history := []llm.Message{llm.System("s"), llm.User("small history")}
	out, summary, err := m.Compress(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if summary != nil {
		t.Fatalf("under-budget history must not compress: %+v", summary)
	}
	if len(out) != len(history) {
		t.Fatalf("history must be unchanged")
	}
}

func TestCompressOverBudgetProducesSummary(t *testing.T) {
	t.Parallel()

	m := NewConversationManager(500)
	history := []llm.Message{llm.System("you are an agent")}
	for i := 0; i < 40; i++ {
		history = append(history, llm.User(strings.Repeat("x", 100)))
	}

	out, summary, err := m.Compress(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if summary == nil {
		t.Fatalf("over-budget history must compress")
	}
	if summary.MessagesAfter >= summary.MessagesBefore {
		t.Fatalf("compression must shrink the history: %+v", summary)
	}
	if summary.TokensSaved <= 0 {
		t.Fatalf("tokens_saved must be positive: %+v", summary)
	}
	switch summary.Level {
	case CompressionLight, CompressionModerate, CompressionAggressive:
	default:
		t.Fatalf("unknown level %q", summary.Level)
	}
	if out[0].Role != llm.RoleSystem {
		t.Fatalf("leading system message must survive compression")
	}
	if !strings.Contains(out[1].Text(), "recap") {
		t.Fatalf("expected a recap turn after the system message, got %q", out[1].Text())
	}
}

func TestCompressNeverStartsTailOnOrphanToolResult(t *testing.T) {
	t.Parallel()

	m := NewConversationManager(500)
	history := []llm.Message{llm.System("s")}
	for i := 0; i < 30; i++ {
		history = append(history, llm.Message{
			Role: llm.RoleAssistant,
			Content: llm.BlockContent(llm.Block{
				Type: llm.BlockTypeToolUse, ID: fmt.Sprintf("call_%d", i), Name: "bash",
				Input: []byte(`{"cmd":"` + strings.Repeat("y", 80) + `"}`),
			}),
		})
		history = append(history, llm.ToolResultMessage(fmt.Sprintf("call_%d", i), strings.Repeat("z", 80), false))
	}

	out, summary, err := m.Compress(context.Background(), history, nil)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if summary == nil {
		t.Fatalf("expected compression to apply")
	}
	for i, msg := range out {
		if msg.Role != llm.RoleTool {
			continue
		}
		// A kept tool result must be preceded by its assistant turn.
		if i == 0 || out[i-1].Role != llm.RoleAssistant {
			t.Fatalf("orphaned tool result at index %d", i)
		}
	}
}

type failingSummarizer struct{}

func (failingSummarizer) Complete(context.Context, []llm.Message, []llm.ToolDefinition, *llm.Options) (*llm.Response, error) {
	return nil, errors.New("summarizer unavailable")
}
func (failingSummarizer) ModelName() string    { return "fake" }
func (failingSummarizer) ProviderName() string { return "fake" }

func TestCompressSummarizerFailurePropagates(t *testing.T) {
	t.Parallel()

	m := NewConversationManager(500)
	m.Summarizer = failingSummarizer{}
	history := []llm.Message{llm.System("s")}
	for i := 0; i < 40; i++ {
		history = append(history, llm.User(strings.Repeat("x", 100)))
	}

	_, _, err := m.Compress(context.Background(), history, nil)
	if err == nil {
		t.Fatalf("summarizer failure must surface so the caller can trim")
	}
}
