package output

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/corohq/coro-agent/internal/config"
)

// CLI renders events as human-readable terminal lines and answers
// confirmation requests with an interactive y/N prompt.
//
// Notes:
//   - Confirmation prompts require an interactive stdin. When stdin is
//     not a terminal every confirmation resolves to a denial.
//   - Thinking events and step boundaries only render in debug mode.
type CLI struct {
	mu          sync.Mutex
	w           io.Writer
	in          *bufio.Reader
	debug       bool
	interactive bool
	log         *slog.Logger
}

func NewCLI(mode config.OutputMode, log *slog.Logger) *CLI {
	if log == nil {
		log = slog.Default()
	}
	return &CLI{
		w:           os.Stdout,
		in:          bufio.NewReader(os.Stdin),
		debug:       mode == config.OutputModeDebug,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		log:         log,
	}
}

func (c *CLI) printf(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, format, args...)
	return err
}

func (c *CLI) EmitEvent(_ context.Context, ev Event) error {
	switch ev.Type {
	case EventTaskStarted:
		task := ""
		if ev.Context != nil {
			task = ev.Context.CurrentTask
		}
		return c.printf("task: %s\n", strings.TrimSpace(task))

	case EventTaskCompleted:
		ok := ev.Success != nil && *ev.Success
		if ok {
			return c.printf("\ndone: %s\n", strings.TrimSpace(ev.Result))
		}
		return c.printf("\nfailed: %s\n", strings.TrimSpace(ev.Result))

	case EventTaskInterrupted:
		return c.printf("\ninterrupted: %s\n", strings.TrimSpace(ev.Result))

	case EventStepStarted:
		if !c.debug {
			return nil
		}
		return c.printf("-- step %d\n", ev.Step)

	case EventStepCompleted:
		return nil

	case EventToolStarted:
		return c.printf("  [%s] running\n", ev.ToolName)

	case EventToolUpdated:
		if !c.debug {
			return nil
		}
		return c.printf("  [%s] %s\n", ev.ToolName, strings.TrimSpace(ev.Content))

	case EventToolCompleted:
		ok := ev.Success != nil && *ev.Success
		if ok {
			return c.printf("  [%s] ok\n", ev.ToolName)
		}
		return c.printf("  [%s] error: %s\n", ev.ToolName, firstLine(ev.Result))

	case EventThinking:
		if !c.debug {
			return nil
		}
		return c.printf("  (thinking) %s\n", strings.TrimSpace(ev.Content))

	case EventTokenUsage:
		if !c.debug || ev.Usage == nil {
			return nil
		}
		return c.printf("  tokens: in=%d out=%d total=%d\n", ev.Usage.Input, ev.Usage.Output, ev.Usage.Total)

	case EventStatus:
		return c.printf("  %s\n", strings.TrimSpace(ev.Content))

	case EventMessage:
		if ev.Level == LevelDebug && !c.debug {
			return nil
		}
		if ev.Content == "" {
			return nil
		}
		return c.printf("%s\n", ev.Content)

	case EventCompressionStarted:
		if !c.debug {
			return nil
		}
		return c.printf("  compressing history (%s)\n", ev.CompressionLevel)

	case EventCompressionCompleted:
		return c.printf("  history compressed: %d -> %d messages (%s)\n", ev.MessagesBefore, ev.MessagesAfter, ev.CompressionLevel)

	case EventCompressionFailed:
		return c.printf("  compression failed, trimmed history instead\n")

	default:
		if c.debug {
			return c.printf("  event %s\n", ev.Type)
		}
		return nil
	}
}

func (c *CLI) RequestConfirmation(ctx context.Context, req ConfirmationRequest) (ConfirmationDecision, error) {
	if !c.interactive {
		return ConfirmationDecision{Approved: false, Note: "stdin is not a terminal"}, nil
	}
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		summary = req.ToolName
	}
	if err := c.printf("\nallow %s? [y/N] ", summary); err != nil {
		return ConfirmationDecision{}, err
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return ConfirmationDecision{Approved: false, Note: "canceled"}, nil
	case a := <-ch:
		if a.err != nil {
			return ConfirmationDecision{}, a.err
		}
		reply := strings.ToLower(strings.TrimSpace(a.line))
		if reply == "y" || reply == "yes" {
			return ConfirmationDecision{Approved: true}, nil
		}
		return ConfirmationDecision{Approved: false, Note: "denied by user"}, nil
	}
}

func (c *CLI) Flush(_ context.Context) error {
	// Writes are unbuffered; taking the lock waits out any in-flight write.
	c.mu.Lock()
	defer c.mu.Unlock()
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
