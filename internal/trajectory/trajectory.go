package trajectory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corohq/coro-agent/internal/llm"
)

// Entry variants.
const (
	EntryTaskStart    = "task_start"
	EntryLLMRequest   = "llm_request"
	EntryLLMResponse  = "llm_response"
	EntryToolCall     = "tool_call"
	EntryToolResult   = "tool_result"
	EntryStepComplete = "step_complete"
	EntryError        = "error"
	EntryTaskComplete = "task_complete"
)

var (
	// ErrNotFound means the trajectory file does not exist.
	ErrNotFound = errors.New("trajectory not found")
	// ErrInvalidFormat means the file exists but is not a trajectory document.
	ErrInvalidFormat = errors.New("invalid trajectory format")
)

// Entry is one immutable journal record. The wire shape is a flat
// object with a "type" discriminator; unused fields are omitted.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Step      int       `json:"step,omitempty"`
	Type      string    `json:"type"`

	// task_start / task_complete
	Task        string `json:"task,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	FinalResult string `json:"final_result,omitempty"`

	// llm_request
	Messages []llm.Message `json:"messages,omitempty"`
	Tools    []string      `json:"tools,omitempty"`

	// llm_response
	Response *llm.Response `json:"response,omitempty"`

	// tool_call / tool_result
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Content    string          `json:"content,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Document is the persisted trajectory shape.
type Document struct {
	ID      string  `json:"id"`
	Entries []Entry `json:"entries"`
}

// Metadata is the derived view over a trajectory. It is computed by
// scanning entries, never stored on its own.
type Metadata struct {
	ID         string     `json:"id"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Task       string     `json:"task,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	Steps      int        `json:"steps"`
}

// Recorder is an append-only journal safe for concurrent appenders.
// When a file path is attached, the full document is rewritten after
// every append so a crash loses at most the in-flight entry.
type Recorder struct {
	mu      sync.Mutex
	id      string
	path    string
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{id: uuid.NewString()}
}

// NewRecorderWithFile persists to the given path on every append.
func NewRecorderWithFile(path string) *Recorder {
	r := NewRecorder()
	r.path = strings.TrimSpace(path)
	return r
}

// NewRecorderInDir persists to an auto-named file under dir.
func NewRecorderInDir(dir string) *Recorder {
	name := fmt.Sprintf("trajectory_%s.json", time.Now().UTC().Format("20060102_150405"))
	return NewRecorderWithFile(filepath.Join(strings.TrimSpace(dir), name))
}

// Record appends one entry, assigning id and timestamp when absent.
// With a file attached the append is durable before Record returns.
func (r *Recorder) Record(entry Entry) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if r.path == "" {
		return nil
	}
	return r.saveLocked()
}

func (r *Recorder) saveLocked() error {
	doc := Document{ID: r.id, Entries: r.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trajectory: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trajectory dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory: %w", err)
	}
	return nil
}

// Path returns the attached file path, "" when in-memory only.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Entries returns a copy of the recorded entries in order.
func (r *Recorder) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Metadata derives the summary view from the current entries.
func (r *Recorder) Metadata() Metadata {
	if r == nil {
		return Metadata{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return deriveMetadata(r.id, r.entries)
}

// Load reads a persisted trajectory. A missing file yields ErrNotFound;
// unparseable content yields ErrInvalidFormat.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if doc.ID == "" && doc.Entries == nil {
		return nil, fmt.Errorf("%w: missing id and entries", ErrInvalidFormat)
	}
	return &doc, nil
}

// Metadata derives the summary view for a loaded document.
func (d *Document) Metadata() Metadata {
	if d == nil {
		return Metadata{}
	}
	return deriveMetadata(d.ID, d.Entries)
}

func deriveMetadata(id string, entries []Entry) Metadata {
	meta := Metadata{ID: id}
	for i := range entries {
		e := &entries[i]
		if e.Step > meta.Steps {
			meta.Steps = e.Step
		}
		switch e.Type {
		case EntryTaskStart:
			if meta.StartTime == nil {
				ts := e.Timestamp
				meta.StartTime = &ts
				meta.Task = e.Task
			}
		case EntryTaskComplete:
			ts := e.Timestamp
			meta.EndTime = &ts
			meta.Success = e.Success
		}
	}
	if meta.StartTime != nil && meta.EndTime != nil {
		meta.DurationMs = meta.EndTime.Sub(*meta.StartTime).Milliseconds()
	}
	return meta
}
