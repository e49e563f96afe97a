package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corohq/coro-agent/internal/config"
	"github.com/corohq/coro-agent/internal/llm"
	"github.com/corohq/coro-agent/internal/output"
)

// snapshotVersion is the persisted-context format version.
const snapshotVersion = 1

// agentType identifies this engine family in persisted snapshots.
const agentType = "coro"

// PersistedContext is the self-describing snapshot of an engine: enough
// to rebuild the conversation on a fresh instance.
type PersistedContext struct {
	Version             int                      `json:"version"`
	AgentType           string                   `json:"agent_type"`
	SavedAt             time.Time                `json:"saved_at"`
	Config              *config.Agent            `json:"config,omitempty"`
	ConversationHistory []llm.Message            `json:"conversation_history"`
	ExecutionContext    *output.ExecutionContext `json:"execution_context,omitempty"`
}

// Export captures the engine's current state. Safe to call between
// tasks; calling it mid-run observes a partial step.
func (e *Engine) Export() *PersistedContext {
	if e == nil {
		return nil
	}
	cfg := e.cfg
	snap := &PersistedContext{
		Version:             snapshotVersion,
		AgentType:           agentType,
		SavedAt:             time.Now().UTC(),
		Config:              &cfg,
		ConversationHistory: e.History(),
	}
	if e.execCtx != nil {
		ec := *e.execCtx
		snap.ExecutionContext = &ec
	}
	return snap
}

// Restore adopts a snapshot: configuration only when the snapshot
// carries one, history and execution context unconditionally.
func (e *Engine) Restore(snap *PersistedContext) error {
	if e == nil {
		return errors.New("nil engine")
	}
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Config != nil {
		e.cfg = *snap.Config
		if e.cfg.MaxSteps <= 0 {
			e.cfg.MaxSteps = config.DefaultAgent().MaxSteps
		}
	}
	e.history = append([]llm.Message(nil), snap.ConversationHistory...)
	if snap.ExecutionContext != nil {
		ec := *snap.ExecutionContext
		ec.AgentID = e.id
		e.execCtx = &ec
	} else {
		e.execCtx = nil
	}
	return nil
}

// RestoreHistory replaces only the conversation history. The execution
// context is discarded so stale progress counters cannot leak into the
// next run.
func (e *Engine) RestoreHistory(messages []llm.Message) {
	if e == nil {
		return
	}
	e.history = append([]llm.Message(nil), messages...)
	e.execCtx = nil
}

// Marshal encodes the snapshot as a single JSON document.
func (p *PersistedContext) Marshal() ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.MarshalIndent(p, "", "  ")
}

// UnmarshalSnapshot decodes a snapshot document.
func UnmarshalSnapshot(data []byte) (*PersistedContext, error) {
	var snap PersistedContext
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version == 0 {
		return nil, errors.New("decode snapshot: missing version")
	}
	return &snap, nil
}

// SaveToFile writes the snapshot, creating parent directories as needed.
func (p *PersistedContext) SaveToFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("missing snapshot path")
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshotFile reads a snapshot previously written with SaveToFile.
func LoadSnapshotFile(path string) (*PersistedContext, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(data)
}
