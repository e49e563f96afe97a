package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/corohq/coro-agent/internal/llm"
)

// Registry holds the tool set available to one agent instance.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the old tool.
func (r *Registry) Register(tool Tool) error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	if tool == nil {
		return fmt.Errorf("nil tool")
	}
	name := strings.TrimSpace(tool.Definition().Name)
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[strings.TrimSpace(name)]
	return tool, ok
}

// Definitions returns all registered tool definitions in name order.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProviderDefinitions returns the wire-level schemas in name order.
func (r *Registry) ProviderDefinitions() []llm.ToolDefinition {
	defs := r.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, ProviderDefinition(def))
	}
	return out
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	out := make([]string, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Name)
	}
	return out
}

// IsCompletionSignal reports whether name is a registered completion-signal tool.
func (r *Registry) IsCompletionSignal(name string) bool {
	tool, ok := r.Lookup(name)
	return ok && tool.Definition().CompletionSignal
}

// IsThoughtStream reports whether name is a registered thought-stream tool.
func (r *Registry) IsThoughtStream(name string) bool {
	tool, ok := r.Lookup(name)
	return ok && tool.Definition().ThoughtStream
}

// Execute runs one call against the registry. Unknown tools and tool
// panics surface as error results so the task can continue.
func (r *Registry) Execute(ctx context.Context, call Call) (res Result) {
	name := strings.TrimSpace(call.Name)
	tool, ok := r.Lookup(name)
	if !ok {
		return errorResult(call, fmt.Sprintf("unknown tool %q", name))
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = errorResult(call, fmt.Sprintf("tool %s panicked: %v", name, rec))
		}
	}()
	if err := ctx.Err(); err != nil {
		return errorResult(call, fmt.Sprintf("tool %s not executed: %v", name, err))
	}
	res = tool.Execute(ctx, call)
	if strings.TrimSpace(res.ToolUseID) == "" {
		res.ToolUseID = call.ID
	}
	return res
}
