package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"

	"github.com/corohq/coro-agent/internal/config"
)

// NewClient selects a provider adapter for the given configuration.
// Unsupported types and missing credentials are setup errors.
func NewClient(cfg config.Provider) (Client, error) {
	providerType := strings.ToLower(strings.TrimSpace(cfg.Type))
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, &Error{Kind: ErrKindAuth, Provider: cfg.ID, Message: "missing api key"}
	}
	switch providerType {
	case "anthropic":
		return newAnthropicClient(cfg, apiKey), nil
	case "openai", "openai_compatible":
		return newOpenAIClient(cfg, apiKey), nil
	default:
		return nil, &Error{Kind: ErrKindUnsupported, Provider: cfg.ID, Message: "unsupported provider type " + providerType}
	}
}

// classifyProviderError maps SDK failures into the transport taxonomy.
// Context cancellation passes through untouched so the engine can tell
// interruption apart from transport failure.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return &Error{Kind: classifyStatus(aerr.StatusCode), Provider: provider, Status: aerr.StatusCode, Message: err.Error()}
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return &Error{Kind: classifyStatus(oerr.StatusCode), Provider: provider, Status: oerr.StatusCode, Message: err.Error()}
	}
	return &Error{Kind: ErrKindNetwork, Provider: provider, Message: err.Error()}
}

func collectSystemText(messages []Message) string {
	parts := make([]string, 0, 2)
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			continue
		}
		if txt := strings.TrimSpace(msg.Text()); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}

// sanitizeProviderToolName rewrites a tool name into the restricted
// character set providers accept; unknown characters become underscores.
func sanitizeProviderToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var sb strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z':
			sb.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			sb.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			sb.WriteRune(ch)
		case ch == '_' || ch == '-':
			sb.WriteRune(ch)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_-")
	if out == "" {
		return "tool"
	}
	return out
}

func toStringSlice(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, _ := item.(string)
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func optTemperature(opts *Options) *float64 {
	if opts == nil {
		return nil
	}
	return opts.Temperature
}

func optTopP(opts *Options) *float64 {
	if opts == nil {
		return nil
	}
	return opts.TopP
}

func pickFloat(primary, fallback *float64) *float64 {
	if primary != nil {
		return primary
	}
	return fallback
}
