package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputMode controls how much the CLI output surface shows.
type OutputMode string

const (
	OutputModeNormal OutputMode = "normal"
	OutputModeDebug  OutputMode = "debug"
)

// Provider configures one model provider.
//
// Notes:
//   - Type is one of: "anthropic" | "openai" | "openai_compatible".
//   - APIKey may be set inline or resolved indirectly via APIKeyEnv.
//     Keys are never logged and never written back to disk.
type Provider struct {
	ID        string `json:"id" yaml:"id"`
	Type      string `json:"type" yaml:"type"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model     string `json:"model" yaml:"model"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// ResolveAPIKey returns the inline key or the value of APIKeyEnv.
func (p Provider) ResolveAPIKey() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if env := strings.TrimSpace(p.APIKeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Agent configures engine behavior for one agent instance.
type Agent struct {
	MaxSteps           int        `json:"max_steps" yaml:"max_steps"`
	EnableExtendedView bool       `json:"enable_extended_view" yaml:"enable_extended_view"`
	Tools              []string   `json:"tools" yaml:"tools"`
	OutputMode         OutputMode `json:"output_mode,omitempty" yaml:"output_mode,omitempty"`

	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt *string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Config is the full agent configuration surface.
type Config struct {
	Providers       []Provider `json:"providers" yaml:"providers"`
	DefaultProvider string     `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	Agent           Agent      `json:"agent" yaml:"agent"`

	// TrajectoryDir is where auto-named trajectory files are written.
	TrajectoryDir string `json:"trajectory_dir,omitempty" yaml:"trajectory_dir,omitempty"`
	// StateDir holds local state (session snapshots database).
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
}

// DefaultConfigPath is where the CLI looks for config when -config is not set.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".coro", "config.yaml")
}

// DefaultStateDir holds local state (session snapshots) when the config
// does not name one.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coro"
	}
	return filepath.Join(home, ".coro")
}

// DefaultAgent mirrors the defaults a bare config starts from.
func DefaultAgent() Agent {
	return Agent{
		MaxSteps:           200,
		EnableExtendedView: true,
		Tools:              []string{"sequentialthinking", "task_done"},
		OutputMode:         OutputModeNormal,
	}
}

// Load reads a config file. The format follows the extension: .yaml/.yml
// parse as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing config path")
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}

	cfg := Config{Agent: DefaultAgent()}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants. It does not resolve API keys.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if len(c.Providers) == 0 {
		return errors.New("config: at least one provider is required")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.ID == "" {
			return fmt.Errorf("config: provider %d is missing id", i)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		switch p.Type {
		case "anthropic", "openai", "openai_compatible":
		default:
			return fmt.Errorf("config: provider %q has unsupported type %q", p.ID, p.Type)
		}
		if p.Type == "openai_compatible" && strings.TrimSpace(p.BaseURL) == "" {
			return fmt.Errorf("config: provider %q requires base_url", p.ID)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("config: provider %q is missing model", p.ID)
		}
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = DefaultAgent().MaxSteps
	}
	if c.Agent.OutputMode == "" {
		c.Agent.OutputMode = OutputModeNormal
	}
	return nil
}

// ResolveProvider returns the provider with the given id, or the default
// provider (explicit default_provider, else the first entry) when id is empty.
func (c *Config) ResolveProvider(id string) (Provider, error) {
	if c == nil || len(c.Providers) == 0 {
		return Provider{}, errors.New("no providers configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = strings.TrimSpace(c.DefaultProvider)
	}
	if id == "" {
		return c.Providers[0], nil
	}
	for _, p := range c.Providers {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("unknown provider %q", id)
}
