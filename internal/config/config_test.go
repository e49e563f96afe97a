package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
providers:
  - id: main
    type: anthropic
    model: claude-sonnet-4-5
    api_key_env: ANTHROPIC_API_KEY
default_provider: main
agent:
  max_steps: 50
  tools: [sequentialthinking, task_done]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Agent.MaxSteps != 50 {
		t.Fatalf("got=%d, want=50", cfg.Agent.MaxSteps)
	}
	p, err := cfg.ResolveProvider("")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if p.ID != "main" || p.Type != "anthropic" {
		t.Fatalf("unexpected provider: %+v", p)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
  "providers": [{"id": "gw", "type": "openai_compatible", "base_url": "https://llm.internal/v1", "model": "m1"}]
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Agent.MaxSteps != DefaultAgent().MaxSteps {
		t.Fatalf("defaults must apply when agent section is absent")
	}
	if cfg.Providers[0].BaseURL == "" {
		t.Fatalf("base_url lost")
	}
}

func TestValidateRejectsBadProviders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "no providers",
			cfg:  Config{},
			want: "at least one provider",
		},
		{
			name: "unknown type",
			cfg:  Config{Providers: []Provider{{ID: "a", Type: "gemini", Model: "m"}}},
			want: "unsupported type",
		},
		{
			name: "compatible without base_url",
			cfg:  Config{Providers: []Provider{{ID: "a", Type: "openai_compatible", Model: "m"}}},
			want: "requires base_url",
		},
		{
			name: "duplicate ids",
			cfg: Config{Providers: []Provider{
				{ID: "a", Type: "openai", Model: "m"},
				{ID: "a", Type: "openai", Model: "m"},
			}},
			want: "duplicate provider",
		},
		{
			name: "missing model",
			cfg:  Config{Providers: []Provider{{ID: "a", Type: "anthropic"}}},
			want: "missing model",
		},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got=%v, want error containing %q", tc.name, err, tc.want)
		}
	}
}

func TestResolveAPIKeyPrefersInline(t *testing.T) {
	t.Setenv("CORO_TEST_KEY", "from-env")
	p := Provider{APIKey: "inline", APIKeyEnv: "CORO_TEST_KEY"}
	if got := p.ResolveAPIKey(); got != "inline" {
		t.Fatalf("got=%q, want inline key", got)
	}
	p.APIKey = ""
	if got := p.ResolveAPIKey(); got != "from-env" {
		t.Fatalf("got=%q, want env key", got)
	}
}

func TestResolveProviderByID(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Providers:       []Provider{{ID: "a", Type: "openai", Model: "m"}, {ID: "b", Type: "anthropic", Model: "m"}},
		DefaultProvider: "b",
	}
	p, err := cfg.ResolveProvider("")
	if err != nil || p.ID != "b" {
		t.Fatalf("default resolution failed: %+v %v", p, err)
	}
	p, err = cfg.ResolveProvider("a")
	if err != nil || p.ID != "a" {
		t.Fatalf("explicit resolution failed: %+v %v", p, err)
	}
	if _, err := cfg.ResolveProvider("nope"); err == nil {
		t.Fatalf("unknown id must fail")
	}
}
