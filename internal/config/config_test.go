package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_NoneFound(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := FindConfig("")
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig(\"\") error = %v, want ErrNoConfig", err)
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "scholar.yaml"), []byte("listen:\n  port: 8080\n"), 0600)
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "scholar.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "scholar.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("search:\n  tavily:\n    api_key: ${SCHOLAR_TEST_TOKEN}\n"), 0600)
	t.Setenv("SCHOLAR_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Search.Tavily.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Search.Tavily.APIKey, "secret123")
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
listen:
  port: 9090
data_dir: /var/lib/scholar
model:
  provider: anthropic
  name: claude-test
  api_key: sk-ant-test
agent:
  max_steps: 5
  reason_timeout: 45s
  tool_timeout: 10s
  max_parallel_tools: 1
checkpoint:
  driver: sqlite
  compression: none
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.ListenAddr() != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.Model.Provider != "anthropic" || cfg.Model.Name != "claude-test" || cfg.Model.APIKey != "sk-ant-test" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Agent.MaxSteps != 5 || cfg.Agent.MaxParallelTools != 1 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Agent.ReasonTimeout != 45*time.Second || cfg.Agent.ToolTimeout != 10*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.Agent.ReasonTimeout, cfg.Agent.ToolTimeout)
	}
	if cfg.Checkpoint.Path != filepath.Join("/var/lib/scholar", "checkpoints.db") {
		t.Errorf("checkpoint path = %q", cfg.Checkpoint.Path)
	}
	if cfg.Checkpoint.Compression != "none" {
		t.Errorf("compression = %q", cfg.Checkpoint.Compression)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("listen: [unclosed\n"), 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Model.Provider != "openai" || cfg.Model.Name != "llama-3.3-70b-versatile" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Model.BaseURL != "https://api.groq.com/openai/v1" || cfg.Model.APIKey != "gsk-test" {
		t.Errorf("groq defaults = %q %q", cfg.Model.BaseURL, cfg.Model.APIKey)
	}
	if cfg.Agent.MaxSteps != 25 {
		t.Errorf("max_steps = %d, want 25", cfg.Agent.MaxSteps)
	}
	if cfg.Arxiv.MaxResults != 2 || cfg.Arxiv.SummaryChars != 600 {
		t.Errorf("arxiv = %+v", cfg.Arxiv)
	}
	if cfg.Wikipedia.TopK != 3 || cfg.Wikipedia.MaxChars != 1000 {
		t.Errorf("wikipedia = %+v", cfg.Wikipedia)
	}
	if cfg.Search.Tavily.MaxResults != 3 || cfg.Search.Tavily.SearchDepth != "basic" {
		t.Errorf("tavily = %+v", cfg.Search.Tavily)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Model.Provider = "bard" }, "model.provider"},
		{"driver", func(c *Config) { c.Checkpoint.Driver = "postgres" }, "checkpoint.driver"},
		{"compression", func(c *Config) { c.Checkpoint.Compression = "lz4" }, "checkpoint.compression"},
		{"steps", func(c *Config) { c.Agent.MaxSteps = -1 }, "agent.max_steps"},
		{"parallel", func(c *Config) { c.Agent.MaxParallelTools = -2 }, "agent.max_parallel_tools"},
		{"search", func(c *Config) { c.Search.Provider = "altavista" }, "search.provider"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "payload")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output = %q, want level=TRACE", buf.String())
	}
	if !strings.Contains(buf.String(), "source=") {
		t.Errorf("trace output = %q, want source location", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, slog.LevelInfo, "json").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") || strings.Contains(buf.String(), `"source"`) {
		t.Errorf("json output = %q", buf.String())
	}
}
