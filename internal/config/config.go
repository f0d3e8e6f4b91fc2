// Package config handles scholar configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./scholar.yaml, ~/.config/scholar/config.yaml, /etc/scholar/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"scholar.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "scholar", "config.yaml"))
	}

	paths = append(paths, "/etc/scholar/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or ErrNoConfig if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// ErrNoConfig is returned by FindConfig when no file exists on the
// search path. Callers usually fall back to Default.
var ErrNoConfig = errors.New("no config file found")

// Config holds all scholar configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
	Model      ModelConfig      `yaml:"model"`
	Agent      AgentConfig      `yaml:"agent"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Search     SearchConfig     `yaml:"search"`
	Arxiv      ArxivConfig      `yaml:"arxiv"`
	Wikipedia  WikipediaConfig  `yaml:"wikipedia"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig selects the reasoning provider.
type ModelConfig struct {
	Provider     string  `yaml:"provider"` // openai, anthropic, ollama
	Name         string  `yaml:"name"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"` // overrides the built-in prompt
}

// AgentConfig bounds a single run of the reasoning loop.
type AgentConfig struct {
	// MaxSteps is the number of committed reason/act steps after which
	// a run is closed with a limit message.
	MaxSteps      int           `yaml:"max_steps"`
	ReasonTimeout time.Duration `yaml:"reason_timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	// MaxParallelTools caps concurrent tool calls within one batch.
	// 1 dispatches strictly in order.
	MaxParallelTools int `yaml:"max_parallel_tools"`
	// ConflictRetries is how many times a run is retried from the new
	// head after losing a write race.
	ConflictRetries int `yaml:"conflict_retries"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Driver      string `yaml:"driver"` // sqlite3, sqlite, memory
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"` // zstd, none
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Provider string        `yaml:"provider"` // tavily, brave, searxng
	Tavily   TavilyConfig  `yaml:"tavily"`
	Brave    BraveConfig   `yaml:"brave"`
	SearXNG  SearXNGConfig `yaml:"searxng"`
}

// TavilyConfig holds Tavily credentials and query defaults.
type TavilyConfig struct {
	APIKey      string `yaml:"api_key"`
	MaxResults  int    `yaml:"max_results"`
	SearchDepth string `yaml:"search_depth"`
}

// BraveConfig holds Brave Search credentials.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// ArxivConfig configures the arxiv_search tool.
type ArxivConfig struct {
	BaseURL      string `yaml:"base_url"`
	MaxResults   int    `yaml:"max_results"`
	SummaryChars int    `yaml:"summary_chars"`
}

// WikipediaConfig configures the wikipedia tool.
type WikipediaConfig struct {
	BaseURL  string `yaml:"base_url"` // MediaWiki api.php endpoint
	TopK     int    `yaml:"top_k"`
	MaxChars int    `yaml:"max_chars"`
}

// MQTTConfig enables mirroring checkpoint commits to a broker. Empty
// Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, and fills defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values. Provider credentials fall back to
// the conventional environment variables.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	switch c.Model.Provider {
	case "openai":
		if c.Model.BaseURL == "" && c.Model.APIKey == "" && os.Getenv("OPENAI_API_KEY") != "" && os.Getenv("GROQ_API_KEY") == "" {
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
			c.Model.BaseURL = "https://api.openai.com/v1"
		}
		if c.Model.BaseURL == "" {
			c.Model.BaseURL = "https://api.groq.com/openai/v1"
		}
		if c.Model.APIKey == "" {
			c.Model.APIKey = os.Getenv("GROQ_API_KEY")
		}
		if c.Model.Name == "" {
			c.Model.Name = "llama-3.3-70b-versatile"
		}
	case "anthropic":
		if c.Model.APIKey == "" {
			c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if c.Model.Name == "" {
			c.Model.Name = "claude-sonnet-4-5"
		}
	case "ollama":
		if c.Model.BaseURL == "" {
			c.Model.BaseURL = "http://localhost:11434"
		}
		if c.Model.Name == "" {
			c.Model.Name = "qwen3:4b"
		}
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}

	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 25
	}
	if c.Agent.ReasonTimeout == 0 {
		c.Agent.ReasonTimeout = 2 * time.Minute
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 30 * time.Second
	}
	if c.Agent.MaxParallelTools == 0 {
		c.Agent.MaxParallelTools = 4
	}
	if c.Agent.ConflictRetries == 0 {
		c.Agent.ConflictRetries = 1
	}

	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = "sqlite3"
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = filepath.Join(c.DataDir, "checkpoints.db")
	}
	if c.Checkpoint.Compression == "" {
		c.Checkpoint.Compression = "zstd"
	}

	if c.Search.Tavily.APIKey == "" {
		c.Search.Tavily.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if c.Search.Brave.APIKey == "" {
		c.Search.Brave.APIKey = os.Getenv("BRAVE_API_KEY")
	}
	if c.Search.Tavily.MaxResults == 0 {
		c.Search.Tavily.MaxResults = 3
	}
	if c.Search.Tavily.SearchDepth == "" {
		c.Search.Tavily.SearchDepth = "basic"
	}

	if c.Arxiv.BaseURL == "" {
		c.Arxiv.BaseURL = "https://export.arxiv.org/api/query"
	}
	if c.Arxiv.MaxResults == 0 {
		c.Arxiv.MaxResults = 2
	}
	if c.Arxiv.SummaryChars == 0 {
		c.Arxiv.SummaryChars = 600
	}

	if c.Wikipedia.BaseURL == "" {
		c.Wikipedia.BaseURL = "https://en.wikipedia.org/w/api.php"
	}
	if c.Wikipedia.TopK == 0 {
		c.Wikipedia.TopK = 3
	}
	if c.Wikipedia.MaxChars == 0 {
		c.Wikipedia.MaxChars = 1000
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "scholar"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "scholar"
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name: required"))
	}

	switch c.Checkpoint.Driver {
	case "sqlite3", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver: unknown driver %q", c.Checkpoint.Driver))
	}
	switch c.Checkpoint.Compression {
	case "zstd", "none":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.compression: unknown codec %q", c.Checkpoint.Compression))
	}

	if c.Agent.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("agent.max_steps: must be positive, got %d", c.Agent.MaxSteps))
	}
	if c.Agent.MaxParallelTools < 1 {
		errs = append(errs, fmt.Errorf("agent.max_parallel_tools: must be positive, got %d", c.Agent.MaxParallelTools))
	}
	if c.Agent.ReasonTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		errs = append(errs, errors.New("agent: timeouts must be positive"))
	}
	if c.Agent.ConflictRetries < 0 {
		errs = append(errs, errors.New("agent.conflict_retries: must not be negative"))
	}

	switch c.Search.Provider {
	case "", "tavily", "brave", "searxng":
	default:
		errs = append(errs, fmt.Errorf("search.provider: unknown provider %q", c.Search.Provider))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the host:port the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
