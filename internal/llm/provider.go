package llm

import (
	"fmt"
	"log/slog"

	"github.com/nugget/scholar/internal/config"
)

// NewFromConfig builds the provider client selected by cfg.
func NewFromConfig(cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	opts := Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, opts, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, opts, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
