// Package llm provides the reasoning providers behind the agent loop.
// Every provider speaks conversation.Message at its boundary; wire
// format conversion happens inside each client.
package llm

import (
	"context"
	"time"

	"github.com/nugget/scholar/internal/conversation"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends one completion request. tools uses the function-calling
	// definition shape produced by tools.Registry.List.
	Chat(ctx context.Context, model string, messages []conversation.Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message conversation.Message

	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Options are generation parameters shared by all providers.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// toolFunction extracts name, description and parameters from one
// tools.Registry.List entry.
func toolFunction(def map[string]any) (name, description string, params map[string]any) {
	fn, _ := def["function"].(map[string]any)
	if fn == nil {
		fn = def
	}
	name, _ = fn["name"].(string)
	description, _ = fn["description"].(string)
	params, _ = fn["parameters"].(map[string]any)
	return name, description, params
}
