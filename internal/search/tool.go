package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/scholar/internal/tools"
)

// ToolName is the name the model uses for web search.
const ToolName = "web_search"

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Manager's search method for use as an agent tool.
func ToolHandler(mgr *Manager) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", tools.InvalidInput(errors.New("query is required"))
		}

		opts := Options{}

		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = min(int(count), 10)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		// Allow explicit provider selection, fall back to primary.
		var resp *Response
		var err error
		if provider, ok := args["provider"].(string); ok && provider != "" {
			resp, err = mgr.SearchWith(ctx, provider, query, opts)
		} else {
			resp, err = mgr.Search(ctx, query, opts)
		}
		if errors.Is(err, ErrUnknownProvider) {
			return "", tools.InvalidInput(fmt.Errorf("%w (available: %s)", err, strings.Join(mgr.Providers(), ", ")))
		}
		if err != nil {
			return "", tools.FromHTTP(err)
		}
		return FormatResults(resp), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10). Default: 3.",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Search provider to use. Omit for default.",
			},
		},
		"required": []string{"query"},
	}
}

// NewTool returns the web_search tool backed by mgr.
func NewTool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Search the web for current information, news and recent events. Returns titles, URLs and snippets to cite.",
		Parameters:  ToolDefinition(),
		Handler:     ToolHandler(mgr),
	}
}
