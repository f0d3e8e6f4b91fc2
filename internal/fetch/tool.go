package fetch

import (
	"context"

	"github.com/nugget/scholar/internal/tools"
)

// ToolName is the name the model uses to read a page.
const ToolName = "web_fetch"

// MaxToolChars caps the max_chars argument so one page cannot crowd
// the rest of the conversation out of the context window.
const MaxToolChars = 32000

// NewTool returns the web_fetch tool backed by f.
func NewTool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Read the text of a web page, for example a search result you want to quote or cite.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Page to read. http and https only; a bare host gets https.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters of page text to return. Default 8000, at most 32000.",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			page, _ := args["url"].(string)
			limit := 0
			if n, ok := args["max_chars"].(float64); ok && n > 0 {
				limit = min(int(n), MaxToolChars)
			}
			res, err := f.Fetch(ctx, page, limit)
			if err != nil {
				return "", err
			}
			return res.String(), nil
		},
	}
}
