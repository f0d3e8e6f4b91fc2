// Package wikipedia looks up encyclopedia articles through the
// MediaWiki action API and returns their introductions.
package wikipedia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/fetch"
	"github.com/nugget/scholar/internal/httpkit"
	"github.com/nugget/scholar/internal/tools"
)

const (
	DefaultBaseURL  = "https://en.wikipedia.org/w/api.php"
	DefaultTopK     = 3
	DefaultMaxChars = 1000
)

// NoResults is returned when the search matches no article.
const NoResults = "No good Wikipedia Search Result was found"

// Page is an article introduction.
type Page struct {
	Title   string
	Summary string
}

// Client queries one MediaWiki installation.
type Client struct {
	baseURL    string
	topK       int
	maxChars   int
	httpClient *http.Client
}

// New creates a Client. Zero values select the defaults; opts are
// applied after the client's own HTTP settings.
func New(baseURL string, topK, maxChars int, opts ...httpkit.ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Client{
		baseURL:  baseURL,
		topK:     topK,
		maxChars: maxChars,
		httpClient: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(20 * time.Second),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithGatewayRetry(),
		}, opts...)...),
	}
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type extractsResponse struct {
	Query struct {
		Redirects []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"redirects"`
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// Lookup searches for query and returns the introductions of the top
// matching articles, in search rank order.
func (c *Client) Lookup(ctx context.Context, query string) ([]Page, error) {
	var sr searchResponse
	err := c.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(c.topK)},
		"srprop":   {""},
	}, &sr)
	if err != nil {
		return nil, err
	}
	if len(sr.Query.Search) == 0 {
		return nil, nil
	}

	titles := make([]string, 0, len(sr.Query.Search))
	for _, s := range sr.Query.Search {
		titles = append(titles, s.Title)
	}

	var er extractsResponse
	err = c.get(ctx, url.Values{
		"action":    {"query"},
		"prop":      {"extracts"},
		"exintro":   {"1"},
		"redirects": {"1"},
		"titles":    {strings.Join(titles, "|")},
	}, &er)
	if err != nil {
		return nil, err
	}

	byTitle := make(map[string]string, len(er.Query.Pages))
	for _, p := range er.Query.Pages {
		if !p.Missing {
			byTitle[p.Title] = fetch.ExtractText(p.Extract)
		}
	}
	redirect := make(map[string]string, len(er.Query.Redirects))
	for _, r := range er.Query.Redirects {
		redirect[r.From] = r.To
	}

	pages := make([]Page, 0, len(titles))
	for _, title := range titles {
		if to, ok := redirect[title]; ok {
			title = to
		}
		summary, ok := byTitle[title]
		if !ok || summary == "" {
			continue
		}
		pages = append(pages, Page{Title: title, Summary: summary})
	}
	return pages, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("wikipedia: build request: %w", err)
	}
	return httpkit.DoJSON(c.httpClient, "wikipedia", req, out)
}

// Format renders pages as the tool output, capped at the configured
// number of characters in total.
func (c *Client) Format(pages []Page) string {
	if len(pages) == 0 {
		return NoResults
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("Page: %s\nSummary: %s", p.Title, p.Summary))
	}
	out := strings.Join(parts, "\n\n")
	if r := []rune(out); len(r) > c.maxChars {
		out = string(r[:c.maxChars])
	}
	return out
}

// ToolName is the name the model uses for encyclopedia lookups.
const ToolName = "wikipedia"

// ToolHandler returns the wikipedia handler.
func ToolHandler(c *Client) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", tools.InvalidInput(errors.New("query is required"))
		}
		pages, err := c.Lookup(ctx, query)
		if err != nil {
			return "", tools.FromHTTP(err)
		}
		return c.Format(pages), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the wikipedia tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Topic, person, event or term to look up.",
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

// NewTool returns the wikipedia tool.
func NewTool(c *Client) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Look up general knowledge, definitions and historical facts on Wikipedia. Returns article introductions.",
		Parameters:  ToolDefinition(),
		Handler:     ToolHandler(c),
	}
}
