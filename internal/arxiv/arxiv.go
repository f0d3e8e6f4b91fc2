// Package arxiv searches the arXiv preprint server through its Atom
// query API and formats papers for the model.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/httpkit"
	"github.com/nugget/scholar/internal/tools"
)

const (
	// DefaultBaseURL is the public query endpoint.
	DefaultBaseURL = "https://export.arxiv.org/api/query"
	// DefaultMaxResults keeps requests small; larger pages trip the
	// API's rate limiter.
	DefaultMaxResults = 2
	// DefaultSummaryChars caps each abstract.
	DefaultSummaryChars = 600

	maxAuthors = 3
)

// RateLimitAdvice is returned to the model when arXiv answers 429.
const RateLimitAdvice = "ArXiv is rate limiting requests right now (too many requests). " +
	"Try again in 30 seconds, or use a more specific query."

// NoResults is returned when a query matches nothing.
const NoResults = "No papers found for this query. Try different keywords."

// Paper is one search hit.
type Paper struct {
	ID        string
	Title     string
	Authors   []string
	Published time.Time
	Summary   string
}

// Client queries arXiv.
type Client struct {
	baseURL      string
	maxResults   int
	summaryChars int
	httpClient   *http.Client
}

// New creates a Client. Zero values select the defaults; opts are
// applied after the client's own HTTP settings.
func New(baseURL string, maxResults, summaryChars int, opts ...httpkit.ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if summaryChars <= 0 {
		summaryChars = DefaultSummaryChars
	}
	return &Client{
		baseURL:      baseURL,
		maxResults:   maxResults,
		summaryChars: summaryChars,
		httpClient: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(30 * time.Second),
			httpkit.WithRetry(1, 3*time.Second),
		}, opts...)...),
	}
}

type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// Search returns up to the configured number of papers, most relevant
// first.
func (c *Client) Search(ctx context.Context, query string) ([]Paper, error) {
	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(c.maxResults)},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := httpkit.CheckResponse("arxiv", resp); err != nil {
		return nil, err
	}

	var f feed
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	papers := make([]Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		// arXiv reports query errors as a single entry with an error id.
		if strings.Contains(e.ID, "/api/errors") {
			return nil, tools.InvalidInput(fmt.Errorf("arxiv rejected the query: %s", collapse(e.Summary)))
		}
		p := Paper{
			ID:      strings.TrimSpace(e.ID),
			Title:   collapse(e.Title),
			Summary: collapse(e.Summary),
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// Format renders papers the way the tool reports them.
func (c *Client) Format(papers []Paper) string {
	if len(papers) == 0 {
		return NoResults
	}
	parts := make([]string, 0, len(papers))
	for _, p := range papers {
		summary := p.Summary
		if r := []rune(summary); len(r) > c.summaryChars {
			summary = string(r[:c.summaryChars]) + "..."
		}
		authors := p.Authors
		if len(authors) > maxAuthors {
			authors = authors[:maxAuthors]
		}
		published := "unknown"
		if !p.Published.IsZero() {
			published = p.Published.Format(time.DateOnly)
		}
		parts = append(parts, fmt.Sprintf("Title: %s\nAuthors: %s\nPublished: %s\nSummary: %s\nURL: %s\n",
			p.Title, strings.Join(authors, ", "), published, summary, p.ID))
	}
	return strings.Join(parts, "\n---\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ToolName is the name the model uses for paper search.
const ToolName = "arxiv_search"

// ToolHandler returns the arxiv_search handler.
func ToolHandler(c *Client) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", tools.InvalidInput(errors.New("query is required"))
		}
		papers, err := c.Search(ctx, query)
		if err != nil {
			var se *httpkit.StatusError
			if errors.As(err, &se) && se.RateLimited() {
				return "", tools.RateLimited(errors.New(RateLimitAdvice))
			}
			return "", tools.FromHTTP(err)
		}
		return c.Format(papers), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for arxiv_search.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": `Search query, e.g. "small language models 2024".`,
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

// NewTool returns the arxiv_search tool.
func NewTool(c *Client) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Search arXiv for academic papers. Use for scientific research and technical topics. Returns titles, authors, dates, abstracts and URLs.",
		Parameters:  ToolDefinition(),
		Handler:     ToolHandler(c),
	}
}
