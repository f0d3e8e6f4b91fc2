package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/httpkit"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily implements the Provider interface for the Tavily search API,
// which returns a short synthesized answer along with its results.
type Tavily struct {
	apiKey     string
	endpoint   string
	maxResults int
	depth      string
	httpClient *http.Client
}

// NewTavily creates a Tavily provider. maxResults and depth are the
// defaults for queries that do not set a count; an empty endpoint
// selects the public API. opts are applied after the provider's own
// client settings.
func NewTavily(apiKey, endpoint string, maxResults int, depth string, opts ...httpkit.ClientOption) *Tavily {
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		maxResults: maxResults,
		depth:      depth,
		httpClient: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(30 * time.Second),
		}, opts...)...),
	}
}

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider. Tavily always returns its synthesized
// answer alongside the results.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	payload, err := json.Marshal(tavilyRequest{
		Query:         query,
		MaxResults:    countOr(opts.Count, t.maxResults),
		SearchDepth:   t.depth,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	var body tavilyResponse
	if err := httpkit.DoJSON(t.httpClient, "tavily", req, &body); err != nil {
		return nil, err
	}

	out := &Response{
		Answer:  strings.TrimSpace(body.Answer),
		Results: make([]Result, 0, len(body.Results)),
	}
	for _, r := range body.Results {
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
