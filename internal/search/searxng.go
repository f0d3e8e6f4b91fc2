package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/httpkit"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON
// output format, which must be enabled in the instance settings.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider for the instance root URL
// (e.g., "http://localhost:8080").
func NewSearXNG(baseURL string, opts ...httpkit.ClientOption) *SearXNG {
	return &SearXNG{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(15 * time.Second),
		}, opts...)...),
	}
}

// Name implements Provider.
func (s *SearXNG) Name() string { return "searxng" }

// Search implements Provider. SearXNG has no count parameter, so the
// result list is trimmed here. Its first instant answer, if any,
// becomes the response answer.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}

	var body struct {
		Answers []string `json:"answers"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := httpkit.DoJSON(s.httpClient, "searxng", req, &body); err != nil {
		return nil, err
	}

	count := countOr(opts.Count, 5)
	out := &Response{Results: make([]Result, 0, min(count, len(body.Results)))}
	if len(body.Answers) > 0 {
		out.Answer = strings.TrimSpace(body.Answers[0])
	}
	for _, r := range body.Results {
		if len(out.Results) == count {
			break
		}
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
