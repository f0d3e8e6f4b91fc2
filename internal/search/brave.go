package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/httpkit"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search web API.
type Brave struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider. An empty endpoint selects
// the public API.
func NewBrave(apiKey, endpoint string, opts ...httpkit.ClientOption) *Brave {
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &Brave{
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(15 * time.Second),
		}, opts...)...),
	}
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

// Search implements Provider. Brave has no synthesized answer.
func (b *Brave) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	params := url.Values{"q": {query}, "count": {strconv.Itoa(countOr(opts.Count, 5))}}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := httpkit.DoJSON(b.httpClient, "brave", req, &body); err != nil {
		return nil, err
	}

	out := &Response{Results: make([]Result, 0, len(body.Web.Results))}
	for _, r := range body.Web.Results {
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func countOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
