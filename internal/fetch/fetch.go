// Package fetch downloads web pages and extracts their readable text so
// the model can read and cite a source.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/scholar/internal/httpkit"
	"github.com/nugget/scholar/internal/tools"
)

const (
	// DefaultTimeout bounds one page download.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes is the maximum response body size (5 MB).
	DefaultMaxBytes int64 = 5 * 1024 * 1024
	// DefaultMaxChars is the default character limit for extracted text.
	DefaultMaxChars = 8000
)

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// String renders the result as the text the model observes.
func (r *Result) String() string {
	var b strings.Builder
	if r.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", r.URL, r.Content)
	if r.Truncated {
		b.WriteString("\n\n[content truncated]")
	}
	return b.String()
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default settings, adjusted by opts.
func New(opts ...httpkit.ClientOption) *Fetcher {
	return &Fetcher{
		client: httpkit.NewClient(append([]httpkit.ClientOption{
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithGatewayRetry(),
		}, opts...)...),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses DefaultMaxChars.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, tools.InvalidInput(errors.New("url is required"))
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, tools.InvalidInput(fmt.Errorf("invalid url %q", rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, tools.InvalidInput(fmt.Errorf("unsupported scheme %q: only http and https pages can be read", u.Scheme))
	}

	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, tools.InvalidInput(fmt.Errorf("invalid url: %w", err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, tools.FromHTTP(fmt.Errorf("request failed: %w", err))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := httpkit.CheckResponse(req.URL.Host, resp); err != nil {
		return nil, tools.FromHTTP(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	res := &Result{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(res.ContentType):
		res.Title, res.Content = extractHTML(string(body))
	case isPlainText(res.ContentType), utf8.Valid(body):
		res.Content = string(body)
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", res.ContentType, len(body))
		return res, nil
	}

	if utf8.RuneCountInString(res.Content) > maxChars {
		res.Content = truncateRunes(res.Content, maxChars)
		res.Truncated = true
	}
	return res, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateRunes cuts s to at most n runes without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
