// Package search provides the web search behind the web_search tool.
//
// Backends implement [Provider] and are registered on a [Manager]. The
// manager sends each query to the primary backend and, when that
// backend is rate limited or down, to the remaining backends in
// registration order.
package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/nugget/scholar/internal/httpkit"
)

// ErrUnknownProvider is returned by SearchWith for a name that was
// never registered.
var ErrUnknownProvider = errors.New("search provider not configured")

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is what a provider returns for one query. Answer is a
// provider-written summary, when the provider offers one.
type Response struct {
	Provider string   `json:"provider,omitempty"`
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means provider default.
	Count int `json:"count,omitempty"`
	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	order     []string
	primary   string
}

// NewManager creates a search manager that prefers primary.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider. Registering a name twice replaces the
// earlier provider but keeps its position.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider, falling back to
// the others while failures are transient. The last error is returned
// when every provider fails.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	var lastErr error
	for i, name := range m.candidates() {
		resp, err := m.SearchWith(ctx, name, query, opts)
		if err == nil {
			return resp, nil
		}
		if i == 0 {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%w (after fallback from %s)", err, m.primary)
		}
		if ctx.Err() != nil || !transient(err) {
			return nil, lastErr
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, m.primary)
	}
	return nil, lastErr
}

// candidates lists the primary first, then every other provider in
// registration order.
func (m *Manager) candidates() []string {
	var names []string
	if _, ok := m.providers[m.primary]; ok {
		names = append(names, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			names = append(names, name)
		}
	}
	return names
}

// SearchWith runs a query against one named provider with no fallback.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) (*Response, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	resp, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = provider
	}
	return resp, nil
}

// Primary returns the default provider name.
func (m *Manager) Primary() string { return m.primary }

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// transient reports failures another provider might not share.
func transient(err error) bool {
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		return se.Temporary() || se.StatusCode == 401 || se.StatusCode == 403
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// FormatResults builds the text the model sees for a search response.
func FormatResults(resp *Response) string {
	if resp == nil || (len(resp.Results) == 0 && resp.Answer == "") {
		return "No results found."
	}
	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString("Answer: ")
		b.WriteString(resp.Answer)
	}
	for i, r := range resp.Results {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
