package arxiv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/scholar/internal/tools"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2024-01-02T18:00:00Z</published>
    <title>Small Language
      Models Are Efficient</title>
    <summary>  We study small
      models.  </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <author><name>Grace Hopper</name></author>
    <author><name>Edsger Dijkstra</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v2</id>
    <published>2024-01-03T09:30:00Z</published>
    <title>Second Paper</title>
    <summary>SUMMARY</summary>
    <author><name>Solo Author</name></author>
  </entry>
</feed>`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("search_query") != "all:small language models" {
			t.Errorf("search_query = %q", q.Get("search_query"))
		}
		if q.Get("max_results") != "2" || q.Get("sortBy") != "relevance" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 0)
	papers, err := c.Search(context.Background(), "small language models")
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 2 {
		t.Fatalf("papers = %d", len(papers))
	}
	p := papers[0]
	if p.Title != "Small Language Models Are Efficient" || p.Summary != "We study small models." {
		t.Errorf("paper = %+v", p)
	}
	if len(p.Authors) != 4 || p.Published.Year() != 2024 {
		t.Errorf("paper = %+v", p)
	}

	out := c.Format(papers)
	for _, want := range []string{
		"Title: Small Language Models Are Efficient\n",
		"Authors: Ada Lovelace, Alan Turing, Grace Hopper\n",
		"Published: 2024-01-02\n",
		"URL: http://arxiv.org/abs/2401.00001v1\n",
		"\n---\nTitle: Second Paper",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Dijkstra") {
		t.Error("more than three authors listed")
	}
}

func TestFormat_TruncatesSummary(t *testing.T) {
	c := New("", 0, 10)
	out := c.Format([]Paper{{Title: "t", Summary: strings.Repeat("a", 20)}})
	if !strings.Contains(out, "Summary: aaaaaaaaaa...\n") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Published: unknown") {
		t.Errorf("output = %q", out)
	}
}

func TestToolHandler(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     string
		wantKind tools.Kind
	}{
		{name: "empty", status: 200, body: `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`, want: NoResults},
		{name: "rate limited", status: 429, wantKind: tools.KindRateLimited, want: RateLimitAdvice},
		{name: "server error", status: 503, wantKind: tools.KindUnavailable},
		{
			name:     "query error",
			status:   200,
			body:     `<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>http://arxiv.org/api/errors#bad</id><summary>malformed query</summary></entry></feed>`,
			wantKind: tools.KindInvalidInput,
			want:     "malformed query",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			out, err := ToolHandler(New(srv.URL, 0, 0))(context.Background(), map[string]any{"query": "q"})
			if tt.wantKind == "" {
				if err != nil {
					t.Fatal(err)
				}
				if out != tt.want {
					t.Errorf("output = %q, want %q", out, tt.want)
				}
				return
			}
			var ie *tools.InvocationError
			if !errors.As(err, &ie) || ie.Kind != tt.wantKind {
				t.Fatalf("error = %v, want kind %s", err, tt.wantKind)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestToolHandler_RequiresQuery(t *testing.T) {
	_, err := ToolHandler(New("", 0, 0))(context.Background(), map[string]any{"query": " "})
	var ie *tools.InvocationError
	if !errors.As(err, &ie) || ie.Kind != tools.KindInvalidInput {
		t.Fatalf("error = %v", err)
	}
}
