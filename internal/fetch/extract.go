package fetch

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractText returns the readable text of an HTML document or fragment.
func ExtractText(raw string) string {
	_, text := extractHTML(raw)
	return text
}

// extractHTML parses a page into its title and readable text. When the
// page marks its content with <main> or <article>, only that subtree
// is read. Headings come out prefixed with "#" and list items with
// "- ", close enough to Markdown for the model to see the structure.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}
	if t := find(doc, atom.Title); t != nil {
		title = collapse(textOf(t))
	}

	root := find(doc, atom.Main)
	if root == nil {
		root = find(doc, atom.Article)
	}
	if root == nil {
		root = doc
	}

	var w textWriter
	w.walk(root)
	return title, cleanWhitespace(w.b.String())
}

// textWriter accumulates readable text while walking a node tree.
type textWriter struct {
	b strings.Builder
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.b.WriteString(flatten(n.Data))
		return
	case html.ElementNode:
		if boilerplate(n.DataAtom) {
			return
		}
		w.open(n.DataAtom)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == html.ElementNode {
		w.close(n.DataAtom)
	}
}

func (w *textWriter) open(a atom.Atom) {
	switch {
	case headingLevel(a) > 0:
		w.paragraph()
		w.b.WriteString(strings.Repeat("#", headingLevel(a)) + " ")
	case a == atom.Li:
		w.b.WriteString("\n- ")
	case block(a):
		w.paragraph()
	}
}

func (w *textWriter) close(a atom.Atom) {
	switch {
	case a == atom.Br:
		w.b.WriteByte('\n')
	case a == atom.Td, a == atom.Th:
		w.b.WriteString(" | ")
	case headingLevel(a) > 0:
		w.paragraph()
	}
}

func (w *textWriter) paragraph() {
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
}

// boilerplate elements never hold the readable part of a page.
func boilerplate(a atom.Atom) bool {
	switch a {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template,
		atom.Iframe, atom.Svg, atom.Nav, atom.Header, atom.Footer, atom.Aside,
		atom.Form, atom.Button:
		return true
	}
	return false
}

func block(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Dl, atom.Dt, atom.Dd,
		atom.Table, atom.Tr, atom.Figure, atom.Figcaption, atom.Details,
		atom.Summary, atom.Hr:
		return true
	}
	return false
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// find returns the first element of kind a in document order.
func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// flatten turns source line breaks into spaces; only markup decides
// where lines end.
func flatten(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanWhitespace collapses spaces within each line and keeps at most
// one blank line between paragraphs.
func cleanWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = collapse(line)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// stripTags keeps only the text tokens of s.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return cleanWhitespace(b.String())
		case html.TextToken:
			b.WriteString(flatten(string(z.Text())))
			b.WriteByte(' ')
		}
	}
}
