// Package transcript renders a thread's messages as a readable
// document, in Markdown or as a standalone HTML page.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/scholar/internal/conversation"
)

// Markdown renders messages as a Markdown document with one section
// per turn. Tool calls are listed under the assistant turn that
// requested them and tool output is fenced verbatim.
func Markdown(messages []conversation.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		switch m.Role {
		case conversation.RoleSystem:
			b.WriteString("### System\n\n")
			writeBody(&b, m.Content)
		case conversation.RoleUser:
			b.WriteString("### User\n\n")
			writeBody(&b, m.Content)
		case conversation.RoleAssistant:
			b.WriteString("### Assistant\n\n")
			writeBody(&b, m.Content)
			if len(m.ToolCalls) > 0 {
				if strings.TrimSpace(m.Content) != "" {
					b.WriteString("\n")
				}
				b.WriteString("**Tool calls**\n\n")
				for _, c := range m.ToolCalls {
					fmt.Fprintf(&b, "- `%s` (%s): %s\n", c.Name, c.ID, inlineCode(arguments(c.Arguments)))
				}
			}
		case conversation.RoleTool:
			fmt.Fprintf(&b, "### Tool: %s (%s)\n\n", m.Name, m.ToolCallID)
			fence := fenceFor(m.Content)
			fmt.Fprintf(&b, "%s\n%s\n%s\n", fence, strings.TrimRight(m.Content, "\n"), fence)
		default:
			fmt.Fprintf(&b, "### %s\n\n", m.Role)
			writeBody(&b, m.Content)
		}
	}
	return b.String()
}

// HTML renders messages as a self-contained HTML page. Raw HTML in
// message content is not passed through.
func HTML(title string, messages []conversation.Message) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(messages)), &buf); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 50em; margin: auto;">
%s
</body></html>`, html.EscapeString(title), buf.String()), nil
}

func writeBody(b *strings.Builder, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	b.WriteString(content)
	b.WriteString("\n")
}

func arguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

// inlineCode wraps s in a backtick run longer than any it contains.
func inlineCode(s string) string {
	ticks := strings.Repeat("`", longestRun(s, '`')+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		s = " " + s + " "
	}
	return ticks + s + ticks
}

// fenceFor returns a code fence that cannot be closed by content.
func fenceFor(content string) string {
	n := longestRun(content, '`') + 1
	if n < 3 {
		n = 3
	}
	return strings.Repeat("`", n)
}

func longestRun(s string, r rune) int {
	longest, cur := 0, 0
	for _, c := range s {
		if c == r {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	return longest
}
