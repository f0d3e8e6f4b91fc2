package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/scholar/internal/conversation"
)

// DefaultSystemPrompt describes the research tools and the citation
// expectations. It is prepended to every reasoning call unless the
// conversation already starts with a system message.
const DefaultSystemPrompt = `You are a helpful research assistant with access to multiple tools.

Available tools:
- web_search: current information, news, recent events
- arxiv_search: academic papers and scientific research
- wikipedia: general knowledge, definitions, historical facts
- calculator: arithmetic and statistics (mean, median, stdev)
- web_fetch: read the full text of a page you want to cite

How to work:
1. Decide what information you need.
2. Choose the tool that fits the task; use several when needed.
3. Read each tool result before deciding the next step.
4. Synthesize the results into a clear answer.

Be concise but thorough. Always cite your sources (titles and URLs) when available.`

// Reasoner adapts a Client to the agent loop: it supplies the system
// prompt, pins the model, and guarantees every tool call carries a
// unique id.
type Reasoner struct {
	client Client
	model  string
	prompt string
	logger *slog.Logger
}

// NewReasoner creates a Reasoner. An empty prompt selects
// DefaultSystemPrompt.
func NewReasoner(client Client, model, prompt string, logger *slog.Logger) *Reasoner {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{client: client, model: model, prompt: prompt, logger: logger}
}

// Model returns the model name sent with every request.
func (r *Reasoner) Model() string { return r.model }

// Reason asks the model for the next assistant turn. Failures are
// returned as *ReasoningError.
func (r *Reasoner) Reason(ctx context.Context, messages []conversation.Message, tools []map[string]any) (conversation.Message, error) {
	msgs := messages
	if len(msgs) == 0 || msgs[0].Role != conversation.RoleSystem {
		msgs = make([]conversation.Message, 0, len(messages)+1)
		msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: r.prompt})
		msgs = append(msgs, messages...)
	}

	resp, err := r.client.Chat(ctx, r.model, msgs, tools)
	if err != nil {
		return conversation.Message{}, classify(ctx, r.model, err)
	}

	msg := resp.Message
	msg.Role = conversation.RoleAssistant
	assignCallIDs(msg.ToolCalls)

	r.logger.Debug("reasoning complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(msg.ToolCalls),
		"elapsed", resp.Elapsed,
	)
	return msg, nil
}

// assignCallIDs fills missing or repeated ids in place.
func assignCallIDs(calls []conversation.ToolCall) {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		}
		seen[calls[i].ID] = true
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]any{}
		}
	}
}
