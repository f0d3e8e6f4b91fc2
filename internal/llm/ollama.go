package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, opts Options, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Large local models with tools need time; the caller's
		// context carries the real deadline.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5*time.Minute), httpkit.WithRetry(2, 500*time.Millisecond)),
		opts:       opts,
		logger:     logger,
	}
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama sends an object, not a string
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat implements Client.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []conversation.Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Tools:    tools,
		Options:  &ollamaOptions{Temperature: c.opts.Temperature, NumPredict: c.opts.MaxTokens},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "ollama request", "model", model, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := httpkit.CheckResponse("ollama", resp); err != nil {
		return nil, err
	}

	var chatResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := conversation.Assistant(chatResp.Message.Content)
	for _, tc := range chatResp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	// Small models often write the call into content instead of tool_calls.
	if len(out.ToolCalls) == 0 && len(tools) > 0 {
		if parsed := parseTextToolCalls(out.Content); len(parsed) > 0 {
			out.ToolCalls = parsed
			out.Content = ""
		}
	}

	return &ChatResponse{
		Model:        chatResp.Model,
		Message:      out,
		InputTokens:  chatResp.PromptEvalCount,
		OutputTokens: chatResp.EvalCount,
		Elapsed:      time.Since(start),
	}, nil
}

func toOllamaMessages(messages []conversation.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == conversation.RoleTool {
			om.ToolName = m.Name
			om.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.ID = tc.ID
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls written as JSON in content: a
// single object, an array, or either wrapped in <tool_call> tags.
func parseTextToolCalls(content string) []conversation.ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		content = content[start+len("<tool_call>"):]
		if end := strings.Index(content, "</tool_call>"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	var calls []textToolCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil || len(calls) == 0 {
		var single textToolCall
		if err := json.Unmarshal([]byte(content), &single); err != nil || single.Name == "" {
			return nil
		}
		calls = []textToolCall{single}
	}

	out := make([]conversation.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Name == "" {
			continue
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out = append(out, conversation.ToolCall{Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	return httpkit.CheckResponse("ollama", resp)
}
