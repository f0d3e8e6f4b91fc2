package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/httpkit"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Groq is the default deployment target.
type OpenAIClient struct {
	client  openai.Client
	baseURL string
	opts    Options
	logger  *slog.Logger
}

// NewOpenAIClient creates a client for the endpoint at baseURL.
func NewOpenAIClient(baseURL, apiKey string, opts Options, logger *slog.Logger) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(0))),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		baseURL: baseURL,
		opts:    opts,
		logger:  logger,
	}
}

// Chat implements Client.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []conversation.Message, tools []map[string]any) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(c.opts.Temperature),
	}
	if c.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.opts.MaxTokens))
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		if raw, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "openai request", "model", model, "body", string(raw))
		}
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: HTTP %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	msg := completion.Choices[0].Message
	out := conversation.Assistant(msg.Content)
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}

	return &ChatResponse{
		Model:        completion.Model,
		Message:      out,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Elapsed:      time.Since(start),
	}, nil
}

// Ping lists models to confirm the endpoint and key work.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

func toOpenAIMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case conversation.RoleAssistant:
			p := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &p})
		}
	}
	return out
}

func toOpenAITools(defs []map[string]any) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		name, desc, params := toolFunction(def)
		if name == "" {
			continue
		}
		fp := shared.FunctionParameters{"type": "object"}
		for k, v := range params {
			fp[k] = v
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       name,
				Parameters: fp,
			},
		}
		if desc != "" {
			tool.Function.Description = openai.String(desc)
		}
		out = append(out, tool)
	}
	return out
}

// parseArguments decodes a JSON argument string. Unparseable input is
// kept under "raw" so schema validation reports it instead of the call
// silently losing its arguments.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
