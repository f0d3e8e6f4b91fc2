package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/httpkit"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client anthropicsdk.Client
	opts   Options
	logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic client. baseURL may be empty.
func NewAnthropicClient(baseURL, apiKey string, opts Options, logger *slog.Logger) *AnthropicClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(0))),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client: anthropicsdk.NewClient(reqOpts...),
		opts:   opts,
		logger: logger,
	}
}

// Chat implements Client.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []conversation.Message, tools []map[string]any) (*ChatResponse, error) {
	system, msgs := toAnthropicMessages(messages)

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		MaxTokens:   int64(c.opts.MaxTokens),
		Messages:    msgs,
		Temperature: param.NewOpt(c.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		converted, err := toAnthropicTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = converted
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		if raw, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "anthropic request", "model", model, "body", string(raw))
		}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("anthropic: HTTP %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text []string
	out := conversation.Assistant("")
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: parseArguments(string(block.Input)),
			})
		}
	}
	out.Content = strings.Join(text, "")

	return &ChatResponse{
		Model:        string(resp.Model),
		Message:      out,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Elapsed:      time.Since(start),
	}, nil
}

// Ping checks that the API key is accepted.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropicsdk.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}
	return nil
}

// toAnthropicMessages splits out system text and folds consecutive tool
// results into a single user turn, as the Messages API requires.
func toAnthropicMessages(messages []conversation.Message) (string, []anthropicsdk.MessageParam) {
	var system []string
	var out []anthropicsdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			system = append(system, m.Content)

		case conversation.RoleUser:
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(nonEmpty(m.Content))},
			})

		case conversation.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock("."))
			}
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: blocks,
			})

		case conversation.RoleTool:
			block := anthropicsdk.NewToolResultBlock(m.ToolCallID, nonEmpty(m.Content), strings.HasPrefix(m.Content, "Error"))
			if n := len(out); n > 0 && out[n-1].Role == anthropicsdk.MessageParamRoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{block},
			})
		}
	}
	return strings.Join(system, "\n\n"), out
}

func isToolResultTurn(m anthropicsdk.MessageParam) bool {
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

func toAnthropicTools(defs []map[string]any) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name, desc, params := toolFunction(def)
		if name == "" {
			continue
		}
		schema := anthropicsdk.ToolInputSchemaParam{}
		if len(params) > 0 {
			raw, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", name, err)
			}
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", name, err)
			}
		}
		tool := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if desc != "" {
			tool.Description = anthropicsdk.String(desc)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "."
	}
	return s
}
