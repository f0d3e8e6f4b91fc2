package calculator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/scholar/internal/tools"
)

// ToolName is the name the model uses for arithmetic.
const ToolName = "calculator"

// ToolHandler evaluates the "expression" argument.
func ToolHandler() tools.Handler {
	return func(_ context.Context, args map[string]any) (string, error) {
		expr, _ := args["expression"].(string)
		if strings.TrimSpace(expr) == "" {
			return "", tools.InvalidInput(errors.New("expression is required"))
		}
		v, err := Eval(expr)
		if err != nil {
			return "", tools.InvalidInput(fmt.Errorf("evaluating expression: %w", err))
		}
		return Format(v), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the calculator tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": `Expression to evaluate, e.g. "sqrt(144)", "2**10 / 3" or "mean([10, 20, 30])".`,
			},
		},
		"required":             []string{"expression"},
		"additionalProperties": false,
	}
}

// NewTool returns the calculator tool.
func NewTool() *tools.Tool {
	return &tools.Tool{
		Name: ToolName,
		Description: "Evaluate a mathematical expression. Supports + - * / // % ** and parentheses, " +
			"constants pi and e, and the functions " + strings.Join(FunctionNames(), ", ") +
			". Statistics functions take a list such as [1, 2, 3].",
		Parameters: ToolDefinition(),
		Handler:    ToolHandler(),
	}
}
