package calculator

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nugget/scholar/internal/tools"
)

func TestEval(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"sqrt(144)", 12},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512},
		{"-2 ** 2", -4},
		{"--3", 3},
		{"+5", 5},
		{"7 / 2", 3.5},
		{"7 // 2", 3},
		{"-7 // 2", -4},
		{"7 % 3", 1},
		{"-7 % 3", 2},
		{"1e3 + 1_000", 2000},
		{".5 * 4", 2},
		{"pi", math.Pi},
		{"cos(0)", 1},
		{"log(e)", 1},
		{"log(8, 2)", 3},
		{"exp(0)", 1},
		{"abs(-3)", 3},
		{"floor(2.7) + ceil(2.1)", 5},
		{"round(2.5)", 2},
		{"pow(3, 2)", 9},
		{"min(4, 2, 8)", 2},
		{"max([4, 2, 8])", 8},
		{"sum([1, 2, 3,])", 6},
		{"mean([10, 20, 30])", 20},
		{"median([3, 1, 2])", 2},
		{"median([4, 1, 3, 2])", 2.5},
		{"mode([1, 2, 2, 3])", 2},
		{"mode([1, 2, 2, 1])", 1},
		{"stdev([2, 4, 4, 4, 5, 5, 7, 9])", 2.138089935299395},
		{"mean(1, 2, 3)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"", "unexpected end"},
		{"1 / 0", "division by zero"},
		{"5 % 0", "modulo by zero"},
		{"sqrt(-1)", "domain"},
		{"log(0)", "domain"},
		{"(-8) ** 0.5", "domain"},
		{"foo(1)", "unknown function"},
		{"x + 1", "not defined"},
		{"__import__('os')", "unexpected character"},
		{"2 +", "unexpected end"},
		{"(1 + 2", `expected ")"`},
		{"1 2", "unexpected"},
		{"[1, 2]", "result is a list"},
		{"[1, 2] + 1", "list"},
		{"sqrt(1, 2)", "takes 1 argument"},
		{"stdev([1])", "two data points"},
		{"mean([])", "at least one"},
		{"[[1]]", "nested"},
		{"10 ** 400", "not a finite number"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Eval(tt.expr)
			if err == nil {
				t.Fatalf("Eval(%q) succeeded", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Eval(%q) error = %q, want it to contain %q", tt.expr, err, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{12, "12"},
		{-3, "-3"},
		{0.1 + 0.2, "0.30000000000000004"},
		{2.5, "2.5"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToolHandler(t *testing.T) {
	h := ToolHandler()

	out, err := h(context.Background(), map[string]any{"expression": "sqrt(144)"})
	if err != nil || out != "12" {
		t.Fatalf("sqrt(144) = %q, %v", out, err)
	}

	_, err = h(context.Background(), map[string]any{"expression": "1/0"})
	var ie *tools.InvocationError
	if !errors.As(err, &ie) || ie.Kind != tools.KindInvalidInput {
		t.Fatalf("error = %v, want invalid_input", err)
	}
	if msg := tools.FormatError(err); !strings.Contains(msg, "evaluating expression: division by zero") {
		t.Errorf("formatted = %q", msg)
	}
}

func TestNewTool(t *testing.T) {
	reg, err := tools.NewRegistry(NewTool())
	if err != nil {
		t.Fatal(err)
	}
	out, err := reg.Invoke(context.Background(), ToolName, map[string]any{"expression": "mean([10, 20, 30])"})
	if err != nil || out != "20" {
		t.Errorf("Invoke = %q, %v", out, err)
	}
	if _, err := reg.Invoke(context.Background(), ToolName, map[string]any{"expression": "1", "extra": true}); err == nil {
		t.Error("unknown argument accepted")
	}
}
