package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo the text argument",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required":             []string{"text"},
			"additionalProperties": false,
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	noop := func(context.Context, map[string]any) (string, error) { return "", nil }
	tests := []struct {
		name  string
		tools []*Tool
	}{
		{"empty name", []*Tool{{Name: " ", Handler: noop}}},
		{"nil handler", []*Tool{{Name: "x"}}},
		{"duplicate", []*Tool{echoTool("x"), echoTool("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.tools...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	r, err := NewRegistry(echoTool("b"), echoTool("a"), echoTool("c"))
	if err != nil {
		t.Fatal(err)
	}
	defs := r.List()
	if len(defs) != 3 {
		t.Fatalf("len = %d, want 3", len(defs))
	}
	for i, want := range []string{"b", "a", "c"} {
		fn := defs[i]["function"].(map[string]any)
		if fn["name"] != want {
			t.Errorf("defs[%d] name = %v, want %s", i, fn["name"], want)
		}
		if defs[i]["type"] != "function" {
			t.Errorf("defs[%d] type = %v", i, defs[i]["type"])
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))
	if _, err := r.Resolve("echo"); err != nil {
		t.Fatalf("Resolve(echo): %v", err)
	}
	_, err := r.Resolve("missing")
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve(missing) error = %v, want *UnknownToolError", err)
	}
	if len(unknown.Available) != 1 || unknown.Available[0] != "echo" {
		t.Errorf("Available = %v", unknown.Available)
	}
}

func TestRegistry_Invoke(t *testing.T) {
	r, err := NewRegistry(
		echoTool("echo"),
		&Tool{Name: "boom", Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("upstream exploded")
		}},
		&Tool{Name: "panics", Handler: func(context.Context, map[string]any) (string, error) {
			panic("bad handler")
		}},
		&Tool{Name: "limited", Handler: func(context.Context, map[string]any) (string, error) {
			return "", RateLimited(errors.New("slow down"))
		}},
		&Tool{Name: "slow", Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
		&Tool{Name: "silent", Handler: func(context.Context, map[string]any) (string, error) {
			return "", nil
		}},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		timeout  time.Duration
		want     string
		wantKind Kind
	}{
		{name: "success", tool: "echo", args: map[string]any{"text": "hi"}, want: "hi"},
		{name: "missing arg", tool: "echo", args: map[string]any{}, wantKind: KindInvalidInput},
		{name: "wrong type", tool: "echo", args: map[string]any{"text": 3.0}, wantKind: KindInvalidInput},
		{name: "extra arg", tool: "echo", args: map[string]any{"text": "x", "y": 1.0}, wantKind: KindInvalidInput},
		{name: "handler error", tool: "boom", wantKind: KindFailed},
		{name: "panic", tool: "panics", wantKind: KindFailed},
		{name: "typed kind kept", tool: "limited", wantKind: KindRateLimited},
		{name: "timeout", tool: "slow", timeout: 10 * time.Millisecond, wantKind: KindTimeout},
		{name: "empty output", tool: "silent", want: "(no output)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			got, err := r.Invoke(ctx, tt.tool, tt.args)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Invoke: %v", err)
				}
				if got != tt.want {
					t.Errorf("Invoke() = %q, want %q", got, tt.want)
				}
				return
			}
			var ie *InvocationError
			if !errors.As(err, &ie) {
				t.Fatalf("Invoke error = %v, want *InvocationError", err)
			}
			if ie.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", ie.Kind, tt.wantKind)
			}
			if ie.Tool != tt.tool {
				t.Errorf("Tool = %q, want %q", ie.Tool, tt.tool)
			}
			if !strings.Contains(FormatError(err), tt.tool) {
				t.Errorf("FormatError(%v) does not name the tool", err)
			}
		})
	}
}

func TestRegistry_InvokeUnknown(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))
	_, err := r.Invoke(context.Background(), "nope", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownToolError", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "x"}); err != nil {
				t.Error(err)
			}
			_ = r.List()
		}()
	}
	wg.Wait()
}
