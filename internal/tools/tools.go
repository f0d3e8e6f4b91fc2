// Package tools defines the registry of capabilities the reasoning loop
// may invoke, and the contract every tool handler follows.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handler executes a tool with model-supplied arguments and returns the
// text the model will observe.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools. It is populated once by NewRegistry
// and read-only afterwards, so concurrent runs may share it freely.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry builds a registry from the given tools. Empty names, nil
// handlers and duplicate names are rejected.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, errors.New("register tool: empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("register tool %q: nil handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("register tool %q: duplicate name", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	if r == nil {
		return nil
	}
	return r.tools[name]
}

// Resolve returns the named tool or an *UnknownToolError.
func (r *Registry) Resolve(name string) (*Tool, error) {
	if t := r.Get(name); t != nil {
		return t, nil
	}
	return nil, &UnknownToolError{ToolName: name, Available: r.Names()}
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// List returns tool definitions in the function-calling format the
// reasoning providers accept, in registration order.
func (r *Registry) List() []map[string]any {
	if r == nil {
		return nil
	}
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Invoke resolves, validates and runs the named tool. Every failure is
// returned as an *UnknownToolError or *InvocationError; a panicking
// handler is recovered and reported as a failure of that tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateArguments(t.Parameters, args); err != nil {
		return "", &InvocationError{Tool: name, Kind: KindInvalidInput, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			result = ""
			err = &InvocationError{
				Tool: name,
				Kind: KindFailed,
				Err:  fmt.Errorf("panic: %v", p),
			}
		}
	}()

	out, err := t.Handler(ctx, args)
	if err != nil {
		return "", classify(ctx, name, err)
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return out, nil
}

func classify(ctx context.Context, name string, err error) error {
	var ie *InvocationError
	if errors.As(err, &ie) {
		if ie.Tool == "" {
			ie.Tool = name
		}
		return ie
	}
	kind := KindFailed
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &InvocationError{Tool: name, Kind: kind, Err: err}
}
