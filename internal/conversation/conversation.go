// Package conversation defines the message log that the reasoning loop
// accumulates and checkpoints.
package conversation

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single invocation request emitted by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn of the conversation.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool that produced a tool result.
	Name string `json:"name,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// User returns a user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

// Assistant returns an assistant message, optionally carrying tool calls.
func Assistant(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls, CreatedAt: time.Now().UTC()}
}

// ToolResult returns a tool message answering the call with the given id.
func ToolResult(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name, CreatedAt: time.Now().UTC()}
}

// RequestsTools reports whether the message is an assistant turn that
// asks for at least one tool invocation.
func (m Message) RequestsTools() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ErrInvalidState is wrapped by every error returned from State.Validate.
var ErrInvalidState = errors.New("invalid conversation state")

// State is the payload evolved by the reasoning loop and persisted in
// every checkpoint. Messages only ever grow.
type State struct {
	Messages []Message `json:"messages"`
}

// Append returns a new State whose messages are the receiver's followed
// by msgs. The receiver is not modified, and existing messages are never
// replaced, reordered or dropped.
func (s State) Append(msgs ...Message) State {
	out := make([]Message, 0, len(s.Messages)+len(msgs))
	out = append(out, s.Messages...)
	out = append(out, msgs...)
	return State{Messages: out}
}

// Len returns the number of messages.
func (s State) Len() int { return len(s.Messages) }

// Last returns the most recent message.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep-enough copy: the message slice and each tool call
// slice are copied so callers may append without aliasing.
func (s State) Clone() State {
	out := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return State{Messages: out}
}

// Pending returns the tool calls of the trailing assistant turn that have
// not been answered yet, in the order the model emitted them. It returns
// nil when the conversation does not end in an open tool batch.
func (s State) Pending() []ToolCall {
	answered := make(map[string]bool)
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		switch {
		case m.Role == RoleTool:
			answered[m.ToolCallID] = true
		case m.RequestsTools():
			var open []ToolCall
			for _, c := range m.ToolCalls {
				if !answered[c.ID] {
					open = append(open, c)
				}
			}
			return open
		default:
			return nil
		}
	}
	return nil
}

// FinalAnswer returns the content of the last assistant message that did
// not request tools.
func (s State) FinalAnswer() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == RoleAssistant && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

// Validate checks the structural invariants of the log: tool results must
// answer an earlier unanswered call, and call ids must be unique among
// the calls that are still open.
func (s State) Validate() error {
	open := make(map[string]bool)
	for i, m := range s.Messages {
		switch m.Role {
		case RoleSystem, RoleUser:
		case RoleAssistant:
			for _, c := range m.ToolCalls {
				if c.ID == "" {
					return fmt.Errorf("%w: message %d: tool call %q has no id", ErrInvalidState, i, c.Name)
				}
				if open[c.ID] {
					return fmt.Errorf("%w: message %d: duplicate tool call id %q", ErrInvalidState, i, c.ID)
				}
				open[c.ID] = true
			}
		case RoleTool:
			if m.ToolCallID == "" {
				return fmt.Errorf("%w: message %d: tool result without tool_call_id", ErrInvalidState, i)
			}
			if !open[m.ToolCallID] {
				return fmt.Errorf("%w: message %d: tool result %q answers no pending call", ErrInvalidState, i, m.ToolCallID)
			}
			delete(open, m.ToolCallID)
		default:
			return fmt.Errorf("%w: message %d: unknown role %q", ErrInvalidState, i, m.Role)
		}
	}
	return nil
}
