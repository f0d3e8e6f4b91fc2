// Package agenttest provides a scripted Reasoner for exercising the
// state machine without a model.
package agenttest

import (
	"context"
	"errors"
	"sync"

	"github.com/nugget/scholar/internal/conversation"
)

// ErrExhausted is returned once a script has no steps left and no
// Repeat step.
var ErrExhausted = errors.New("agenttest: script exhausted")

// Step produces one assistant turn from the messages the machine sent.
type Step func(ctx context.Context, messages []conversation.Message) (conversation.Message, error)

// Reply answers with final text.
func Reply(text string) Step {
	return func(context.Context, []conversation.Message) (conversation.Message, error) {
		return conversation.Assistant(text), nil
	}
}

// Call requests the given tool calls.
func Call(calls ...conversation.ToolCall) Step {
	return func(context.Context, []conversation.Message) (conversation.Message, error) {
		return conversation.Assistant("", calls...), nil
	}
}

// Fail returns err instead of a message.
func Fail(err error) Step {
	return func(context.Context, []conversation.Message) (conversation.Message, error) {
		return conversation.Message{}, err
	}
}

// Block waits until ctx is done and returns its error.
func Block() Step {
	return func(ctx context.Context, _ []conversation.Message) (conversation.Message, error) {
		<-ctx.Done()
		return conversation.Message{}, ctx.Err()
	}
}

// Reasoner replays Steps in order, then Repeat forever if set. It
// records every request.
type Reasoner struct {
	Steps  []Step
	Repeat Step

	mu    sync.Mutex
	calls [][]conversation.Message
}

// Script returns a Reasoner that plays steps once.
func Script(steps ...Step) *Reasoner {
	return &Reasoner{Steps: steps}
}

// Reason implements agent.Reasoner.
func (r *Reasoner) Reason(ctx context.Context, messages []conversation.Message, _ []map[string]any) (conversation.Message, error) {
	r.mu.Lock()
	n := len(r.calls)
	r.calls = append(r.calls, append([]conversation.Message(nil), messages...))
	var step Step
	switch {
	case n < len(r.Steps):
		step = r.Steps[n]
	case r.Repeat != nil:
		step = r.Repeat
	}
	r.mu.Unlock()

	if step == nil {
		return conversation.Message{}, ErrExhausted
	}
	return step(ctx, messages)
}

// Calls returns the message lists the machine has sent so far.
func (r *Reasoner) Calls() [][]conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]conversation.Message(nil), r.calls...)
}
