// Package agent implements the reason/act state machine that drives a
// conversation toward a final answer, committing a checkpoint after
// every step.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/llm"
	"github.com/nugget/scholar/internal/tools"
)

// Node is a state of the machine.
type Node string

const (
	NodeReason Node = "REASON"
	NodeAct    Node = "ACT"
	NodeDone   Node = "DONE"
	NodeFailed Node = "FAILED"
)

// Route decides where a conversation goes after a reasoning step. Only
// the last message is inspected: an assistant turn requesting tools
// routes to ACT, anything else ends the run.
func Route(state conversation.State) Node {
	if last, ok := state.Last(); ok && last.RequestsTools() {
		return NodeAct
	}
	return NodeDone
}

// Reasoner produces the next assistant turn for a conversation.
type Reasoner interface {
	Reason(ctx context.Context, messages []conversation.Message, tools []map[string]any) (conversation.Message, error)
}

// Config bounds a single run.
type Config struct {
	// MaxSteps caps the REASON and ACT steps committed by one run.
	MaxSteps         int
	ReasonTimeout    time.Duration
	ToolTimeout      time.Duration
	MaxParallelTools int
}

// ConfigFrom converts the agent section of the application config.
func ConfigFrom(c config.AgentConfig) Config {
	return Config{
		MaxSteps:         c.MaxSteps,
		ReasonTimeout:    c.ReasonTimeout,
		ToolTimeout:      c.ToolTimeout,
		MaxParallelTools: c.MaxParallelTools,
	}
}

const (
	defaultMaxSteps         = 25
	defaultMaxParallelTools = 4
)

// Status is the outcome of a run.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// RunInput starts or continues a thread.
type RunInput struct {
	ThreadID string
	// Head is the thread's latest checkpoint, nil for a new thread.
	Head *checkpoint.Checkpoint
	// Input is the new user message. Nil resumes the thread as-is.
	Input *conversation.Message
	// RunPending executes a tool batch left unanswered on Head. Set it
	// only when recovering a thread whose writer is gone; otherwise a
	// Head with an open batch is refused with ErrOpenBatch.
	RunPending bool
}

// ErrOpenBatch reports a head whose tool batch belongs to another run.
var ErrOpenBatch = errors.New("head has an unanswered tool batch")

// Result reports what a run committed.
type Result struct {
	ThreadID string             `json:"thread_id"`
	Status   Status             `json:"status"`
	State    conversation.State `json:"-"`
	// CheckpointID is the last checkpoint known to be durable.
	CheckpointID string `json:"checkpoint_id,omitempty"`
	// Steps is the number of checkpoints committed by this run.
	Steps int `json:"steps"`
	// Added holds the messages committed by this run, in order.
	Added          []conversation.Message `json:"messages"`
	InputCommitted bool                   `json:"-"`
	LimitReached   bool                   `json:"limit_reached,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Final returns the answer text of the run, if it produced one.
func (r *Result) Final() string {
	for i := len(r.Added) - 1; i >= 0; i-- {
		m := r.Added[i]
		if m.Role == conversation.RoleAssistant && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}

// Commit describes one durable step, delivered to the commit observer
// in commit order.
type Commit struct {
	ThreadID     string
	CheckpointID string
	ParentID     string
	Step         int
	Source       checkpoint.Source
	Messages     []conversation.Message
	CreatedAt    time.Time
}

// Machine runs the reason/act loop. A Machine is safe for concurrent
// runs on different threads.
type Machine struct {
	reasoner Reasoner
	registry *tools.Registry
	store    checkpoint.Store
	cfg      Config
	logger   *slog.Logger
	onCommit func(Commit)
}

// New creates a Machine. Zero config values take defaults.
func New(reasoner Reasoner, registry *tools.Registry, store checkpoint.Store, cfg Config, logger *slog.Logger) *Machine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{reasoner: reasoner, registry: registry, store: store, cfg: cfg, logger: logger}
}

// OnCommit registers fn to observe every commit. It must be called
// before the first Run.
func (m *Machine) OnCommit(fn func(Commit)) {
	m.onCommit = fn
}

// Store returns the checkpoint store the machine commits to.
func (m *Machine) Store() checkpoint.Store { return m.store }

// Registry returns the tool registry.
func (m *Machine) Registry() *tools.Registry { return m.registry }

// run holds the mutable bookkeeping of one Run call.
type run struct {
	*Machine
	threadID string
	state    conversation.State
	parentID string
	step     int
	res      *Result
	logger   *slog.Logger
}

// Run drives the thread until it reaches a final answer, the step limit,
// or an error.
//
// A *checkpoint.ConflictError is returned unchanged, together with a
// Result carrying the last good checkpoint. Other persistence failures
// are reported through a FAILED Result and a nil error. Cancellation of
// ctx returns ctx.Err().
func (m *Machine) Run(ctx context.Context, in RunInput) (*Result, error) {
	if in.ThreadID == "" {
		return nil, errors.New("run: empty thread id")
	}
	if in.Head != nil && in.Head.ThreadID != "" && in.Head.ThreadID != in.ThreadID {
		return nil, fmt.Errorf("run: head belongs to thread %s, not %s", in.Head.ThreadID, in.ThreadID)
	}

	r := &run{
		Machine:  m,
		threadID: in.ThreadID,
		logger:   m.logger.With("thread", in.ThreadID),
	}
	if in.Head != nil {
		r.state = in.Head.State.Clone()
		r.parentID = in.Head.ID
		r.step = in.Head.Metadata.Step
	}
	if !in.RunPending && len(r.state.Pending()) > 0 {
		return nil, fmt.Errorf("run %s at %s: %w", in.ThreadID, r.parentID, ErrOpenBatch)
	}
	r.res = &Result{
		ThreadID:     in.ThreadID,
		State:        r.state,
		CheckpointID: r.parentID,
	}

	input := in.Input
	if input != nil {
		msg := *input
		msg.Role = conversation.RoleUser
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		input = &msg
	}

	r.logger.Info("run started",
		"head", r.parentID,
		"messages", r.state.Len(),
		"input", input != nil,
	)
	start := time.Now()

	schemas := m.registry.List()

	for {
		node := r.next(input != nil)
		if node == NodeDone {
			break
		}
		if r.res.Steps >= m.cfg.MaxSteps {
			if err := r.limit(ctx, input); err != nil {
				return r.fail(err)
			}
			break
		}

		var err error
		switch node {
		case NodeReason:
			err = r.reason(ctx, input, schemas)
			if err == nil && input != nil {
				input = nil
				r.res.InputCommitted = true
			}
		case NodeAct:
			err = r.act(ctx)
		}
		if err != nil {
			return r.fail(err)
		}
	}

	r.res.Status = StatusDone
	r.logger.Info("run complete",
		"checkpoint", r.res.CheckpointID,
		"steps", r.res.Steps,
		"limit_reached", r.res.LimitReached,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return r.res, nil
}

// next picks the node to execute from the committed state. An open tool
// batch always runs first, so a recovered run interrupted after a REASON
// commit executes the batch before anything else.
func (r *run) next(hasInput bool) Node {
	if len(r.state.Pending()) > 0 {
		return NodeAct
	}
	if hasInput {
		return NodeReason
	}
	if last, ok := r.state.Last(); ok {
		switch last.Role {
		case conversation.RoleUser, conversation.RoleTool:
			return NodeReason
		}
	}
	return Route(r.state)
}

func (r *run) reason(ctx context.Context, input *conversation.Message, schemas []map[string]any) error {
	next := r.state
	if input != nil {
		next = next.Append(*input)
	}

	rctx := ctx
	if r.cfg.ReasonTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, r.cfg.ReasonTimeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := r.reasoner.Reason(rctx, next.Messages, schemas)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	extra := map[string]string{}
	if err == nil {
		msg.Role = conversation.RoleAssistant
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		if verr := next.Append(msg).Validate(); verr != nil {
			err = verr
		}
	}
	if err != nil {
		r.logger.Warn("reasoning failed", "error", err, "elapsed", time.Since(start))
		msg = conversation.Assistant(reasoningFailure(err))
		extra["error"] = err.Error()
	} else {
		r.logger.Debug("reasoning step",
			"tool_calls", len(msg.ToolCalls),
			"elapsed", time.Since(start),
		)
	}

	added := []conversation.Message{msg}
	if input != nil {
		added = []conversation.Message{*input, msg}
	}
	return r.commit(ctx, next.Append(msg), added, checkpoint.SourceReason, extra)
}

// act executes the open tool batch. Calls run concurrently up to
// MaxParallelTools; results are appended in the order the model emitted
// the calls.
func (r *run) act(ctx context.Context) error {
	calls := r.state.Pending()
	results := make([]conversation.Message, len(calls))
	failed := make([]bool, len(calls))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			start := time.Now()
			out, err := r.invoke(ctx, call)
			if err != nil {
				r.logger.Warn("tool failed", "tool", call.Name, "call", call.ID, "error", err)
				out = tools.FormatError(err)
				failed[i] = true
			} else {
				r.logger.Debug("tool complete",
					"tool", call.Name,
					"call", call.ID,
					"bytes", len(out),
					"elapsed", time.Since(start),
				)
			}
			results[i] = conversation.ToolResult(call.ID, call.Name, out)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	extra := map[string]string{"tool_calls": fmt.Sprint(len(calls))}
	if n := countTrue(failed); n > 0 {
		extra["tool_errors"] = fmt.Sprint(n)
	}
	return r.commit(ctx, r.state.Append(results...), results, checkpoint.SourceAct, extra)
}

// invoke runs one call under the tool timeout. A handler that ignores
// its context is abandoned when the deadline passes.
func (r *run) invoke(ctx context.Context, call conversation.ToolCall) (string, error) {
	if r.cfg.ToolTimeout <= 0 {
		return r.registry.Invoke(ctx, call.Name, call.Arguments)
	}
	tctx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := r.registry.Invoke(tctx, call.Name, call.Arguments)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &tools.InvocationError{
			Tool: call.Name,
			Kind: tools.KindTimeout,
			Err:  fmt.Errorf("no result after %s", r.cfg.ToolTimeout),
		}
	}
}

// limit closes the run: open calls are answered as not executed and an
// assistant message explains the stop, all in one checkpoint.
func (r *run) limit(ctx context.Context, input *conversation.Message) error {
	next := r.state
	var added []conversation.Message
	if input != nil {
		next = next.Append(*input)
		added = append(added, *input)
	}
	for _, call := range next.Pending() {
		msg := conversation.ToolResult(call.ID, call.Name, "Error: not executed because the step limit was reached.")
		next = next.Append(msg)
		added = append(added, msg)
	}
	msg := conversation.Assistant(fmt.Sprintf(
		"I stopped after %d reasoning and tool steps without reaching a final answer. "+
			"The work so far is saved in this thread; ask me to continue and I will pick up from here.",
		r.cfg.MaxSteps))
	next = next.Append(msg)
	added = append(added, msg)

	r.logger.Warn("step limit reached", "max_steps", r.cfg.MaxSteps)
	if err := r.commit(ctx, next, added, checkpoint.SourceLimit, map[string]string{"max_steps": fmt.Sprint(r.cfg.MaxSteps)}); err != nil {
		return err
	}
	if input != nil {
		r.res.InputCommitted = true
	}
	r.res.LimitReached = true
	return nil
}

func (r *run) commit(ctx context.Context, next conversation.State, added []conversation.Message, source checkpoint.Source, extra map[string]string) error {
	if len(extra) == 0 {
		extra = nil
	}
	meta := checkpoint.Metadata{Step: r.step + 1, Source: source, Extra: extra}
	cp, err := r.store.Append(ctx, r.threadID, r.parentID, next, meta)
	if err != nil {
		return err
	}

	parent := r.parentID
	r.state = next
	r.parentID = cp.ID
	r.step = meta.Step
	r.res.State = next
	r.res.CheckpointID = cp.ID
	r.res.Steps++
	r.res.Added = append(r.res.Added, added...)

	r.logger.Debug("checkpoint committed", "checkpoint", cp.ID, "step", meta.Step, "source", source)

	if r.onCommit != nil {
		r.onCommit(Commit{
			ThreadID:     r.threadID,
			CheckpointID: cp.ID,
			ParentID:     parent,
			Step:         meta.Step,
			Source:       source,
			Messages:     added,
			CreatedAt:    cp.CreatedAt,
		})
	}
	return nil
}

// fail stops the run. Conflicts and cancellation are handed back to the
// caller; any other error leaves the thread at its last good checkpoint.
func (r *run) fail(err error) (*Result, error) {
	r.res.Status = StatusFailed
	switch {
	case errors.Is(err, checkpoint.ErrConflict):
		r.res.Error = err.Error()
		r.logger.Warn("run stopped by conflicting writer", "checkpoint", r.res.CheckpointID, "error", err)
		return r.res, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.res.Error = "run canceled: " + err.Error()
		r.logger.Info("run canceled", "checkpoint", r.res.CheckpointID)
		return r.res, err
	}

	last := r.res.CheckpointID
	if last == "" {
		last = "(none)"
	}
	r.res.Error = fmt.Sprintf("could not save progress: %v. The last committed state of thread %s (checkpoint %s) is still retrievable.",
		err, r.threadID, last)
	r.logger.Error("run failed", "checkpoint", r.res.CheckpointID, "error", err)
	return r.res, nil
}

func reasoningFailure(err error) string {
	switch {
	case errors.Is(err, conversation.ErrInvalidState):
		return "I produced a malformed tool request and could not continue. Please rephrase the question and try again."
	case errors.Is(err, llm.ErrReasoningTimeout), errors.Is(err, context.DeadlineExceeded):
		return "I could not finish thinking about this in time. Please try again, or ask a narrower question."
	default:
		return "I could not reach the language model to continue. Please try again shortly."
	}
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
