package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/scholar/internal/agent/agenttest"
	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/llm"
	"github.com/nugget/scholar/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqrtTool() *tools.Tool {
	return &tools.Tool{
		Name:        "calculator",
		Description: "Evaluate an expression",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string"},
			},
			"required":             []any{"expression"},
			"additionalProperties": false,
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			if args["expression"] == "sqrt(144)" {
				return "12", nil
			}
			return "", tools.InvalidInput(fmt.Errorf("cannot evaluate %v", args["expression"]))
		},
	}
}

func newRegistry(t *testing.T, extra ...*tools.Tool) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(append([]*tools.Tool{sqrtTool()}, extra...)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func userInput(text string) *conversation.Message {
	m := conversation.User(text)
	return &m
}

func call(id, name string, args map[string]any) conversation.ToolCall {
	return conversation.ToolCall{ID: id, Name: name, Arguments: args}
}

func history(t *testing.T, store checkpoint.Store, threadID string) []*checkpoint.Checkpoint {
	t.Helper()
	h, err := store.History(context.Background(), threadID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return h
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		msgs []conversation.Message
		want Node
	}{
		{"empty", nil, NodeDone},
		{"final answer", []conversation.Message{conversation.User("q"), conversation.Assistant("a")}, NodeDone},
		{"tool request", []conversation.Message{conversation.User("q"), conversation.Assistant("", call("1", "x", nil))}, NodeAct},
		{"tool request not last", []conversation.Message{
			conversation.Assistant("", call("1", "x", nil)),
			conversation.ToolResult("1", "x", "ok"),
		}, NodeDone},
		{"user last", []conversation.Message{conversation.User("q")}, NodeDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(conversation.State{Messages: tt.msgs}); got != tt.want {
				t.Errorf("Route() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRun_SquareRoot(t *testing.T) {
	store := checkpoint.NewMemStore()
	script := agenttest.Script(
		agenttest.Call(call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
		agenttest.Reply("The square root of 144 is 12."),
	)
	m := New(script, newRegistry(t), store, Config{}, testLogger())

	res, err := m.Run(context.Background(), RunInput{ThreadID: "t1", Input: userInput("What is the square root of 144?")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDone {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if res.Final() != "The square root of 144 is 12." {
		t.Errorf("final = %q", res.Final())
	}
	if !res.InputCommitted {
		t.Error("InputCommitted = false")
	}

	h := history(t, store, "t1")
	if len(h) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(h))
	}
	wantSources := []checkpoint.Source{checkpoint.SourceReason, checkpoint.SourceAct, checkpoint.SourceReason}
	wantLens := []int{2, 3, 4}
	for i, cp := range h {
		if cp.Metadata.Source != wantSources[i] {
			t.Errorf("checkpoint %d source = %s, want %s", i, cp.Metadata.Source, wantSources[i])
		}
		if cp.Metadata.Step != i+1 {
			t.Errorf("checkpoint %d step = %d, want %d", i, cp.Metadata.Step, i+1)
		}
		if cp.State.Len() != wantLens[i] {
			t.Errorf("checkpoint %d has %d messages, want %d", i, cp.State.Len(), wantLens[i])
		}
		if i > 0 {
			if cp.ParentID != h[i-1].ID {
				t.Errorf("checkpoint %d parent = %s, want %s", i, cp.ParentID, h[i-1].ID)
			}
			// Accumulation: every earlier message survives unchanged.
			for j, prev := range h[i-1].State.Messages {
				if cp.State.Messages[j].Content != prev.Content || cp.State.Messages[j].Role != prev.Role {
					t.Errorf("checkpoint %d message %d changed", i, j)
				}
			}
		}
	}

	tool := h[1].State.Messages[2]
	if tool.Role != conversation.RoleTool || tool.ToolCallID != "c1" || tool.Content != "12" {
		t.Errorf("tool message = %+v", tool)
	}
	if res.CheckpointID != h[2].ID {
		t.Errorf("CheckpointID = %s, want %s", res.CheckpointID, h[2].ID)
	}

	// The second reasoning call observed the tool result.
	calls := script.Calls()
	if len(calls) != 2 {
		t.Fatalf("reasoner called %d times", len(calls))
	}
	if last := calls[1][len(calls[1])-1]; last.Role != conversation.RoleTool {
		t.Errorf("second call ended with %s", last.Role)
	}
}

func TestRun_StepLimit(t *testing.T) {
	tests := []struct {
		name        string
		maxSteps    int
		wantPending bool
	}{
		// R A R A | limit: the batch was answered before the stop.
		{"after act", 4, false},
		// R A R | limit: the open batch is answered as not executed.
		{"after reason", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := checkpoint.NewMemStore()
			script := &agenttest.Reasoner{
				Repeat: agenttest.Call(call("loop", "calculator", map[string]any{"expression": "sqrt(144)"})),
			}
			m := New(script, newRegistry(t), store, Config{MaxSteps: tt.maxSteps}, testLogger())

			res, err := m.Run(context.Background(), RunInput{ThreadID: "loop", Input: userInput("go forever")})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.LimitReached || res.Status != StatusDone {
				t.Fatalf("result = %+v", res)
			}

			h := history(t, store, "loop")
			if len(h) != tt.maxSteps+1 {
				t.Fatalf("checkpoints = %d, want %d", len(h), tt.maxSteps+1)
			}
			last := h[len(h)-1]
			if last.Metadata.Source != checkpoint.SourceLimit {
				t.Errorf("last source = %s", last.Metadata.Source)
			}
			final, _ := last.State.Last()
			if final.Role != conversation.RoleAssistant || final.RequestsTools() {
				t.Errorf("final message = %+v", final)
			}
			if got := len(last.State.Pending()); got != 0 {
				t.Errorf("pending after limit = %d", got)
			}
			if err := last.State.Validate(); err != nil {
				t.Errorf("final state invalid: %v", err)
			}

			notExecuted := strings.Contains(last.State.Messages[last.State.Len()-2].Content, "not executed")
			if notExecuted != tt.wantPending {
				t.Errorf("not-executed message present = %v, want %v", notExecuted, tt.wantPending)
			}
			if got := len(script.Calls()); got != (tt.maxSteps+1)/2 {
				t.Errorf("reasoner calls = %d", got)
			}
		})
	}
}

func TestRun_ToolFailuresBecomeMessages(t *testing.T) {
	boom := &tools.Tool{
		Name:    "boom",
		Handler: func(context.Context, map[string]any) (string, error) { panic("kaboom") },
	}
	broken := &tools.Tool{
		Name:    "broken",
		Handler: func(context.Context, map[string]any) (string, error) { return "", errors.New("upstream said no") },
	}
	store := checkpoint.NewMemStore()
	script := agenttest.Script(
		agenttest.Call(
			call("a", "nonexistent", nil),
			call("b", "calculator", map[string]any{"expr": "1"}),
			call("c", "boom", nil),
			call("d", "broken", nil),
			call("e", "calculator", map[string]any{"expression": "sqrt(144)"}),
		),
		agenttest.Reply("done"),
	)
	m := New(script, newRegistry(t, boom, broken), store, Config{}, testLogger())

	res, err := m.Run(context.Background(), RunInput{ThreadID: "t", Input: userInput("try everything")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDone || res.Final() != "done" {
		t.Fatalf("result = %+v", res)
	}

	h := history(t, store, "t")
	act := h[1]
	if act.Metadata.Extra["tool_errors"] != "4" {
		t.Errorf("tool_errors = %q", act.Metadata.Extra["tool_errors"])
	}
	results := act.State.Messages[2:]
	wantIDs := []string{"a", "b", "c", "d", "e"}
	wantText := []string{"unknown tool", "invalid arguments", "panic: kaboom", "upstream said no", "12"}
	for i, msg := range results {
		if msg.ToolCallID != wantIDs[i] {
			t.Errorf("result %d answers %s, want %s", i, msg.ToolCallID, wantIDs[i])
		}
		if msg.Content == "" {
			t.Errorf("result %d is empty", i)
		}
		if !strings.Contains(msg.Content, wantText[i]) {
			t.Errorf("result %d = %q, want it to contain %q", i, msg.Content, wantText[i])
		}
	}
}

func TestRun_ParallelResultsKeepOrder(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(d time.Duration) tools.Handler {
		return func(ctx context.Context, args map[string]any) (string, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(d)
			return fmt.Sprint(args["id"]), nil
		}
	}

	for _, parallel := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			running.Store(0)
			peak.Store(0)
			reg, err := tools.NewRegistry(
				&tools.Tool{Name: "slow", Handler: slow(40 * time.Millisecond)},
				&tools.Tool{Name: "fast", Handler: slow(time.Millisecond)},
			)
			if err != nil {
				t.Fatal(err)
			}
			script := agenttest.Script(
				agenttest.Call(
					call("1", "slow", map[string]any{"id": "first"}),
					call("2", "fast", map[string]any{"id": "second"}),
					call("3", "slow", map[string]any{"id": "third"}),
					call("4", "fast", map[string]any{"id": "fourth"}),
				),
				agenttest.Reply("ok"),
			)
			store := checkpoint.NewMemStore()
			m := New(script, reg, store, Config{MaxParallelTools: parallel}, testLogger())
			if _, err := m.Run(context.Background(), RunInput{ThreadID: "p", Input: userInput("go")}); err != nil {
				t.Fatal(err)
			}

			results := history(t, store, "p")[1].State.Messages[2:]
			for i, want := range []string{"first", "second", "third", "fourth"} {
				if results[i].Content != want {
					t.Errorf("result %d = %q, want %q", i, results[i].Content, want)
				}
			}
			if got := int(peak.Load()); got > parallel {
				t.Errorf("peak concurrency = %d, limit %d", got, parallel)
			}
			if parallel == 1 && peak.Load() != 1 {
				t.Errorf("sequential dispatch ran %d at once", peak.Load())
			}
		})
	}
}

func TestRun_ToolTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := &tools.Tool{
		Name: "stuck",
		Handler: func(context.Context, map[string]any) (string, error) {
			<-release
			return "late", nil
		},
	}
	store := checkpoint.NewMemStore()
	script := agenttest.Script(agenttest.Call(call("s", "stuck", nil)), agenttest.Reply("gave up"))
	m := New(script, newRegistry(t, stuck), store, Config{ToolTimeout: 20 * time.Millisecond}, testLogger())

	res, err := m.Run(context.Background(), RunInput{ThreadID: "slow", Input: userInput("wait")})
	if err != nil {
		t.Fatal(err)
	}
	tool := history(t, store, "slow")[1].State.Messages[2]
	if !strings.Contains(tool.Content, "timed out") {
		t.Errorf("tool message = %q", tool.Content)
	}
	if res.Final() != "gave up" {
		t.Errorf("final = %q", res.Final())
	}
}

func TestRun_ReasoningFailure(t *testing.T) {
	tests := []struct {
		name     string
		step     agenttest.Step
		timeout  time.Duration
		wantText string
	}{
		{
			name:     "unavailable",
			step:     agenttest.Fail(&llm.ReasoningError{Model: "m", Err: errors.New("503")}),
			wantText: "could not reach the language model",
		},
		{
			name:     "timeout",
			step:     agenttest.Block(),
			timeout:  20 * time.Millisecond,
			wantText: "in time",
		},
		{
			name: "duplicate call ids",
			step: agenttest.Call(
				call("same", "calculator", map[string]any{"expression": "sqrt(144)"}),
				call("same", "calculator", map[string]any{"expression": "sqrt(144)"}),
			),
			wantText: "malformed tool request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := checkpoint.NewMemStore()
			m := New(agenttest.Script(tt.step), newRegistry(t), store, Config{ReasonTimeout: tt.timeout}, testLogger())

			res, err := m.Run(context.Background(), RunInput{ThreadID: "r", Input: userInput("hello")})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Status != StatusDone {
				t.Fatalf("status = %s", res.Status)
			}
			if !strings.Contains(res.Final(), tt.wantText) {
				t.Errorf("final = %q, want it to contain %q", res.Final(), tt.wantText)
			}
			h := history(t, store, "r")
			if len(h) != 1 {
				t.Fatalf("checkpoints = %d, want 1", len(h))
			}
			if h[0].Metadata.Extra["error"] == "" {
				t.Error("error not recorded in metadata")
			}
			if h[0].State.Messages[0].Content != "hello" {
				t.Error("user input not committed with the failure")
			}
		})
	}
}

func seed(t *testing.T, store checkpoint.Store, threadID string, msgs ...conversation.Message) *checkpoint.Checkpoint {
	t.Helper()
	parent := ""
	if head, _ := store.Latest(context.Background(), threadID); head != nil {
		parent = head.ID
	}
	var state conversation.State
	if head, _ := store.Latest(context.Background(), threadID); head != nil {
		state = head.State
	}
	cp, err := store.Append(context.Background(), threadID, parent, state.Append(msgs...), checkpoint.Metadata{Step: 1, Source: checkpoint.SourceReason})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cp
}

func TestRun_ResumePendingBatch(t *testing.T) {
	tests := []struct {
		name  string
		input *conversation.Message
	}{
		{"no input", nil},
		{"with new input", userInput("and also?")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := checkpoint.NewMemStore()
			head := seed(t, store, "crash",
				conversation.User("What is the square root of 144?"),
				conversation.Assistant("", call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
			)
			script := agenttest.Script(agenttest.Reply("12"))
			m := New(script, newRegistry(t), store, Config{}, testLogger())

			res, err := m.Run(context.Background(), RunInput{ThreadID: "crash", Head: head, Input: tt.input, RunPending: true})
			if err != nil {
				t.Fatal(err)
			}
			if res.Steps != 2 {
				t.Errorf("steps = %d, want 2 (act, reason)", res.Steps)
			}

			sent := script.Calls()[0]
			toolAt := -1
			for i, msg := range sent {
				if msg.Role == conversation.RoleTool && msg.ToolCallID == "c1" {
					toolAt = i
				}
			}
			if toolAt != 2 {
				t.Fatalf("tool result at %d, want 2: %+v", toolAt, sent)
			}
			if tt.input != nil && sent[len(sent)-1].Content != tt.input.Content {
				t.Errorf("new input not last: %+v", sent[len(sent)-1])
			}

			// A second resume finds nothing to do.
			latest, _ := store.Latest(context.Background(), "crash")
			again, err := m.Run(context.Background(), RunInput{ThreadID: "crash", Head: latest, RunPending: true})
			if err != nil {
				t.Fatal(err)
			}
			if again.Steps != 0 || again.CheckpointID != latest.ID {
				t.Errorf("idle resume committed %d steps", again.Steps)
			}
		})
	}
}

func TestRun_OpenBatchNeedsRecovery(t *testing.T) {
	store := checkpoint.NewMemStore()
	head := seed(t, store, "busy",
		conversation.User("What is the square root of 144?"),
		conversation.Assistant("", call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
	)
	var invoked atomic.Int32
	counted := sqrtTool()
	inner := counted.Handler
	counted.Handler = func(ctx context.Context, args map[string]any) (string, error) {
		invoked.Add(1)
		return inner(ctx, args)
	}
	reg, err := tools.NewRegistry(counted)
	if err != nil {
		t.Fatal(err)
	}
	script := agenttest.Script(agenttest.Reply("12"))
	m := New(script, reg, store, Config{}, testLogger())

	for _, input := range []*conversation.Message{nil, userInput("and also?")} {
		res, err := m.Run(context.Background(), RunInput{ThreadID: "busy", Head: head, Input: input})
		if !errors.Is(err, ErrOpenBatch) {
			t.Fatalf("Run = %+v, %v; want ErrOpenBatch", res, err)
		}
	}
	if n := invoked.Load(); n != 0 {
		t.Errorf("tool invoked %d times", n)
	}
	if n := len(script.Calls()); n != 0 {
		t.Errorf("reasoning calls = %d", n)
	}
	if h := history(t, store, "busy"); len(h) != 1 {
		t.Errorf("history = %d checkpoints, want 1", len(h))
	}
}

func TestRun_ResumeAfterActCommit(t *testing.T) {
	store := checkpoint.NewMemStore()
	head := seed(t, store, "acted",
		conversation.User("What is the square root of 144?"),
		conversation.Assistant("", call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
		conversation.ToolResult("c1", "calculator", "12"),
	)
	forbidden := sqrtTool()
	forbidden.Handler = func(context.Context, map[string]any) (string, error) {
		t.Error("answered tool call executed again")
		return "", errors.New("unexpected call")
	}
	reg, err := tools.NewRegistry(forbidden)
	if err != nil {
		t.Fatal(err)
	}
	script := agenttest.Script(agenttest.Reply("The square root of 144 is 12."))
	m := New(script, reg, store, Config{}, testLogger())

	res, err := m.Run(context.Background(), RunInput{ThreadID: "acted", Head: head, RunPending: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps != 1 || res.Status != StatusDone {
		t.Errorf("result = %+v, want one REASON step", res)
	}

	calls := script.Calls()
	if len(calls) != 1 {
		t.Fatalf("reasoning calls = %d, want 1", len(calls))
	}
	last := calls[0][len(calls[0])-1]
	if last.Role != conversation.RoleTool || last.ToolCallID != "c1" || last.Content != "12" {
		t.Errorf("reasoner saw %+v last, want the stored tool result", last)
	}
	if h := history(t, store, "acted"); len(h) != 2 {
		t.Errorf("history = %d checkpoints, want 2", len(h))
	}
}

func TestRun_ConflictPassesThrough(t *testing.T) {
	store := checkpoint.NewMemStore()
	stale := seed(t, store, "race", conversation.User("q"), conversation.Assistant("a"))
	winner := seed(t, store, "race", conversation.User("other writer"), conversation.Assistant("b"))

	m := New(agenttest.Script(agenttest.Reply("mine")), newRegistry(t), store, Config{}, testLogger())
	res, err := m.Run(context.Background(), RunInput{ThreadID: "race", Head: stale, Input: userInput("q2")})

	var ce *checkpoint.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *checkpoint.ConflictError", err)
	}
	if res == nil || res.CheckpointID != stale.ID || res.InputCommitted {
		t.Errorf("result = %+v", res)
	}
	latest, _ := store.Latest(context.Background(), "race")
	if latest.ID != winner.ID {
		t.Error("conflicting run overwrote the head")
	}
}

// flakyStore fails every Append after the first n succeed.
type flakyStore struct {
	checkpoint.Store
	mu sync.Mutex
	n  int
}

func (f *flakyStore) Append(ctx context.Context, threadID, parentID string, state conversation.State, meta checkpoint.Metadata) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n <= 0 {
		return nil, &checkpoint.UnavailableError{Op: "append", Err: errors.New("disk full")}
	}
	f.n--
	return f.Store.Append(ctx, threadID, parentID, state, meta)
}

func TestRun_PersistenceFailure(t *testing.T) {
	store := &flakyStore{Store: checkpoint.NewMemStore(), n: 1}
	script := agenttest.Script(
		agenttest.Call(call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
		agenttest.Reply("12"),
	)
	m := New(script, newRegistry(t), store, Config{}, testLogger())

	res, err := m.Run(context.Background(), RunInput{ThreadID: "disk", Input: userInput("sqrt?")})
	if err != nil {
		t.Fatalf("Run returned error %v, want FAILED result", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	first, _ := store.Latest(context.Background(), "disk")
	if res.CheckpointID != first.ID {
		t.Errorf("CheckpointID = %s, want last good %s", res.CheckpointID, first.ID)
	}
	if !strings.Contains(res.Error, "still retrievable") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	step := func(ctx context.Context, _ []conversation.Message) (conversation.Message, error) {
		cancel()
		<-ctx.Done()
		return conversation.Message{}, ctx.Err()
	}
	store := checkpoint.NewMemStore()
	m := New(agenttest.Script(step), newRegistry(t), store, Config{}, testLogger())

	_, err := m.Run(ctx, RunInput{ThreadID: "c", Input: userInput("hi")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if h := history(t, store, "c"); len(h) != 0 {
		t.Errorf("canceled run committed %d checkpoints", len(h))
	}
}

func TestRun_OnCommitOrder(t *testing.T) {
	store := checkpoint.NewMemStore()
	script := agenttest.Script(
		agenttest.Call(call("c1", "calculator", map[string]any{"expression": "sqrt(144)"})),
		agenttest.Reply("12"),
	)
	m := New(script, newRegistry(t), store, Config{}, testLogger())

	var seen []Commit
	m.OnCommit(func(c Commit) { seen = append(seen, c) })

	if _, err := m.Run(context.Background(), RunInput{ThreadID: "obs", Input: userInput("q")}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Fatalf("commits = %d", len(seen))
	}
	for i, c := range seen {
		if c.Step != i+1 {
			t.Errorf("commit %d step = %d", i, c.Step)
		}
		if i > 0 && c.ParentID != seen[i-1].CheckpointID {
			t.Errorf("commit %d parent = %s", i, c.ParentID)
		}
	}
	if len(seen[0].Messages) != 2 || seen[0].Messages[0].Role != conversation.RoleUser {
		t.Errorf("first commit messages = %+v", seen[0].Messages)
	}
}

func TestRun_RejectsForeignHead(t *testing.T) {
	store := checkpoint.NewMemStore()
	head := seed(t, store, "a", conversation.User("q"), conversation.Assistant("a"))
	m := New(agenttest.Script(), newRegistry(t), store, Config{}, testLogger())
	if _, err := m.Run(context.Background(), RunInput{ThreadID: "b", Head: head}); err == nil {
		t.Fatal("expected error for head of another thread")
	}
	if _, err := m.Run(context.Background(), RunInput{}); err == nil {
		t.Fatal("expected error for empty thread id")
	}
}
