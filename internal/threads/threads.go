// Package threads manages conversation threads on top of the agent
// state machine: it loads the current head, runs the machine, and
// retries once when another writer advanced the thread concurrently.
package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/conversation"
)

// ErrEmptyMessage is returned by Submit for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Runner is the part of the state machine the manager drives.
type Runner interface {
	Run(ctx context.Context, in agent.RunInput) (*agent.Result, error)
}

// Reply is the outcome of one submission, shaped for callers.
type Reply struct {
	ThreadID     string                 `json:"thread_id"`
	Status       agent.Status           `json:"status"`
	Final        string                 `json:"final,omitempty"`
	Messages     []conversation.Message `json:"messages"`
	CheckpointID string                 `json:"checkpoint_id,omitempty"`
	Steps        int                    `json:"steps"`
	LimitReached bool                   `json:"limit_reached,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Manager owns thread lifecycles.
type Manager struct {
	store   checkpoint.Store
	runner  Runner
	retries int
	logger  *slog.Logger

	onComplete []func(*Reply)
}

// New creates a Manager. retries is the number of times a run is
// retried from the fresh head after a commit conflict.
func New(store checkpoint.Store, runner Runner, retries int, logger *slog.Logger) *Manager {
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, runner: runner, retries: retries, logger: logger}
}

// OnComplete registers fn to be called after every run that returns a
// reply. Must be called before the manager is used concurrently.
func (m *Manager) OnComplete(fn func(*Reply)) {
	m.onComplete = append(m.onComplete, fn)
}

// NewThread returns a fresh thread id. Nothing is stored until the
// first submission commits.
func (m *Manager) NewThread() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Submit appends text as a user message to threadID and runs the loop to
// completion. An empty threadID starts a new thread.
func (m *Manager) Submit(ctx context.Context, threadID, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if threadID == "" {
		threadID = m.NewThread()
	}
	input := conversation.User(text)
	return m.run(ctx, threadID, &input)
}

// Resume continues an interrupted run without new input. A thread that
// already ended in a final answer is returned unchanged.
func (m *Manager) Resume(ctx context.Context, threadID string) (*Reply, error) {
	head, err := m.store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, checkpoint.ErrNotFound)
	}
	return m.run(ctx, threadID, nil)
}

// run drives threadID through the agent, retrying from the new head when
// another writer commits first. Only the first attempt may execute a
// tool batch left open on the head. A retry is refused, returning the
// conflict, once the new head carries another writer's open batch or
// this run's input has already been committed on the losing branch.
func (m *Manager) run(ctx context.Context, threadID string, input *conversation.Message) (*Reply, error) {
	logger := m.logger.With("thread", threadID)
	var added []conversation.Message
	steps := 0
	var conflict error

	for attempt := 0; ; attempt++ {
		head, err := m.store.Latest(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if conflict != nil && (input == nil || (head != nil && len(head.State.Pending()) > 0)) {
			logger.Warn("thread taken over by another writer",
				"input_committed", input == nil,
				"error", conflict,
			)
			return nil, conflict
		}

		res, err := m.runner.Run(ctx, agent.RunInput{
			ThreadID:   threadID,
			Head:       head,
			Input:      input,
			RunPending: conflict == nil,
		})
		if res != nil {
			added = append(added, res.Added...)
			steps += res.Steps
			if res.InputCommitted {
				input = nil
			}
		}
		if err == nil {
			reply := replyFrom(res, added, steps)
			for _, fn := range m.onComplete {
				fn(reply)
			}
			return reply, nil
		}
		if !errors.Is(err, checkpoint.ErrConflict) || attempt >= m.retries {
			return nil, err
		}
		conflict = err
		logger.Warn("thread advanced by another writer, retrying from new head",
			"attempt", attempt+1,
			"error", err,
		)
	}
}

func replyFrom(res *agent.Result, added []conversation.Message, steps int) *Reply {
	r := &Reply{
		ThreadID:     res.ThreadID,
		Status:       res.Status,
		Messages:     added,
		CheckpointID: res.CheckpointID,
		Steps:        steps,
		LimitReached: res.LimitReached,
		Error:        res.Error,
	}
	for i := len(added) - 1; i >= 0; i-- {
		if added[i].Role == conversation.RoleAssistant && len(added[i].ToolCalls) == 0 {
			r.Final = added[i].Content
			break
		}
	}
	if r.Messages == nil {
		r.Messages = []conversation.Message{}
	}
	return r
}

// State returns the current messages of a thread and its head id.
func (m *Manager) State(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	head, err := m.store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, checkpoint.ErrNotFound)
	}
	return head, nil
}

// History returns every checkpoint of a thread, oldest first.
func (m *Manager) History(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	h, err := m.store.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, checkpoint.ErrNotFound)
	}
	return h, nil
}

// List returns all threads, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]checkpoint.ThreadSummary, error) {
	return m.store.ListThreads(ctx)
}

// Delete removes a thread and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, threadID string) (bool, error) {
	n, err := m.store.Delete(ctx, threadID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Info("thread deleted", "thread", threadID, "checkpoints", n)
	}
	return n > 0, nil
}
