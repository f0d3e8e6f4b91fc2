// Package checkpoint persists conversation state as an append-only chain
// of immutable snapshots per thread.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/scholar/internal/conversation"
)

// Source names the step that produced a checkpoint.
type Source string

const (
	SourceReason Source = "reason" // assistant turn appended
	SourceAct    Source = "act"    // tool results appended
	SourceLimit  Source = "limit"  // step limit reached, run closed
)

// Metadata is stored alongside every checkpoint.
type Metadata struct {
	// Step counts committed steps over the life of the thread, starting at 1.
	Step   int               `json:"step"`
	Source Source            `json:"source"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Checkpoint is an immutable snapshot of one thread's state.
type Checkpoint struct {
	ID        string             `json:"id"`
	ThreadID  string             `json:"thread_id"`
	ParentID  string             `json:"parent_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Metadata  Metadata           `json:"metadata"`
	State     conversation.State `json:"state"`

	// ByteSize is the encoded state size; zero for in-memory stores.
	ByteSize int64 `json:"byte_size,omitempty"`
}

// ThreadSummary describes one thread for listings.
type ThreadSummary struct {
	ThreadID        string    `json:"thread_id"`
	CheckpointCount int       `json:"checkpoint_count"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Store is the durable checkpoint log. Append is the only mutation and
// acts as a compare-and-swap on the thread head.
type Store interface {
	// Append commits state as the new head of threadID. parentID must be
	// the current head, or empty for a thread with no checkpoints;
	// otherwise a *ConflictError is returned and nothing is written.
	Append(ctx context.Context, threadID, parentID string, state conversation.State, meta Metadata) (*Checkpoint, error)

	// Latest returns the chain head, or nil if the thread is empty.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// History returns every checkpoint of the thread, oldest first.
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Get returns one checkpoint by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Checkpoint, error)

	// ListThreads returns all threads, most recently updated first.
	ListThreads(ctx context.Context) ([]ThreadSummary, error)

	// Delete removes every checkpoint of the thread and returns how many
	// were removed.
	Delete(ctx context.Context, threadID string) (int, error)

	Close() error
}

// Summary returns a one-line human description of the checkpoint.
func (c *Checkpoint) Summary() string {
	id := c.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return fmt.Sprintf("%s | %s | step %d %s | %s",
		id,
		c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		c.Metadata.Step,
		c.Metadata.Source,
		formatCount(c.State.Len(), "msg"),
	)
}

func formatCount(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func validateAppend(threadID string, state conversation.State) error {
	if threadID == "" {
		return fmt.Errorf("append: empty thread id")
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}
