package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/scholar/internal/conversation"
)

// MemStore is an in-process Store with the same head semantics as
// SQLStore. Nothing survives a restart.
type MemStore struct {
	mu      sync.Mutex
	threads map[string][]*Checkpoint
	byID    map[string]*Checkpoint
	seq     map[string]int64 // thread id -> last write sequence
	next    int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		threads: make(map[string][]*Checkpoint),
		byID:    make(map[string]*Checkpoint),
		seq:     make(map[string]int64),
	}
}

// Append implements Store.
func (m *MemStore) Append(_ context.Context, threadID, parentID string, state conversation.State, meta Metadata) (*Checkpoint, error) {
	if err := validateAppend(threadID, state); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.threads[threadID]
	head := ""
	if len(chain) > 0 {
		head = chain[len(chain)-1].ID
	}
	if head != parentID {
		return nil, &ConflictError{ThreadID: threadID, ParentID: parentID, HeadID: head}
	}

	cp := &Checkpoint{
		ID:        id.String(),
		ThreadID:  threadID,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
		Metadata:  copyMetadata(meta),
		State:     state.Clone(),
	}
	m.threads[threadID] = append(chain, cp)
	m.byID[cp.ID] = cp
	m.next++
	m.seq[threadID] = m.next
	return copyCheckpoint(cp), nil
}

// Latest implements Store.
func (m *MemStore) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.threads[threadID]
	if len(chain) == 0 {
		return nil, nil
	}
	return copyCheckpoint(chain[len(chain)-1]), nil
}

// History implements Store.
func (m *MemStore) History(_ context.Context, threadID string) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.threads[threadID]
	out := make([]*Checkpoint, len(chain))
	for i, cp := range chain {
		out[i] = copyCheckpoint(cp)
	}
	return out, nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, id string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyCheckpoint(cp), nil
}

// ListThreads implements Store.
func (m *MemStore) ListThreads(_ context.Context) ([]ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ThreadSummary, 0, len(m.threads))
	for id, chain := range m.threads {
		out = append(out, ThreadSummary{
			ThreadID:        id,
			CheckpointCount: len(chain),
			LastUpdated:     chain[len(chain)-1].CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ThreadID] > m.seq[out[j].ThreadID]
	})
	return out, nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.threads[threadID]
	for _, cp := range chain {
		delete(m.byID, cp.ID)
	}
	delete(m.threads, threadID)
	delete(m.seq, threadID)
	return len(chain), nil
}

// Close implements Store.
func (m *MemStore) Close() error { return nil }

func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	c := *cp
	c.State = cp.State.Clone()
	c.Metadata = copyMetadata(cp.Metadata)
	return &c
}

func copyMetadata(meta Metadata) Metadata {
	if meta.Extra != nil {
		extra := make(map[string]string, len(meta.Extra))
		for k, v := range meta.Extra {
			extra[k] = v
		}
		meta.Extra = extra
	}
	return meta
}
