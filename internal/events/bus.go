// Package events carries thread activity to live observers. The state
// machine publishes one event per commit and the thread manager one per
// finished run; the WebSocket stream and the MQTT mirror subscribe. A
// nil *Bus accepts and discards events.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/threads"
)

// Event kinds.
const (
	KindCommit      = "commit"       // a checkpoint and the messages it added
	KindRunComplete = "run_complete" // a run's final status
)

// Event is one thread event as sent to subscribers.
type Event struct {
	Timestamp    time.Time              `json:"ts"`
	Kind         string                 `json:"kind"`
	ThreadID     string                 `json:"thread_id"`
	CheckpointID string                 `json:"checkpoint_id,omitempty"`
	ParentID     string                 `json:"parent_id,omitempty"`
	Step         int                    `json:"step,omitempty"`
	Source       string                 `json:"source,omitempty"`
	Messages     []conversation.Message `json:"messages,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// FromCommit converts a state machine commit into an event.
func FromCommit(c agent.Commit) Event {
	return Event{
		Timestamp:    c.CreatedAt,
		Kind:         KindCommit,
		ThreadID:     c.ThreadID,
		CheckpointID: c.CheckpointID,
		ParentID:     c.ParentID,
		Step:         c.Step,
		Source:       string(c.Source),
		Messages:     c.Messages,
	}
}

// Bus fans events out to subscribers over buffered channels. Publish
// never blocks: a subscriber whose buffer is full misses the event and
// the bus counts the drop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscription
	dropped atomic.Uint64
}

type subscription struct {
	ch     chan Event
	thread string // "" matches every thread
}

func (s *subscription) wants(e Event) bool {
	return s.thread == "" || s.thread == e.ThreadID
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscription)}
}

// Publish delivers e to every matching subscriber. A zero Timestamp is
// set to now. Publishing on a nil bus does nothing.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// CommitObserver adapts the bus to agent.Machine.OnCommit.
func (b *Bus) CommitObserver() func(agent.Commit) {
	return func(c agent.Commit) { b.Publish(FromCommit(c)) }
}

// RunObserver adapts the bus to threads.Manager.OnComplete.
func (b *Bus) RunObserver() func(*threads.Reply) {
	return func(r *threads.Reply) {
		b.Publish(Event{
			Kind:         KindRunComplete,
			ThreadID:     r.ThreadID,
			CheckpointID: r.CheckpointID,
			Step:         r.Steps,
			Status:       string(r.Status),
			Error:        r.Error,
		})
	}
}

// Subscribe returns a channel receiving every event. Release it with
// Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	return b.SubscribeThread("", bufSize)
}

// SubscribeThread returns a channel receiving only threadID's events.
// An empty threadID matches all threads.
func (b *Bus) SubscribeThread(threadID string, bufSize int) <-chan Event {
	s := &subscription{ch: make(chan Event, bufSize), thread: threadID}
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe closes ch and stops delivery to it. Unknown or already
// released channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(s.ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
