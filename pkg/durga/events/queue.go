package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when an event id is not in the queue.
var ErrNotFound = errors.New("event not found")

// ErrInvalidTransition is returned when approve/dismiss targets an event
// that already reached a terminal status. Terminal statuses are terminal;
// re-transition attempts are rejected rather than silently overwritten.
var ErrInvalidTransition = errors.New("event already in a terminal status")

// Queue is the ordered in-memory event queue. All mutations go through it;
// the snapshot store persists whatever it reports via Snapshot.
type Queue struct {
	events []*Event
	byID   map[string]*Event
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewQueue creates an empty queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		byID:   make(map[string]*Event),
		logger: logger.With("component", "events"),
	}
}

// Seed loads previously persisted events, preserving their order and
// statuses. Intended for startup only; duplicate ids are skipped.
func (q *Queue) Seed(evts []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range evts {
		e := evts[i]
		if _, exists := q.byID[e.ID]; exists {
			continue
		}
		cp := e
		q.events = append(q.events, &cp)
		q.byID[cp.ID] = &cp
	}
}

// Enqueue appends a new event. The id must be unique; the caller is
// expected to have consulted the processed-id set first.
func (q *Queue) Enqueue(e Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if _, exists := q.byID[e.ID]; exists {
		return fmt.Errorf("event %q already enqueued", e.ID)
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	cp := e
	q.events = append(q.events, &cp)
	q.byID[cp.ID] = &cp

	q.logger.Info("event enqueued", "id", cp.ID, "type", cp.Type, "source", cp.Source)
	return nil
}

// Get returns a copy of the event with the given id.
func (q *Queue) Get(id string) (Event, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.byID[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return *e, nil
}

// List returns copies of events, optionally filtered by status
// (empty status means all), in insertion order.
func (q *Queue) List(status Status) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]Event, 0, len(q.events))
	for _, e := range q.events {
		if status != "" && e.Status != status {
			continue
		}
		result = append(result, *e)
	}
	return result
}

// Len returns the total number of events in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.events)
}

// PendingCount returns how many events still await a decision.
func (q *Queue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, e := range q.events {
		if e.Status == StatusPending {
			n++
		}
	}
	return n
}

// Approve marks a pending event approved and stamps ApprovedAt.
func (q *Queue) Approve(id string) (Event, error) {
	return q.transition(id, StatusApproved)
}

// Dismiss marks a pending event dismissed and stamps DismissedAt.
func (q *Queue) Dismiss(id string) (Event, error) {
	return q.transition(id, StatusDismissed)
}

// transition is the only path from pending to a terminal status.
func (q *Queue) transition(id string, to Status) (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	if e.Status != StatusPending {
		return *e, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.Status)
	}

	now := time.Now()
	e.Status = to
	switch to {
	case StatusApproved:
		e.ApprovedAt = &now
	case StatusDismissed:
		e.DismissedAt = &now
	}

	q.logger.Info("event transitioned", "id", id, "status", to)
	return *e, nil
}

// Clear empties the queue. The processed-id set is unaffected, so cleared
// items are still never re-ingested.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
	q.byID = make(map[string]*Event)
	q.logger.Info("event queue cleared")
}

// Snapshot returns copies of the most recent max events for persistence.
// Older records stay in memory for the rest of the process lifetime but
// drop out of the persisted copy.
func (q *Queue) Snapshot(max int) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()
	start := 0
	if max > 0 && len(q.events) > max {
		start = len(q.events) - max
	}
	result := make([]Event, 0, len(q.events)-start)
	for _, e := range q.events[start:] {
		result = append(result, *e)
	}
	return result
}
