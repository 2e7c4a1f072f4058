// Package state persists the daemon's working state: the processed-id set
// used for deduplication, token usage counters, per-source last-check
// timestamps, and the most recent slice of the event queue. The snapshot
// is one JSON document rewritten wholesale on every save and loaded once
// at startup. A SQLite archive keeps the full event history beyond the
// snapshot retention cap.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
)

// SnapshotEventCap bounds how many events the persisted snapshot retains.
// Older records stay in the live queue and in the archive.
const SnapshotEventCap = 100

// Snapshot is the persisted document layout.
type Snapshot struct {
	ProcessedEvents []string             `json:"processed_events"`
	TokenUsage      budget.Usage         `json:"token_usage"`
	LastCheck       map[string]time.Time `json:"last_check"`
	EventQueue      []events.Event       `json:"event_queue"`
}

// Store owns the snapshot file, the processed-id set and the last-check
// timestamps. The event queue and the token gate live elsewhere; Persist
// collects their current contents on each save.
type Store struct {
	path      string
	processed map[string]struct{}
	lastCheck map[string]time.Time
	archive   *Archive
	logger    *slog.Logger
	mu        sync.Mutex
}

// New creates a store for the given snapshot path. The archive is
// optional; pass nil to skip durable event history.
func New(path string, archive *Archive, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:      path,
		processed: make(map[string]struct{}),
		lastCheck: make(map[string]time.Time),
		archive:   archive,
		logger:    logger.With("component", "state"),
	}
}

// Load reads the snapshot from disk and seeds the processed set and
// last-check map. A missing file yields an empty snapshot, not an error.
// The returned snapshot carries the usage and events for the caller to
// seed the gate and the queue.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no previous state, starting fresh", "path", s.path)
		return &Snapshot{LastCheck: map[string]time.Time{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	s.mu.Lock()
	for _, id := range snap.ProcessedEvents {
		s.processed[id] = struct{}{}
	}
	for source, ts := range snap.LastCheck {
		s.lastCheck[source] = ts
	}
	s.mu.Unlock()

	s.logger.Info("state loaded",
		"processed", len(snap.ProcessedEvents), "events", len(snap.EventQueue))
	return &snap, nil
}

// Persist writes the full snapshot synchronously. The file is rewritten
// wholesale, so the last writer wins; saves never overlap because every
// caller goes through the store mutex.
func (s *Store) Persist(usage budget.Usage, queued []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(queued) > SnapshotEventCap {
		queued = queued[len(queued)-SnapshotEventCap:]
	}

	snap := Snapshot{
		ProcessedEvents: make([]string, 0, len(s.processed)),
		TokenUsage:      usage,
		LastCheck:       make(map[string]time.Time, len(s.lastCheck)),
		EventQueue:      queued,
	}
	for id := range s.processed {
		snap.ProcessedEvents = append(snap.ProcessedEvents, id)
	}
	for source, ts := range s.lastCheck {
		snap.LastCheck[source] = ts
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// Seen reports whether an id is in the processed set.
func (s *Store) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok
}

// MarkProcessed adds an id to the processed set. The set outlives event
// records: a dismissed or evicted event's id is still remembered.
func (s *Store) MarkProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = struct{}{}
}

// ProcessedCount returns the cardinality of the processed set.
func (s *Store) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// SetLastCheck stamps the completion time of the latest poll for a source.
func (s *Store) SetLastCheck(source string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck[source] = ts
}

// LastCheck returns a copy of the per-source last-check timestamps.
func (s *Store) LastCheck() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastCheck))
	for k, v := range s.lastCheck {
		out[k] = v
	}
	return out
}

// ArchiveEvent appends an event to the durable archive, best-effort.
// Archive failures are logged and never fail the pipeline.
func (s *Store) ArchiveEvent(e events.Event) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveEvent(e); err != nil {
		s.logger.Error("failed to archive event", "id", e.ID, "error", err)
	}
}

// ArchiveStatus records a status transition in the archive, best-effort.
func (s *Store) ArchiveStatus(id string, status events.Status) {
	if s.archive == nil {
		return
	}
	if err := s.archive.UpdateStatus(id, status); err != nil {
		s.logger.Error("failed to archive status", "id", id, "error", err)
	}
}
