package state

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
)

func TestStore_LoadMissingFile(t *testing.T) {
	t.Parallel()
	s := New(filepath.Join(t.TempDir(), "state.json"), nil, nil)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if len(snap.ProcessedEvents) != 0 || len(snap.EventQueue) != 0 {
		t.Errorf("Load() on missing file = %+v, want empty snapshot", snap)
	}
}

func TestStore_PersistLoadRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")

	s := New(path, nil, nil)
	s.MarkProcessed("gmail_1")
	s.MarkProcessed("whatsapp_2")
	checkAt := time.Now().Truncate(time.Second)
	s.SetLastCheck("gmail", checkAt)

	usage := budget.Usage{Today: 42, Total: 420, LastReset: "2026-08-29"}
	queued := []events.Event{{
		ID: "gmail_1", Type: events.TypeNewEmail, Source: "gmail",
		Timestamp: time.Now(), Status: events.StatusPending,
		Data: map[string]any{"from": "alice@example.com"},
	}}
	if err := s.Persist(usage, queued); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// Fresh store, same path.
	s2 := New(path, nil, nil)
	snap, err := s2.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.ProcessedEvents) != 2 {
		t.Errorf("processed = %d, want 2", len(snap.ProcessedEvents))
	}
	if !s2.Seen("gmail_1") || !s2.Seen("whatsapp_2") {
		t.Error("processed set not seeded from snapshot")
	}
	if snap.TokenUsage != usage {
		t.Errorf("usage = %+v, want %+v", snap.TokenUsage, usage)
	}
	if len(snap.EventQueue) != 1 || snap.EventQueue[0].ID != "gmail_1" {
		t.Errorf("event queue = %+v, want one gmail_1 event", snap.EventQueue)
	}
	if got := s2.LastCheck()["gmail"]; !got.Equal(checkAt) {
		t.Errorf("last check = %v, want %v", got, checkAt)
	}
}

func TestStore_PersistCapsEvents(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil, nil)

	queued := make([]events.Event, 0, SnapshotEventCap+20)
	for i := 0; i < SnapshotEventCap+20; i++ {
		queued = append(queued, events.Event{
			ID: fmt.Sprintf("gmail_%d", i), Type: events.TypeNewEmail,
			Source: "gmail", Timestamp: time.Now(), Status: events.StatusPending,
		})
	}
	if err := s.Persist(budget.Usage{}, queued); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	snap, err := New(path, nil, nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.EventQueue) != SnapshotEventCap {
		t.Fatalf("persisted events = %d, want %d", len(snap.EventQueue), SnapshotEventCap)
	}
	// The newest records survive, the oldest drop.
	if snap.EventQueue[0].ID != "gmail_20" {
		t.Errorf("oldest persisted = %s, want gmail_20", snap.EventQueue[0].ID)
	}
}

func TestStore_LastWriterWins(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil, nil)

	if err := s.Persist(budget.Usage{Today: 1}, nil); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := s.Persist(budget.Usage{Today: 2}, nil); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	snap, err := New(path, nil, nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.TokenUsage.Today != 2 {
		t.Errorf("usage today = %d, want 2 (last save wins)", snap.TokenUsage.Today)
	}
}

func TestArchive_SaveAndCount(t *testing.T) {
	t.Parallel()
	arc, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"), nil)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer arc.Close()

	e := events.Event{
		ID: "gmail_1", Type: events.TypeNewEmail, Source: "gmail",
		Timestamp: time.Now(), Status: events.StatusPending,
		Data: map[string]any{"subject": "hi"},
	}
	if err := arc.SaveEvent(e); err != nil {
		t.Fatalf("SaveEvent() error = %v", err)
	}
	// Replay of the same id must not fail or duplicate.
	if err := arc.SaveEvent(e); err != nil {
		t.Fatalf("SaveEvent() replay error = %v", err)
	}
	if err := arc.UpdateStatus("gmail_1", events.StatusApproved); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	counts, err := arc.CountBySource()
	if err != nil {
		t.Fatalf("CountBySource() error = %v", err)
	}
	if counts["gmail"] != 1 {
		t.Errorf("gmail archive count = %d, want 1", counts["gmail"])
	}
}
