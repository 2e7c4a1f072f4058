package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/durgabridge/durga/pkg/durga/events"
)

// Archive is the durable event history, backed by SQLite. The snapshot
// file only keeps the most recent events; the archive keeps everything.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenArchive opens (and if needed creates) the archive database.
func OpenArchive(path string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening archive db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_archive (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			source      TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			data        TEXT NOT NULL DEFAULT '{}',
			status      TEXT NOT NULL,
			suggested_action TEXT NOT NULL DEFAULT '',
			decided_at  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_event_archive_source ON event_archive(source);
		CREATE INDEX IF NOT EXISTS idx_event_archive_status ON event_archive(status);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating archive schema: %w", err)
	}

	return &Archive{db: db, logger: logger.With("component", "archive")}, nil
}

// SaveEvent inserts an event. Replays of the same id are upserts, so the
// archive stays idempotent under restart.
func (a *Archive) SaveEvent(e events.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	_, err = a.db.Exec(`
		INSERT INTO event_archive (id, type, source, timestamp, data, status, suggested_action)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		e.ID, string(e.Type), e.Source,
		e.Timestamp.UTC().Format(time.RFC3339), string(data),
		string(e.Status), e.SuggestedAction,
	)
	if err != nil {
		return fmt.Errorf("saving event %s: %w", e.ID, err)
	}
	return nil
}

// UpdateStatus records an approve/dismiss decision.
func (a *Archive) UpdateStatus(id string, status events.Status) error {
	_, err := a.db.Exec(
		`UPDATE event_archive SET status = ?, decided_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating event %s: %w", id, err)
	}
	return nil
}

// CountBySource returns how many archived events each source produced.
func (a *Archive) CountBySource() (map[string]int, error) {
	rows, err := a.db.Query(`SELECT source, COUNT(*) FROM event_archive GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("counting archive: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scanning archive count: %w", err)
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
