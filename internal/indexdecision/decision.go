// Package indexdecision implements the Indexing Decision Service: the
// idempotence gate invoked before any embedding call.
package indexdecision

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Decision is the outcome of shouldIndex.
type Decision string

const (
	DecisionIndex Decision = "INDEX"
	DecisionSkip  Decision = "SKIP"
)

// Reason names why a Decision was made, matching spec.md's rule names.
type Reason string

const (
	ReasonFirstTime      Reason = "first_time"
	ReasonIdempotent     Reason = "idempotent"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonStalenessBound Reason = "staleness_bound"
	ReasonContentChanged Reason = "content_changed"
)

// Result is what shouldIndex returns.
type Result struct {
	Decision Decision
	Reason   Reason
}

// record is the sidecar's view of one task's indexing history, independent
// of the skeleton cache (the sole write surface of the Vector Indexer).
type record struct {
	lastIndexedAt   time.Time
	lastContentHash string
	attempts        int
}

// Service gatekeeps (re)indexing decisions against a small SQLite sidecar.
type Service struct {
	db           *sql.DB
	minInterval  time.Duration
	maxInterval  time.Duration
}

// Open opens (creating if needed) the sidecar database at path.
func Open(path string, minInterval, maxInterval time.Duration) (*Service, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index sidecar: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index sidecar: %w", err)
	}
	return &Service{db: db, minInterval: minInterval, maxInterval: maxInterval}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS index_state (
	task_id           TEXT PRIMARY KEY,
	last_indexed_at   INTEGER NOT NULL,
	last_content_hash TEXT NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0
);
`

// Close closes the underlying database handle.
func (s *Service) Close() error { return s.db.Close() }

// ShouldIndex evaluates the rule ladder in order, first match wins, against
// now and the task's current contentHash.
func (s *Service) ShouldIndex(taskID, contentHash string, now time.Time) (Result, error) {
	rec, found, err := s.get(taskID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Decision: DecisionIndex, Reason: ReasonFirstTime}, nil
	}

	sinceLastIndex := now.Sub(rec.lastIndexedAt)

	if sinceLastIndex > s.maxInterval {
		return Result{Decision: DecisionIndex, Reason: ReasonStalenessBound}, nil
	}
	if rec.lastContentHash == contentHash {
		return Result{Decision: DecisionSkip, Reason: ReasonIdempotent}, nil
	}
	if sinceLastIndex < s.minInterval {
		return Result{Decision: DecisionSkip, Reason: ReasonRateLimited}, nil
	}
	return Result{Decision: DecisionIndex, Reason: ReasonContentChanged}, nil
}

// RecordAttempt increments the attempt counter without updating
// lastIndexedAt, used when a circuit-open/transient failure prevents the
// indexing call from completing.
func (s *Service) RecordAttempt(taskID string) error {
	_, err := s.db.Exec(`
		INSERT INTO index_state (task_id, last_indexed_at, last_content_hash, attempts)
		VALUES (?, 0, '', 1)
		ON CONFLICT(task_id) DO UPDATE SET attempts = attempts + 1
	`, taskID)
	return err
}

// RecordIndexed updates lastIndexedAt and lastContentHash after a
// successful index, resetting the attempt counter.
func (s *Service) RecordIndexed(taskID, contentHash string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO index_state (task_id, last_indexed_at, last_content_hash, attempts)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(task_id) DO UPDATE SET
			last_indexed_at = excluded.last_indexed_at,
			last_content_hash = excluded.last_content_hash,
			attempts = 0
	`, taskID, at.UnixMilli(), contentHash)
	return err
}

func (s *Service) get(taskID string) (record, bool, error) {
	row := s.db.QueryRow(`SELECT last_indexed_at, last_content_hash, attempts FROM index_state WHERE task_id = ?`, taskID)
	var rec record
	var lastIndexedMS int64
	err := row.Scan(&lastIndexedMS, &rec.lastContentHash, &rec.attempts)
	if err == sql.ErrNoRows {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	rec.lastIndexedAt = time.UnixMilli(lastIndexedMS)
	return rec, true, nil
}
