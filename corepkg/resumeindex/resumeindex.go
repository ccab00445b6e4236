// Package resumeindex implements the derived, rebuildable read index
// named in spec.md's expanded scope: "which sessions have a pending
// step, ordered by most-recent event index" — consumed by an external
// resume-ranking collaborator, never by the advance path itself.
// Rebuilding a row is just replaying a session's validated event
// prefix through corepkg/projection and upserting the result; the
// index holds no durability obligation of its own, since it can always
// be reconstructed from the event logs it was built from. Grounded on
// the teacher's SQLiteStore[S] (graph/store/sqlite.go): single-file
// WAL-mode database, auto-migrated schema, one writer connection.
package resumeindex

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/durableflow/engine/corepkg/event"
	"github.com/durableflow/engine/corepkg/id"
	"github.com/durableflow/engine/corepkg/projection"
)

// Index is a SQLite-backed read index over per-session projection
// summaries.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) a resume index database at path.
// ":memory:" is accepted for tests. Mirrors the teacher's
// NewSQLiteStore connection setup: single writer connection, WAL
// journal mode, a busy timeout so a concurrent rebuild doesn't fail
// outright under lock contention.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("resumeindex: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("resumeindex: %s: %w", pragma, err)
		}
	}

	idx := &Index{db: db}
	if err := idx.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			has_pending_step INTEGER NOT NULL,
			pending_step_id TEXT NOT NULL DEFAULT '',
			last_event_index INTEGER NOT NULL,
			gap_count INTEGER NOT NULL DEFAULT 0,
			rebuilt_at_unix_millis INTEGER NOT NULL
		)
	`
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("resumeindex: create sessions table: %w", err)
	}
	const idxSQL = `CREATE INDEX IF NOT EXISTS idx_sessions_pending ON sessions(has_pending_step, last_event_index DESC)`
	if _, err := idx.db.ExecContext(ctx, idxSQL); err != nil {
		return fmt.Errorf("resumeindex: create pending index: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild replays events (a session's validated event-log prefix)
// through corepkg/projection and upserts the resulting summary row
// for sessionID. It is safe to call repeatedly — each call fully
// recomputes the row from the given events, it never applies a delta.
// A session is marked pending whenever its DAG has a preferred tip, and
// pending_step_id holds that tip's node id. The tip's execution phase
// lives in the snapshot store and is not read here, so a session whose
// run is complete is listed as pending too.
func (idx *Index) Rebuild(ctx context.Context, sessionID id.SessionId, events []event.Event, rebuiltAtUnixMillis int64) error {
	dag := projection.BuildDAG(events)
	status := projection.BuildStatus(dag)
	gaps, err := projection.BuildGaps(events)
	if err != nil {
		return fmt.Errorf("resumeindex: build gaps for %s: %w", sessionID, err)
	}

	hasPending := 0
	pendingStepID := ""
	var lastEventIndex int64
	for _, e := range events {
		if e.EventIndex > lastEventIndex {
			lastEventIndex = e.EventIndex
		}
	}
	if status.HasTip {
		hasPending = 1
		pendingStepID = string(status.PreferredTipNodeId)
	}

	const upsert = `
		INSERT INTO sessions (session_id, has_pending_step, pending_step_id, last_event_index, gap_count, rebuilt_at_unix_millis)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			has_pending_step = excluded.has_pending_step,
			pending_step_id = excluded.pending_step_id,
			last_event_index = excluded.last_event_index,
			gap_count = excluded.gap_count,
			rebuilt_at_unix_millis = excluded.rebuilt_at_unix_millis
	`
	_, err = idx.db.ExecContext(ctx, upsert, string(sessionID), hasPending, pendingStepID, lastEventIndex, len(gaps), rebuiltAtUnixMillis)
	if err != nil {
		return fmt.Errorf("resumeindex: upsert %s: %w", sessionID, err)
	}
	return nil
}

// Forget removes sessionID's row, e.g. after the session's data has
// been deleted from disk.
func (idx *Index) Forget(ctx context.Context, sessionID id.SessionId) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, string(sessionID))
	if err != nil {
		return fmt.Errorf("resumeindex: forget %s: %w", sessionID, err)
	}
	return nil
}

// PendingSession is one row of ListPending's result.
type PendingSession struct {
	SessionId      id.SessionId
	PendingStepId  string
	LastEventIndex int64
	GapCount       int
}

// ListPending returns every session with a pending step, most-recent
// event index first — the ranking signal the external resume
// collaborator consumes. limit <= 0 means unlimited (SQLite's LIMIT
// -1 convention).
func (idx *Index) ListPending(ctx context.Context, limit int) ([]PendingSession, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT session_id, pending_step_id, last_event_index, gap_count
		FROM sessions
		WHERE has_pending_step = 1
		ORDER BY last_event_index DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("resumeindex: list pending: %w", err)
	}
	defer rows.Close()

	var out []PendingSession
	for rows.Next() {
		var p PendingSession
		var sessionID string
		if err := rows.Scan(&sessionID, &p.PendingStepId, &p.LastEventIndex, &p.GapCount); err != nil {
			return nil, fmt.Errorf("resumeindex: scan pending row: %w", err)
		}
		p.SessionId = id.SessionId(sessionID)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resumeindex: iterate pending rows: %w", err)
	}
	return out, nil
}
