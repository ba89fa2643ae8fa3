// Package ledger persists run history in SQLite: one row per run, plus
// the events, manifest entries, and evidence snapshots that run
// produced. The CSV manifest is the operator-facing artifact; the
// ledger is what later runs and the MCP tools query.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/idgen"
	"github.com/hazyhaar/moisson/registry/internal/manifest"
)

// Run is one finished or in-flight retrieval run.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running
	RangeFrom    string
	RangeTo      string
	Status       string
	RecordsTotal int
	RecordsOK    int
	FilesSaved   int
}

// Event is one per-record outcome or run-level incident.
type Event struct {
	ID       string
	At       time.Time
	RecordID string
	Kind     string
	Detail   string
}

// Snapshot is a captured evidence page for one record.
type Snapshot struct {
	ID       string
	At       time.Time
	RecordID string
	Title    string
	Markdown string
}

// Store wraps the ledger database.
type Store struct {
	db  *sql.DB
	gen idgen.Generator
	now func() time.Time
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps an already-open database. The schema must have been
// applied; tests pass dbopen.OpenMemory(t, dbopen.WithSchema(Schema)).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, gen: idgen.Default, now: time.Now}
}

// SetGenerator overrides the id generator, for deterministic tests.
func (s *Store) SetGenerator(gen idgen.Generator) { s.gen = gen }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun inserts a new run row in status "running" and returns its id.
func (s *Store) BeginRun(ctx context.Context, rangeFrom, rangeTo string) (string, error) {
	id := s.gen()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, range_from, range_to, status) VALUES (?, ?, ?, ?, 'running')`,
		id, s.now().UnixMilli(), rangeFrom, rangeTo)
	if err != nil {
		return "", fmt.Errorf("ledger: begin run: %w", err)
	}
	return id, nil
}

// FinishRun finalises the run row with its status and counters.
func (s *Store) FinishRun(ctx context.Context, runID, status string, total, ok, files int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, records_total = ?, records_ok = ?, files_saved = ? WHERE id = ?`,
		s.now().UnixMilli(), status, total, ok, files, runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: finish run: unknown run %s", runID)
	}
	return nil
}

// AddEvent appends a per-record outcome or run-level incident.
func (s *Store) AddEvent(ctx context.Context, runID, recordID, kind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, at, record_id, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		s.gen(), runID, s.now().UnixMilli(), recordID, kind, detail)
	if err != nil {
		return fmt.Errorf("ledger: add event: %w", err)
	}
	return nil
}

// AddEntry mirrors one manifest entry into the ledger.
func (s *Store) AddEntry(ctx context.Context, runID string, e manifest.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, run_id, at, record_id, license_start, file_type, filename) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.gen(), runID, s.now().UnixMilli(), e.RecordID, e.LicenseStart, e.FileType, e.Filename)
	if err != nil {
		return fmt.Errorf("ledger: add entry: %w", err)
	}
	return nil
}

// AddSnapshot stores a captured evidence page.
func (s *Store) AddSnapshot(ctx context.Context, runID, recordID, title, markdown string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, run_id, at, record_id, title, markdown) VALUES (?, ?, ?, ?, ?, ?)`,
		s.gen(), runID, s.now().UnixMilli(), recordID, title, markdown)
	if err != nil {
		return fmt.Errorf("ledger: add snapshot: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, range_from, range_to, status, records_total, records_ok, files_saved
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches one run by id. Returns sql.ErrNoRows if unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, range_from, range_to, status, records_total, records_ok, files_saved
		 FROM runs WHERE id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	r, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunEntries returns the manifest entries of a run in save order.
func (s *Store) RunEntries(ctx context.Context, runID string) ([]manifest.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, license_start, file_type, filename FROM entries WHERE run_id = ? ORDER BY at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: run entries: %w", err)
	}
	defer rows.Close()

	var out []manifest.Entry
	for rows.Next() {
		var e manifest.Entry
		if err := rows.Scan(&e.RecordID, &e.LicenseStart, &e.FileType, &e.Filename); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunEvents returns the events of a run in chronological order.
func (s *Store) RunEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, record_id, kind, detail FROM events WHERE run_id = ? ORDER BY at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: run events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.RecordID, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunSnapshots returns the evidence snapshots of a run.
func (s *Store) RunSnapshots(ctx context.Context, runID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, record_id, title, markdown FROM snapshots WHERE run_id = ? ORDER BY at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: run snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var at int64
		if err := rows.Scan(&sn.ID, &at, &sn.RecordID, &sn.Title, &sn.Markdown); err != nil {
			return nil, fmt.Errorf("ledger: scan snapshot: %w", err)
		}
		sn.At = time.UnixMilli(at)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// PruneRuns deletes all but the newest keep runs together with their
// events, entries, and snapshots. One transaction, so a crash cannot
// orphan child rows. Returns how many runs were removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var pruned int
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT -1 OFFSET ?`, keep)
		if err != nil {
			return fmt.Errorf("ledger: select stale runs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("ledger: scan stale run: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			for _, table := range []string{"events", "entries", "snapshots", "runs"} {
				col := "run_id"
				if table == "runs" {
					col = "id"
				}
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
					return fmt.Errorf("ledger: prune %s: %w", table, err)
				}
			}
		}
		pruned = len(ids)
		return nil
	})
	return pruned, err
}

func scanRun(rows *sql.Rows) (Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	if err := rows.Scan(&r.ID, &started, &finished, &r.RangeFrom, &r.RangeTo,
		&r.Status, &r.RecordsTotal, &r.RecordsOK, &r.FilesSaved); err != nil {
		return Run{}, fmt.Errorf("ledger: scan run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return r, nil
}
