// Package history persists cell run records to a local sqlite database so
// past executions survive page reloads and reconnects.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/ops"
)

var ErrNotFound = errors.New("not found")

// Run is one recorded execution pass of one cell.
type Run struct {
	RunID       model.RunID
	CellID      model.CellID
	Status      model.RunStatus
	OutputCount int
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// Recorder writes run records as cell updates arrive.
type Recorder struct {
	db          *sql.DB
	fingerprint string
}

// Open opens or creates the history database at path and applies migrations.
func Open(ctx context.Context, path, sessionFingerprint string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, fingerprint: sessionFingerprint}, nil
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Recorder) DB() *sql.DB {
	return r.db
}

// RecordCellOp folds one cell update into the run table. Updates without a
// run id carry no execution identity and are skipped.
func (r *Recorder) RecordCellOp(ctx context.Context, op *ops.CellOp, now time.Time) error {
	if op == nil || op.RunID == "" {
		return nil
	}
	status := op.Status
	if status == "" {
		status = model.RunStatusUnknown
	}
	outputDelta := 0
	if op.Output != nil {
		outputDelta = 1
	}
	outputDelta += len(op.Console)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO runs(run_id, cell_id, session_fingerprint, status, output_count, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, cell_id) DO UPDATE SET
	status=CASE WHEN excluded.status != 'unknown' THEN excluded.status ELSE runs.status END,
	output_count=runs.output_count + ?,
	updated_at=excluded.updated_at
`, string(op.RunID), string(op.CellID), r.fingerprint, string(model.CanonicalRunStatus(string(status))),
		outputDelta, ts(now), ts(now), outputDelta)
	if err != nil {
		return fmt.Errorf("record cell op: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for one cell, newest first.
func (r *Recorder) ListRuns(ctx context.Context, cellID model.CellID, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, cell_id, status, output_count, started_at, updated_at
FROM runs
WHERE cell_id = ?
ORDER BY updated_at DESC
LIMIT ?
`, string(cellID), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Run
	for rows.Next() {
		var (
			run                  Run
			runID, cellIDRaw     string
			status               string
			startedAt, updatedAt string
		)
		if err := rows.Scan(&runID, &cellIDRaw, &status, &run.OutputCount, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.RunID = model.RunID(runID)
		run.CellID = model.CellID(cellIDRaw)
		run.Status = model.RunStatus(status)
		if run.StartedAt, err = parseTS(startedAt); err != nil {
			return nil, err
		}
		if run.UpdatedAt, err = parseTS(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return out, nil
}

// GetRun returns one run record.
func (r *Recorder) GetRun(ctx context.Context, runID model.RunID, cellID model.CellID) (Run, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT run_id, cell_id, status, output_count, started_at, updated_at
FROM runs
WHERE run_id = ? AND cell_id = ?
`, string(runID), string(cellID))
	var (
		run                  Run
		rawRunID, rawCellID  string
		status               string
		startedAt, updatedAt string
	)
	err := row.Scan(&rawRunID, &rawCellID, &status, &run.OutputCount, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.RunID = model.RunID(rawRunID)
	run.CellID = model.CellID(rawCellID)
	run.Status = model.RunStatus(status)
	if run.StartedAt, err = parseTS(startedAt); err != nil {
		return Run{}, err
	}
	if run.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Prune deletes runs last updated before cutoff and returns the count.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE updated_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
