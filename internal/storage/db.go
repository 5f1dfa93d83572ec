// Package storage keeps a sqlite history of processing runs and their
// outcomes, so a run that was interrupted still leaves its partial results
// queryable.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"dmscheck/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  mode TEXT NOT NULL,
  sourcePath TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  finishedAt TEXT,
  total INTEGER NOT NULL DEFAULT 0,
  found INTEGER NOT NULL DEFAULT 0,
  notFound INTEGER NOT NULL DEFAULT 0,
  errors INTEGER NOT NULL DEFAULT 0,
  unknown INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  number TEXT NOT NULL,
  city TEXT,
  region TEXT,
  status TEXT NOT NULL,
  reason TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_runId ON outcomes(runId);
CREATE INDEX IF NOT EXISTS idx_outcomes_number ON outcomes(number);
`
	_, err := d.conn.Exec(schema)
	return err
}

// BeginRun records the start of a processing run and returns its id.
func (d *DB) BeginRun(mode, sourcePath string) (int, error) {
	res, err := d.conn.Exec(
		`INSERT INTO runs (mode, sourcePath, startedAt) VALUES (?, ?, ?)`,
		mode, sourcePath, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// AppendOutcomes persists one region's worth of outcomes. Called after each
// region completes, not once at the end, so an aborted run keeps what was
// already determined.
func (d *DB) AppendOutcomes(runID int, outcomes []internal.CheckedInvoice) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO outcomes (runId, number, city, region, status, reason) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.Exec(runID, o.Invoice.Number, o.Invoice.DeliveryCity, string(o.Invoice.Region), string(o.Status), o.Reason); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Invoice.Number, err)
		}
	}
	return tx.Commit()
}

// FinishRun closes out a run with its final tallies.
func (d *DB) FinishRun(runID int, outcomes []internal.CheckedInvoice) error {
	found, notFound, errs, unknown := internal.CountByStatus(outcomes)
	_, err := d.conn.Exec(
		`UPDATE runs SET finishedAt = ?, total = ?, found = ?, notFound = ?, errors = ?, unknown = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), len(outcomes), found, notFound, errs, unknown, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]internal.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT id, mode, sourcePath, startedAt, COALESCE(finishedAt, ''), total, found, notFound, errors, unknown
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.RunSummary{}
	for rows.Next() {
		var r internal.RunSummary
		if err := rows.Scan(&r.ID, &r.Mode, &r.SourcePath, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Found, &r.NotFound, &r.Errors, &r.Unknown); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomesForRun returns the stored outcomes of one run in insertion order.
func (d *DB) OutcomesForRun(runID int) ([]internal.CheckedInvoice, error) {
	rows, err := d.conn.Query(
		`SELECT number, COALESCE(city, ''), COALESCE(region, ''), status, COALESCE(reason, '')
		 FROM outcomes WHERE runId = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.CheckedInvoice{}
	for rows.Next() {
		var number, city, region, status, reason string
		if err := rows.Scan(&number, &city, &region, &status, &reason); err != nil {
			return nil, err
		}
		out = append(out, internal.CheckedInvoice{
			Invoice: internal.Invoice{Number: number, DeliveryCity: city, Region: internal.Region(region)},
			Status:  internal.CheckStatus(status),
			Reason:  reason,
		})
	}
	return out, rows.Err()
}
