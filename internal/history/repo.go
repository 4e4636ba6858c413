package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/idlforge/internal/models"
)

// Run is one finished build to record.
type Run struct {
	Trigger string
	Report  *models.Report
}

// RunRow represents a row in the runs table.
type RunRow struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Actions    int       `json:"actions"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// StageRow represents a row in the stage_results table.
type StageRow struct {
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Actions  int           `json:"actions"`
	Touched  int           `json:"touched"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// FailureHit is one stage failure matching a search.
type FailureHit struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Snippet string `json:"snippet"`
}

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

// Record stores a run and its stage results within a transaction.
func (db *DB) Record(r Run) error {
	rep := r.Report
	if rep == nil || rep.RunID == "" {
		return fmt.Errorf("history: record: missing run id")
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO runs (id, cause, started_at, finished_at, actions, ok, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rep.RunID, r.Trigger, rep.StartedAt.UTC(), rep.FinishedAt.UTC(), rep.Actions(), rep.OK(), rep.Error)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO stage_results (run_id, seq, stage, status, actions, touched, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("history: prepare stage insert: %w", err)
	}
	defer stmt.Close()
	for i, s := range rep.Stages {
		if _, err := stmt.Exec(rep.RunID, i, s.Name, string(s.Status), s.Actions, len(s.Touched), s.Duration.Milliseconds(), s.Error); err != nil {
			return fmt.Errorf("history: insert stage: %w", err)
		}
		if s.Status == models.StageFailed {
			if err := ftsInsert(tx, rep.RunID, s.Name, s.Error); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Recent returns the latest runs, newest first.
func (db *DB) Recent(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, cause, started_at, finished_at, actions, ok, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRow, error) {
	var r RunRow
	if err := s.Scan(&r.ID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Actions, &r.OK, &r.Error); err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns one run and its stage results in pipeline order.
func (db *DB) Get(id string) (*RunRow, []StageRow, error) {
	run, err := scanRun(db.conn.QueryRow(`
		SELECT id, cause, started_at, finished_at, actions, ok, error
		FROM runs WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("history: get run: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT stage, status, actions, touched, duration_ms, error
		FROM stage_results WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("history: get stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRow
	for rows.Next() {
		var s StageRow
		var ms int64
		if err := rows.Scan(&s.Stage, &s.Status, &s.Actions, &s.Touched, &ms, &s.Error); err != nil {
			return nil, nil, err
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		stages = append(stages, s)
	}
	return run, stages, rows.Err()
}

// Prune keeps only the newest keep runs.
func (db *DB) Prune(keep int) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const stale = `SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?`
	ftsPrune(tx, stale, keep)
	res, err := tx.Exec(`DELETE FROM runs WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
