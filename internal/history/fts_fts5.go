//go:build sqlite_fts5

package history

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS failures_fts USING fts5(
			run_id UNINDEXED,
			stage UNINDEXED,
			error,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, runID, stage, msg string) error {
	_, err := tx.Exec(`INSERT INTO failures_fts (run_id, stage, error) VALUES (?, ?, ?)`, runID, stage, msg)
	if err != nil {
		return fmt.Errorf("history: insert fts: %w", err)
	}
	return nil
}

func ftsPrune(tx *sql.Tx, staleIDs string, keep int) {
	_, _ = tx.Exec(`DELETE FROM failures_fts WHERE run_id IN (`+staleIDs+`)`, keep)
}

// SearchFailures performs an FTS5 search over stage error messages.
func (db *DB) SearchFailures(query string, limit int) ([]FailureHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT run_id,
		       stage,
		       snippet(failures_fts, 2, '[', ']', '...', 32)
		FROM failures_fts
		WHERE failures_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	defer rows.Close()

	var out []FailureHit
	for rows.Next() {
		var h FailureHit
		if err := rows.Scan(&h.RunID, &h.Stage, &h.Snippet); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
