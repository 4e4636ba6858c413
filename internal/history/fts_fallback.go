//go:build !sqlite_fts5

package history

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; failure search uses LIKE on stage_results.error.
	return nil
}

func ftsInsert(_ *sql.Tx, _, _, _ string) error { return nil }

func ftsPrune(_ *sql.Tx, _ string, _ int) {}

// SearchFailures performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) SearchFailures(query string, limit int) ([]FailureHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT run_id, stage, substr(error, 1, 200)
		FROM stage_results
		WHERE status = 'failed' AND error LIKE ?
		ORDER BY run_id, seq
		LIMIT ?
	`, "%"+query+"%", limit)
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
