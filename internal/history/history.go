package history

// Log defines the operations consumers need from the run history.
// Consumers should depend on this interface rather than the concrete *DB
// type.
type Log interface {
	Record(r Run) error
	Recent(limit int) ([]RunRow, error)
	Get(id string) (*RunRow, []StageRow, error)
	SearchFailures(query string, limit int) ([]FailureHit, error)
	Prune(keep int) (int64, error)
	Close() error
}

// Verify *DB satisfies Log at compile time.
var _ Log = (*DB)(nil)
