package pipeline

import "fmt"

// StageError wraps the failure of one stage.
type StageError struct {
	Stage string
	Gate  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Gate != "" {
		return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Gate, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
