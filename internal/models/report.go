package models

import "time"

// StageStatus is the outcome of one stage in one build.
type StageStatus string

const (
	StageRan     StageStatus = "ran"
	StageTouched StageStatus = "touched"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

// StageResult records what a stage did during a build.
type StageResult struct {
	Name     string        `json:"name"`
	Status   StageStatus   `json:"status"`
	Actions  int           `json:"actions"`
	Touched  []string      `json:"touched,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report summarises one build invocation.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageResult `json:"stages"`
	Cleanup    []string      `json:"cleanup"`
	Error      string        `json:"error,omitempty"`
}

// Actions returns the total number of stage actions executed.
func (r *Report) Actions() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Actions
	}
	return n
}

// Stage returns the result for the named stage, or nil.
func (r *Report) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Ran returns the names of stages that executed at least one action.
func (r *Report) Ran() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Actions > 0 {
			out = append(out, s.Name)
		}
	}
	return out
}

// OK reports whether the build finished without error.
func (r *Report) OK() bool { return r.Error == "" }
