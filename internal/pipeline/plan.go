package pipeline

import (
	"errors"

	"github.com/starford/idlforge/internal/apperr"
)

// PlanEntry is the dry-run verdict for one gate.
type PlanEntry struct {
	Stage  string `json:"stage"`
	Gate   string `json:"gate"`
	Stale  bool   `json:"stale"`
	Reason string `json:"reason"`
}

// Plan evaluates every gate against the tree as it is now, without running
// any action. Gates of later stages reflect files already on disk; a stage
// whose gates cannot be computed yet reports a single stale entry.
func (r *Runner) Plan() ([]PlanEntry, error) {
	r.bc.Oracle.InvalidateAll()
	var out []PlanEntry
	for _, st := range r.stages {
		gates, err := st.Gates(r.bc)
		if err != nil {
			out = append(out, PlanEntry{Stage: st.Name, Stale: true, Reason: err.Error()})
			continue
		}
		if len(gates) == 0 {
			out = append(out, PlanEntry{Stage: st.Name, Reason: "nothing to do"})
			continue
		}
		for _, g := range gates {
			v, err := r.bc.Oracle.Explain(g.Inputs, g.Outputs)
			switch {
			case errors.Is(err, apperr.ErrMissingInput):
				out = append(out, PlanEntry{Stage: st.Name, Gate: g.Name, Stale: true, Reason: err.Error()})
			case err != nil:
				return nil, &StageError{Stage: st.Name, Gate: g.Name, Err: err}
			default:
				out = append(out, PlanEntry{Stage: st.Name, Gate: g.Name, Stale: v.Stale, Reason: v.Reason})
			}
		}
	}
	return out, nil
}
