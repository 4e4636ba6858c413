package pipeline

import (
	"context"

	"github.com/starford/idlforge/internal/models"
)

// Stage names, in pipeline order.
const (
	StageParseModel     = "parse_model"
	StageGenerateCore   = "generate_core"
	StageGenerateHost   = "generate_host"
	StageTranspileGlue  = "transpile_glue"
	StageCompileSources = "compile_sources"
	StageLink           = "link"
	StageBootstrapStub  = "bootstrap_stub"
)

// Gate is one freshness query guarding one action.
type Gate struct {
	Name    string
	Inputs  []models.ArtifactRef
	Outputs []models.ArtifactRef
	// Touch is advanced to the newest input timestamp when the action
	// succeeded but the gate is still stale. Nil means Outputs; empty
	// means never touch.
	Touch []models.ArtifactRef
}

func (g Gate) touchList() []models.ArtifactRef {
	if g.Touch == nil {
		return g.Outputs
	}
	return g.Touch
}

// Stage is one step of the pipeline. Gates are computed when the stage
// starts, since earlier stages may create the files they enumerate.
type Stage struct {
	Name string
	// Gates lists the freshness queries of this stage.
	Gates func(bc *BuildContext) ([]Gate, error)
	// Action makes one gate fresh. It must be idempotent.
	Action func(ctx context.Context, bc *BuildContext, g Gate) error
	// Concurrent runs stale gates in parallel, up to the job limit.
	Concurrent bool
}

// EventType classifies runner events.
type EventType string

const (
	EventStageStarted   EventType = "stage.started"
	EventStageSkipped   EventType = "stage.skipped"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"
	EventBuildFinished  EventType = "build.finished"
)

// Event reports progress to an observer.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage,omitempty"`
	Actions int       `json:"actions,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func emptyTouch() []models.ArtifactRef { return []models.ArtifactRef{} }
