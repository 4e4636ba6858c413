package api

import (
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
)

// StatusResponse describes the state of the build service.
type StatusResponse struct {
	Busy bool           `json:"busy" example:"false" validate:"required"`
	Last *models.Report `json:"last,omitempty"`
}

// BuildResponse is returned by POST /api/build. Error is set when the
// pipeline failed; Report then holds the stages that ran before the failure.
type BuildResponse struct {
	Report *models.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty" example:"compile_sources: compile error"`
}

// PlanResponse lists every gate and whether it would run.
type PlanResponse struct {
	Entries []pipeline.PlanEntry `json:"entries" validate:"required"`
	Stale   int                  `json:"stale" example:"3" validate:"required"`
}

// HistoryResponse wraps recent runs, newest first.
type HistoryResponse struct {
	Runs []history.RunRow `json:"runs" validate:"required"`
}

// RunDetail is one recorded run with its stage outcomes.
type RunDetail struct {
	Run    history.RunRow     `json:"run" validate:"required"`
	Stages []history.StageRow `json:"stages" validate:"required"`
}

// FailuresResponse wraps failure search hits.
type FailuresResponse struct {
	Results []history.FailureHit `json:"results" validate:"required"`
}
