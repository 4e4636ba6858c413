package api

import (
	"context"

	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
)

// BuildService is the subset of buildservice.Service the handlers use.
type BuildService interface {
	Build(ctx context.Context, trigger string) (*models.Report, error)
	Plan(ctx context.Context) ([]pipeline.PlanEntry, error)
	LastReport() *models.Report
	Busy() bool
	History(limit int) ([]history.RunRow, error)
	Run(id string) (*history.RunRow, []history.StageRow, error)
	SearchFailures(query string, limit int) ([]history.FailureHit, error)
}
