// Package pipeline runs the fixed sequence of build stages, each gated by
// the freshness oracle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/models"
)

// Runner walks stages in order.
type Runner struct {
	bc      *BuildContext
	stages  []Stage
	onEvent func(Event)
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvents delivers progress events to fn. fn must not block.
func WithEvents(fn func(Event)) Option {
	return func(r *Runner) { r.onEvent = fn }
}

// WithStages replaces the default stage list.
func WithStages(stages []Stage) Option {
	return func(r *Runner) { r.stages = stages }
}

// NewRunner returns a runner over the default stages.
func NewRunner(bc *BuildContext, opts ...Option) *Runner {
	r := &Runner{bc: bc, stages: DefaultStages(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.bc.Logger == nil {
		r.bc.Logger = slog.Default()
	}
	return r
}

// Stages returns the stage names in order.
func (r *Runner) Stages() []string {
	out := make([]string, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Name
	}
	return out
}

func (r *Runner) emit(e Event) {
	if r.onEvent != nil {
		r.onEvent(e)
	}
}

// Run executes every stage. The first failing stage aborts the rest; the
// returned report covers the stages that were reached.
func (r *Runner) Run(ctx context.Context) (*models.Report, error) {
	report := &models.Report{RunID: uuid.New().String(), StartedAt: r.now()}
	log := r.bc.Logger.With(slog.String("run_id", report.RunID))
	// The tree may have changed since the oracle was last used.
	r.bc.Oracle.InvalidateAll()

	var runErr error
	for _, st := range r.stages {
		if err := ctx.Err(); err != nil {
			runErr = &StageError{Stage: st.Name, Err: err}
			break
		}
		r.emit(Event{Type: EventStageStarted, RunID: report.RunID, Stage: st.Name})
		res, err := r.runStage(ctx, st)
		report.Stages = append(report.Stages, res)
		if err != nil {
			log.Error("pipeline: stage failed", slog.String("stage", st.Name), slog.String("error", err.Error()))
			r.emit(Event{Type: EventStageFailed, RunID: report.RunID, Stage: st.Name, Actions: res.Actions, Error: err.Error()})
			runErr = err
			break
		}
		if res.Status == models.StageSkipped {
			log.Debug("pipeline: stage up to date", slog.String("stage", st.Name))
			r.emit(Event{Type: EventStageSkipped, RunID: report.RunID, Stage: st.Name})
			continue
		}
		log.Info("pipeline: stage complete",
			slog.String("stage", st.Name),
			slog.Int("actions", res.Actions),
			slog.Int("touched", len(res.Touched)),
			slog.Duration("duration", res.Duration))
		r.emit(Event{Type: EventStageCompleted, RunID: report.RunID, Stage: st.Name, Actions: res.Actions})
	}

	report.FinishedAt = r.now()
	report.Cleanup = r.bc.Cleanup()
	fin := Event{Type: EventBuildFinished, RunID: report.RunID, Actions: report.Actions()}
	if runErr != nil {
		report.Error = runErr.Error()
		fin.Error = report.Error
	}
	r.emit(fin)
	return report, runErr
}

func (r *Runner) runStage(ctx context.Context, st Stage) (models.StageResult, error) {
	start := r.now()
	res := models.StageResult{Name: st.Name, Status: models.StageSkipped}
	fail := func(gate string, err error) (models.StageResult, error) {
		res.Status = models.StageFailed
		res.Duration = r.now().Sub(start)
		res.Error = err.Error()
		return res, &StageError{Stage: st.Name, Gate: gate, Err: err}
	}

	gates, err := st.Gates(r.bc)
	if err != nil {
		return fail("", err)
	}
	var stale []Gate
	for _, g := range gates {
		s, err := r.bc.Oracle.IsStale(g.Inputs, g.Outputs)
		if err != nil {
			return fail(g.Name, err)
		}
		if s {
			stale = append(stale, g)
		}
	}
	if len(stale) == 0 {
		res.Duration = r.now().Sub(start)
		return res, nil
	}

	var (
		mu      sync.Mutex
		touched []string
	)
	settle := func(ctx context.Context, g Gate) error {
		if err := st.Action(ctx, r.bc, g); err != nil {
			return err
		}
		t, err := r.settle(g)
		if err != nil {
			return err
		}
		mu.Lock()
		res.Actions++
		touched = append(touched, t...)
		mu.Unlock()
		return nil
	}

	if st.Concurrent && len(stale) > 1 {
		err = r.runConcurrent(ctx, stale, settle)
	} else {
		for _, g := range stale {
			if err = settle(ctx, g); err != nil {
				err = &StageError{Stage: st.Name, Gate: g.Name, Err: err}
				break
			}
		}
	}
	res.Touched = touched
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return fail(se.Gate, se.Err)
		}
		return fail("", err)
	}

	res.Status = models.StageRan
	if len(touched) > 0 {
		res.Status = models.StageTouched
	}
	res.Duration = r.now().Sub(start)
	return res, nil
}

func (r *Runner) runConcurrent(ctx context.Context, gates []Gate, settle func(context.Context, Gate) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bc.jobs())
	for _, gate := range gates {
		g.Go(func() error {
			// Files not yet started are abandoned once any sibling fails.
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := settle(gctx, gate); err != nil {
				return &StageError{Gate: gate.Name, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// settle re-queries g after its action. Outputs the action left alone
// because their content was already right are touched up to the newest
// input's timestamp; a gate still stale after that is an error. It returns
// the touched paths.
func (r *Runner) settle(g Gate) ([]string, error) {
	o := r.bc.Oracle
	o.Invalidate(refPaths(g.Outputs)...)
	stale, err := o.IsStale(g.Inputs, g.Outputs)
	if err != nil {
		return nil, err
	}
	if !stale {
		return nil, nil
	}

	list := g.touchList()
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: outputs of %s are still stale", apperr.ErrIncomplete, g.Name)
	}
	at, err := r.touchTime(g)
	if err != nil {
		return nil, err
	}
	var touched []string
	for _, ref := range list {
		mt, ok, err := o.ModTime(ref)
		if err != nil {
			return nil, err
		}
		if ok && !mt.Before(at) {
			continue
		}
		if err := r.bc.Store.Touch(ref.Path, at); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrIncomplete, err)
		}
		touched = append(touched, ref.Path)
	}
	o.Invalidate(touched...)
	stale, err = o.IsStale(g.Inputs, g.Outputs)
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, fmt.Errorf("%w: outputs of %s are still stale after touch", apperr.ErrIncomplete, g.Name)
	}
	return touched, nil
}

// touchTime is the newest input timestamp. Using it rather than the wall
// clock keeps touched files from getting ahead of the file system clock,
// which would make files written right afterwards look older.
func (r *Runner) touchTime(g Gate) (time.Time, error) {
	var newest time.Time
	for _, in := range g.Inputs {
		mt, _, err := r.bc.Oracle.ModTime(in)
		if err != nil {
			return time.Time{}, err
		}
		if mt.After(newest) {
			newest = mt
		}
	}
	if newest.IsZero() {
		newest = r.now()
	}
	return newest, nil
}

func refPaths(refs []models.ArtifactRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Path
	}
	return out
}
