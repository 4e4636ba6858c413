package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/buildservice"
	"github.com/starford/idlforge/internal/mcpserver"
	"github.com/starford/idlforge/internal/storage"
	"github.com/starford/idlforge/internal/watch"
)

// Build runs the pipeline once and prints the per-stage report.
func Build(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closer, err := app.newService(nil)
	if err != nil {
		return err
	}
	defer closer()

	report, err := svc.Build(ctx, "cli")
	if report != nil {
		renderReport(app.out, report)
	}
	return err
}

// Plan prints every gate and whether it would run.
func Plan(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closer, err := app.newService(nil)
	if err != nil {
		return err
	}
	defer closer()

	entries, err := svc.Plan(ctx)
	if err != nil {
		return err
	}
	renderPlan(app.out, entries)
	return nil
}

// Clean removes generated files, objects, the library and its stub.
func Clean(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closer, err := app.newService(nil)
	if err != nil {
		return err
	}
	defer closer()

	removed, err := svc.Clean(ctx)
	for _, p := range removed {
		_, _ = fmt.Fprintf(app.out, "removed %s\n", p)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		_, _ = fmt.Fprintln(app.out, "nothing to clean")
	}
	return nil
}

// HistoryRequest selects what the history command prints.
type HistoryRequest struct {
	// RunID prints one run with its stages.
	RunID string
	// Query searches recorded failures.
	Query string
	Limit int
}

// History prints recorded builds.
func History(_ context.Context, req HistoryRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	db, err := app.openHistory()
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history is disabled (history.path is empty)")
	}
	defer db.Close()

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	switch {
	case req.RunID != "":
		run, stages, err := db.Get(req.RunID)
		if err != nil {
			return err
		}
		renderRun(app.out, run, stages)
	case req.Query != "":
		hits, err := db.SearchFailures(req.Query, limit)
		if err != nil {
			return err
		}
		renderFailures(app.out, hits)
	default:
		runs, err := db.Recent(limit)
		if err != nil {
			return err
		}
		renderHistory(app.out, runs)
	}
	return nil
}

// Watch builds once, then rebuilds whenever a watched source changes, until
// ctx is cancelled.
func Watch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closer, err := app.newService(nil)
	if err != nil {
		return err
	}
	defer closer()

	app.buildAndReport(ctx, svc, "initial")
	return watch.Watch(ctx, app.watchConfig(), app.logger, func(ctx context.Context, changes []watch.Change) {
		app.logger.Info("watch: sources changed", slog.Int("changes", len(changes)))
		app.buildAndReport(ctx, svc, "watch")
	})
}

// buildAndReport runs one build for the watcher. Failures are logged, not
// returned, so the watcher keeps running.
func (a *application) buildAndReport(ctx context.Context, svc *buildservice.Service, trigger string) {
	report, err := svc.Build(ctx, trigger)
	if report != nil {
		renderReport(a.out, report)
	}
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrBuildInProgress):
		a.logger.Info("watch: build already running", slog.String("trigger", trigger))
	case errors.Is(err, context.Canceled):
	default:
		a.logger.Error("watch: build failed", slog.String("trigger", trigger), slog.String("error", err.Error()))
	}
}

// ServeMCP serves the build tools over MCP stdio. Logs go to stderr since
// stdout carries the protocol.
func ServeMCP(_ context.Context, version string, opts ...Option) error {
	app, err := newApplication(append([]Option{withLogOutput(os.Stderr), WithOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	svc, closer, err := app.newService(nil)
	if err != nil {
		return err
	}
	defer closer()

	store, err := storage.NewFS(app.config.App.Root)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	app.logger.Info("mcp: serving on stdio")
	return mcpserver.New(svc, store, version).ServeStdio()
}
