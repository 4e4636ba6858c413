// Package buildservice serializes builds requested by the CLI, the file
// watcher, the HTTP API and the MCP server, and records their outcome.
package buildservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
)

// ContextFactory builds a fresh BuildContext. It is called once per build
// so that every build sees the tree as it is when it starts.
type ContextFactory func() (*pipeline.BuildContext, error)

// Service coordinates the pipeline, the run history and event publishing.
type Service struct {
	newContext ContextFactory
	history    history.Log
	keep       int
	publish    func(pipeline.Event)
	logger     *slog.Logger

	running sync.Mutex
	mu      sync.RWMutex
	last    *models.Report
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records every build in log.
func WithHistory(log history.Log) Option {
	return func(s *Service) { s.history = log }
}

// WithRetention prunes the history to the newest keep runs after each
// build. Zero keeps everything.
func WithRetention(keep int) Option {
	return func(s *Service) { s.keep = keep }
}

// WithPublisher receives pipeline events.
func WithPublisher(fn func(pipeline.Event)) Option {
	return func(s *Service) { s.publish = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a build service.
func New(factory ContextFactory, opts ...Option) *Service {
	s := &Service{newContext: factory, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Build runs the pipeline once. A build already in progress in this
// process makes it fail fast with apperr.ErrBuildInProgress.
func (s *Service) Build(ctx context.Context, trigger string) (*models.Report, error) {
	if !s.running.TryLock() {
		return nil, apperr.ErrBuildInProgress
	}
	defer s.running.Unlock()

	bc, err := s.newContext()
	if err != nil {
		return nil, fmt.Errorf("buildservice: prepare: %w", err)
	}
	var opts []pipeline.Option
	if s.publish != nil {
		opts = append(opts, pipeline.WithEvents(s.publish))
	}
	s.logger.Info("buildservice: build started", slog.String("trigger", trigger))
	report, runErr := pipeline.NewRunner(bc, opts...).Run(ctx)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.history != nil {
		s.record(trigger, report)
	}
	if runErr != nil {
		return report, runErr
	}
	s.logger.Info("buildservice: build finished",
		slog.String("run_id", report.RunID),
		slog.Int("actions", report.Actions()))
	return report, nil
}

func (s *Service) record(trigger string, report *models.Report) {
	if err := s.history.Record(history.Run{Trigger: trigger, Report: report}); err != nil {
		s.logger.Warn("buildservice: record history failed", slog.String("error", err.Error()))
		return
	}
	if s.keep <= 0 {
		return
	}
	n, err := s.history.Prune(s.keep)
	if err != nil {
		s.logger.Warn("buildservice: prune history failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Debug("buildservice: pruned history", slog.Int64("runs", n))
	}
}

// Plan evaluates every gate without running actions.
func (s *Service) Plan(_ context.Context) ([]pipeline.PlanEntry, error) {
	bc, err := s.newContext()
	if err != nil {
		return nil, fmt.Errorf("buildservice: prepare: %w", err)
	}
	return pipeline.NewRunner(bc).Plan()
}

// Clean removes generated files, objects, the library with its link
// byproducts and its stub. It
// returns the paths that existed and were removed.
func (s *Service) Clean(_ context.Context) ([]string, error) {
	if !s.running.TryLock() {
		return nil, apperr.ErrBuildInProgress
	}
	defer s.running.Unlock()

	bc, err := s.newContext()
	if err != nil {
		return nil, fmt.Errorf("buildservice: prepare: %w", err)
	}
	leftovers, err := pipeline.LinkLeftovers(bc)
	if err != nil {
		return nil, fmt.Errorf("buildservice: link plan: %w", err)
	}
	var removed []string
	for _, p := range bc.Catalog.Cleanable(leftovers...) {
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := bc.Store.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	s.logger.Info("buildservice: cleaned", slog.Int("removed", len(removed)))
	return removed, nil
}

// LastReport returns the report of the most recent build, or nil.
func (s *Service) LastReport() *models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Busy reports whether a build is running.
func (s *Service) Busy() bool {
	if s.running.TryLock() {
		s.running.Unlock()
		return false
	}
	return true
}

// History returns recent runs; it is empty when history is disabled.
func (s *Service) History(limit int) ([]history.RunRow, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(limit)
}

// Run returns one recorded run with its stages.
func (s *Service) Run(id string) (*history.RunRow, []history.StageRow, error) {
	if s.history == nil {
		return nil, nil, history.ErrNotFound
	}
	return s.history.Get(id)
}

// SearchFailures searches recorded stage failures.
func (s *Service) SearchFailures(query string, limit int) ([]history.FailureHit, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.SearchFailures(query, limit)
}
