package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/idlforge/internal/catalog"
	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/freshness"
	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/storage"
	"github.com/starford/idlforge/internal/toolchain"
)

// Settings are the per-build knobs the stages read.
type Settings struct {
	Module string
	Header string
	Footer string
	CFlags []string
	Jobs   int
	// Link carries everything but Output and Objects, which the link
	// stage fills from the catalog.
	Link linker.SpecOptions
}

// BuildContext is everything one build shares between stages. Stages
// reach the tree only through Store.
type BuildContext struct {
	Catalog    *catalog.Catalog
	Store      storage.Provider
	Oracle     *freshness.Oracle
	Settings   Settings
	Compiler   func() hierarchy.Compiler
	Core       emit.CoreEmitter
	Host       *emit.HostEmitter
	Transpiler emit.GlueTranspiler
	Toolchain  toolchain.Toolchain
	Linker     linker.Adapter
	Logger     *slog.Logger

	mu      sync.Mutex
	model   *hierarchy.Model
	cleanup []string
}

// Model returns the hierarchy, loading it from the serialized form when
// parse_model did not run in this build.
func (bc *BuildContext) Model() (*hierarchy.Model, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.model != nil {
		return bc.model, nil
	}
	data, err := bc.Store.Read(bc.Catalog.HierarchyFile())
	if err != nil {
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	m, err := hierarchy.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	bc.model = m
	return m, nil
}

// setModel is reserved to the parse stage.
func (bc *BuildContext) setModel(m *hierarchy.Model) {
	bc.mu.Lock()
	bc.model = m
	bc.mu.Unlock()
}

// AddCleanup records a produced path. Safe for concurrent use.
func (bc *BuildContext) AddCleanup(paths ...string) {
	bc.mu.Lock()
	bc.cleanup = append(bc.cleanup, paths...)
	bc.mu.Unlock()
}

// Cleanup returns the produced paths in the order they were recorded.
func (bc *BuildContext) Cleanup() []string {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return append([]string(nil), bc.cleanup...)
}

func (bc *BuildContext) jobs() int {
	if bc.Settings.Jobs < 1 {
		return 1
	}
	return bc.Settings.Jobs
}
