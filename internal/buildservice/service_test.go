package buildservice

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/catalog"
	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/freshness"
	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/pipeline"
	"github.com/starford/idlforge/internal/storage"
	"github.com/starford/idlforge/internal/testutil"
)

const gadgetIDL = `parcel Demo;

class Demo::Gadget {
    int id(Gadget *self);
}
`

func factory(t *testing.T, store storage.Provider, tc *testutil.FakeToolchain) ContextFactory {
	t.Helper()
	return func() (*pipeline.BuildContext, error) {
		cat, err := catalog.New(store, catalog.Layout{
			SourceDirs: []string{"idl"},
			Library:    "build/Demo.so",
		})
		if err != nil {
			return nil, err
		}
		oracle, err := freshness.New(0)
		if err != nil {
			return nil, err
		}
		gens, err := emit.Builtins(emit.BuiltinOptions{}).Select(emit.DefaultGenerators)
		if err != nil {
			return nil, err
		}
		return &pipeline.BuildContext{
			Catalog:    cat,
			Store:      store,
			Oracle:     oracle,
			Settings:   pipeline.Settings{Module: "Demo", Jobs: 2},
			Compiler:   func() hierarchy.Compiler { return hierarchy.NewCompiler() },
			Core:       emit.NewCoreWriter(store, cat.CoreIncludeDir(), cat.CoreSourceDir()),
			Host:       emit.NewHostEmitter(store, cat.HostDir(), "Demo", gens),
			Transpiler: emit.NewLineTranspiler(store, "", ""),
			Toolchain:  tc,
			Linker:     linker.Shared{ID: "linux"},
			Logger:     testutil.NewTestLogger(t),
		}, nil
	}
}

func newService(t *testing.T, opts ...Option) (*Service, *testutil.FakeToolchain, string) {
	t.Helper()
	root, store := testutil.TestTree(t)
	testutil.WriteFile(t, root, "idl/Gadget.cfh", gadgetIDL)
	testutil.AgeTree(t, root, time.Hour)
	tc := testutil.NewFakeToolchain()
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	return New(factory(t, store, tc), opts...), tc, root
}

func TestBuild_RecordsHistoryAndLastReport(t *testing.T) {
	db := testutil.TestDB(t)
	svc, _, _ := newService(t, WithHistory(db))
	ctx := context.Background()

	assert.Nil(t, svc.LastReport())

	rep, err := svc.Build(ctx, "test")
	require.NoError(t, err)
	assert.Greater(t, rep.Actions(), 0)
	assert.Equal(t, rep, svc.LastReport())

	rep2, err := svc.Build(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, rep2.Actions())

	runs, err := svc.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, rep2.RunID, runs[0].ID)
	assert.Equal(t, "test", runs[0].Trigger)

	run, stages, err := svc.Run(rep.RunID)
	require.NoError(t, err)
	assert.True(t, run.OK)
	assert.Len(t, stages, len(rep.Stages))
}

func TestBuild_PublishesEvents(t *testing.T) {
	var mu sync.Mutex
	var types []pipeline.EventType
	svc, _, _ := newService(t, WithPublisher(func(e pipeline.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}))

	_, err := svc.Build(context.Background(), "test")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, types)
	assert.Equal(t, pipeline.EventStageStarted, types[0])
	assert.Equal(t, pipeline.EventBuildFinished, types[len(types)-1])
}

func TestBuild_InProgress(t *testing.T) {
	svc, tc, _ := newService(t)
	tc.Delay = 200 * time.Millisecond
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Build(ctx, "first")
		done <- err
	}()

	require.Eventually(t, svc.Busy, time.Second, 5*time.Millisecond)
	_, err := svc.Build(ctx, "second")
	assert.ErrorIs(t, err, apperr.ErrBuildInProgress)
	_, err = svc.Clean(ctx)
	assert.ErrorIs(t, err, apperr.ErrBuildInProgress)

	require.NoError(t, <-done)
	assert.False(t, svc.Busy())
}

func TestBuild_FailureStillRecorded(t *testing.T) {
	db := testutil.TestDB(t)
	svc, tc, _ := newService(t, WithHistory(db))
	tc.FailOn("Demo.c", true)

	rep, err := svc.Build(context.Background(), "test")
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.False(t, rep.OK())

	runs, err := svc.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].OK)

	hits, err := svc.SearchFailures("Demo", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestPlanAndClean(t *testing.T) {
	svc, _, root := newService(t)
	ctx := context.Background()

	entries, err := svc.Plan(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, entries[0].Stale)

	_, err = svc.Build(ctx, "test")
	require.NoError(t, err)

	entries, err = svc.Plan(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.Stale, "%s/%s: %s", e.Stage, e.Gate, e.Reason)
	}

	removed, err := svc.Clean(ctx)
	require.NoError(t, err)
	lib := filepath.Join(root, "build", "Demo.so")
	assert.Contains(t, removed, lib)
	assert.NoFileExists(t, lib)

	removed, err = svc.Clean(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestHistoryDisabled(t *testing.T) {
	svc, _, _ := newService(t)

	runs, err := svc.History(5)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, _, err = svc.Run("x")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestBuild_Retention(t *testing.T) {
	db := testutil.TestDB(t)
	svc, _, _ := newService(t, WithHistory(db), WithRetention(2))
	ctx := context.Background()

	var last string
	for i := 0; i < 4; i++ {
		rep, err := svc.Build(ctx, "test")
		require.NoError(t, err)
		last = rep.RunID
	}

	runs, err := svc.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, last, runs[0].ID)
}
