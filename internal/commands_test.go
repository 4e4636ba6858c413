package internal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/idlforge/internal/testutil"
)

const demoIDL = `parcel Demo;

class Demo::Widget {
    int width(Widget *self);
    void resize(Widget *self, int w, int h = 0);
}
`

type cliEnv struct {
	root string
	cfg  *Config
	tc   *testutil.FakeToolchain
	out  *bytes.Buffer
	t    *testing.T
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "core/Widget.cfh", demoIDL)
	testutil.WriteFile(t, root, "xs/extra.c", "int extra(void) { return 1; }\n")
	testutil.AgeTree(t, root, time.Hour)

	cfg := NewDefaultConfig()
	cfg.App.Root = root
	cfg.Build.Module = "Demo"
	cfg.Link.Platform = "linux"
	cfg.History.Path = "build/history.db"
	require.NoError(t, cfg.Validate())

	return &cliEnv{root: root, cfg: cfg, tc: testutil.NewFakeToolchain(), out: &bytes.Buffer{}, t: t}
}

func (e *cliEnv) opts() []Option {
	return []Option{
		WithConfig(e.cfg),
		WithLogger(testutil.NewTestLogger(e.t)),
		WithToolchain(e.tc),
		WithOutput(e.out),
	}
}

func (e *cliEnv) take() string {
	s := e.out.String()
	e.out.Reset()
	return s
}

func TestBuildCommand_EndToEnd(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	require.NoError(t, Build(ctx, env.opts()...))
	out := env.take()
	assert.Contains(t, out, "parse_model")
	assert.Contains(t, out, "bootstrap_stub")
	assert.FileExists(t, filepath.Join(env.root, "build/Demo.so"))
	assert.FileExists(t, filepath.Join(env.root, "build/Demo.bs"))
	assert.Contains(t, env.tc.Compiled(), filepath.Join(env.root, "xs/extra.c"))

	require.NoError(t, Build(ctx, env.opts()...))
	assert.Contains(t, env.take(), ": 0 action(s)")

	require.NoError(t, Plan(ctx, env.opts()...))
	assert.Contains(t, env.take(), "(0 stale gates)")

	require.NoError(t, History(ctx, HistoryRequest{}, env.opts()...))
	out = env.take()
	assert.Contains(t, out, "cli")
	assert.Contains(t, out, "ok")
}

func TestBuildCommand_FailureRecorded(t *testing.T) {
	env := newCLIEnv(t)
	env.tc.FailOn("extra.c", true)
	ctx := context.Background()

	err := Build(ctx, env.opts()...)
	require.Error(t, err)
	assert.Contains(t, env.take(), "failed")

	require.NoError(t, History(ctx, HistoryRequest{}, env.opts()...))
	assert.Contains(t, env.take(), "failed")

	require.NoError(t, History(ctx, HistoryRequest{Query: "extra"}, env.opts()...))
	assert.Contains(t, env.take(), "compile_sources")
}

func TestCleanCommand(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	require.NoError(t, Clean(ctx, env.opts()...))
	assert.Contains(t, env.take(), "nothing to clean")

	require.NoError(t, Build(ctx, env.opts()...))
	env.take()

	require.NoError(t, Clean(ctx, env.opts()...))
	out := env.take()
	assert.Contains(t, out, "removed")
	assert.NoFileExists(t, filepath.Join(env.root, "build/Demo.so"))
	assert.NoDirExists(t, filepath.Join(env.root, "autogen"))
	assert.FileExists(t, filepath.Join(env.root, "core/Widget.cfh"))
}

func TestPlanCommand_BeforeBuild(t *testing.T) {
	env := newCLIEnv(t)

	require.NoError(t, Plan(context.Background(), env.opts()...))
	out := env.take()
	assert.Contains(t, out, "parse_model")
	assert.NotContains(t, out, "(0 stale gates)")
}

func TestHistoryCommand_Disabled(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.History.Path = ""

	err := History(context.Background(), HistoryRequest{}, env.opts()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestHistoryCommand_UnknownRun(t *testing.T) {
	env := newCLIEnv(t)

	err := History(context.Background(), HistoryRequest{RunID: "nope"}, env.opts()...)
	require.Error(t, err)
}

func TestWatchConfig(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.Build.HeaderFile = "templates/header.txt"
	app, err := newApplication(env.opts())
	require.NoError(t, err)

	wc := app.watchConfig()
	assert.Contains(t, wc.Dirs, filepath.Join(env.root, "core"))
	assert.Contains(t, wc.Dirs, filepath.Join(env.root, "xs"))
	assert.Contains(t, wc.Dirs, filepath.Join(env.root, "templates"))
	assert.Contains(t, wc.Suffixes, ".cfh")
	assert.Contains(t, wc.Suffixes, "header.txt")
}

func TestService_RereadsTemplatesPerBuild(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.Build.HeaderFile = "templates/header.txt"
	testutil.WriteFile(t, env.root, env.cfg.Build.HeaderFile, "/* header v1 */")
	app, err := newApplication(env.opts())
	require.NoError(t, err)
	svc, closer, err := app.newService(nil)
	require.NoError(t, err)
	defer closer()
	ctx := context.Background()

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(env.root, rel))
		require.NoError(t, err)
		return string(data)
	}

	_, err = svc.Build(ctx, "test")
	require.NoError(t, err)
	assert.Contains(t, read("autogen/include/Demo_Widget.h"), "header v1")

	testutil.AgeTree(t, env.root, time.Hour)
	testutil.WriteFile(t, env.root, env.cfg.Build.HeaderFile, "/* header v2 */")
	_, err = svc.Build(ctx, "test")
	require.NoError(t, err)
	for _, rel := range []string{"autogen/include/Demo_Widget.h", "autogen/glue/Demo.c"} {
		got := read(rel)
		assert.Contains(t, got, "header v2", rel)
		assert.NotContains(t, got, "header v1", rel)
	}

	report, err := svc.Build(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Actions())
}

func TestNewApplication_RequiresConfig(t *testing.T) {
	_, err := newApplication(nil)
	require.Error(t, err)
}
