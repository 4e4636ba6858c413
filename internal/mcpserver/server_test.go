package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
	"github.com/starford/idlforge/internal/storage"
)

type fakeService struct {
	buildErr error
	triggers []string
	plan     []pipeline.PlanEntry
	runs     []history.RunRow
	hits     []history.FailureHit
}

func (f *fakeService) Build(_ context.Context, trigger string) (*models.Report, error) {
	f.triggers = append(f.triggers, trigger)
	if errors.Is(f.buildErr, apperr.ErrBuildInProgress) {
		return nil, f.buildErr
	}
	rep := &models.Report{RunID: "run-1", Stages: []models.StageResult{{Name: pipeline.StageLink, Status: models.StageRan, Actions: 1}}}
	return rep, f.buildErr
}

func (f *fakeService) Plan(context.Context) ([]pipeline.PlanEntry, error) { return f.plan, nil }

func (f *fakeService) History(limit int) ([]history.RunRow, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeService) Run(id string) (*history.RunRow, []history.StageRow, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], []history.StageRow{{Stage: pipeline.StageLink, Status: "ran"}}, nil
		}
	}
	return nil, nil, history.ErrNotFound
}

func (f *fakeService) SearchFailures(q string, _ int) ([]history.FailureHit, error) {
	var out []history.FailureHit
	for _, h := range f.hits {
		if strings.Contains(h.Snippet, q) {
			out = append(out, h)
		}
	}
	return out, nil
}

func testServer(t *testing.T) (*Server, *fakeService, storage.Provider) {
	t.Helper()

	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{}
	return New(svc, store, "test"), svc, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "run_build":
		result, err = srv.runBuild(ctx, req)
	case "build_plan":
		result, err = srv.buildPlan(ctx, req)
	case "build_history":
		result, err = srv.buildHistory(ctx, req)
	case "read_artifact":
		result, err = srv.readArtifact(ctx, req)
	case "get_pipeline_contract":
		result, err = srv.getPipelineContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRunBuild(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "run_build", map[string]any{})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var rep models.Report
	if err := json.Unmarshal([]byte(resultText(r)), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RunID != "run-1" {
		t.Errorf("run id = %q", rep.RunID)
	}
	if len(svc.triggers) != 1 || svc.triggers[0] != "mcp" {
		t.Errorf("triggers = %v", svc.triggers)
	}
}

func TestRunBuild_Busy(t *testing.T) {
	srv, svc, _ := testServer(t)
	svc.buildErr = apperr.ErrBuildInProgress

	r := callTool(t, srv, "run_build", map[string]any{})
	if !r.IsError {
		t.Fatal("expected error while busy")
	}
	if !strings.Contains(resultText(r), "build in progress") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestRunBuild_StageFailure(t *testing.T) {
	srv, svc, _ := testServer(t)
	svc.buildErr = &pipeline.StageError{Stage: pipeline.StageLink, Err: apperr.ErrLink}

	r := callTool(t, srv, "run_build", map[string]any{})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	text := resultText(r)
	if !strings.Contains(text, "link error") || !strings.Contains(text, `"run_id": "run-1"`) {
		t.Errorf("text = %q", text)
	}
}

func TestBuildPlan(t *testing.T) {
	srv, svc, _ := testServer(t)
	svc.plan = []pipeline.PlanEntry{{Stage: pipeline.StageLink, Gate: "library", Stale: true, Reason: "missing output"}}

	r := callTool(t, srv, "build_plan", map[string]any{})
	var entries []pipeline.PlanEntry
	if err := json.Unmarshal([]byte(resultText(r)), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Stale {
		t.Errorf("entries = %+v", entries)
	}
}

func TestBuildHistory(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "build_history", map[string]any{})
	if resultText(r) != "no builds recorded" {
		t.Errorf("empty history = %q", resultText(r))
	}

	svc.runs = []history.RunRow{{ID: "b"}, {ID: "a"}}
	r = callTool(t, srv, "build_history", map[string]any{"limit": 1})
	var runs []history.RunRow
	if err := json.Unmarshal([]byte(resultText(r)), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestBuildHistory_ByID(t *testing.T) {
	srv, svc, _ := testServer(t)
	svc.runs = []history.RunRow{{ID: "a", Trigger: "cli"}}

	r := callTool(t, srv, "build_history", map[string]any{"id": "a"})
	if !strings.Contains(resultText(r), `"stage": "link"`) {
		t.Errorf("detail = %q", resultText(r))
	}

	r = callTool(t, srv, "build_history", map[string]any{"id": "zzz"})
	if !r.IsError {
		t.Error("expected error for unknown run")
	}
}

func TestBuildHistory_Query(t *testing.T) {
	srv, svc, _ := testServer(t)
	svc.hits = []history.FailureHit{{RunID: "a", Stage: pipeline.StageCompileSources, Snippet: "undefined reference to foo"}}

	r := callTool(t, srv, "build_history", map[string]any{"query": "undefined"})
	if !strings.Contains(resultText(r), "undefined reference") {
		t.Errorf("hits = %q", resultText(r))
	}

	r = callTool(t, srv, "build_history", map[string]any{"query": "segfault"})
	if resultText(r) != "no failures found" {
		t.Errorf("no hits = %q", resultText(r))
	}
}

func TestReadArtifact(t *testing.T) {
	srv, _, store := testServer(t)
	if err := store.Write("autogen/glue/Demo.c", []byte("int x;\n")); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "read_artifact", map[string]any{"path": "autogen/glue/Demo.c"})
	if resultText(r) != "int x;\n" {
		t.Errorf("read = %q", resultText(r))
	}

	r = callTool(t, srv, "read_artifact", map[string]any{"path": "nope.c"})
	if !r.IsError {
		t.Error("expected error for missing artifact")
	}

	r = callTool(t, srv, "read_artifact", map[string]any{"path": "../../etc/passwd"})
	if !r.IsError {
		t.Error("expected error for path outside the tree")
	}
}

func TestPipelineContract(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "get_pipeline_contract", map[string]any{})
	for _, stage := range []string{
		pipeline.StageParseModel, pipeline.StageGenerateCore, pipeline.StageGenerateHost,
		pipeline.StageTranspileGlue, pipeline.StageCompileSources, pipeline.StageLink,
		pipeline.StageBootstrapStub,
	} {
		if !strings.Contains(resultText(r), stage) {
			t.Errorf("contract missing stage %s", stage)
		}
	}
}
