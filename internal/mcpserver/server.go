// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes idlforge build tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/pipeline"
	"github.com/starford/idlforge/internal/storage"
)

const defaultHistoryLimit = 10

// BuildService is the subset of buildservice.Service the tools use.
type BuildService interface {
	Build(ctx context.Context, trigger string) (*models.Report, error)
	Plan(ctx context.Context) ([]pipeline.PlanEntry, error)
	History(limit int) ([]history.RunRow, error)
	Run(id string) (*history.RunRow, []history.StageRow, error)
	SearchFailures(query string, limit int) ([]history.FailureHit, error)
}

// Server wraps the MCP server with idlforge tools.
type Server struct {
	mcp   *server.MCPServer
	svc   BuildService
	store storage.Provider
}

// New creates a new MCP server with all idlforge tools registered.
func New(svc BuildService, store storage.Provider, version string) *Server {
	s := &Server{svc: svc, store: store}

	s.mcp = server.NewMCPServer(
		"idlforge",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("run_build",
		mcp.WithDescription("Run the incremental build once and return the per-stage report. "+
			"Stages whose gates are fresh are skipped."),
	), s.runBuild)

	s.mcp.AddTool(mcp.NewTool("build_plan",
		mcp.WithDescription("Evaluate every stage gate without building and report which would run and why."),
	), s.buildPlan)

	s.mcp.AddTool(mcp.NewTool("build_history",
		mcp.WithDescription("List recent builds. With id, return one build with its stage outcomes. "+
			"With query, search recorded stage failures."),
		mcp.WithString("id", mcp.Description("Run id to inspect")),
		mcp.WithString("query", mcp.Description("Full-text query over failure messages")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
	), s.buildHistory)

	s.mcp.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Read a generated or source file from the build tree, e.g. autogen/glue/Demo.c."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the build root")),
	), s.readArtifact)

	s.mcp.AddTool(mcp.NewTool("get_pipeline_contract",
		mcp.WithDescription("Returns the description of the build stages, their gates and outputs."),
	), s.getPipelineContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Build Pipeline",
			mcp.WithResourceDescription("Stages, gates and outputs of the idlforge pipeline."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPipelineResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) runBuild(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.Build(ctx, "mcp")
	if err != nil {
		if errors.Is(err, apperr.ErrBuildInProgress) || report == nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v\n%s", err, out)), nil
	}
	return jsonResult(report), nil
}

func (s *Server) buildPlan(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.svc.Plan(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entries == nil {
		entries = []pipeline.PlanEntry{}
	}
	return jsonResult(entries), nil
}

func (s *Server) buildHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	if id := req.GetString("id", ""); id != "" {
		run, stages, err := s.svc.Run(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"run": run, "stages": stages}), nil
	}

	if q := req.GetString("query", ""); q != "" {
		hits, err := s.svc.SearchFailures(q, limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(hits) == 0 {
			return mcp.NewToolResultText("no failures found"), nil
		}
		return jsonResult(hits), nil
	}

	runs, err := s.svc.History(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no builds recorded"), nil
	}
	return jsonResult(runs), nil
}

func (s *Server) readArtifact(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getPipelineContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PipelineContract), nil
}

func (s *Server) readPipelineResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     PipelineContract,
		},
	}, nil
}
