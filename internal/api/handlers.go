package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/pipeline"
)

const defaultHistoryLimit = 20

// Handler holds API route handlers.
type Handler struct {
	svc BuildService
}

// NewHandler creates a new Handler.
func NewHandler(svc BuildService) *Handler {
	return &Handler{svc: svc}
}

// Status handles GET /api/status.
//
//	@Summary		Report whether a build is running and the last build outcome
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Busy: h.svc.Busy(),
		Last: h.svc.LastReport(),
	})
}

// Build handles POST /api/build. The build runs synchronously.
//
//	@Summary		Run the pipeline once
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	BuildResponse
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	BuildResponse
//	@Security		BearerAuth
//	@Router			/build [post]
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Build(r.Context(), "api")
	if err != nil {
		var stageErr *pipeline.StageError
		switch {
		case errors.Is(err, apperr.ErrBuildInProgress):
			writeJSON(w, http.StatusConflict, errorBody("build in progress"))
		case errors.As(err, &stageErr):
			writeJSON(w, http.StatusUnprocessableEntity, BuildResponse{Report: report, Error: err.Error()})
		default:
			slog.Error("build failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, BuildResponse{Report: report})
}

// Plan handles GET /api/plan.
//
//	@Summary		Evaluate every gate without building
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	PlanResponse
//	@Security		BearerAuth
//	@Router			/plan [get]
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Plan(r.Context())
	if err != nil {
		slog.Error("plan failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	stale := 0
	for _, e := range entries {
		if e.Stale {
			stale++
		}
	}
	if entries == nil {
		entries = []pipeline.PlanEntry{}
	}
	writeJSON(w, http.StatusOK, PlanResponse{Entries: entries, Stale: stale})
}

// History handles GET /api/history.
//
//	@Summary		List recent builds
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	runs, err := h.svc.History(limit)
	if err != nil {
		slog.Error("history failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if runs == nil {
		runs = []history.RunRow{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

// Run handles GET /api/history/{id}.
//
//	@Summary		Get one recorded build with its stages
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	RunDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/{id} [get]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, stages, err := h.svc.Run(id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get run failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	if stages == nil {
		stages = []history.StageRow{}
	}
	writeJSON(w, http.StatusOK, RunDetail{Run: *run, Stages: stages})
}

// SearchFailures handles GET /api/failures.
//
//	@Summary		Full-text search across recorded stage failures
//	@Tags			history
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	FailuresResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/failures [get]
func (h *Handler) SearchFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	hits, err := h.svc.SearchFailures(q, limit)
	if err != nil {
		slog.Error("search failures failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if hits == nil {
		hits = []history.FailureHit{}
	}
	writeJSON(w, http.StatusOK, FailuresResponse{Results: hits})
}
