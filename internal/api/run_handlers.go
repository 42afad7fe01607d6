package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/store"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultOutcomeLimit = 100
	maxOutcomeLimit     = 1000
	defaultSitesLimit   = 100
	maxSitesLimit       = 1000
	journalTimeout      = 3 * time.Second
)

// RunHandler exposes read-only run journal endpoints.
type RunHandler struct {
	repo    store.JournalRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.JournalRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: journalTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]} on success, 400 for invalid filters, 503 when the repo is
// unavailable, or 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		h.writeRepoError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// ListOutcomes handles GET /v1/runs/{run_id}/outcomes?state=&limit=&offset=.
// The run must exist; unknown runs return 404.
func (h *RunHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultOutcomeLimit, maxOutcomeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.repo.GetRun(ctx, runID); err != nil {
		h.writeRepoError(w, "get run", err)
		return
	}
	outcomes, err := h.repo.ListOutcomes(ctx, runID, store.OutcomeFilter{State: state, Limit: limit, Offset: offset})
	if err != nil {
		h.writeRepoError(w, "list outcomes", err)
		return
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// ListRunSites handles GET /v1/runs/{run_id}/sites?limit=&offset=.
func (h *RunHandler) ListRunSites(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.repo.ListRunSites(ctx, runID, limit, offset)
	if err != nil {
		h.writeRepoError(w, "list run sites", err)
		return
	}
	if sites == nil {
		sites = []store.SiteStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (h *RunHandler) writeRepoError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := chi.URLParam(r, "run_id")
	if runIDStr == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success", "done":
		return store.RunSucceeded, nil
	case "interrupted":
		return store.RunInterrupted, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseState(input string) (string, error) {
	switch state := strings.ToUpper(strings.TrimSpace(input)); state {
	case "", "DONE", "DONE_WITH_ERROR", "DROPPED":
		return state, nil
	default:
		return "", errors.New("invalid state")
	}
}
