package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
)

// RunHandler handles run-related HTTP requests.
type RunHandler struct {
	repo repository.Repository
}

// NewRunHandler creates a new run handler.
func NewRunHandler(repo repository.Repository) *RunHandler {
	return &RunHandler{repo: repo}
}

// Routes returns a chi router with all run routes configured.
func (h *RunHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)                             // GET /api/v1/runs
	r.Get("/{id}", h.Get)                          // GET /api/v1/runs/{id}
	r.Get("/{id}/transactions", h.GetTransactions) // GET /api/v1/runs/{id}/transactions
	r.Get("/{id}/artifacts/{type}", h.GetArtifact) // GET /api/v1/runs/{id}/artifacts/{type}

	return r
}

// List handles GET /api/v1/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.repo.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}

	out := make([]*RunResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// GetTransactions handles GET /api/v1/runs/{id}/transactions
func (h *RunHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	txs, err := h.repo.GetTransactionsByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch transactions")
		return
	}

	out := make([]*TransactionResponse, len(txs))
	for i := range txs {
		out[i] = toTransactionResponse(&txs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// GetArtifact handles GET /api/v1/runs/{id}/artifacts/{type}
func (h *RunHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid run ID")
		return
	}

	a, err := h.repo.GetArtifact(r.Context(), id, chi.URLParam(r, "type"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch artifact")
		return
	}
	writeJSON(w, http.StatusOK, toArtifactResponse(a))
}

func (h *RunHandler) loadRun(w http.ResponseWriter, r *http.Request) (*repository.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid run ID")
		return nil, false
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch run")
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: code, Message: message}})
}
