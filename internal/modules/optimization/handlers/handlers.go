// Package handlers provides HTTP handlers for the allocation engine.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies; a 500-asset covariance fits comfortably.
const maxBodyBytes = 8 << 20

// Allocator runs and records one optimization
type Allocator interface {
	Allocate(ctx context.Context, source string, req optimization.RunRequest) (*allocation.Allocation, error)
}

// RunHistory reads stored runs
type RunHistory interface {
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, filter runs.ListFilter) ([]runs.Run, error)
}

// Handler handles optimizer HTTP requests
type Handler struct {
	allocator Allocator
	history   RunHistory
	defaults  optimization.Defaults
	log       zerolog.Logger
}

// NewHandler creates a new optimizer handler. history may be nil, in which
// case the run endpoints answer 404.
func NewHandler(allocator Allocator, history RunHistory, defaults optimization.Defaults, log zerolog.Logger) *Handler {
	return &Handler{
		allocator: allocator,
		history:   history,
		defaults:  defaults,
		log:       log.With().Str("handler", "optimizer").Logger(),
	}
}

// RunRequest is the body of POST /api/optimizer/run
type RunRequest struct {
	Assets          []string             `json:"assets" validate:"omitempty,unique,dive,required"`
	Covariance      [][]float64          `json:"covariance" validate:"required,min=1"`
	ExpectedReturns []float64            `json:"expected_returns"`
	Strategy        string               `json:"strategy" validate:"required"`
	NumTrials       *int                 `json:"num_trials" validate:"omitempty,gte=1,lte=100000"`
	Bounds          []optimization.Bound `json:"bounds"`
	RiskFreeRate    *float64             `json:"risk_free_rate"`
	Lambda          *float64             `json:"lambda"`
	StartMode       string               `json:"start_mode" validate:"omitempty,oneof=random uniform"`
	Seed            *uint64              `json:"seed"`
	Workers         int                  `json:"workers" validate:"gte=0,lte=256"`
}

// StatusResponse is the body of GET /api/optimizer/
type StatusResponse struct {
	Strategies   []string `json:"strategies"`
	NumTrials    int      `json:"num_trials"`
	Workers      int      `json:"workers"`
	StartMode    string   `json:"start_mode"`
	RiskFreeRate float64  `json:"risk_free_rate"`
	Lambda       float64  `json:"lambda"`
	TrialTimeout string   `json:"trial_timeout"`
	History      bool     `json:"history"`
}

// HandleGetStatus handles GET /api/optimizer/
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Strategies:   optimization.Strategies(),
		NumTrials:    h.defaults.NumTrials,
		Workers:      h.defaults.Workers,
		StartMode:    string(h.defaults.StartMode),
		RiskFreeRate: h.defaults.RiskFreeRate,
		Lambda:       h.defaults.Lambda,
		TrialTimeout: h.defaults.TrialTimeout.String(),
		History:      h.history != nil,
	})
}

// HandleRun handles POST /api/optimizer/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var request RunRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := validation.Struct(r.Context(), &request); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "Invalid request",
				"fields": verr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	startTime := time.Now()
	result, err := h.allocator.Allocate(r.Context(), runs.SourceAPI, optimization.RunRequest{
		Assets:          request.Assets,
		Covariance:      request.Covariance,
		ExpectedReturns: request.ExpectedReturns,
		Strategy:        request.Strategy,
		NumTrials:       request.NumTrials,
		Bounds:          request.Bounds,
		RiskFreeRate:    request.RiskFreeRate,
		Lambda:          request.Lambda,
		StartMode:       optimization.StartMode(request.StartMode),
		Seed:            request.Seed,
		Workers:         request.Workers,
	})
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.log.Info().
		Str("run_id", result.RunID).
		Str("strategy", result.Strategy).
		Int("assets", len(result.Weights)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Optimization request completed")

	h.writeJSON(w, http.StatusOK, result)
}

// HandleListRuns handles GET /api/optimizer/runs?strategy=&limit=
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, "Run history is disabled")
		return
	}

	filter := runs.ListFilter{Strategy: r.URL.Query().Get("strategy")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	list, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  list,
		"count": len(list),
	})
}

// HandleGetRun handles GET /api/optimizer/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, "Run history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.history.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get run")
		h.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

// writeRunError maps engine errors onto HTTP statuses
func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	var cfgErr *optimization.ConfigError
	var noSolution *optimization.NoSolutionError

	switch {
	case errors.As(err, &cfgErr):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"field": cfgErr.Field,
		})
	case errors.As(err, &noSolution):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  err.Error(),
			"trials": noSolution.Trials,
			"failed": noSolution.Failed,
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeError(w, http.StatusServiceUnavailable, "Optimization was cancelled: "+err.Error())
	default:
		h.log.Error().Err(err).Msg("Optimization failed")
		h.writeError(w, http.StatusInternalServerError, "Optimization failed: "+err.Error())
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
