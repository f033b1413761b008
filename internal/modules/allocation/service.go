// Package allocation runs optimizations end to end: it records runs, emits
// progress events and drives universe files through market data, estimation,
// optimization, evaluation and export.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Allocation is a recorded optimization result.
type Allocation struct {
	RunID string `json:"run_id"`
	*optimization.RunResult
}

// Service wraps the optimizer with run history, events and metrics.
// Every collaborator except the optimizer is optional.
type Service struct {
	optimizer *optimization.Service
	runs      *runs.Repository
	events    *events.Manager
	metrics   *metrics.Recorder
	log       zerolog.Logger
}

// NewService creates an allocation service and registers the trial observers.
func NewService(
	optimizer *optimization.Service,
	runRepo *runs.Repository,
	eventManager *events.Manager,
	recorder *metrics.Recorder,
	log zerolog.Logger,
) *Service {
	s := &Service{
		optimizer: optimizer,
		runs:      runRepo,
		events:    eventManager,
		metrics:   recorder,
		log:       log.With().Str("service", "allocation").Logger(),
	}
	if recorder != nil {
		optimizer.AddObserver(recorder.ObserveTrial)
	}
	if eventManager != nil {
		optimizer.AddObserver(TrialEvents(eventManager))
	}
	return s
}

// Optimizer returns the wrapped optimizer service.
func (s *Service) Optimizer() *optimization.Service {
	return s.optimizer
}

// Allocate runs one optimization for source ("api", "cli", "scheduler") and
// stores the result. A history write failure is logged, not returned.
func (s *Service) Allocate(ctx context.Context, source string, req optimization.RunRequest) (*Allocation, error) {
	runID := uuid.NewString()
	strategy := req.Strategy
	start := time.Now()

	numTrials := s.optimizer.Defaults().NumTrials
	if req.NumTrials != nil {
		numTrials = *req.NumTrials
	}

	s.emit(&events.RunStartedData{
		RunID:     runID,
		Strategy:  strategy,
		Assets:    len(req.Covariance),
		NumTrials: numTrials,
		Source:    source,
	})

	result, err := s.optimizer.Run(ctx, req)
	if err != nil {
		if s.metrics != nil && !optimization.IsConfigError(err) {
			s.metrics.RecordRun(strategy, nil, time.Since(start))
		}
		s.emit(&events.RunFailedData{RunID: runID, Strategy: strategy, Error: err.Error()})
		s.log.Warn().Err(err).Str("run_id", runID).Str("strategy", strategy).Msg("Optimization failed")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRun(result.Strategy, result.Result, time.Since(start))
	}

	if s.runs != nil {
		run := runs.FromResult(source, result)
		run.ID = runID
		if err := s.runs.Save(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", runID).Msg("Failed to store run")
		}
	}

	s.emit(&events.RunCompletedData{
		RunID:      runID,
		Strategy:   result.Strategy,
		Value:      result.Value,
		Converged:  result.Converged,
		Failed:     result.Failed,
		Allocation: result.Allocation,
		DurationMs: float64(result.Duration.Microseconds()) / 1000,
	})

	s.log.Info().
		Str("run_id", runID).
		Str("strategy", result.Strategy).
		Str("source", source).
		Float64("value", result.Value).
		Int("converged", result.Converged).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Optimization completed")

	return &Allocation{RunID: runID, RunResult: result}, nil
}

// History returns the run repository, or nil when history is disabled.
func (s *Service) History() *runs.Repository {
	return s.runs
}

func (s *Service) emit(data events.EventData) {
	if s.events != nil {
		s.events.EmitTyped("allocation", data)
	}
}

// TrialEvents publishes a TrialCompleted event per trial.
func TrialEvents(m *events.Manager) optimization.TrialObserver {
	return func(strategy string, trial optimization.Trial) {
		data := &events.TrialCompletedData{
			Strategy:   strategy,
			Trial:      trial.Index,
			Converged:  trial.Converged,
			Status:     trial.Status,
			Iterations: trial.Iterations,
			DurationMs: float64(trial.Duration.Microseconds()) / 1000,
		}
		if trial.Err != nil {
			data.Error = trial.Err.Error()
		} else {
			data.Value = trial.Value
		}
		m.EmitTyped("optimizer", data)
	}
}

// String describes an allocation for logs and CLI output.
func (a *Allocation) String() string {
	return fmt.Sprintf("%s run %s: value=%.6g converged=%d/%d", a.Strategy, a.RunID, a.Value, a.Converged, a.Trials)
}
