package optimization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Request is the input of a single multi-start run.
type Request struct {
	Covariance      [][]float64
	ExpectedReturns []float64
	Objective       Objective
	Bounds          []Bound
	NumTrials       int
	StartMode       StartMode
	Seed            uint64
	// Workers bounds how many trials run concurrently; values below 1 mean 1.
	Workers int
	// TrialTimeout caps the wall-clock time of one trial; zero disables it.
	TrialTimeout time.Duration
}

// Trial is the immutable outcome of one local solve.
type Trial struct {
	Index       int
	Start       []float64
	Weights     []float64
	Value       float64
	Converged   bool
	Status      string
	Iterations  int
	Evaluations int
	Duration    time.Duration
	Err         error
}

// Result is the winning allocation of a run.
type Result struct {
	Strategy  string        `json:"strategy"`
	Weights   []float64     `json:"weights"`
	Value     float64       `json:"value"`
	BestTrial int           `json:"best_trial"`
	Trials    int           `json:"trials"`
	Converged int           `json:"converged"`
	Failed    int           `json:"failed"`
	Seed      uint64        `json:"seed"`
	StartMode StartMode     `json:"start_mode"`
	Duration  time.Duration `json:"duration_ns"`
}

// TrialObserver is notified once per finished trial. It may be called
// concurrently from several workers.
type TrialObserver func(strategy string, trial Trial)

// MultiStartOptimizer runs independent local solves from many starting
// points and keeps the best converged one.
type MultiStartOptimizer struct {
	solver    LocalSolver
	mu        sync.RWMutex
	observers []TrialObserver
	log       zerolog.Logger
}

// NewMultiStartOptimizer creates an optimizer on top of solver.
func NewMultiStartOptimizer(solver LocalSolver, log zerolog.Logger) *MultiStartOptimizer {
	return &MultiStartOptimizer{
		solver: solver,
		log:    log.With().Str("component", "multistart").Logger(),
	}
}

// AddObserver registers a callback for finished trials.
func (o *MultiStartOptimizer) AddObserver(observer TrialObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, observer)
}

// Optimize validates req, runs req.NumTrials trials and returns the converged
// trial with the lowest cost. Input problems yield *ConfigError; a run where
// no trial converged yields *NoSolutionError. Cancelling ctx stops scheduling
// further trials and returns ctx.Err().
func (o *MultiStartOptimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	data, constraints, starts, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	strategy := req.Objective.Name()

	if req.StartMode == StartUniform && req.NumTrials > 1 {
		o.log.Warn().
			Str("strategy", strategy).
			Int("num_trials", req.NumTrials).
			Msg("Uniform start mode: every trial starts from the same point")
	}

	workers := req.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > req.NumTrials {
		workers = req.NumTrials
	}

	began := time.Now()
	trials := make([]Trial, req.NumTrials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < req.NumTrials; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trials[i] = o.runTrial(gctx, i, req, data, constraints, starts.Start(i))
			o.notify(strategy, trials[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("optimization cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("optimization cancelled: %w", err)
	}

	best, ok := SelectBest(trials)
	converged, failed, lastErr := tally(trials)
	if !ok {
		o.log.Error().
			Str("strategy", strategy).
			Int("num_trials", req.NumTrials).
			Err(lastErr).
			Msg("No trial converged")
		return nil, &NoSolutionError{
			Strategy: strategy,
			Trials:   req.NumTrials,
			Failed:   failed,
			LastErr:  lastErr,
		}
	}

	result := &Result{
		Strategy:  strategy,
		Weights:   best.Weights,
		Value:     best.Value,
		BestTrial: best.Index,
		Trials:    req.NumTrials,
		Converged: converged,
		Failed:    failed,
		Seed:      req.Seed,
		StartMode: req.StartMode,
		Duration:  time.Since(began),
	}

	o.log.Info().
		Str("strategy", strategy).
		Int("num_trials", req.NumTrials).
		Int("converged", converged).
		Int("failed", failed).
		Int("best_trial", best.Index).
		Float64("value", best.Value).
		Dur("duration", result.Duration).
		Msg("Optimization complete")

	return result, nil
}

func (o *MultiStartOptimizer) prepare(req Request) (*Data, *ConstraintSet, *StartGenerator, error) {
	if req.Objective == nil {
		return nil, nil, nil, configErrorf("strategy", "no objective provided")
	}
	if req.NumTrials <= 0 {
		return nil, nil, nil, configErrorf("num_trials", "must be positive, got %d", req.NumTrials)
	}
	if req.TrialTimeout < 0 {
		return nil, nil, nil, configErrorf("trial_timeout", "must not be negative")
	}

	data, err := NewData(req.Covariance, req.ExpectedReturns)
	if err != nil {
		return nil, nil, nil, err
	}
	if req.Objective.NeedsReturns() && data.Mu == nil {
		return nil, nil, nil, configErrorf("expected_returns", "required by strategy %s", req.Objective.Name())
	}
	if len(req.Bounds) != data.Dim() {
		return nil, nil, nil, configErrorf("bounds", "got %d bounds for %d assets", len(req.Bounds), data.Dim())
	}

	constraints, err := NewConstraintSet(req.Bounds)
	if err != nil {
		return nil, nil, nil, err
	}
	starts, err := NewStartGenerator(req.StartMode, req.Seed, constraints)
	if err != nil {
		return nil, nil, nil, err
	}
	return data, constraints, starts, nil
}

func (o *MultiStartOptimizer) runTrial(ctx context.Context, index int, req Request, data *Data, constraints *ConstraintSet, start []float64) Trial {
	if req.TrialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.TrialTimeout)
		defer cancel()
	}

	objective := req.Objective
	began := time.Now()
	sol, err := o.solver.Minimize(ctx, LocalProblem{
		Func: func(w []float64) float64 {
			return objective.Cost(w, data)
		},
		Constraints: constraints,
	}, start)

	trial := Trial{
		Index:       index,
		Start:       start,
		Status:      sol.Status,
		Iterations:  sol.Iterations,
		Evaluations: sol.Evaluations,
		Duration:    time.Since(began),
		Err:         err,
	}
	if err != nil || !sol.Converged {
		if trial.Err == nil {
			trial.Err = fmt.Errorf("trial %d did not converge: status=%s", index, sol.Status)
		}
		o.log.Debug().Int("trial", index).Str("status", sol.Status).Err(trial.Err).Msg("Trial failed")
		return trial
	}

	if !constraints.Feasible(sol.X, BoundTolerance) {
		trial.Err = fmt.Errorf("trial %d returned infeasible weights", index)
		return trial
	}

	value := objective.Cost(sol.X, data)
	if value >= DegeneratePenalty {
		trial.Err = fmt.Errorf("trial %d ended on a degenerate portfolio", index)
		o.log.Debug().Int("trial", index).Msg("Trial ended at the degenerate penalty")
		return trial
	}

	trial.Weights = append([]float64(nil), sol.X...)
	trial.Value = value
	trial.Converged = true
	return trial
}

func (o *MultiStartOptimizer) notify(strategy string, trial Trial) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, observer := range o.observers {
		observer(strategy, trial)
	}
}

// SelectBest returns the converged trial with the lowest value. Ties go to
// the lower index. ok is false when no trial converged.
func SelectBest(trials []Trial) (best Trial, ok bool) {
	for _, t := range trials {
		if !t.Converged {
			continue
		}
		if !ok || t.Value < best.Value || (t.Value == best.Value && t.Index < best.Index) {
			best, ok = t, true
		}
	}
	return best, ok
}

func tally(trials []Trial) (converged, failed int, lastErr error) {
	for _, t := range trials {
		if t.Converged {
			converged++
			continue
		}
		failed++
		if t.Err != nil {
			lastErr = t.Err
		}
	}
	return converged, failed, lastErr
}
