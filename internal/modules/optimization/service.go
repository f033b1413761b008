package optimization

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Defaults are the engine settings applied when a RunRequest leaves a field unset.
type Defaults struct {
	NumTrials    int
	Workers      int
	Seed         uint64
	StartMode    StartMode
	RiskFreeRate float64
	Lambda       float64
	TrialTimeout time.Duration
}

// DefaultDefaults returns 100 randomized trials on a single worker.
func DefaultDefaults() Defaults {
	return Defaults{
		NumTrials:    100,
		Workers:      1,
		StartMode:    StartRandom,
		RiskFreeRate: DefaultRiskFreeRate,
		Lambda:       DefaultLambda,
		TrialTimeout: 10 * time.Second,
	}
}

// RunRequest describes one allocation. Zero or nil fields take the service defaults.
type RunRequest struct {
	// Assets names the rows of Covariance; optional.
	Assets          []string
	Covariance      [][]float64
	ExpectedReturns []float64
	Strategy        string
	// NumTrials must be positive when set.
	NumTrials *int
	// Bounds defaults to the strategy's preset.
	Bounds       []Bound
	RiskFreeRate *float64
	Lambda       *float64
	StartMode    StartMode
	// Seed is used as given, zero included. When nil the service seed applies,
	// and a zero service seed means a time-based one.
	Seed    *uint64
	Workers int
}

// RunResult is a Result with per-asset reporting.
type RunResult struct {
	*Result
	Assets            []string           `json:"assets,omitempty"`
	Allocation        map[string]float64 `json:"allocation,omitempty"`
	RiskContributions []float64          `json:"risk_contributions,omitempty"`
	Variance          float64            `json:"variance"`
	ExpectedReturn    *float64           `json:"expected_return,omitempty"`
	Bounds            []Bound            `json:"bounds"`
	RiskFreeRate      float64            `json:"risk_free_rate"`
	Lambda            float64            `json:"lambda"`
}

// Service is the entry point of the allocation engine.
type Service struct {
	optimizer *MultiStartOptimizer
	defaults  Defaults
	log       zerolog.Logger
}

// NewService creates a service running optimizer with defaults.
func NewService(optimizer *MultiStartOptimizer, defaults Defaults, log zerolog.Logger) *Service {
	return &Service{
		optimizer: optimizer,
		defaults:  defaults,
		log:       log.With().Str("service", "optimizer").Logger(),
	}
}

// Defaults returns the settings applied to unset request fields.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// AddObserver registers a callback for every finished trial.
func (s *Service) AddObserver(observer TrialObserver) {
	s.optimizer.AddObserver(observer)
}

// Run resolves req against the defaults and runs the multi-start optimizer.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	n := len(req.Covariance)
	if req.Assets != nil && len(req.Assets) != n {
		return nil, configErrorf("assets", "got %d names for %d covariance rows", len(req.Assets), n)
	}

	rf := s.defaults.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	lambda := s.defaults.Lambda
	if req.Lambda != nil {
		lambda = *req.Lambda
	}

	objective, err := StrategyFor(req.Strategy, rf, lambda)
	if err != nil {
		return nil, err
	}

	numTrials := s.defaults.NumTrials
	if req.NumTrials != nil {
		numTrials = *req.NumTrials
		if numTrials <= 0 {
			return nil, configErrorf("num_trials", "must be positive, got %d", numTrials)
		}
	}
	workers := req.Workers
	if workers == 0 {
		workers = s.defaults.Workers
	}
	mode := req.StartMode
	if mode == "" {
		mode = s.defaults.StartMode
	}
	if mode == "" {
		mode = StartRandom
	}
	var seed uint64
	switch {
	case req.Seed != nil:
		seed = *req.Seed
	case s.defaults.Seed != 0:
		seed = s.defaults.Seed
	default:
		seed = uint64(time.Now().UnixNano())
	}
	bounds := req.Bounds
	if bounds == nil {
		bounds = DefaultBounds(objective.Name(), n)
	}

	s.log.Debug().
		Str("strategy", objective.Name()).
		Int("assets", n).
		Int("num_trials", numTrials).
		Int("workers", workers).
		Str("start_mode", string(mode)).
		Uint64("seed", seed).
		Msg("Running optimization")

	result, err := s.optimizer.Optimize(ctx, Request{
		Covariance:      req.Covariance,
		ExpectedReturns: req.ExpectedReturns,
		Objective:       objective,
		Bounds:          bounds,
		NumTrials:       numTrials,
		StartMode:       mode,
		Seed:            seed,
		Workers:         workers,
		TrialTimeout:    s.defaults.TrialTimeout,
	})
	if err != nil {
		return nil, err
	}

	// Optimize already validated the inputs.
	data, _ := NewData(req.Covariance, req.ExpectedReturns)
	out := &RunResult{
		Result:       result,
		Assets:       req.Assets,
		Variance:     data.Variance(result.Weights),
		Bounds:       bounds,
		RiskFreeRate: rf,
		Lambda:       lambda,
	}
	if rc, ok := RiskContributions(result.Weights, data); ok {
		out.RiskContributions = rc
	}
	if data.Mu != nil {
		ret := data.Return(result.Weights)
		out.ExpectedReturn = &ret
	}
	if req.Assets != nil {
		out.Allocation = make(map[string]float64, n)
		for i, asset := range req.Assets {
			out.Allocation[asset] = result.Weights[i]
		}
	}
	return out, nil
}
