package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Solver method names.
const (
	MethodBFGS       = "bfgs"
	MethodLBFGS      = "lbfgs"
	MethodNelderMead = "nelder-mead"
)

// LocalProblem is a single constrained minimization handed to a LocalSolver.
type LocalProblem struct {
	Func        func(w []float64) float64
	Constraints *ConstraintSet
}

// LocalSolution is the outcome of one local solve. X is feasible whenever
// Converged is true.
type LocalSolution struct {
	X           []float64
	F           float64
	Converged   bool
	Status      string
	Iterations  int
	Evaluations int
}

// LocalSolver minimizes a function over a ConstraintSet from a starting point.
type LocalSolver interface {
	Minimize(ctx context.Context, p LocalProblem, x0 []float64) (LocalSolution, error)
}

// SolverConfig tunes the gonum-backed local solver.
type SolverConfig struct {
	Method         string
	FallbackMethod string
	// MaxIterations and MaxEvaluations cap a single gonum run. Zero scales
	// the cap with the number of assets.
	MaxIterations  int
	MaxEvaluations int
	// FunctionTolerance is the absolute improvement below which the run is
	// considered converged.
	FunctionTolerance float64
	// InfeasibilityPenalty scales ‖x - Project(x)‖² in the evaluated function.
	InfeasibilityPenalty float64
	// Runtime caps the wall-clock time of a single gonum run.
	Runtime time.Duration
}

// Per-asset budgets used when SolverConfig leaves a cap at zero. Nelder-Mead
// needs thousands of iterations per dimension on daily-return scale inputs.
const (
	iterationsPerAsset  = 2000
	evaluationsPerAsset = 10000
	minIterations       = 1000
	minEvaluations      = 50000
)

// DefaultSolverConfig returns BFGS with a Nelder-Mead fallback and caps that
// scale with the number of assets.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Method:               MethodBFGS,
		FallbackMethod:       MethodNelderMead,
		FunctionTolerance:    1e-12,
		InfeasibilityPenalty: 1.0,
	}
}

// convergedStatuses are the gonum statuses accepted as a local optimum.
var convergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.FunctionConvergence: true,
	optimize.GradientThreshold:   true,
	optimize.MethodConverge:      true,
	optimize.FunctionThreshold:   true,
	optimize.StepConvergence:     true,
}

// GonumSolver implements LocalSolver with gonum/optimize. Every evaluation is
// made at the projection of the iterate onto the feasible region, so the
// unconstrained gonum methods only ever see feasible weights.
type GonumSolver struct {
	cfg SolverConfig
	log zerolog.Logger
}

// NewGonumSolver validates cfg and creates a solver.
func NewGonumSolver(cfg SolverConfig, log zerolog.Logger) (*GonumSolver, error) {
	if cfg.Method == "" {
		cfg.Method = MethodBFGS
	}
	if _, err := newMethod(cfg.Method); err != nil {
		return nil, err
	}
	if cfg.FallbackMethod != "" {
		if _, err := newMethod(cfg.FallbackMethod); err != nil {
			return nil, err
		}
	}
	if cfg.InfeasibilityPenalty <= 0 {
		cfg.InfeasibilityPenalty = 1.0
	}
	return &GonumSolver{
		cfg: cfg,
		log: log.With().Str("component", "gonum_solver").Logger(),
	}, nil
}

// Minimize runs the primary method and, if it does not converge, the fallback.
func (s *GonumSolver) Minimize(ctx context.Context, p LocalProblem, x0 []float64) (LocalSolution, error) {
	cs := p.Constraints
	if cs == nil || p.Func == nil {
		return LocalSolution{}, fmt.Errorf("local problem requires a function and constraints")
	}
	if len(x0) != cs.Dim() {
		return LocalSolution{}, fmt.Errorf("start has %d weights, expected %d", len(x0), cs.Dim())
	}

	penalty := s.cfg.InfeasibilityPenalty
	objective := func(x []float64) float64 {
		w := cs.Project(nil, x)
		var dist float64
		for i := range x {
			d := x[i] - w[i]
			dist += d * d
		}
		return p.Func(w) + penalty*dist
	}

	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objective, x, &fd.Settings{Formula: fd.Central})
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.RuntimeLimit, err
			}
			return optimize.NotTerminated, nil
		},
	}

	sol, last, err := s.run(problem, cs, p.Func, x0, s.cfg.Method)
	if sol.Converged || ctx.Err() != nil || s.cfg.FallbackMethod == "" || s.cfg.FallbackMethod == s.cfg.Method {
		return sol, err
	}

	s.log.Debug().
		Str("method", s.cfg.Method).
		Str("status", sol.Status).
		Str("fallback", s.cfg.FallbackMethod).
		Msg("Primary method did not converge, trying fallback")

	// Line searches stall on the kinks of the projected objective, usually
	// close to the optimum; the fallback continues from there.
	restart := x0
	if last != nil {
		restart = last
	}
	fallback, _, fbErr := s.run(problem, cs, p.Func, restart, s.cfg.FallbackMethod)
	fallback.Iterations += sol.Iterations
	fallback.Evaluations += sol.Evaluations
	return fallback, fbErr
}

// run performs one gonum minimization. last is the projection of the final
// iterate when gonum reported one, converged or not.
func (s *GonumSolver) run(problem optimize.Problem, cs *ConstraintSet, f func([]float64) float64, x0 []float64, methodName string) (sol LocalSolution, last []float64, err error) {
	method, err := newMethod(methodName)
	if err != nil {
		return LocalSolution{}, nil, err
	}

	iterations, evaluations := s.budget(len(x0))
	settings := &optimize.Settings{
		MajorIterations: iterations,
		FuncEvaluations: evaluations,
		Runtime:         s.cfg.Runtime,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.cfg.FunctionTolerance,
			Iterations: 50,
		},
	}

	initial := make([]float64, len(x0))
	copy(initial, x0)

	result, err := optimize.Minimize(problem, initial, settings, method)
	if result == nil {
		return LocalSolution{Status: optimize.Failure.String()}, nil, fmt.Errorf("%s failed: %w", methodName, err)
	}

	sol = LocalSolution{
		Status:      result.Status.String(),
		Iterations:  result.Stats.MajorIterations,
		Evaluations: result.Stats.FuncEvaluations,
	}
	if len(result.X) == len(x0) && allFinite(result.X) {
		last = cs.Project(nil, result.X)
	}
	if err != nil {
		return sol, last, fmt.Errorf("%s failed: %w", methodName, err)
	}
	if !convergedStatuses[result.Status] {
		return sol, last, fmt.Errorf("optimization did not converge: status=%v", result.Status)
	}

	sol.X = last
	if sol.X == nil {
		return sol, nil, fmt.Errorf("%s returned no usable iterate", methodName)
	}
	sol.F = f(sol.X)
	if !isFinite(sol.F) {
		return sol, last, fmt.Errorf("%s converged to a non-finite value", methodName)
	}
	sol.Converged = true
	return sol, last, nil
}

// budget returns the iteration and evaluation caps for an n-asset problem.
func (s *GonumSolver) budget(n int) (iterations, evaluations int) {
	iterations = s.cfg.MaxIterations
	if iterations <= 0 {
		iterations = max(minIterations, iterationsPerAsset*n)
	}
	evaluations = s.cfg.MaxEvaluations
	if evaluations <= 0 {
		evaluations = max(minEvaluations, evaluationsPerAsset*n)
	}
	return iterations, evaluations
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func newMethod(name string) (optimize.Method, error) {
	switch strings.ToLower(name) {
	case MethodBFGS:
		return &optimize.BFGS{}, nil
	case MethodLBFGS:
		return &optimize.LBFGS{}, nil
	case MethodNelderMead, "neldermead":
		return &optimize.NelderMead{}, nil
	default:
		return nil, configErrorf("method", "unknown solver method %q", name)
	}
}
