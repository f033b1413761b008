package optimization

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Strategy names.
const (
	StrategyMinVariance  = "gmvp"
	StrategyMeanVariance = "mean_variance"
	StrategyRiskParity   = "risk_parity"
)

const (
	// DefaultRiskFreeRate is subtracted from the periodic portfolio return as is.
	DefaultRiskFreeRate = 0.02
	// DefaultLambda is the L2 regularization strength of the mean-variance objective.
	DefaultLambda = 1.5
	// DegeneratePenalty is the cost reported for zero-variance or non-finite evaluations.
	DegeneratePenalty = 1e6

	varianceFloor = 1e-14
)

// Objective maps a weight vector to a cost to be minimized.
type Objective interface {
	Name() string
	// NeedsReturns reports whether Data.Mu must be set.
	NeedsReturns() bool
	Cost(w []float64, d *Data) float64
}

// MinVariance is the global minimum variance portfolio: wᵀΣw.
type MinVariance struct{}

func (MinVariance) Name() string      { return StrategyMinVariance }
func (MinVariance) NeedsReturns() bool { return false }

func (MinVariance) Cost(w []float64, d *Data) float64 {
	return guard(d.Variance(w))
}

// MeanVariance maximizes the Sharpe ratio with an L2 penalty on the weights,
// expressed as the negated score so it can be minimized.
type MeanVariance struct {
	RiskFreeRate float64
	Lambda       float64
}

func (MeanVariance) Name() string      { return StrategyMeanVariance }
func (MeanVariance) NeedsReturns() bool { return true }

func (m MeanVariance) Cost(w []float64, d *Data) float64 {
	variance := d.Variance(w)
	if !(variance > varianceFloor) {
		return DegeneratePenalty
	}
	sharpe := (d.Return(w) - m.RiskFreeRate) / math.Sqrt(variance)
	regularization := m.Lambda * floats.Dot(w, w)
	return guard(-(sharpe - regularization))
}

// RiskParity equalizes the fractional risk contributions; its cost is their
// population variance.
type RiskParity struct{}

func (RiskParity) Name() string      { return StrategyRiskParity }
func (RiskParity) NeedsReturns() bool { return false }

func (RiskParity) Cost(w []float64, d *Data) float64 {
	rc, ok := RiskContributions(w, d)
	if !ok {
		return DegeneratePenalty
	}
	return guard(stat.PopVariance(rc, nil))
}

// RiskContributions returns rc_i = w_i·(Σw)_i / wᵀΣw. The contributions sum
// to one. ok is false when the portfolio variance is degenerate.
func RiskContributions(w []float64, d *Data) (rc []float64, ok bool) {
	variance := d.Variance(w)
	if !(variance > varianceFloor) {
		return nil, false
	}
	rc = d.Marginal(w)
	for i := range rc {
		rc[i] = w[i] * rc[i] / variance
	}
	return rc, true
}

// StrategyFor resolves a strategy name (or alias) to its Objective.
// riskFreeRate and lambda only apply to mean-variance.
func StrategyFor(name string, riskFreeRate, lambda float64) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyMinVariance, "min_variance", "min_volatility":
		return MinVariance{}, nil
	case StrategyMeanVariance, "mpt", "max_sharpe":
		if !isFinite(riskFreeRate) {
			return nil, configErrorf("risk_free_rate", "must be finite")
		}
		if !isFinite(lambda) || lambda < 0 {
			return nil, configErrorf("lambda", "must be a finite non-negative number, got %g", lambda)
		}
		return MeanVariance{RiskFreeRate: riskFreeRate, Lambda: lambda}, nil
	case StrategyRiskParity, "rp":
		return RiskParity{}, nil
	default:
		return nil, configErrorf("strategy", "unknown strategy %q", name)
	}
}

// Strategies returns the canonical strategy names.
func Strategies() []string {
	return []string{StrategyMinVariance, StrategyMeanVariance, StrategyRiskParity}
}

func guard(cost float64) float64 {
	if !isFinite(cost) {
		return DegeneratePenalty
	}
	return cost
}
