// Package optimization provides the multi-start portfolio allocation engine.
package optimization

import (
	"math"
)

const (
	// MaxConcentration is the default per-asset cap for mean-variance runs.
	MaxConcentration = 0.20
	// BudgetTolerance is the accepted |Σw - 1| of a returned allocation.
	BudgetTolerance = 1e-6
	// BoundTolerance is the accepted bound violation of a returned allocation.
	BoundTolerance = 1e-9

	projectionIterations = 200
)

// Bound is the closed interval [Lower, Upper] a single weight must lie in.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// UniformBounds returns n copies of [lower, upper].
func UniformBounds(n int, lower, upper float64) []Bound {
	bounds := make([]Bound, n)
	for i := range bounds {
		bounds[i] = Bound{Lower: lower, Upper: upper}
	}
	return bounds
}

// DefaultBounds returns the bound preset of a strategy: [0, 1] for minimum
// variance and risk parity, [0, MaxConcentration] for mean-variance. The cap
// is widened to 1/n when n assets could not otherwise reach a full budget.
func DefaultBounds(strategy string, n int) []Bound {
	if strategy == StrategyMeanVariance {
		upper := MaxConcentration
		if n > 0 && upper*float64(n) < 1 {
			upper = 1 / float64(n)
		}
		return UniformBounds(n, 0, upper)
	}
	return UniformBounds(n, 0, 1)
}

// ConstraintSet is the feasible region {w : Σw = 1, lo_i ≤ w_i ≤ hi_i}.
type ConstraintSet struct {
	bounds []Bound
}

// NewConstraintSet validates bounds and returns the constraint set they define.
func NewConstraintSet(bounds []Bound) (*ConstraintSet, error) {
	cs := &ConstraintSet{bounds: append([]Bound(nil), bounds...)}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}

// Validate fails when a bound is inverted or not finite, or when the bounds
// leave no weight vector summing to one.
func (cs *ConstraintSet) Validate() error {
	if len(cs.bounds) == 0 {
		return configErrorf("bounds", "no bounds provided")
	}

	var sumLower, sumUpper float64
	for i, b := range cs.bounds {
		if !isFinite(b.Lower) || !isFinite(b.Upper) {
			return configErrorf("bounds", "bound %d is not finite", i)
		}
		if b.Lower > b.Upper {
			return configErrorf("bounds", "bound %d has lower %g > upper %g", i, b.Lower, b.Upper)
		}
		sumLower += b.Lower
		sumUpper += b.Upper
	}

	if sumLower > 1+BudgetTolerance {
		return configErrorf("bounds", "lower bounds sum to %g, budget of 1 is unreachable", sumLower)
	}
	if sumUpper < 1-BudgetTolerance {
		return configErrorf("bounds", "upper bounds sum to %g, budget of 1 is unreachable", sumUpper)
	}
	return nil
}

// Dim returns the number of assets the set constrains.
func (cs *ConstraintSet) Dim() int {
	return len(cs.bounds)
}

// Bounds returns a copy of the per-asset bounds.
func (cs *ConstraintSet) Bounds() []Bound {
	return append([]Bound(nil), cs.bounds...)
}

// BudgetResidual returns Σw - 1.
func (cs *ConstraintSet) BudgetResidual(w []float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum - 1
}

// Feasible reports whether w satisfies the budget within BudgetTolerance and
// every bound within tol.
func (cs *ConstraintSet) Feasible(w []float64, tol float64) bool {
	if len(w) != len(cs.bounds) {
		return false
	}
	for i, b := range cs.bounds {
		if !isFinite(w[i]) || w[i] < b.Lower-tol || w[i] > b.Upper+tol {
			return false
		}
	}
	return math.Abs(cs.BudgetResidual(w)) <= BudgetTolerance
}

// Project writes the Euclidean projection of x onto the feasible region into
// dst and returns it. dst may alias x; a nil dst is allocated.
//
// The projection has the form w_i = clip(x_i - τ, lo_i, hi_i); τ is found by
// bisection since Σw is non-increasing in τ. Non-finite coordinates are
// treated as sitting on the nearest bound.
func (cs *ConstraintSet) Project(dst, x []float64) []float64 {
	n := len(cs.bounds)
	if dst == nil {
		dst = make([]float64, n)
	}

	clean := make([]float64, n)
	for i, b := range cs.bounds {
		switch v := x[i]; {
		case math.IsNaN(v), math.IsInf(v, -1):
			clean[i] = b.Lower
		case math.IsInf(v, 1):
			clean[i] = b.Upper
		default:
			clean[i] = v
		}
	}

	// At tauLow every weight sits on its upper bound, at tauHigh on its lower.
	tauLow, tauHigh := math.Inf(1), math.Inf(-1)
	for i, b := range cs.bounds {
		tauLow = math.Min(tauLow, clean[i]-b.Upper)
		tauHigh = math.Max(tauHigh, clean[i]-b.Lower)
	}

	for iter := 0; iter < projectionIterations && tauHigh-tauLow > 1e-15; iter++ {
		tau := 0.5 * (tauLow + tauHigh)
		if cs.shiftedSum(clean, tau) > 1 {
			tauLow = tau
		} else {
			tauHigh = tau
		}
	}

	tau := 0.5 * (tauLow + tauHigh)
	for i, b := range cs.bounds {
		dst[i] = clamp(clean[i]-tau, b.Lower, b.Upper)
	}
	cs.distributeResidual(dst)
	return dst
}

func (cs *ConstraintSet) shiftedSum(x []float64, tau float64) float64 {
	sum := 0.0
	for i, b := range cs.bounds {
		sum += clamp(x[i]-tau, b.Lower, b.Upper)
	}
	return sum
}

// distributeResidual removes the rounding error left by bisection, moving
// weight only within each coordinate's remaining slack.
func (cs *ConstraintSet) distributeResidual(w []float64) {
	residual := -cs.BudgetResidual(w)
	for i, b := range cs.bounds {
		if residual == 0 {
			return
		}
		if residual > 0 {
			step := math.Min(residual, b.Upper-w[i])
			w[i] += step
			residual -= step
		} else {
			step := math.Min(-residual, w[i]-b.Lower)
			w[i] -= step
			residual += step
		}
	}
}

func clamp(value, lower, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
