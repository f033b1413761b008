package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraintSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bounds  []Bound
		wantErr bool
	}{
		{"long only", UniformBounds(3, 0, 1), false},
		{"tight cap reaching budget", UniformBounds(5, 0, 0.2), false},
		{"empty", nil, true},
		{"inverted", []Bound{{Lower: 0.6, Upper: 0.4}, {Lower: 0, Upper: 1}}, true},
		{"caps below budget", UniformBounds(3, 0, 0.2), true},
		{"floors above budget", UniformBounds(3, 0.4, 1), true},
		{"infinite", []Bound{{Lower: 0, Upper: math.Inf(1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConstraintSet(tt.bounds)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigError(err), "expected a ConfigError, got %T", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConstraintSet_ProjectKeepsFeasiblePoint(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(3, 0, 1))
	require.NoError(t, err)

	w := cs.Project(nil, []float64{0.2, 0.3, 0.5})
	assert.InDeltaSlice(t, []float64{0.2, 0.3, 0.5}, w, 1e-12)
}

func TestConstraintSet_ProjectShiftsEvenly(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(3, 0, 1))
	require.NoError(t, err)

	w := cs.Project(nil, []float64{0.5, 0.5, 0.5})
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, w, 1e-12)
}

func TestConstraintSet_ProjectRespectsCaps(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(3, 0, 0.5))
	require.NoError(t, err)

	// clip(1-τ) hits the cap, the other two share the rest.
	w := cs.Project(nil, []float64{1, 0, 0})
	assert.InDeltaSlice(t, []float64{0.5, 0.25, 0.25}, w, 1e-12)
	assert.True(t, cs.Feasible(w, BoundTolerance))
}

func TestConstraintSet_ProjectHandlesNonFinite(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(4, 0, 0.6))
	require.NoError(t, err)

	w := cs.Project(nil, []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0.3})
	require.Len(t, w, 4)
	assert.True(t, cs.Feasible(w, BoundTolerance), "projection should be feasible: %v", w)
}

func TestConstraintSet_ProjectInPlace(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(2, 0, 1))
	require.NoError(t, err)

	x := []float64{3, -1}
	out := cs.Project(x, x)
	assert.Equal(t, &x[0], &out[0])
	assert.InDeltaSlice(t, []float64{1, 0}, x, 1e-12)
}

func TestConstraintSet_BudgetResidual(t *testing.T) {
	cs, err := NewConstraintSet(UniformBounds(2, 0, 1))
	require.NoError(t, err)

	assert.InDelta(t, 0.0, cs.BudgetResidual([]float64{0.4, 0.6}), 1e-15)
	assert.InDelta(t, 0.5, cs.BudgetResidual([]float64{0.9, 0.6}), 1e-15)
	assert.False(t, cs.Feasible([]float64{0.9, 0.6}, BoundTolerance))
	assert.False(t, cs.Feasible([]float64{1.2, -0.2}, BoundTolerance))
}

func TestDefaultBounds(t *testing.T) {
	assert.Equal(t, UniformBounds(3, 0, 1), DefaultBounds(StrategyMinVariance, 3))
	assert.Equal(t, UniformBounds(3, 0, 1), DefaultBounds(StrategyRiskParity, 3))
	assert.Equal(t, UniformBounds(10, 0, MaxConcentration), DefaultBounds(StrategyMeanVariance, 10))

	// Too few assets for the cap: widened so the budget stays reachable.
	small := DefaultBounds(StrategyMeanVariance, 3)
	_, err := NewConstraintSet(small)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, small[0].Upper, 1e-15)
}

func TestNewData_Validation(t *testing.T) {
	tests := []struct {
		name  string
		cov   [][]float64
		mu    []float64
		field string
	}{
		{"empty", [][]float64{}, nil, "covariance"},
		{"not square", [][]float64{{0.04, 0.01}, {0.01}}, nil, "covariance"},
		{"not symmetric", [][]float64{{0.04, 0.01}, {0.02, 0.03}}, nil, "covariance"},
		{"nan", [][]float64{{math.NaN(), 0}, {0, 0.03}}, nil, "covariance"},
		{"negative variance", [][]float64{{-0.04, 0}, {0, 0.03}}, nil, "covariance"},
		{"indefinite", [][]float64{{1, 2}, {2, 1}}, nil, "covariance"},
		{"returns length", [][]float64{{0.04, 0}, {0, 0.03}}, []float64{0.1}, "expected_returns"},
		{"returns inf", [][]float64{{0.04, 0}, {0, 0.03}}, []float64{0.1, math.Inf(1)}, "expected_returns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewData(tt.cov, tt.mu)
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewData_AcceptsSingularMatrix(t *testing.T) {
	d, err := NewData([][]float64{{0.04, 0.04}, {0.04, 0.04}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Dim())
	assert.Nil(t, d.Mu)
	assert.InDelta(t, 0.04, d.Variance([]float64{0.5, 0.5}), 1e-15)
}
