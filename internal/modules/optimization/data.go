package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// symmetryTolerance is the largest |Σij - Σji| accepted, relative to max(1, |Σij|).
	symmetryTolerance = 1e-10
	// psdTolerance is how far below zero the smallest eigenvalue may fall,
	// relative to the largest diagonal entry.
	psdTolerance = 1e-8
)

// Data is the immutable numeric input of one optimization run.
// Index i of every vector corresponds to row i of the covariance matrix.
type Data struct {
	Sigma *mat.SymDense
	// Mu is nil when expected returns were not supplied.
	Mu []float64
}

// NewData validates the covariance matrix and expected returns and copies
// them into a Data value. Malformed input yields a *ConfigError.
func NewData(covariance [][]float64, expectedReturns []float64) (*Data, error) {
	n := len(covariance)
	if n == 0 {
		return nil, configErrorf("covariance", "matrix is empty")
	}

	sigma := mat.NewSymDense(n, nil)
	maxDiag := 0.0
	for i, row := range covariance {
		if len(row) != n {
			return nil, configErrorf("covariance", "row %d has %d columns, expected %d", i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, configErrorf("covariance", "entry (%d,%d) is not finite", i, j)
			}
		}
		if row[i] < 0 {
			return nil, configErrorf("covariance", "diagonal entry %d is negative (%g)", i, row[i])
		}
		maxDiag = math.Max(maxDiag, row[i])
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := covariance[i][j], covariance[j][i]
			if math.Abs(a-b) > symmetryTolerance*math.Max(1, math.Abs(a)) {
				return nil, configErrorf("covariance", "matrix is not symmetric at (%d,%d)", i, j)
			}
			sigma.SetSym(i, j, a)
		}
	}

	if n > 1 {
		var eig mat.EigenSym
		if !eig.Factorize(sigma, false) {
			return nil, configErrorf("covariance", "eigen decomposition failed")
		}
		values := eig.Values(nil)
		if minEig := floats.Min(values); minEig < -psdTolerance*math.Max(1, maxDiag) {
			return nil, configErrorf("covariance", "matrix is not positive semi-definite (min eigenvalue %g)", minEig)
		}
	}

	var mu []float64
	if expectedReturns != nil {
		if len(expectedReturns) != n {
			return nil, configErrorf("expected_returns", "length %d does not match covariance dimension %d", len(expectedReturns), n)
		}
		for i, v := range expectedReturns {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, configErrorf("expected_returns", "entry %d is not finite", i)
			}
		}
		mu = make([]float64, n)
		copy(mu, expectedReturns)
	}

	return &Data{Sigma: sigma, Mu: mu}, nil
}

// Dim returns the number of assets.
func (d *Data) Dim() int {
	return d.Sigma.SymmetricDim()
}

// Variance returns wᵀΣw.
func (d *Data) Variance(w []float64) float64 {
	wv := mat.NewVecDense(len(w), w)
	return mat.Inner(wv, d.Sigma, wv)
}

// Marginal returns Σw.
func (d *Data) Marginal(w []float64) []float64 {
	var m mat.VecDense
	m.MulVec(d.Sigma, mat.NewVecDense(len(w), w))
	return m.RawVector().Data
}

// Return returns μᵀw, or 0 when no expected returns are set.
func (d *Data) Return(w []float64) float64 {
	if d.Mu == nil {
		return 0
	}
	return floats.Dot(d.Mu, w)
}
