// Package returns turns price histories into the return statistics the
// optimizer consumes.
package returns

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/allocator/internal/modules/marketdata"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Series holds periodic returns on a shared date axis.
// Values[j][i] is the return of Tickers[j] from Dates[i-1] to Dates[i] of the
// source price table, stored against Dates[i].
type Series struct {
	Tickers []string
	Dates   []time.Time
	Values  [][]float64
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.Dates)
}

// Matrix returns the observations as a Len()×len(Tickers) matrix.
func (s *Series) Matrix() *mat.Dense {
	m := mat.NewDense(s.Len(), len(s.Tickers), nil)
	for j, col := range s.Values {
		m.SetCol(j, col)
	}
	return m
}

// PercentChange computes simple returns p[i]/p[i-1]-1, dropping the first row.
func PercentChange(prices *marketdata.PriceTable) (*Series, error) {
	if err := prices.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prices: %w", err)
	}
	if prices.Len() < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 prices, got %d", prices.Len())
	}

	out := &Series{
		Tickers: prices.Tickers,
		Dates:   prices.Dates[1:],
		Values:  make([][]float64, len(prices.Close)),
	}
	for j, col := range prices.Close {
		r := make([]float64, len(col)-1)
		for i := 1; i < len(col); i++ {
			r[i-1] = col[i]/col[i-1] - 1
		}
		out.Values[j] = r
	}
	return out, nil
}

// Mean returns the per-ticker arithmetic mean return.
func Mean(s *Series) []float64 {
	mu := make([]float64, len(s.Values))
	for j, col := range s.Values {
		mu[j] = stat.Mean(col, nil)
	}
	return mu
}

// Covariance returns the sample covariance matrix (N-1 denominator).
func Covariance(s *Series) ([][]float64, error) {
	if s.Len() < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", s.Len())
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, s.Matrix(), nil)
	return symToRows(&cov), nil
}

// Shrink blends cov toward a constant-correlation target: the sample
// variances on the diagonal and the average pairwise correlation scaled by
// each pair's volatilities off it. The intensity is estimated from the
// dispersion of the sample entries relative to their distance from the
// target and capped at 0.5. It returns the shrunk matrix and the intensity.
func Shrink(cov [][]float64) ([][]float64, float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, 0, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return [][]float64{{cov[0][0]}}, 0, nil
	}

	vol := make([]float64, n)
	for i := range cov {
		if len(cov[i]) != n {
			return nil, 0, fmt.Errorf("covariance matrix is not square")
		}
		vol[i] = math.Sqrt(math.Max(cov[i][i], 0))
	}

	var avgCorr float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if vol[i] > 0 && vol[j] > 0 {
				avgCorr += cov[i][j] / (vol[i] * vol[j])
				pairs++
			}
		}
	}
	if pairs > 0 {
		avgCorr /= float64(pairs)
	}

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := range target[i] {
			if i == j {
				target[i][j] = cov[i][i]
			} else {
				target[i][j] = avgCorr * vol[i] * vol[j]
			}
		}
	}

	var sumSqDiff, sum, sumSq float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := cov[i][j] - target[i][j]
			sumSqDiff += d * d
			sum += cov[i][j]
			sumSq += cov[i][j] * cov[i][j]
		}
	}
	count := float64(n * n)
	meanSqDiff := sumSqDiff / count
	mean := sum / count
	variance := sumSq/count - mean*mean

	intensity := 0.2
	if variance > 0 && meanSqDiff > 0 {
		intensity = math.Min(0.5, math.Max(0, variance/(variance+meanSqDiff)))
	}

	shrunk := make([][]float64, n)
	for i := range shrunk {
		shrunk[i] = make([]float64, n)
		for j := range shrunk[i] {
			shrunk[i][j] = (1-intensity)*cov[i][j] + intensity*target[i][j]
		}
	}
	return shrunk, intensity, nil
}

// Stats are the inputs of one optimization estimated from a price window.
type Stats struct {
	Tickers      []string    `msgpack:"tickers" json:"tickers"`
	Covariance   [][]float64 `msgpack:"covariance" json:"covariance"`
	Mean         []float64   `msgpack:"mean" json:"mean"`
	Observations int         `msgpack:"observations" json:"observations"`
	Shrinkage    float64     `msgpack:"shrinkage" json:"shrinkage"`
	Start        time.Time   `msgpack:"start" json:"start"`
	End          time.Time   `msgpack:"end" json:"end"`
	// Series is the return history the statistics were estimated from.
	Series *Series `msgpack:"series" json:"-"`
}

// Estimate computes mean returns and covariance from prices, optionally shrunk.
func Estimate(prices *marketdata.PriceTable, shrink bool) (*Stats, error) {
	series, err := PercentChange(prices)
	if err != nil {
		return nil, err
	}
	cov, err := Covariance(series)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Tickers:      series.Tickers,
		Covariance:   cov,
		Mean:         Mean(series),
		Observations: series.Len(),
		Start:        prices.Dates[0],
		End:          prices.Dates[prices.Len()-1],
		Series:       series,
	}
	if shrink {
		stats.Covariance, stats.Shrinkage, err = Shrink(cov)
		if err != nil {
			return nil, fmt.Errorf("failed to shrink covariance: %w", err)
		}
	}
	return stats, nil
}

// Reorder returns a copy of s with its tickers in the given order.
func (s *Stats) Reorder(tickers []string) (*Stats, error) {
	pos := make(map[string]int, len(s.Tickers))
	for i, t := range s.Tickers {
		pos[t] = i
	}
	perm := make([]int, len(tickers))
	for i, t := range tickers {
		p, ok := pos[t]
		if !ok {
			return nil, fmt.Errorf("ticker %s not in statistics", t)
		}
		perm[i] = p
	}

	out := *s
	out.Tickers = append([]string(nil), tickers...)
	out.Mean = make([]float64, len(perm))
	out.Covariance = make([][]float64, len(perm))
	for i, p := range perm {
		out.Mean[i] = s.Mean[p]
		out.Covariance[i] = make([]float64, len(perm))
		for j, q := range perm {
			out.Covariance[i][j] = s.Covariance[p][q]
		}
	}
	if s.Series != nil {
		out.Series = &Series{
			Tickers: out.Tickers,
			Dates:   s.Series.Dates,
			Values:  make([][]float64, len(perm)),
		}
		for i, p := range perm {
			out.Series.Values[i] = s.Series.Values[p]
		}
	}
	return &out, nil
}

func symToRows(s *mat.SymDense) [][]float64 {
	n := s.SymmetricDim()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = s.At(i, j)
		}
	}
	return rows
}
