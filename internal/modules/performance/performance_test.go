package performance

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeries() *returns.Series {
	start := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	return &returns.Series{
		Tickers: []string{"AAA", "BBB"},
		Dates:   []time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2), start.AddDate(0, 0, 3)},
		Values: [][]float64{
			{0.01, -0.02, 0.03, 0.00},
			{0.00, 0.01, -0.01, 0.02},
		},
	}
}

func TestPortfolioReturns(t *testing.T) {
	r, err := PortfolioReturns(testSeries(), []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.005, -0.005, 0.01, 0.01}, r, 1e-15)

	_, err = PortfolioReturns(testSeries(), []float64{1})
	assert.Error(t, err)
}

func TestCumulative(t *testing.T) {
	c := Cumulative([]float64{0.1, -0.1, 0.05})
	assert.InDeltaSlice(t, []float64{1.1, 0.99, 1.0395}, c, 1e-12)
	assert.Empty(t, Cumulative(nil))
}

func TestEvaluate(t *testing.T) {
	s := testSeries()
	w := []float64{0.5, 0.5}
	report, err := Evaluate(s, w, 0.02)
	require.NoError(t, err)

	r, _ := PortfolioReturns(s, w)
	var mean float64
	for _, v := range r {
		mean += v
	}
	mean /= float64(len(r))
	var ss float64
	for _, v := range r {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(r)-1))
	annual := math.Pow(1+mean, 252) - 1

	assert.InDelta(t, annual, report.AnnualizedReturn, 1e-12)
	assert.InDelta(t, std, report.StdDev, 1e-15)
	assert.InDelta(t, (annual-0.02)/(std*math.Sqrt(252)), report.Sharpe, 1e-9)
	assert.Equal(t, 4, report.Observations)
	require.Len(t, report.Cumulative, 4)
	assert.InDelta(t, 1.005, report.Cumulative[0], 1e-15)
}

func TestEvaluate_FlatReturns(t *testing.T) {
	s := testSeries()
	s.Values = [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}}
	report, err := Evaluate(s, []float64{0.5, 0.5}, 0.02)
	require.NoError(t, err)
	assert.Zero(t, report.StdDev)
	assert.Zero(t, report.Sharpe)
}
