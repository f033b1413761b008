package returns

import (
	"testing"
	"time"

	"github.com/aristath/allocator/internal/modules/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func testPrices() *marketdata.PriceTable {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, 6)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return &marketdata.PriceTable{
		Tickers: []string{"AAA", "BBB", "CCC"},
		Dates:   dates,
		Close: [][]float64{
			{100, 110, 99, 104, 108, 107},
			{50, 51, 52, 50, 49, 51},
			{20, 19, 21, 22, 20, 23},
		},
	}
}

func TestPercentChange(t *testing.T) {
	series, err := PercentChange(testPrices())
	require.NoError(t, err)

	assert.Equal(t, 5, series.Len())
	assert.InDelta(t, 0.1, series.Values[0][0], 1e-12)
	assert.InDelta(t, -0.1, series.Values[0][1], 1e-12)
	assert.Equal(t, testPrices().Dates[1], series.Dates[0])
}

func TestPercentChange_RejectsBadPrices(t *testing.T) {
	prices := testPrices()
	prices.Close[1][2] = 0
	_, err := PercentChange(prices)
	assert.Error(t, err)

	short := testPrices().Window(time.Time{}, testPrices().Dates[1])
	_, err = PercentChange(short)
	assert.Error(t, err)
}

func TestCovarianceMatchesPairwise(t *testing.T) {
	series, err := PercentChange(testPrices())
	require.NoError(t, err)

	cov, err := Covariance(series)
	require.NoError(t, err)
	for i := range cov {
		for j := range cov {
			want := stat.Covariance(series.Values[i], series.Values[j], nil)
			assert.InDelta(t, want, cov[i][j], 1e-15)
			assert.Equal(t, cov[i][j], cov[j][i])
		}
	}

	mu := Mean(series)
	assert.InDelta(t, stat.Mean(series.Values[2], nil), mu[2], 1e-15)
}

func TestShrink(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.006, -0.002},
		{0.006, 0.01, 0.001},
		{-0.002, 0.001, 0.09},
	}

	shrunk, intensity, err := Shrink(cov)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, intensity, 0.0)
	assert.LessOrEqual(t, intensity, 0.5)

	for i := range cov {
		assert.InDelta(t, cov[i][i], shrunk[i][i], 1e-15, "variances are preserved")
		for j := range cov {
			assert.Equal(t, shrunk[i][j], shrunk[j][i])
		}
	}

	single, intensity, err := Shrink([][]float64{{0.04}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.04}}, single)
	assert.Zero(t, intensity)

	_, _, err = Shrink(nil)
	assert.Error(t, err)
}

func TestEstimate(t *testing.T) {
	stats, err := Estimate(testPrices(), false)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Observations)
	assert.Zero(t, stats.Shrinkage)
	require.NotNil(t, stats.Series)
	assert.Equal(t, testPrices().Dates[0], stats.Start)

	shrunk, err := Estimate(testPrices(), true)
	require.NoError(t, err)
	assert.Positive(t, shrunk.Shrinkage)
	assert.Equal(t, stats.Mean, shrunk.Mean)
}

func TestStats_Reorder(t *testing.T) {
	stats, err := Estimate(testPrices(), false)
	require.NoError(t, err)

	out, err := stats.Reorder([]string{"CCC", "AAA", "BBB"})
	require.NoError(t, err)
	assert.Equal(t, stats.Mean[2], out.Mean[0])
	assert.Equal(t, stats.Covariance[2][0], out.Covariance[0][1])
	assert.Equal(t, stats.Covariance[1][1], out.Covariance[2][2])
	assert.Equal(t, stats.Series.Values[0], out.Series.Values[1])

	_, err = stats.Reorder([]string{"ZZZ"})
	assert.Error(t, err)
}
