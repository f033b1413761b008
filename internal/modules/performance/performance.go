// Package performance evaluates a weight vector against a return history.
package performance

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/allocator/internal/modules/returns"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TradingDays is the number of periods per year used for annualization.
const TradingDays = 252

// Report summarizes a portfolio's historical performance.
type Report struct {
	AnnualizedReturn float64     `json:"annualized_return"`
	StdDev           float64     `json:"std_dev"` // periodic, not annualized
	Sharpe           float64     `json:"sharpe"`
	Observations     int         `json:"observations"`
	Dates            []time.Time `json:"-"`
	Cumulative       []float64   `json:"-"`
}

// PortfolioReturns returns the weighted sum of asset returns per period.
func PortfolioReturns(s *returns.Series, weights []float64) ([]float64, error) {
	if len(weights) != len(s.Values) {
		return nil, fmt.Errorf("got %d weights for %d assets", len(weights), len(s.Values))
	}

	out := make([]float64, s.Len())
	for j, col := range s.Values {
		floats.AddScaled(out, weights[j], col)
	}
	return out, nil
}

// Cumulative compounds periodic returns into a growth-of-one series.
func Cumulative(r []float64) []float64 {
	out := make([]float64, len(r))
	copy(out, r)
	floats.AddConst(1, out)
	return floats.CumProd(out, out)
}

// Evaluate computes the annualized return (1+mean)^252-1, the periodic
// standard deviation and the Sharpe ratio (annRet-rf)/(std*sqrt(252)).
// The Sharpe ratio is zero when the standard deviation is zero.
func Evaluate(s *returns.Series, weights []float64, riskFreeRate float64) (*Report, error) {
	r, err := PortfolioReturns(s, weights)
	if err != nil {
		return nil, err
	}
	if len(r) < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 returns, got %d", len(r))
	}

	mean, std := stat.MeanStdDev(r, nil)
	annual := math.Pow(1+mean, TradingDays) - 1

	var sharpe float64
	if std > 0 {
		sharpe = (annual - riskFreeRate) / (std * math.Sqrt(TradingDays))
	}

	return &Report{
		AnnualizedReturn: annual,
		StdDev:           std,
		Sharpe:           sharpe,
		Observations:     len(r),
		Dates:            s.Dates,
		Cumulative:       Cumulative(r),
	}, nil
}
