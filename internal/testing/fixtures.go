package testing

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// FixtureTickers are the columns written by WritePriceCSV
var FixtureTickers = []string{"XLK", "XLU", "GDX", "FXI"}

// FixtureStart is the first date in the price fixture
var FixtureStart = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// DiagonalCovariance is a three-asset covariance with uncorrelated assets.
// Its minimum variance portfolio is approximately [0.1837, 0.7347, 0.0816].
func DiagonalCovariance() [][]float64 {
	return [][]float64{
		{0.04, 0, 0},
		{0, 0.01, 0},
		{0, 0, 0.09},
	}
}

// WritePriceCSV writes days rows of deterministic closing prices for
// FixtureTickers to dir/prices.csv and returns the path. The series have
// distinct volatilities and imperfect correlations.
func WritePriceCSV(t *testing.T, dir string, days int) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("Date," + strings.Join(FixtureTickers, ",") + "\n")
	prices := []float64{100, 60, 30, 40}
	vols := []float64{0.012, 0.006, 0.025, 0.018}
	day := FixtureStart
	for i := 0; i < days; i++ {
		b.WriteString(day.Format("2006-01-02"))
		for j := range prices {
			if i > 0 {
				shock := math.Sin(float64(i*(j+2))*0.7+float64(j)) + 0.5*math.Cos(float64(i)*1.3)
				prices[j] *= 1 + 0.0003*float64(j+1) + vols[j]*shock
			}
			fmt.Fprintf(&b, ",%.6f", prices[j])
		}
		b.WriteString("\n")
		day = day.AddDate(0, 0, 1)
	}

	path := filepath.Join(dir, "prices.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("Failed to write price fixture: %v", err)
	}
	return path
}

// WriteUniverse writes a CSV-backed universe file over the price fixture and
// returns its path. extra is appended verbatim to the YAML document.
func WriteUniverse(t *testing.T, dir string, extra string) string {
	t.Helper()

	prices := WritePriceCSV(t, dir, 80)
	doc := fmt.Sprintf(`name: test
tickers: [%s]
start: "2023-01-01"
end: "2023-04-01"
source: csv
csv_path: %s
num_trials: 6
seed: 3
export:
  dir: %s
%s`, strings.Join(FixtureTickers, ", "), prices, filepath.Join(dir, "exports"), extra)

	path := filepath.Join(dir, "universe.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write universe fixture: %v", err)
	}
	return path
}
