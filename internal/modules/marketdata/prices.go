// Package marketdata loads adjusted close prices onto a shared date axis.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar date format used in CSV files and logs.
const DateLayout = "2006-01-02"

// ErrNoData is returned when a source has no prices for a ticker in the window.
var ErrNoData = errors.New("no price data")

// PriceSource provides daily adjusted closes for a set of tickers.
// Implementations return prices for dates in [start, end).
type PriceSource interface {
	Prices(ctx context.Context, tickers []string, start, end time.Time) (*PriceTable, error)
}

// Point is a single dated observation.
type Point struct {
	Date  time.Time
	Value float64
}

// PriceTable holds prices on a shared ascending date axis.
// Close[j][i] is the price of Tickers[j] on Dates[i]; missing values are NaN.
type PriceTable struct {
	Tickers []string
	Dates   []time.Time
	Close   [][]float64
}

// Len returns the number of dates.
func (t *PriceTable) Len() int {
	return len(t.Dates)
}

// Column returns the series for ticker.
func (t *PriceTable) Column(ticker string) ([]float64, bool) {
	for j, name := range t.Tickers {
		if name == ticker {
			return t.Close[j], true
		}
	}
	return nil, false
}

// Select returns a table with only the named tickers, in the given order.
func (t *PriceTable) Select(tickers []string) (*PriceTable, error) {
	out := &PriceTable{
		Tickers: append([]string(nil), tickers...),
		Dates:   t.Dates,
		Close:   make([][]float64, len(tickers)),
	}
	for j, ticker := range tickers {
		col, ok := t.Column(ticker)
		if !ok {
			return nil, fmt.Errorf("%w for %s", ErrNoData, ticker)
		}
		out.Close[j] = col
	}
	return out, nil
}

// Window returns the rows with start <= date < end. A zero end is unbounded.
func (t *PriceTable) Window(start, end time.Time) *PriceTable {
	lo := sort.Search(len(t.Dates), func(i int) bool { return !t.Dates[i].Before(start) })
	hi := len(t.Dates)
	if !end.IsZero() {
		hi = sort.Search(len(t.Dates), func(i int) bool { return !t.Dates[i].Before(end) })
	}
	if hi < lo {
		hi = lo
	}

	out := &PriceTable{
		Tickers: t.Tickers,
		Dates:   t.Dates[lo:hi],
		Close:   make([][]float64, len(t.Close)),
	}
	for j, col := range t.Close {
		out.Close[j] = col[lo:hi]
	}
	return out
}

// Validate checks the table is rectangular, dated in ascending order and
// free of missing or non-positive prices.
func (t *PriceTable) Validate() error {
	if len(t.Tickers) == 0 {
		return fmt.Errorf("price table has no tickers")
	}
	if len(t.Close) != len(t.Tickers) {
		return fmt.Errorf("price table has %d columns for %d tickers", len(t.Close), len(t.Tickers))
	}
	for i := 1; i < len(t.Dates); i++ {
		if !t.Dates[i].After(t.Dates[i-1]) {
			return fmt.Errorf("dates not strictly ascending at %s", t.Dates[i].Format(DateLayout))
		}
	}
	for j, col := range t.Close {
		if len(col) != len(t.Dates) {
			return fmt.Errorf("column %s has %d rows, want %d", t.Tickers[j], len(col), len(t.Dates))
		}
		for i, p := range col {
			if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
				return fmt.Errorf("invalid price %v for %s on %s", p, t.Tickers[j], t.Dates[i].Format(DateLayout))
			}
		}
	}
	return nil
}

// Align places each ticker's observations on the union of all dates.
// Dates a ticker has no observation for are NaN.
func Align(tickers []string, series map[string][]Point) *PriceTable {
	dateSet := make(map[time.Time]struct{})
	for _, ticker := range tickers {
		for _, p := range series[ticker] {
			dateSet[normalizeDate(p.Date)] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	table := &PriceTable{
		Tickers: append([]string(nil), tickers...),
		Dates:   dates,
		Close:   make([][]float64, len(tickers)),
	}
	for j, ticker := range tickers {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		for _, p := range series[ticker] {
			col[index[normalizeDate(p.Date)]] = p.Value
		}
		table.Close[j] = col
	}
	return table
}

// FillMissing forward-fills gaps, then back-fills leading gaps, in place.
// It returns the number of missing values found and the number filled;
// a column with no observations at all stays NaN.
func FillMissing(t *PriceTable) (missing, filled int) {
	for _, col := range t.Close {
		var last float64
		hasLast := false
		for i := range col {
			if math.IsNaN(col[i]) {
				missing++
				if hasLast {
					col[i] = last
					filled++
				}
				continue
			}
			last = col[i]
			hasLast = true
		}

		var next float64
		hasNext := false
		for i := len(col) - 1; i >= 0; i-- {
			if math.IsNaN(col[i]) {
				if hasNext {
					col[i] = next
					filled++
				}
				continue
			}
			next = col[i]
			hasNext = true
		}
	}
	return missing, filled
}

// normalizeDate drops the time of day, keeping the calendar date in the
// observation's own location.
func normalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
