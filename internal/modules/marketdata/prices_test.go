package marketdata

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAlign_UnionOfDates(t *testing.T) {
	table := Align([]string{"AAA", "BBB"}, map[string][]Point{
		"AAA": {{Date: day("2023-01-02"), Value: 10}, {Date: day("2023-01-04"), Value: 11}},
		"BBB": {{Date: day("2023-01-03"), Value: 20}, {Date: day("2023-01-04"), Value: 21}},
	})

	require.Equal(t, 3, table.Len())
	assert.Equal(t, day("2023-01-02"), table.Dates[0])
	assert.Equal(t, day("2023-01-04"), table.Dates[2])

	aaa, ok := table.Column("AAA")
	require.True(t, ok)
	assert.Equal(t, 10.0, aaa[0])
	assert.True(t, math.IsNaN(aaa[1]))

	bbb, _ := table.Column("BBB")
	assert.True(t, math.IsNaN(bbb[0]))
}

func TestAlign_DropsTimeOfDay(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	table := Align([]string{"AAA", "BBB"}, map[string][]Point{
		"AAA": {{Date: time.Date(2023, 1, 2, 0, 0, 0, 0, ny), Value: 1}},
		"BBB": {{Date: time.Date(2023, 1, 2, 16, 0, 0, 0, ny), Value: 2}},
	})
	assert.Equal(t, 1, table.Len())
}

func TestFillMissing(t *testing.T) {
	nan := math.NaN()
	table := &PriceTable{
		Tickers: []string{"AAA", "BBB", "CCC"},
		Dates:   []time.Time{day("2023-01-02"), day("2023-01-03"), day("2023-01-04"), day("2023-01-05")},
		Close: [][]float64{
			{nan, 2, nan, 4},
			{1, nan, nan, 3},
			{nan, nan, nan, nan},
		},
	}

	missing, filled := FillMissing(table)
	assert.Equal(t, 8, missing)
	assert.Equal(t, 4, filled)
	assert.Equal(t, []float64{2, 2, 2, 4}, table.Close[0])
	assert.Equal(t, []float64{1, 1, 1, 3}, table.Close[1])
	assert.True(t, math.IsNaN(table.Close[2][0]))
	assert.Error(t, table.Validate())
}

func TestPriceTable_Window(t *testing.T) {
	table := &PriceTable{
		Tickers: []string{"AAA"},
		Dates:   []time.Time{day("2023-01-02"), day("2023-01-03"), day("2023-01-04")},
		Close:   [][]float64{{1, 2, 3}},
	}

	w := table.Window(day("2023-01-03"), day("2023-01-04"))
	require.Equal(t, 1, w.Len())
	assert.Equal(t, []float64{2}, w.Close[0])

	assert.Equal(t, 2, table.Window(day("2023-01-03"), time.Time{}).Len())
	assert.Equal(t, 0, table.Window(day("2024-01-01"), day("2023-01-01")).Len())
}

func TestPriceTable_SelectUnknownTicker(t *testing.T) {
	table := &PriceTable{Tickers: []string{"AAA"}, Close: [][]float64{{}}}
	_, err := table.Select([]string{"ZZZ"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPriceTable_Validate(t *testing.T) {
	table := &PriceTable{
		Tickers: []string{"AAA"},
		Dates:   []time.Time{day("2023-01-02"), day("2023-01-03")},
		Close:   [][]float64{{1, 2}},
	}
	require.NoError(t, table.Validate())

	table.Close[0][1] = 0
	assert.Error(t, table.Validate())

	table.Close[0][1] = 2
	table.Dates[1] = table.Dates[0]
	assert.Error(t, table.Validate())
}
