package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CSVSource reads a wide price file: a "Date" column followed by one column
// per ticker. Empty cells are treated as missing and filled.
type CSVSource struct {
	path string
	log  zerolog.Logger
}

// NewCSVSource creates a source backed by the file at path.
func NewCSVSource(path string, log zerolog.Logger) *CSVSource {
	return &CSVSource{
		path: path,
		log:  log.With().Str("source", "csv").Str("path", path).Logger(),
	}
}

// Prices implements PriceSource.
func (s *CSVSource) Prices(ctx context.Context, tickers []string, start, end time.Time) (*PriceTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	all, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	table, err := all.Select(tickers)
	if err != nil {
		return nil, err
	}
	table = table.Window(start, end)
	if table.Len() == 0 {
		return nil, fmt.Errorf("%w between %s and %s", ErrNoData, start.Format(DateLayout), end.Format(DateLayout))
	}

	if missing, filled := FillMissing(table); missing > 0 {
		s.log.Warn().
			Int("missing_data_points", missing).
			Int("filled_data_points", filled).
			Msg("Filled missing price data")
	}

	s.log.Debug().
		Int("tickers", len(tickers)).
		Int("dates", table.Len()).
		Msg("Loaded prices")
	return table, nil
}

// ReadCSV parses a wide price file. Dates may carry a time and zone suffix
// ("2018-08-10 00:00:00-04:00"); only the calendar date is kept.
func ReadCSV(r io.Reader) (*PriceTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one ticker")
	}

	tickers := make([]string, len(header)-1)
	for j, name := range header[1:] {
		tickers[j] = strings.TrimSpace(name)
	}

	table := &PriceTable{
		Tickers: tickers,
		Close:   make([][]float64, len(tickers)),
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := parseDate(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(table.Dates); n > 0 && !date.After(table.Dates[n-1]) {
			return nil, fmt.Errorf("line %d: date %s is not after %s", line, date.Format(DateLayout), table.Dates[n-1].Format(DateLayout))
		}
		table.Dates = append(table.Dates, date)

		for j, cell := range record[1:] {
			value := math.NaN()
			if cell = strings.TrimSpace(cell); cell != "" {
				value, err = strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d, column %s: %w", line, tickers[j], err)
				}
			}
			table.Close[j] = append(table.Close[j], value)
		}
	}

	return table, nil
}

// WriteCSV writes t in the format ReadCSV accepts.
func WriteCSV(w io.Writer, t *PriceTable) error {
	writer := csv.NewWriter(w)

	header := append([]string{"Date"}, t.Tickers...)
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, date := range t.Dates {
		row[0] = date.Format(DateLayout)
		for j, col := range t.Close {
			if math.IsNaN(col[i]) {
				row[j+1] = ""
				continue
			}
			row[j+1] = strconv.FormatFloat(col[i], 'f', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) > len(DateLayout) {
		value = value[:len(DateLayout)]
	}
	date, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return date, nil
}
