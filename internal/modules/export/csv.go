// Package export writes allocation results as CSV files and optionally
// uploads them to object storage.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// WeightsCSV writes one "Asset,Weight" row per asset.
func WeightsCSV(w io.Writer, assets []string, weights []float64) error {
	if len(assets) != len(weights) {
		return fmt.Errorf("got %d weights for %d assets", len(weights), len(assets))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Asset", "Weight"}); err != nil {
		return err
	}
	for i, asset := range assets {
		if err := writer.Write([]string{asset, strconv.FormatFloat(weights[i], 'f', -1, 64)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SeriesCSV writes a dated series under a "Date,<column>" header.
func SeriesCSV(w io.Writer, column string, dates []time.Time, values []float64) error {
	if len(dates) != len(values) {
		return fmt.Errorf("got %d values for %d dates", len(values), len(dates))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Date", column}); err != nil {
		return err
	}
	for i, d := range dates {
		if err := writer.Write([]string{d.Format(dateLayout), strconv.FormatFloat(values[i], 'f', -1, 64)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
