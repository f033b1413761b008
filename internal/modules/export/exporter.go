package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Allocation is one strategy's result to export.
type Allocation struct {
	Universe   string
	Strategy   string
	Assets     []string
	Weights    []float64
	Dates      []time.Time
	Cumulative []float64
}

// Exporter writes allocations into a directory and mirrors them to an
// optional uploader.
type Exporter struct {
	dir      string
	uploader Uploader
	prefix   string
	log      zerolog.Logger
}

// NewExporter creates an exporter writing into dir. uploader may be nil.
func NewExporter(dir string, uploader Uploader, prefix string, log zerolog.Logger) *Exporter {
	return &Exporter{
		dir:      dir,
		uploader: uploader,
		prefix:   prefix,
		log:      log.With().Str("component", "exporter").Logger(),
	}
}

// Export writes <universe>_<strategy>_weights.csv and, when a cumulative
// series is present, <universe>_<strategy>_cumulative.csv. It returns the
// paths written. Upload failures are returned after all files are written.
func (e *Exporter) Export(ctx context.Context, a Allocation, upload bool) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", a.Universe, a.Strategy)
	files := make(map[string]*bytes.Buffer, 2)
	order := make([]string, 0, 2)

	var weights bytes.Buffer
	if err := WeightsCSV(&weights, a.Assets, a.Weights); err != nil {
		return nil, fmt.Errorf("failed to encode weights: %w", err)
	}
	files[base+"_weights.csv"] = &weights
	order = append(order, base+"_weights.csv")

	if len(a.Cumulative) > 0 {
		var series bytes.Buffer
		if err := SeriesCSV(&series, "Cumulative", a.Dates, a.Cumulative); err != nil {
			return nil, fmt.Errorf("failed to encode cumulative returns: %w", err)
		}
		files[base+"_cumulative.csv"] = &series
		order = append(order, base+"_cumulative.csv")
	}

	paths := make([]string, 0, len(order))
	for _, name := range order {
		p := filepath.Join(e.dir, name)
		if err := os.WriteFile(p, files[name].Bytes(), 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", p, err)
		}
		paths = append(paths, p)
	}

	e.log.Info().
		Str("universe", a.Universe).
		Str("strategy", a.Strategy).
		Strs("files", paths).
		Msg("Exported allocation")

	if !upload {
		return paths, nil
	}
	if e.uploader == nil {
		return paths, fmt.Errorf("upload requested but no storage is configured")
	}

	for _, name := range order {
		body := files[name]
		key := path.Join(e.prefix, name)
		if err := e.uploader.Upload(ctx, key, bytes.NewReader(body.Bytes()), int64(body.Len())); err != nil {
			return paths, err
		}
		e.log.Info().Str("key", key).Msg("Uploaded export")
	}
	return paths, nil
}
