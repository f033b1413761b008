package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/export"
	"github.com/aristath/allocator/internal/modules/marketdata"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/performance"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/rs/zerolog"
)

// Options control a pipeline run.
type Options struct {
	// Source is recorded with each run ("cli", "scheduler", ...).
	Source string
	// Export writes weight and cumulative return CSVs per strategy.
	Export bool
}

// Outcome is one strategy's result within a universe run.
type Outcome struct {
	Strategy    string
	Allocation  *Allocation
	Performance *performance.Report
	Files       []string
	Err         error
}

// Report is the result of running a universe.
type Report struct {
	Universe     string
	Tickers      []string
	Start        time.Time
	End          time.Time
	Observations int
	Shrinkage    float64
	Outcomes     []Outcome
}

// Failed returns how many strategies produced no allocation.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Allocation == nil {
			n++
		}
	}
	return n
}

// Pipeline drives a universe from prices to exported allocations.
type Pipeline struct {
	service  *Service
	yahoo    marketdata.PriceSource
	cache    *returns.Cache
	uploader export.Uploader
	prefix   string
	log      zerolog.Logger
}

// PipelineDeps are the optional collaborators of a pipeline.
type PipelineDeps struct {
	// Yahoo serves universes with source "yahoo".
	Yahoo marketdata.PriceSource
	// Cache memoizes estimated statistics; nil disables caching.
	Cache *returns.Cache
	// Uploader mirrors exports when the universe asks for uploads.
	Uploader     export.Uploader
	UploadPrefix string
}

// NewPipeline creates a pipeline on top of service.
func NewPipeline(service *Service, deps PipelineDeps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		service:  service,
		yahoo:    deps.Yahoo,
		cache:    deps.Cache,
		uploader: deps.Uploader,
		prefix:   deps.UploadPrefix,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// RunFile loads the universe at path and runs it.
func (p *Pipeline) RunFile(ctx context.Context, path string, opts Options) (*Report, error) {
	u, err := config.LoadUniverse(path)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, u, opts)
}

// Run estimates return statistics for u and optimizes every configured
// strategy. Data errors fail the run; a failing strategy is reported in its
// Outcome and does not stop the others.
func (p *Pipeline) Run(ctx context.Context, u *config.Universe, opts Options) (*Report, error) {
	start, end, err := u.Window()
	if err != nil {
		return nil, err
	}

	stats, err := p.loadStats(ctx, u, start, end)
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("universe", u.Name).
		Int("tickers", len(u.Tickers)).
		Int("observations", stats.Observations).
		Float64("shrinkage", stats.Shrinkage).
		Msg("Estimated return statistics")

	report := &Report{
		Universe:     u.Name,
		Tickers:      stats.Tickers,
		Start:        stats.Start,
		End:          stats.End,
		Observations: stats.Observations,
		Shrinkage:    stats.Shrinkage,
	}

	var exporter *export.Exporter
	if opts.Export {
		exporter = export.NewExporter(u.Export.Dir, p.uploader, p.prefix, p.log)
	}

	for _, strategy := range u.Strategies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome := p.runStrategy(ctx, u, stats, strategy, opts, exporter)
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

func (p *Pipeline) runStrategy(ctx context.Context, u *config.Universe, stats *returns.Stats, strategy string, opts Options, exporter *export.Exporter) Outcome {
	outcome := Outcome{Strategy: strategy}

	req, err := p.request(u, stats, strategy)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	alloc, err := p.service.Allocate(ctx, opts.Source, req)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Strategy = alloc.Strategy
	outcome.Allocation = alloc

	if stats.Series != nil {
		perf, err := performance.Evaluate(stats.Series, alloc.Weights, alloc.RiskFreeRate)
		if err != nil {
			p.log.Warn().Err(err).Str("strategy", alloc.Strategy).Msg("Failed to evaluate performance")
		} else {
			outcome.Performance = perf
		}
	}

	if exporter != nil {
		a := export.Allocation{
			Universe: u.Name,
			Strategy: alloc.Strategy,
			Assets:   stats.Tickers,
			Weights:  alloc.Weights,
		}
		if outcome.Performance != nil {
			a.Dates = outcome.Performance.Dates
			a.Cumulative = outcome.Performance.Cumulative
		}
		files, err := exporter.Export(ctx, a, u.Export.Upload)
		outcome.Files = files
		if err != nil {
			p.log.Error().Err(err).Str("strategy", alloc.Strategy).Msg("Export failed")
			outcome.Err = fmt.Errorf("export: %w", err)
		}
	}
	return outcome
}

// request maps the universe settings onto an engine request. Weight limits
// in the universe override the strategy's preset bounds.
func (p *Pipeline) request(u *config.Universe, stats *returns.Stats, strategy string) (optimization.RunRequest, error) {
	objective, err := optimization.StrategyFor(strategy, 0, 0)
	if err != nil {
		return optimization.RunRequest{}, err
	}

	req := optimization.RunRequest{
		Assets:       stats.Tickers,
		Covariance:   stats.Covariance,
		Strategy:     objective.Name(),
		NumTrials:    u.NumTrials,
		RiskFreeRate: u.RiskFreeRate,
		Lambda:       u.Lambda,
		StartMode:    optimization.StartMode(u.StartMode),
	}
	if objective.NeedsReturns() {
		req.ExpectedReturns = stats.Mean
	}
	if u.Seed != 0 {
		seed := u.Seed
		req.Seed = &seed
	}
	if u.MinWeight != nil || u.MaxWeight != nil {
		n := len(stats.Tickers)
		preset := optimization.DefaultBounds(objective.Name(), n)[0]
		lo, hi := preset.Lower, preset.Upper
		if u.MinWeight != nil {
			lo = *u.MinWeight
		}
		if u.MaxWeight != nil {
			hi = *u.MaxWeight
		}
		req.Bounds = optimization.UniformBounds(n, lo, hi)
	}
	return req, nil
}

func (p *Pipeline) loadStats(ctx context.Context, u *config.Universe, start, end time.Time) (*returns.Stats, error) {
	source, sourceKey, err := p.source(u)
	if err != nil {
		return nil, err
	}

	load := func(ctx context.Context) (*returns.Stats, error) {
		prices, err := source.Prices(ctx, u.Tickers, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices: %w", err)
		}
		return returns.Estimate(prices, u.Shrinkage)
	}

	if p.cache == nil {
		return load(ctx)
	}
	key := returns.Key(sourceKey, u.Tickers, start, end, u.Shrinkage)
	return p.cache.GetOrLoad(ctx, key, u.Tickers, load)
}

func (p *Pipeline) source(u *config.Universe) (marketdata.PriceSource, string, error) {
	switch u.Source {
	case "csv":
		return marketdata.NewCSVSource(u.CSVPath, p.log), "csv:" + u.CSVPath, nil
	case "", "yahoo":
		if p.yahoo == nil {
			return nil, "", fmt.Errorf("yahoo price source is not configured")
		}
		return p.yahoo, "yahoo", nil
	default:
		return nil, "", fmt.Errorf("unknown price source %q", u.Source)
	}
}
