package di

import (
	"context"
	"fmt"

	"github.com/aristath/allocator/internal/clients/yahoo"
	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/export"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients, repositories and services on top of
// the container's databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
	container.StatsCache = returns.NewCache(container.CacheDB.Conn(), cfg.CacheTTL, log)

	container.YahooClient = yahoo.NewClient(log)
	if cfg.Storage.Enabled() {
		uploader, err := export.NewS3Uploader(ctx, export.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		container.Uploader = uploader
	}

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = metrics.New()

	optimizer, err := NewOptimizerService(cfg.Optimizer, log)
	if err != nil {
		return err
	}
	container.OptimizerService = optimizer

	container.AllocationService = allocation.NewService(
		optimizer,
		container.RunRepo,
		container.EventManager,
		container.Metrics,
		log,
	)

	container.Pipeline = allocation.NewPipeline(container.AllocationService, allocation.PipelineDeps{
		Yahoo:        container.YahooClient,
		Cache:        container.StatsCache,
		Uploader:     container.Uploader,
		UploadPrefix: cfg.Storage.Prefix,
	}, log)

	log.Info().
		Int("num_trials", cfg.Optimizer.NumTrials).
		Int("workers", cfg.Optimizer.Workers).
		Str("method", cfg.Optimizer.Method).
		Bool("uploads", container.Uploader != nil).
		Msg("Services initialized")

	return nil
}

// NewOptimizerService builds the multi-start optimizer from its configuration
func NewOptimizerService(cfg config.OptimizerConfig, log zerolog.Logger) (*optimization.Service, error) {
	solverCfg := optimization.DefaultSolverConfig()
	solverCfg.Method = cfg.Method
	solverCfg.FallbackMethod = cfg.FallbackMethod
	solverCfg.MaxIterations = cfg.MaxIterations

	solver, err := optimization.NewGonumSolver(solverCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create solver: %w", err)
	}

	mode, err := optimization.ParseStartMode(cfg.StartMode)
	if err != nil {
		return nil, err
	}

	defaults := optimization.DefaultDefaults()
	defaults.NumTrials = cfg.NumTrials
	defaults.Workers = cfg.Workers
	defaults.Seed = cfg.Seed
	defaults.StartMode = mode
	defaults.RiskFreeRate = cfg.RiskFreeRate
	defaults.Lambda = cfg.Lambda
	defaults.TrialTimeout = cfg.TrialTimeout

	return optimization.NewService(optimization.NewMultiStartOptimizer(solver, log), defaults, log), nil
}
