package di

import (
	"context"
	"fmt"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	maintenanceSchedule = "0 2 * * *"  // 02:00 daily
	purgeSchedule       = "15 3 * * *" // 03:15 daily
	backupSchedule      = "30 3 * * *" // 03:30 daily, after the purge
)

// RegisterJobs creates the scheduler and registers the background jobs.
// The scheduler is returned stopped.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{Scheduler: scheduler.New(log)}

	jobs.PurgeCache = scheduler.NewPurgeCacheJob(container.StatsCache)
	jobs.PurgeCache.SetLogger(log)
	if err := jobs.Scheduler.AddJob(purgeSchedule, jobs.PurgeCache); err != nil {
		return nil, fmt.Errorf("failed to register purge_cache job: %w", err)
	}

	jobs.Maintenance = reliability.NewMaintenanceJob([]*database.DB{container.RunsDB, container.CacheDB}, log)
	if err := jobs.Scheduler.AddJob(maintenanceSchedule, jobs.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register daily_maintenance job: %w", err)
	}

	if container.Uploader != nil {
		backups := reliability.NewBackupService([]*database.DB{container.RunsDB}, container.Uploader, cfg.Storage.Prefix, log)
		jobs.Backup = reliability.NewBackupJob(backups)
		if err := jobs.Scheduler.AddJob(backupSchedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup_runs job: %w", err)
		}
	}

	if cfg.Schedule != "" {
		pipeline := container.Pipeline
		universeFile := cfg.UniverseFile
		run := func(ctx context.Context) (int, error) {
			report, err := pipeline.RunFile(ctx, universeFile, allocation.Options{
				Source: runs.SourceScheduler,
				Export: true,
			})
			if err != nil {
				return 0, err
			}
			return report.Failed(), nil
		}

		jobs.AllocateUniverse = scheduler.NewAllocateUniverseJob(run, cfg.JobTimeout, container.EventManager)
		jobs.AllocateUniverse.SetLogger(log)
		if err := jobs.Scheduler.AddJob(cfg.Schedule, jobs.AllocateUniverse); err != nil {
			return nil, fmt.Errorf("failed to register allocate_universe job: %w", err)
		}
	}

	log.Info().Int("jobs", len(jobs.Scheduler.Jobs())).Msg("Jobs registered")

	return jobs, nil
}
