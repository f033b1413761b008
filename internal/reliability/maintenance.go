// Package reliability keeps the SQLite databases healthy and backed up.
package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/database"
	"github.com/rs/zerolog"
)

// MaintenanceJob checks database integrity, truncates the WAL and reclaims
// free pages
type MaintenanceJob struct {
	databases []*database.DB
	timeout   time.Duration
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		timeout:   5 * time.Minute,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the maintenance job. A failed integrity check aborts the run;
// checkpoint and vacuum failures are only logged.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	for _, db := range j.databases {
		if err := j.checkIntegrity(ctx, db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("CRITICAL: Integrity check failed")
			return err
		}

		if _, err := db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}

		if _, err := db.Conn().ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Incremental vacuum failed")
		}

		j.logStats(db)
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Int("databases", len(j.databases)).
		Msg("Daily maintenance completed successfully")

	return nil
}

func (j *MaintenanceJob) checkIntegrity(ctx context.Context, db *database.DB) error {
	var result string
	if err := db.Conn().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check on %s: %w", db.Name(), err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check on %s reported: %s", db.Name(), result)
	}
	return nil
}

func (j *MaintenanceJob) logStats(db *database.DB) {
	stats, err := db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		return
	}

	j.log.Info().
		Str("database", db.Name()).
		Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
		Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
		Int64("page_count", stats.PageCount).
		Msg("Database metrics")
}
