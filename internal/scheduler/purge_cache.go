package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purger removes expired cache entries
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// PurgeCacheJob deletes expired return statistics
type PurgeCacheJob struct {
	cache Purger
	log   zerolog.Logger
}

// NewPurgeCacheJob creates a new PurgeCacheJob
func NewPurgeCacheJob(cache Purger) *PurgeCacheJob {
	return &PurgeCacheJob{cache: cache, log: zerolog.Nop()}
}

// SetLogger sets the logger for the job
func (j *PurgeCacheJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *PurgeCacheJob) Name() string {
	return "purge_cache"
}

// Run executes the job
func (j *PurgeCacheJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := j.cache.Purge(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Purged expired cache entries")
	}
	return nil
}
