package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/events"
	"github.com/rs/zerolog"
)

// UniverseRunFunc runs the configured universe and returns how many
// strategies failed.
type UniverseRunFunc func(ctx context.Context) (failed int, err error)

// AllocateUniverseJob re-optimizes the universe file on a schedule
type AllocateUniverseJob struct {
	run     UniverseRunFunc
	timeout time.Duration
	events  *events.Manager
	log     zerolog.Logger
}

// NewAllocateUniverseJob creates a job that calls run with a deadline of
// timeout (none when zero). eventManager may be nil.
func NewAllocateUniverseJob(run UniverseRunFunc, timeout time.Duration, eventManager *events.Manager) *AllocateUniverseJob {
	return &AllocateUniverseJob{
		run:     run,
		timeout: timeout,
		events:  eventManager,
		log:     zerolog.Nop(),
	}
}

// SetLogger sets the logger for the job
func (j *AllocateUniverseJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *AllocateUniverseJob) Name() string {
	return "allocate_universe"
}

// Run executes the job
func (j *AllocateUniverseJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	j.emit(&events.JobStatusData{JobType: j.Name(), Status: "started", Timestamp: start})

	failed, err := j.run(ctx)
	if err == nil && failed > 0 {
		err = fmt.Errorf("%d strategies failed", failed)
	}

	duration := time.Since(start)
	if err != nil {
		j.emit(&events.JobStatusData{
			JobType:   j.Name(),
			Status:    "failed",
			Error:     err.Error(),
			Duration:  duration.Seconds(),
			Timestamp: time.Now(),
		})
		return err
	}

	j.emit(&events.JobStatusData{
		JobType:   j.Name(),
		Status:    "completed",
		Duration:  duration.Seconds(),
		Timestamp: time.Now(),
	})
	j.log.Info().Dur("duration", duration).Msg("Universe re-optimized")
	return nil
}

func (j *AllocateUniverseJob) emit(data events.EventData) {
	if j.events != nil {
		j.events.EmitTyped("scheduler", data)
	}
}
