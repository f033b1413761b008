package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func TestParser(t *testing.T) {
	for _, spec := range []string{"@daily", "@every 6h", "30 18 * * 1-5", "0 30 18 * * 1-5"} {
		_, err := Parser.Parse(spec)
		assert.NoError(t, err, spec)
	}
	_, err := Parser.Parse("every day")
	assert.Error(t, err)
}

func TestScheduler_AddJobRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{block: make(chan struct{})}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	// The first run blocks; the following ticks must not start new runs.
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())
	close(job.block)
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("boom")}
	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_TriggerAndJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{block: make(chan struct{})}
	require.NoError(t, s.AddJob("@daily", job))

	assert.ErrorIs(t, s.Trigger("missing"), ErrUnknownJob)

	require.NoError(t, s.Trigger("counting"))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.Trigger("counting"), ErrJobRunning)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "counting", jobs[0].Name)
	assert.Equal(t, "@daily", jobs[0].Schedule)
	assert.True(t, jobs[0].Running)

	close(job.block)
	assert.Eventually(t, func() bool { return !s.Jobs()[0].Running }, time.Second, 10*time.Millisecond)
}

func TestAllocateUniverseJob(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	var sawDeadline bool
	job := NewAllocateUniverseJob(func(ctx context.Context) (int, error) {
		_, sawDeadline = ctx.Deadline()
		return 0, nil
	}, time.Minute, events.NewManager(bus, zerolog.Nop()))
	job.SetLogger(zerolog.Nop())

	require.NoError(t, job.Run())
	assert.True(t, sawDeadline)
	assert.Equal(t, "allocate_universe", job.Name())
	assert.Equal(t, events.JobStarted, (<-ch).Type)
	assert.Equal(t, events.JobCompleted, (<-ch).Type)
}

func TestAllocateUniverseJob_Failures(t *testing.T) {
	job := NewAllocateUniverseJob(func(ctx context.Context) (int, error) {
		return 2, nil
	}, 0, nil)
	assert.EqualError(t, job.Run(), "2 strategies failed")

	job = NewAllocateUniverseJob(func(ctx context.Context) (int, error) {
		return 0, errors.New("prices unavailable")
	}, 0, nil)
	assert.EqualError(t, job.Run(), "prices unavailable")
}

type fakePurger struct {
	removed int64
	err     error
}

func (f *fakePurger) Purge(ctx context.Context) (int64, error) {
	return f.removed, f.err
}

func TestPurgeCacheJob(t *testing.T) {
	job := NewPurgeCacheJob(&fakePurger{removed: 3})
	assert.Equal(t, "purge_cache", job.Name())
	assert.NoError(t, job.Run())

	job = NewPurgeCacheJob(&fakePurger{err: errors.New("locked")})
	assert.Error(t, job.Run())
}
