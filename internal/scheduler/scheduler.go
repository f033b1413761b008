// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownJob is returned by Trigger for names that were never registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by Trigger while the job is still running.
	ErrJobRunning = errors.New("job is already running")
)

// Parser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as "@daily" or "@every 1h".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobInfo describes a registered job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

type registration struct {
	job      Job
	schedule string
	id       cron.EntryID
	running  chan struct{}
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*registration
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(Parser)),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*registration),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a cron schedule. Runs that would overlap a
// still-running invocation of the same job are skipped.
//   - "0 30 18 * * 1-5" - 18:30:00 on weekdays
//   - "@daily"          - Once a day at midnight
//   - "@every 6h"       - Every six hours
func (s *Scheduler) AddJob(schedule string, job Job) error {
	reg := &registration{
		job:      job,
		schedule: schedule,
		running:  make(chan struct{}, 1),
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if !s.acquire(reg) {
			s.log.Warn().Str("job", job.Name()).Msg("Previous run still in progress, skipping")
			return
		}
		defer s.release(reg)
		s.execute(job)
	})
	if err != nil {
		return err
	}
	reg.id = id

	s.mu.Lock()
	s.jobs[job.Name()] = reg
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// Trigger starts a registered job in the background, sharing the overlap
// guard of its scheduled runs.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	reg, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownJob
	}
	if !s.acquire(reg) {
		return ErrJobRunning
	}

	s.log.Info().Str("job", name).Msg("Job triggered manually")
	go func() {
		defer s.release(reg)
		s.execute(reg.job)
	}()
	return nil
}

// Jobs lists registered jobs by name
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, reg := range s.jobs {
		entry := s.cron.Entry(reg.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: reg.schedule,
			Running:  len(reg.running) > 0,
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) acquire(reg *registration) bool {
	select {
	case reg.running <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) release(reg *registration) {
	<-reg.running
}

func (s *Scheduler) execute(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
}
