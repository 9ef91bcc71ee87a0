// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the recurring jobs under a mutual-exclusion
// discipline: at most one execution per job, a whole-tick mutex, and skip
// rules that keep maintenance work out of the way of RSS scans.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/models"
)

// JobName identifies a registered job.
type JobName string

const (
	JobRSS               JobName = "RSS"
	JobSearch            JobName = "SEARCH"
	JobUpdateIndexerCaps JobName = "UPDATE_INDEXER_CAPS"
	JobInject            JobName = "INJECT"
	JobCleanup           JobName = "CLEANUP"
	JobCollisionRecheck  JobName = "COLLISION_RECHECK"
)

// FatalError marks an error class that must terminate the process instead of
// being swallowed by the job loop.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Executor runs one job pass. The override map carries per-run config set by
// the operator or another job; it is cleared after the run regardless of
// outcome.
type Executor func(ctx context.Context, configOverride map[string]string) error

// Job is one registered recurring task.
type Job struct {
	Name      JobName
	Cadence   time.Duration
	Exec      Executor
	ShouldRun func() bool

	mu                 sync.Mutex
	isActive           bool
	runAheadOfSchedule bool
	delayNextRun       bool
	configOverride     map[string]string
	lastRun            time.Time
	lastRunLoaded      bool
}

func (j *Job) active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isActive
}

// Scheduler drives the registered jobs from a ticker loop.
type Scheduler struct {
	checkMu sync.Mutex // serializes whole ticks

	jobsMu sync.Mutex
	jobs   []*Job

	jobLog *models.JobLogStore

	tickInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// fatalExit is swappable for tests; defaults to log.Fatal-driven exit.
	fatalExit func(err error)
}

func New(jobLog *models.JobLogStore) *Scheduler {
	return &Scheduler{
		jobLog:       jobLog,
		tickInterval: time.Minute,
		stopCh:       make(chan struct{}),
		fatalExit: func(err error) {
			log.Fatal().Err(err).Msg("Fatal cross-seed error, exiting")
		},
	}
}

// Register adds a job. Zero cadence disables it entirely.
func (s *Scheduler) Register(job *Job) {
	if job == nil || job.Cadence <= 0 {
		return
	}
	if job.ShouldRun == nil {
		job.ShouldRun = func() bool { return true }
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs = append(s.jobs, job)

	log.Debug().Str("job", string(job.Name)).Dur("cadence", job.Cadence).Msg("Registered job")
}

func (s *Scheduler) job(name JobName) *Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

func (s *Scheduler) snapshot() []*Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

// RunAheadOfSchedule flags a job to run on the next tick regardless of
// cadence. Returns false for unknown jobs.
func (s *Scheduler) RunAheadOfSchedule(name JobName, configOverride map[string]string) bool {
	job := s.job(name)
	if job == nil {
		return false
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	job.runAheadOfSchedule = true
	if configOverride != nil {
		job.configOverride = configOverride
	}
	return true
}

// DelayNextRun pushes a job's next eligible run one full cadence into the
// future (persisted as last_run = now + cadence once).
func (s *Scheduler) DelayNextRun(name JobName) bool {
	job := s.job(name)
	if job == nil {
		return false
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	job.delayNextRun = true
	return true
}

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		// Immediate first tick so ahead-of-schedule work isn't delayed by a
		// full interval at startup.
		s.CheckJobs(ctx)

		for {
			select {
			case <-ticker.C:
				s.CheckJobs(ctx)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit. In-flight jobs are not
// cancelled; they finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// CheckJobs performs one scheduling tick. Serialized: overlapping ticks queue
// behind the mutex.
func (s *Scheduler) CheckJobs(ctx context.Context) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	jobs := s.snapshot()

	// An active RSS scan freezes the whole tick.
	for _, job := range jobs {
		if job.Name == JobRSS && job.active() {
			log.Debug().Msg("RSS scan active, skipping scheduler tick")
			return
		}
	}

	anyActive := false
	for _, job := range jobs {
		if job.active() {
			anyActive = true
			break
		}
	}

	now := time.Now().UTC()

	for _, job := range jobs {
		if !job.ShouldRun() {
			continue
		}

		// Maintenance defers to anything else that's running.
		if (job.Name == JobCleanup || job.Name == JobCollisionRecheck) && anyActive {
			continue
		}

		if !s.claim(ctx, job, now) {
			continue
		}

		s.wg.Add(1)
		go s.run(ctx, job)
	}
}

// claim checks eligibility and marks the job active. Must only be called
// under checkMu so two ticks can't double-claim.
func (s *Scheduler) claim(ctx context.Context, job *Job, now time.Time) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.isActive {
		return false
	}

	if !job.lastRunLoaded {
		lastRun, err := s.jobLog.LastRun(ctx, string(job.Name))
		if err != nil {
			log.Error().Err(err).Str("job", string(job.Name)).Msg("Failed to load job log")
			return false
		}
		job.lastRun = lastRun
		job.lastRunLoaded = true
	}

	if !job.runAheadOfSchedule && now.Before(job.lastRun.Add(job.Cadence)) {
		return false
	}

	job.isActive = true
	return true
}

func (s *Scheduler) run(ctx context.Context, job *Job) {
	defer s.wg.Done()

	job.mu.Lock()
	override := job.configOverride
	job.mu.Unlock()

	started := time.Now().UTC()
	log.Info().Str("job", string(job.Name)).Msg("Job started")

	err := job.Exec(ctx, override)

	job.mu.Lock()
	job.isActive = false
	job.runAheadOfSchedule = false
	job.configOverride = nil
	delayed := job.delayNextRun
	job.delayNextRun = false
	job.mu.Unlock()

	if err != nil {
		if IsFatal(err) {
			s.fatalExit(err)
			return
		}
		log.Error().Err(err).Str("job", string(job.Name)).Msg("Job failed")
		return
	}

	lastRun := started
	if delayed {
		lastRun = started.Add(job.Cadence)
	}

	if err := s.jobLog.SetLastRun(ctx, string(job.Name), lastRun); err != nil {
		log.Error().Err(err).Str("job", string(job.Name)).Msg("Failed to persist job log")
	}

	job.mu.Lock()
	job.lastRun = lastRun
	job.mu.Unlock()

	log.Info().
		Str("job", string(job.Name)).
		Dur("took", time.Since(started)).
		Time("nextRun", lastRun.Add(job.Cadence)).
		Msg("Job finished")
}
