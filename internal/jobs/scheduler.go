package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunListener observes completed job runs (the websocket hub implements it).
type RunListener interface {
	JobRan(name string, stats any, err error)
}

// Scheduler drives the periodic jobs off a cron runner. Each fire gets its
// own timeout context; a fire that finds the previous run still active is a
// skip, not an error.
type Scheduler struct {
	cron     *cron.Cron
	timeout  time.Duration
	listener RunListener
	logger   *slog.Logger
}

func NewScheduler(timeout time.Duration, listener RunListener, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		timeout:  timeout,
		listener: listener,
		logger:   logger,
	}
}

// AddCron schedules a job on a standard 5-field cron spec.
func (s *Scheduler) AddCron(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, s.fire(job))
	if err != nil {
		return fmt.Errorf("scheduling %s on %q: %w", job.Name(), spec, err)
	}
	s.logger.Info("job scheduled", "job", job.Name(), "cron", spec)
	return nil
}

// AddInterval schedules a job on a fixed interval.
func (s *Scheduler) AddInterval(every time.Duration, job Job) {
	s.cron.Schedule(cron.Every(every), cron.FuncJob(s.fire(job)))
	s.logger.Info("job scheduled", "job", job.Name(), "every", every)
}

func (s *Scheduler) fire(job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		stats, err := job.Trigger(ctx)
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Debug("job fire skipped", "job", job.Name())
			return
		}
		if err != nil {
			s.logger.Error("scheduled job run failed", "job", job.Name(), "error", err)
		}

		if s.listener != nil {
			s.listener.JobRan(job.Name(), stats, err)
		}
	}
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for in-flight fires to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
