package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrRunInProgress is returned when a job is triggered while another run of
// the same job is still active, in this process or (when a locker is
// configured) on another replica.
var ErrRunInProgress = errors.New("job run already in progress")

// Job is the common surface the scheduler and the operational API see: a
// manual trigger returning the run's stats, and a health snapshot.
type Job interface {
	Name() string
	Trigger(ctx context.Context) (any, error)
	Health() Health
}

// Health is a per-job health snapshot for the health-check subsystem.
type Health struct {
	Name         string     `json:"name"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	RunCount     int64      `json:"run_count"`
	ErrorCount   int64      `json:"error_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// runner gives each job single-flight execution and health accounting.
// The in-process mutex prevents overlapping runs of the same job; the
// optional Redis lock extends that guarantee across replicas. If Redis is
// unavailable the run proceeds without the distributed lock — every record
// transition is conditional, so a duplicate run is wasteful, not incorrect.
type runner struct {
	name    string
	locker  *redislock.Client
	lockTTL time.Duration
	logger  *slog.Logger

	running sync.Mutex

	mu           sync.Mutex
	lastRun      time.Time
	lastDuration time.Duration
	runCount     int64
	errorCount   int64
	lastError    string
}

func newRunner(name string, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) runner {
	return runner{name: name, locker: locker, lockTTL: lockTTL, logger: logger}
}

// guard acquires the single-flight locks. The returned release func must be
// called when the run finishes.
func (r *runner) guard(ctx context.Context) (func(), error) {
	if !r.running.TryLock() {
		return nil, fmt.Errorf("%s: %w", r.name, ErrRunInProgress)
	}

	var lock *redislock.Lock
	if r.locker != nil {
		var err error
		lock, err = r.locker.Obtain(ctx, "job:"+r.name, r.lockTTL, nil)
		if err == redislock.ErrNotObtained {
			r.running.Unlock()
			return nil, fmt.Errorf("%s (held by another instance): %w", r.name, ErrRunInProgress)
		}
		if err != nil {
			// Lock service down — proceed unlocked rather than stall the pipeline.
			r.logger.Warn("job lock unavailable, proceeding without it", "job", r.name, "error", err)
			lock = nil
		}
	}

	return func() {
		if lock != nil {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("job lock release failed", "job", r.name, "error", err)
			}
		}
		r.running.Unlock()
	}, nil
}

// observe records the outcome of a run.
func (r *runner) observe(start time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastRun = start
	r.lastDuration = time.Since(start)
	r.runCount++
	if err != nil {
		r.errorCount++
		r.lastError = err.Error()
	}
}

func (r *runner) health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := Health{
		Name:       r.name,
		RunCount:   r.runCount,
		ErrorCount: r.errorCount,
		LastError:  r.lastError,
	}
	if !r.lastRun.IsZero() {
		lastRun := r.lastRun
		h.LastRun = &lastRun
		h.LastDuration = r.lastDuration.String()
	}
	return h
}
