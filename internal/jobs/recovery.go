package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/engine"
)

// MissedQuerier finds non-terminal messages stuck past the grace window.
type MissedQuerier interface {
	MessageTransitioner
	Missed(ctx context.Context, olderThan time.Time) ([]domain.Message, error)
}

// RecoveryStats aggregates one recovery run.
type RecoveryStats struct {
	Missed        int `json:"missed"`
	Requeued      int `json:"requeued"`
	LostRace      int `json:"lost_race"`
	PublishErrors int `json:"publish_errors"`
}

// Recovery runs on a long interval and re-drives messages the pipeline lost
// track of: SCHEDULED records a dead enqueue pass never claimed, QUEUED
// records whose broker publish was lost, and RETRYING records waiting for
// another attempt. As long as recovery eventually runs, nothing leaves the
// active pipeline until it reaches SENT or FAILED.
//
// Recovery is safe to race with enqueue and with itself: each claim is the
// same conditional transition, and a duplicate publish is absorbed by the
// sender's QUEUED→SENDING claim.
type Recovery struct {
	runner
	messages  MissedQuerier
	publisher Publisher
	grace     time.Duration
	logger    *slog.Logger

	now func() time.Time
}

func NewRecovery(messages MissedQuerier, publisher Publisher, grace time.Duration, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) *Recovery {
	return &Recovery{
		runner:    newRunner("recovery", locker, lockTTL, logger),
		messages:  messages,
		publisher: publisher,
		grace:     grace,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Recovery) Name() string { return "recovery" }

func (r *Recovery) Health() Health { return r.health() }

func (r *Recovery) Trigger(ctx context.Context) (any, error) {
	return r.Run(ctx)
}

// Run executes one recovery pass.
func (r *Recovery) Run(ctx context.Context) (RecoveryStats, error) {
	release, err := r.guard(ctx)
	if err != nil {
		return RecoveryStats{}, err
	}
	defer release()

	start := r.now()
	stats, err := r.run(ctx, start)
	r.observe(start, err)

	if err != nil {
		r.logger.Error("recovery run failed", "error", err)
		return stats, err
	}

	if stats.Missed > 0 {
		r.logger.Info("recovery run complete",
			"missed", stats.Missed,
			"requeued", stats.Requeued,
			"lost_race", stats.LostRace,
			"publish_errors", stats.PublishErrors,
		)
	}
	return stats, nil
}

func (r *Recovery) run(ctx context.Context, now time.Time) (RecoveryStats, error) {
	var stats RecoveryStats

	missed, err := r.messages.Missed(ctx, now.Add(-r.grace))
	if err != nil {
		return stats, fmt.Errorf("querying missed messages: %w", err)
	}
	stats.Missed = len(missed)

	for _, msg := range missed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Claim from whatever status the missed query saw. If the record
		// moved in the meantime, a racing pass owns it now.
		ok, err := r.messages.TransitionStatus(ctx, msg.ID, msg.Status, domain.StatusQueued)
		if err != nil {
			return stats, fmt.Errorf("requeuing message %s: %w", msg.ID, err)
		}
		if !ok {
			stats.LostRace++
			continue
		}

		job := engine.DispatchJob{
			MessageID:    msg.ID,
			SubscriberID: msg.SubscriberID,
			Kind:         msg.Kind,
			Content:      msg.RenderedContent,
			Attempt:      msg.RetryCount + 1,
		}
		if err := r.publisher.Publish(ctx, job, now); err != nil {
			stats.PublishErrors++
			r.logger.Error("publishing recovered job failed", "message_id", msg.ID, "error", err)
			continue
		}
		stats.Requeued++
	}

	return stats, nil
}
