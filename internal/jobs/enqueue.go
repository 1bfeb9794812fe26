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

// MessageTransitioner is the conditional-transition half of the message
// store contract.
type MessageTransitioner interface {
	TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
}

// DueQuerier finds SCHEDULED messages inside the dispatch window.
type DueQuerier interface {
	MessageTransitioner
	DueForDispatch(ctx context.Context, from, to time.Time) ([]domain.Message, error)
}

// Publisher hands dispatch jobs to the broker.
type Publisher interface {
	Publish(ctx context.Context, job engine.DispatchJob, readyAt time.Time) error
}

// EnqueueStats aggregates one enqueue run.
type EnqueueStats struct {
	Due           int `json:"due"`
	Enqueued      int `json:"enqueued"`
	LostRace      int `json:"lost_race"`
	PublishErrors int `json:"publish_errors"`
}

// Enqueue runs on a short interval. It claims SCHEDULED messages due within
// the lookahead window via the conditional SCHEDULED→QUEUED transition and
// publishes them to the dispatch queue. A lost transition means a concurrent
// enqueue or recovery pass got there first — swallowed, never retried.
type Enqueue struct {
	runner
	messages  DueQuerier
	publisher Publisher
	lookahead time.Duration
	logger    *slog.Logger

	now func() time.Time
}

func NewEnqueue(messages DueQuerier, publisher Publisher, lookahead time.Duration, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) *Enqueue {
	return &Enqueue{
		runner:    newRunner("enqueue", locker, lockTTL, logger),
		messages:  messages,
		publisher: publisher,
		lookahead: lookahead,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Enqueue) Name() string { return "enqueue" }

func (e *Enqueue) Health() Health { return e.health() }

func (e *Enqueue) Trigger(ctx context.Context) (any, error) {
	return e.Run(ctx)
}

// Run executes one enqueue pass.
func (e *Enqueue) Run(ctx context.Context) (EnqueueStats, error) {
	release, err := e.guard(ctx)
	if err != nil {
		return EnqueueStats{}, err
	}
	defer release()

	start := e.now()
	stats, err := e.run(ctx, start)
	e.observe(start, err)

	if err != nil {
		e.logger.Error("enqueue run failed", "error", err)
		return stats, err
	}

	if stats.Due > 0 {
		e.logger.Info("enqueue run complete",
			"due", stats.Due,
			"enqueued", stats.Enqueued,
			"lost_race", stats.LostRace,
			"publish_errors", stats.PublishErrors,
		)
	}
	return stats, nil
}

func (e *Enqueue) run(ctx context.Context, now time.Time) (EnqueueStats, error) {
	var stats EnqueueStats

	due, err := e.messages.DueForDispatch(ctx, now, now.Add(e.lookahead))
	if err != nil {
		return stats, fmt.Errorf("querying due messages: %w", err)
	}
	stats.Due = len(due)

	for _, msg := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ok, err := e.messages.TransitionStatus(ctx, msg.ID, domain.StatusScheduled, domain.StatusQueued)
		if err != nil {
			return stats, fmt.Errorf("claiming message %s: %w", msg.ID, err)
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
		if err := e.publisher.Publish(ctx, job, msg.ScheduledAt); err != nil {
			// The record stays QUEUED and the recovery job re-drives it
			// once it ages past the grace window.
			stats.PublishErrors++
			e.logger.Error("publishing dispatch job failed", "message_id", msg.ID, "error", err)
			continue
		}
		stats.Enqueued++
	}

	return stats, nil
}
