package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/strategy"
)

// MessageRescheduler is the slice of the message store a reschedule touches.
type MessageRescheduler interface {
	MessageCreator
	DeleteFutureNonTerminal(ctx context.Context, subscriberID string, after time.Time) (int64, error)
}

// RescheduleResult reports what one reschedule changed.
type RescheduleResult struct {
	Deleted int64 `json:"deleted"`
	Created int   `json:"created"`
}

// Rescheduler reacts to subscriber updates: it drops the subscriber's
// future, non-terminal messages and recreates today's matches from the
// updated data. Past and terminal records are deliberately untouched — a
// greeting already sent this cycle stays sent, and the idempotency key keeps
// it from being recreated.
type Rescheduler struct {
	messages MessageRescheduler
	registry *strategy.Registry
	logger   *slog.Logger

	now func() time.Time
}

func NewRescheduler(messages MessageRescheduler, registry *strategy.Registry, logger *slog.Logger) *Rescheduler {
	return &Rescheduler{
		messages: messages,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Reschedule recomputes the subscriber's pending messages.
func (r *Rescheduler) Reschedule(ctx context.Context, sub *domain.Subscriber) (RescheduleResult, error) {
	var result RescheduleResult
	now := r.now()

	deleted, err := r.messages.DeleteFutureNonTerminal(ctx, sub.ID, now)
	if err != nil {
		return result, fmt.Errorf("clearing pending messages: %w", err)
	}
	result.Deleted = deleted

	if !sub.Active() {
		// Deleted subscribers only get their pending work cleared.
		return result, nil
	}

	for _, strat := range r.registry.All() {
		if !strat.MatchesToday(sub, now) {
			continue
		}
		if missing := strat.Validate(sub); len(missing) > 0 {
			continue
		}

		sendAt, err := strat.SendInstant(sub, now)
		if err != nil {
			r.logger.Warn("could not compute send instant during reschedule",
				"subscriber_id", sub.ID, "kind", strat.Kind(), "error", err)
			continue
		}

		loc, _ := time.LoadLocation(sub.Timezone)
		msg := &domain.Message{
			ID:              uuid.NewString(),
			SubscriberID:    sub.ID,
			Kind:            strat.Kind(),
			RenderedContent: strat.Render(sub, now),
			ScheduledAt:     sendAt,
			Status:          domain.StatusScheduled,
			IdempotencyKey:  domain.IdempotencyKey(sub.ID, strat.Kind(), now.In(loc)),
		}

		created, err := r.messages.CreateMessage(ctx, msg)
		if err != nil {
			return result, fmt.Errorf("recreating message for %s/%s: %w", sub.ID, strat.Kind(), err)
		}
		if created {
			result.Created++
		}
	}

	r.logger.Info("subscriber rescheduled",
		"subscriber_id", sub.ID,
		"deleted", result.Deleted,
		"created", result.Created,
	)
	return result, nil
}
