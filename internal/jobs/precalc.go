package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/store"
	"github.com/shrenik7/occasion-notifier/internal/strategy"
)

// SubscriberSource lists the subscribers eligible for scheduling.
type SubscriberSource interface {
	ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// MessageCreator is the create-if-absent half of the message store contract.
type MessageCreator interface {
	CreateMessage(ctx context.Context, m *domain.Message) (bool, error)
}

// PrecalcStats aggregates one precalculation run.
type PrecalcStats struct {
	Matched          int `json:"matched"`
	Created          int `json:"created"`
	Duplicates       int `json:"duplicates"`
	ValidationFailed int `json:"validation_failed"`
	Skipped          int `json:"skipped"`
}

// Precalc runs once per daily anchor. For every registered strategy it finds
// the subscribers whose trigger falls on today (in their own timezone),
// renders the message once, and creates one SCHEDULED record per match.
// Duplicate creation attempts are expected — reruns, replicas and reschedules
// all collide on the idempotency key and count as no-ops.
type Precalc struct {
	runner
	subscribers SubscriberSource
	messages    MessageCreator
	registry    *strategy.Registry
	matchCache  *store.MatchCache
	logger      *slog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

func NewPrecalc(subscribers SubscriberSource, messages MessageCreator, registry *strategy.Registry, matchCache *store.MatchCache, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger) *Precalc {
	return &Precalc{
		runner:      newRunner("precalc", locker, lockTTL, logger),
		subscribers: subscribers,
		messages:    messages,
		registry:    registry,
		matchCache:  matchCache,
		logger:      logger,
		now:         time.Now,
	}
}

func (p *Precalc) Name() string { return "precalc" }

func (p *Precalc) Health() Health { return p.health() }

func (p *Precalc) Trigger(ctx context.Context) (any, error) {
	return p.Run(ctx)
}

// Run executes one precalculation pass.
func (p *Precalc) Run(ctx context.Context) (PrecalcStats, error) {
	release, err := p.guard(ctx)
	if err != nil {
		return PrecalcStats{}, err
	}
	defer release()

	start := p.now()
	stats, err := p.run(ctx, start)
	p.observe(start, err)

	if err != nil {
		p.logger.Error("precalculation run failed", "error", err)
		return stats, err
	}

	p.logger.Info("precalculation run complete",
		"matched", stats.Matched,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"validation_failed", stats.ValidationFailed,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func (p *Precalc) run(ctx context.Context, now time.Time) (PrecalcStats, error) {
	var stats PrecalcStats

	subscribers, err := p.subscribers.ActiveSubscribers(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading active subscribers: %w", err)
	}

	byID := make(map[string]*domain.Subscriber, len(subscribers))
	for i := range subscribers {
		byID[subscribers[i].ID] = &subscribers[i]
	}

	for _, strat := range p.registry.All() {
		matched := p.matchedSubscribers(ctx, strat, subscribers, byID, now)

		for _, sub := range matched {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Matched++

			if missing := strat.Validate(sub); len(missing) > 0 {
				stats.ValidationFailed++
				p.logger.Warn("subscriber failed validation, skipping",
					"subscriber_id", sub.ID,
					"kind", strat.Kind(),
					"missing", strings.Join(missing, ","),
				)
				continue
			}

			sendAt, err := strat.SendInstant(sub, now)
			if err != nil {
				stats.Skipped++
				p.logger.Warn("could not compute send instant, skipping",
					"subscriber_id", sub.ID,
					"kind", strat.Kind(),
					"error", err,
				)
				continue
			}

			loc, _ := time.LoadLocation(sub.Timezone) // validated by SendInstant
			msg := &domain.Message{
				ID:              uuid.NewString(),
				SubscriberID:    sub.ID,
				Kind:            strat.Kind(),
				RenderedContent: strat.Render(sub, now),
				ScheduledAt:     sendAt,
				Status:          domain.StatusScheduled,
				IdempotencyKey:  domain.IdempotencyKey(sub.ID, strat.Kind(), now.In(loc)),
			}

			created, err := p.messages.CreateMessage(ctx, msg)
			if err != nil {
				return stats, fmt.Errorf("creating message for %s/%s: %w", sub.ID, strat.Kind(), err)
			}
			if created {
				stats.Created++
			} else {
				// Already scheduled for this occurrence.
				stats.Duplicates++
			}
		}
	}

	return stats, nil
}

// matchedSubscribers resolves today's matches for a strategy, serving the ID
// set from the day-scoped cache when present. The cache is a pre-filter only;
// the idempotency key guards correctness.
func (p *Precalc) matchedSubscribers(ctx context.Context, strat strategy.Strategy, subscribers []domain.Subscriber, byID map[string]*domain.Subscriber, now time.Time) []*domain.Subscriber {
	if p.matchCache != nil {
		if ids, ok := p.matchCache.Get(ctx, strat.Kind(), now); ok {
			matched := make([]*domain.Subscriber, 0, len(ids))
			for _, id := range ids {
				if sub, ok := byID[id]; ok {
					matched = append(matched, sub)
				}
			}
			return matched
		}
	}

	var matched []*domain.Subscriber
	ids := make([]string, 0)
	for i := range subscribers {
		sub := &subscribers[i]
		if strat.MatchesToday(sub, now) {
			matched = append(matched, sub)
			ids = append(ids, sub.ID)
		}
	}

	if p.matchCache != nil {
		p.matchCache.Set(ctx, strat.Kind(), now, ids)
	}
	return matched
}
