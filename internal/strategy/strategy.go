package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shrenik7/occasion-notifier/internal/domain"
)

// ErrUnknownKind is returned when a message kind has no registered strategy.
// A record referencing an unknown kind is a configuration error, not a no-op.
var ErrUnknownKind = fmt.Errorf("unknown message kind")

// Strategy encapsulates one message kind's trigger, scheduling and rendering
// rules. Adding a new kind means registering a new Strategy — the jobs never
// change.
type Strategy interface {
	// Kind is the canonical (uppercase) kind identifier.
	Kind() string

	// MatchesToday reports whether the subscriber's trigger date falls on
	// "today" in the subscriber's own timezone, with Feb-29 triggers folding
	// to Feb-28 in non-leap years.
	MatchesToday(sub *domain.Subscriber, now time.Time) bool

	// SendInstant returns the UTC instant for delivery: the strategy's local
	// send hour on the subscriber's local date, converted through the
	// subscriber's timezone.
	SendInstant(sub *domain.Subscriber, now time.Time) (time.Time, error)

	// Render composes the message text. Called exactly once, at creation.
	Render(sub *domain.Subscriber, now time.Time) string

	// Validate returns the names of fields the subscriber is missing for
	// this strategy. Empty means the subscriber is eligible.
	Validate(sub *domain.Subscriber) []string
}

// Registry maps message kinds to strategies. Kinds are case-insensitive.
// It is an ordinary injected dependency — construct a fresh one per test.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces the strategy for its kind.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strings.ToUpper(s.Kind())] = s
}

// Unregister removes the strategy for a kind, if present.
func (r *Registry) Unregister(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, strings.ToUpper(kind))
}

// Lookup resolves a kind to its strategy.
func (r *Registry) Lookup(kind string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[strings.ToUpper(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s, nil
}

// All returns every registered strategy, ordered by kind for deterministic
// job runs.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Kind() < all[j].Kind() })
	return all
}

// localToday resolves the subscriber's current local date.
func localToday(sub *domain.Subscriber, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sub.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", sub.Timezone, err)
	}
	return now.In(loc), nil
}

// triggerMatches compares a month/day trigger against a local date. A Feb-29
// trigger matches Feb-28 when the local year is not a leap year.
func triggerMatches(month, day int, local time.Time) bool {
	if month == 2 && day == 29 && !isLeapYear(local.Year()) {
		return local.Month() == time.February && local.Day() == 28
	}
	return int(local.Month()) == month && local.Day() == day
}

// sendInstantAt places the local send hour on the subscriber's local date and
// converts to UTC.
func sendInstantAt(sub *domain.Subscriber, now time.Time, hour int) (time.Time, error) {
	local, err := localToday(sub, now)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, local.Location())
	return at.UTC(), nil
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
