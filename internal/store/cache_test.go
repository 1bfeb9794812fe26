package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shrenik7/occasion-notifier/internal/domain"
)

type fakeSubscriberGetter struct {
	subs  map[string]*domain.Subscriber
	calls int
}

func (f *fakeSubscriberGetter) GetSubscriber(_ context.Context, id string) (*domain.Subscriber, error) {
	f.calls++
	return f.subs[id], nil
}

func setupSubscriberCache(t *testing.T) (*SubscriberCache, *fakeSubscriberGetter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	source := &fakeSubscriberGetter{subs: map[string]*domain.Subscriber{
		"sub-1": {ID: "sub-1", Name: "Asha", Email: "asha@example.com", Timezone: "Asia/Tokyo"},
	}}
	return NewSubscriberCache(client, source, time.Minute, logger), source, mr
}

func TestSubscriberCache_ReadThrough(t *testing.T) {
	cache, source, _ := setupSubscriberCache(t)
	ctx := context.Background()

	sub, err := cache.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub == nil || sub.Name != "Asha" {
		t.Fatalf("expected sub-1 from source, got %+v", sub)
	}
	if source.calls != 1 {
		t.Fatalf("expected 1 source read, got %d", source.calls)
	}

	// Second read is served from cache
	sub, err = cache.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub == nil || sub.Timezone != "Asia/Tokyo" {
		t.Fatalf("expected cached sub-1, got %+v", sub)
	}
	if source.calls != 1 {
		t.Errorf("expected cache hit, source read %d times", source.calls)
	}
}

func TestSubscriberCache_MissingSubscriberNotCached(t *testing.T) {
	cache, source, _ := setupSubscriberCache(t)
	ctx := context.Background()

	sub, err := cache.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub != nil {
		t.Fatalf("expected nil for unknown subscriber, got %+v", sub)
	}

	cache.Get(ctx, "nope")
	if source.calls != 2 {
		t.Errorf("misses must not be cached, source read %d times", source.calls)
	}
}

func TestSubscriberCache_InvalidateForcesSourceRead(t *testing.T) {
	cache, source, _ := setupSubscriberCache(t)
	ctx := context.Background()

	cache.Get(ctx, "sub-1")

	source.subs["sub-1"].Timezone = "Europe/London"
	cache.Invalidate(ctx, "sub-1")

	sub, err := cache.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Timezone != "Europe/London" {
		t.Errorf("expected fresh read after invalidation, got tz %q", sub.Timezone)
	}
	if source.calls != 2 {
		t.Errorf("expected 2 source reads, got %d", source.calls)
	}
}

func TestSubscriberCache_FailsOpenWhenRedisDown(t *testing.T) {
	cache, source, mr := setupSubscriberCache(t)
	ctx := context.Background()

	mr.Close()

	sub, err := cache.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub == nil || sub.ID != "sub-1" {
		t.Fatalf("expected direct source read, got %+v", sub)
	}
	if source.calls != 1 {
		t.Errorf("expected 1 source read, got %d", source.calls)
	}
}

func TestSubscriberCache_CorruptEntryFallsThrough(t *testing.T) {
	cache, source, mr := setupSubscriberCache(t)
	ctx := context.Background()

	mr.Set(subscriberKey("sub-1"), "{not json")

	sub, err := cache.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub == nil || sub.Name != "Asha" {
		t.Fatalf("expected source read past corrupt entry, got %+v", sub)
	}
	if source.calls != 1 {
		t.Errorf("expected 1 source read, got %d", source.calls)
	}
}

func setupMatchCache(t *testing.T) (*MatchCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewMatchCache(client, logger), mr
}

func TestMatchCache_RoundTrip(t *testing.T) {
	cache, _ := setupMatchCache(t)
	ctx := context.Background()
	day := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	if _, ok := cache.Get(ctx, "BIRTHDAY", day); ok {
		t.Fatal("expected miss before set")
	}

	cache.Set(ctx, "BIRTHDAY", day, []string{"sub-1", "sub-2"})

	ids, ok := cache.Get(ctx, "BIRTHDAY", day)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(ids) != 2 || ids[0] != "sub-1" || ids[1] != "sub-2" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestMatchCache_EmptyMatchSetIsAHit(t *testing.T) {
	cache, _ := setupMatchCache(t)
	ctx := context.Background()
	day := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	cache.Set(ctx, "BIRTHDAY", day, []string{})

	ids, ok := cache.Get(ctx, "BIRTHDAY", day)
	if !ok {
		t.Fatal("an empty match set is still a cached answer")
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
}

func TestMatchCache_KeysAreDayScoped(t *testing.T) {
	cache, _ := setupMatchCache(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)
	cache.Set(ctx, "BIRTHDAY", day, []string{"sub-1"})

	if _, ok := cache.Get(ctx, "BIRTHDAY", day.AddDate(0, 0, 1)); ok {
		t.Error("next day must not see the previous day's entry")
	}
	if _, ok := cache.Get(ctx, "ANNIVERSARY", day); ok {
		t.Error("other kinds must not see the entry")
	}
}

func TestMatchCache_ExpiresAtNextUTCMidnight(t *testing.T) {
	cache, mr := setupMatchCache(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)
	cache.Set(ctx, "BIRTHDAY", day, []string{"sub-1"})

	ttl := mr.TTL(matchKey("BIRTHDAY", day))
	if ttl <= 0 || ttl > 6*time.Hour {
		t.Errorf("expected TTL within 6h of midnight, got %v", ttl)
	}
}
