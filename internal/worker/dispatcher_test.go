package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/engine"
)

// TestDispatcher_EndToEnd drives the full path from the broker to the
// endpoint: publish onto the sorted set, poll, claim, deliver.
func TestDispatcher_EndToEnd(t *testing.T) {
	var delivered atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, lookup, cb, rl, _ := setupSenderTest(t)
	sender := NewSender(store, lookup, cb, rl, testSenderConfig(server.URL), logger)

	queue := engine.NewQueue(client, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(2, sender, logger)
	pool.Start(ctx)

	dispatcher := NewDispatcher(client, pool, logger)
	dispatcher.pollInterval = 50 * time.Millisecond
	go dispatcher.Start(ctx)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("msg-%d", i)
		store.seed(id, domain.StatusQueued)
		if err := queue.Publish(ctx, queuedJob(id), time.Now()); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	// Not ready yet — must stay in the queue.
	store.seed("msg-future", domain.StatusQueued)
	if err := queue.Publish(ctx, queuedJob("msg-future"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("publish future: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for delivered.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out, delivered %d of 3", delivered.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}

	depth, err := queue.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected only the future job left in the queue, got %d", depth)
	}

	cancel()
	pool.Stop()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("msg-%d", i)
		if store.status(id) != domain.StatusSent {
			t.Errorf("%s: expected SENT, got %s", id, store.status(id))
		}
	}
	if store.status("msg-future") != domain.StatusQueued {
		t.Errorf("future job should not have been dispatched, got %s", store.status("msg-future"))
	}
}
