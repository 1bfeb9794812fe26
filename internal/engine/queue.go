package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchQueueKey is the Redis sorted set holding pending dispatch jobs,
// scored by the instant they become ready.
const DispatchQueueKey = "dispatch_queue"

// DispatchJob is one delivery handed from the enqueue/recovery jobs to the
// workers. The broker gives at-least-once semantics; duplicates are dropped
// by the sender's conditional QUEUED→SENDING transition.
type DispatchJob struct {
	MessageID    string `json:"message_id"`
	SubscriberID string `json:"subscriber_id"`
	Kind         string `json:"kind"`
	Content      string `json:"content"`
	Attempt      int    `json:"attempt"`
}

// Queue publishes dispatch jobs onto the Redis sorted-set queue.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewQueue(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Publish adds a job scored by its ready instant. Jobs already past due get
// the current time so the dispatcher picks them up on its next poll.
func (q *Queue) Publish(ctx context.Context, job DispatchJob, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling dispatch job: %w", err)
	}

	if now := time.Now(); readyAt.Before(now) {
		readyAt = now
	}

	err = q.client.ZAdd(ctx, DispatchQueueKey, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing dispatch job: %w", err)
	}

	return nil
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DispatchQueueKey).Result()
}
