package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrenik7/occasion-notifier/internal/config"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker isolates the external delivery endpoint using Redis-backed
// state shared across worker instances.
// State transitions: closed → open → half-open → closed
//
//   - Closed: calls pass through; successes and failures are counted in a
//     rolling window.
//   - Open: calls fail fast. Transitions to half-open after the reset timeout.
//   - Half-Open: probe calls are allowed. Success → closed, failure → open.
//
// The circuit opens when the window holds at least VolumeThreshold calls and
// the failure rate reaches ErrorThreshold.
type CircuitBreaker struct {
	client *redis.Client
	logger *slog.Logger
	name   string
	cfg    config.CircuitBreakerConfig
}

// CircuitBreakerState is a snapshot for health reporting.
type CircuitBreakerState struct {
	State     string  `json:"state"`
	Failures  int     `json:"failures"`
	Successes int     `json:"successes"`
	ErrorRate float64 `json:"error_rate"`
	OpenedAt  string  `json:"opened_at,omitempty"`
}

func NewCircuitBreaker(client *redis.Client, name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{client: client, logger: logger, name: name, cfg: cfg}
}

func (cb *CircuitBreaker) key() string {
	return fmt.Sprintf("cb:%s", cb.name)
}

// AllowRequest reports whether a call to the endpoint may proceed, along
// with the current state.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context) (string, bool) {
	data, err := cb.client.HGetAll(ctx, cb.key()).Result()
	if err != nil || len(data) == 0 {
		// No state yet, or Redis unavailable — fail open, the transport
		// retry budget still bounds the damage.
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		openedAt, _ := strconv.ParseInt(data["opened_at"], 10, 64)
		if time.Now().Unix()-openedAt >= int64(cb.cfg.ResetTimeout.Seconds()) {
			cb.client.HSet(ctx, cb.key(), "state", StateHalfOpen)
			cb.logger.Info("circuit breaker half-open", "name", cb.name)
			return StateHalfOpen, true
		}
		return StateOpen, false

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess counts a successful call. A half-open probe success closes
// the circuit and resets the window.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	state, _ := cb.client.HGet(ctx, cb.key(), "state").Result()

	if state == StateHalfOpen {
		cb.client.HSet(ctx, cb.key(),
			"state", StateClosed,
			"failures", 0,
			"successes", 0,
			"window_start", time.Now().Unix(),
		)
		cb.logger.Info("circuit breaker closed (recovered)", "name", cb.name)
		return
	}

	cb.rollWindow(ctx)
	cb.client.HIncrBy(ctx, cb.key(), "successes", 1)
}

// RecordFailure counts a failed call, opening the circuit when the rolling
// window crosses both thresholds or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	state, _ := cb.client.HGet(ctx, cb.key(), "state").Result()

	if state == StateHalfOpen {
		cb.open(ctx)
		cb.logger.Warn("circuit breaker re-opened (half-open probe failed)", "name", cb.name)
		return
	}

	cb.rollWindow(ctx)

	failures, err := cb.client.HIncrBy(ctx, cb.key(), "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err)
		return
	}
	successes, _ := cb.client.HGet(ctx, cb.key(), "successes").Int64()

	total := failures + successes
	if total >= int64(cb.cfg.VolumeThreshold) && float64(failures)/float64(total) >= cb.cfg.ErrorThreshold {
		cb.open(ctx)
		cb.logger.Warn("circuit breaker opened",
			"name", cb.name,
			"failures", failures,
			"total", total,
			"error_threshold", cb.cfg.ErrorThreshold,
		)
	}
}

// GetState returns a snapshot of the breaker for health reporting.
func (cb *CircuitBreaker) GetState(ctx context.Context) CircuitBreakerState {
	data, err := cb.client.HGetAll(ctx, cb.key()).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed}
	}

	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	failures, _ := strconv.Atoi(data["failures"])
	successes, _ := strconv.Atoi(data["successes"])

	if state == StateOpen {
		openedAt, _ := strconv.ParseInt(data["opened_at"], 10, 64)
		if time.Now().Unix()-openedAt >= int64(cb.cfg.ResetTimeout.Seconds()) {
			state = StateHalfOpen
		}
	}

	snapshot := CircuitBreakerState{
		State:     state,
		Failures:  failures,
		Successes: successes,
	}
	if total := failures + successes; total > 0 {
		snapshot.ErrorRate = float64(failures) / float64(total)
	}
	if ts, ok := data["opened_at"]; ok && ts != "" {
		opened, _ := strconv.ParseInt(ts, 10, 64)
		if opened > 0 {
			snapshot.OpenedAt = time.Unix(opened, 0).Format(time.RFC3339)
		}
	}

	return snapshot
}

func (cb *CircuitBreaker) open(ctx context.Context) {
	cb.client.HSet(ctx, cb.key(),
		"state", StateOpen,
		"opened_at", time.Now().Unix(),
		"failures", 0,
		"successes", 0,
		"window_start", time.Now().Unix(),
	)
}

// rollWindow resets the counters when the rolling window has elapsed.
func (cb *CircuitBreaker) rollWindow(ctx context.Context) {
	windowStart, err := cb.client.HGet(ctx, cb.key(), "window_start").Int64()
	if err == redis.Nil || windowStart == 0 {
		cb.client.HSet(ctx, cb.key(), "window_start", time.Now().Unix())
		return
	}
	if err != nil {
		return
	}

	if time.Now().Unix()-windowStart >= int64(cb.cfg.WindowSize.Seconds()) {
		cb.client.HSet(ctx, cb.key(),
			"failures", 0,
			"successes", 0,
			"window_start", time.Now().Unix(),
		)
	}
}
