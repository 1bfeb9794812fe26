package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/engine"
)

// SenderStore is the slice of the message store a delivery attempt touches.
type SenderStore interface {
	TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	MarkSent(ctx context.Context, id string, responseCode int, responseBody string) error
	MarkFailed(ctx context.Context, id string, errMsg string, responseCode *int, maxRetries int) (domain.Status, error)
	MarkFailedPermanent(ctx context.Context, id string, errMsg string, responseCode *int) error
}

// SubscriberLookup resolves recipient metadata at send time. Backed by the
// read-through subscriber cache in production.
type SubscriberLookup interface {
	Get(ctx context.Context, id string) (*domain.Subscriber, error)
}

// SenderConfig bundles the delivery tunables.
type SenderConfig struct {
	DeliveryURL string
	Timeout     time.Duration

	// MaxRetries bounds record-level attempts; TransportRetries bounds the
	// in-call retry loop around one attempt.
	MaxRetries       int
	TransportRetries int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	RateLimitPerSec  int
}

// Sender performs the actual delivery: it claims a QUEUED message, calls the
// external endpoint through the rate limiter and circuit breaker, and
// records the outcome.
type Sender struct {
	httpClient  *http.Client
	store       SenderStore
	subscribers SubscriberLookup
	breaker     *engine.CircuitBreaker
	limiter     *engine.RateLimiter
	cfg         SenderConfig
	logger      *slog.Logger
}

func NewSender(store SenderStore, subscribers SubscriberLookup, breaker *engine.CircuitBreaker, limiter *engine.RateLimiter, cfg SenderConfig, logger *slog.Logger) *Sender {
	return &Sender{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		store:       store,
		subscribers: subscribers,
		breaker:     breaker,
		limiter:     limiter,
		cfg:         cfg,
		logger:      logger,
	}
}

// deliveryRequest is the wire format POSTed to the delivery endpoint.
type deliveryRequest struct {
	MessageID      string `json:"message_id"`
	Kind           string `json:"kind"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	Content        string `json:"content"`
}

// sendOutcome classifies one transport-level exchange.
type sendOutcome struct {
	code      *int
	body      string
	err       string
	permanent bool
}

func (o sendOutcome) success() bool {
	return o.err == "" && o.code != nil && *o.code >= 200 && *o.code < 300
}

// Deliver processes one dispatch job. Both gates run before any status
// change so a blocked message stays QUEUED for a later recovery pass and
// consumes no retry budget.
func (s *Sender) Deliver(ctx context.Context, job engine.DispatchJob) {
	if !s.limiter.Allow(ctx, "delivery", s.cfg.RateLimitPerSec) {
		s.logger.Debug("delivery rate limited, leaving queued", "message_id", job.MessageID)
		return
	}

	if state, allowed := s.breaker.AllowRequest(ctx); !allowed {
		s.logger.Debug("circuit open, leaving queued",
			"message_id", job.MessageID, "breaker_state", state)
		return
	}

	// Claim the message. Losing this race means a duplicate broker delivery
	// or a concurrent worker — drop silently.
	claimed, err := s.store.TransitionStatus(ctx, job.MessageID, domain.StatusQueued, domain.StatusSending)
	if err != nil {
		s.logger.Error("failed to claim message", "message_id", job.MessageID, "error", err)
		return
	}
	if !claimed {
		s.logger.Debug("message already claimed, dropping duplicate", "message_id", job.MessageID)
		return
	}

	sub, err := s.subscribers.Get(ctx, job.SubscriberID)
	if err != nil {
		s.recordTransient(ctx, job, sendOutcome{err: fmt.Sprintf("resolving subscriber: %v", err)})
		return
	}
	if sub == nil {
		// Subscriber deleted after scheduling — nothing to deliver to.
		s.recordPermanent(ctx, job, sendOutcome{err: "subscriber no longer active"})
		return
	}

	outcome := s.sendWithRetry(ctx, job, sub)

	switch {
	case outcome.success():
		s.breaker.RecordSuccess(ctx)
		if err := s.store.MarkSent(ctx, job.MessageID, *outcome.code, outcome.body); err != nil {
			s.logger.Error("failed to mark message sent", "message_id", job.MessageID, "error", err)
			return
		}
		s.logger.Info("delivery successful",
			"message_id", job.MessageID,
			"subscriber_id", job.SubscriberID,
			"kind", job.Kind,
			"attempt", job.Attempt,
			"status_code", *outcome.code,
		)

	case outcome.permanent:
		// The endpoint answered; the request content is at fault. Counts as
		// endpoint health for the breaker.
		s.breaker.RecordSuccess(ctx)
		s.recordPermanent(ctx, job, outcome)

	default:
		s.breaker.RecordFailure(ctx)
		s.recordTransient(ctx, job, outcome)
	}
}

// sendWithRetry runs the transport-level retry loop: bounded attempts with
// exponential backoff, stopping early on success or a permanent failure.
func (s *Sender) sendWithRetry(ctx context.Context, job engine.DispatchJob, sub *domain.Subscriber) sendOutcome {
	var outcome sendOutcome

	for attempt := 1; attempt <= s.cfg.TransportRetries; attempt++ {
		outcome = s.send(ctx, job, sub)
		if outcome.success() || outcome.permanent {
			return outcome
		}

		if attempt < s.cfg.TransportRetries {
			backoff := transportBackoff(attempt, s.cfg.BackoffBase, s.cfg.BackoffMax)
			select {
			case <-ctx.Done():
				return outcome
			case <-time.After(backoff):
			}
		}
	}

	return outcome
}

// send performs a single HTTP exchange with the delivery endpoint.
func (s *Sender) send(ctx context.Context, job engine.DispatchJob, sub *domain.Subscriber) sendOutcome {
	payload, err := json.Marshal(deliveryRequest{
		MessageID:      job.MessageID,
		Kind:           job.Kind,
		RecipientName:  sub.Name,
		RecipientEmail: sub.Email,
		Content:        job.Content,
	})
	if err != nil {
		return sendOutcome{err: fmt.Sprintf("marshaling delivery request: %v", err), permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.DeliveryURL, bytes.NewReader(payload))
	if err != nil {
		return sendOutcome{err: fmt.Sprintf("building request: %v", err), permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-ID", job.MessageID)
	req.Header.Set("X-Message-Attempt", fmt.Sprintf("%d", job.Attempt))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return sendOutcome{err: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	// Limit the stored response body to 1KB.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	code := resp.StatusCode

	out := sendOutcome{code: &code, body: string(body)}
	switch {
	case code >= 200 && code < 300:
	case code == http.StatusTooManyRequests || code >= 500:
		out.err = fmt.Sprintf("endpoint returned %d", code)
	default:
		// Remaining 4xx: the request itself is bad and will never succeed.
		out.err = fmt.Sprintf("endpoint rejected request with %d", code)
		out.permanent = true
	}
	return out
}

func (s *Sender) recordTransient(ctx context.Context, job engine.DispatchJob, outcome sendOutcome) {
	status, err := s.store.MarkFailed(ctx, job.MessageID, outcome.err, outcome.code, s.cfg.MaxRetries)
	if err != nil {
		s.logger.Error("failed to mark message failed", "message_id", job.MessageID, "error", err)
		return
	}

	s.logger.Warn("delivery failed",
		"message_id", job.MessageID,
		"subscriber_id", job.SubscriberID,
		"kind", job.Kind,
		"attempt", job.Attempt,
		"error", outcome.err,
		"status", status,
	)
}

func (s *Sender) recordPermanent(ctx context.Context, job engine.DispatchJob, outcome sendOutcome) {
	if err := s.store.MarkFailedPermanent(ctx, job.MessageID, outcome.err, outcome.code); err != nil {
		s.logger.Error("failed to mark message permanently failed", "message_id", job.MessageID, "error", err)
		return
	}

	s.logger.Error("delivery permanently failed",
		"message_id", job.MessageID,
		"subscriber_id", job.SubscriberID,
		"kind", job.Kind,
		"attempt", job.Attempt,
		"error", outcome.err,
	)
}

// transportBackoff is base * 2^(attempt-1), capped.
func transportBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := base << uint(attempt-1)
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
