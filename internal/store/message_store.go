package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shrenik7/occasion-notifier/internal/domain"
)

const messageColumns = `id, subscriber_id, kind, rendered_content, scheduled_at,
	actual_sent_at, status, retry_count, last_retry_at, last_error,
	response_code, response_body, idempotency_key, created_at, updated_at`

// CreateMessage inserts a message if no message with its idempotency key
// exists yet. The UNIQUE constraint on idempotency_key is the correctness
// guarantee; the insert and the uniqueness check are one atomic statement.
// Returns false when the key was already taken (benign duplicate).
func (s *PostgresStore) CreateMessage(ctx context.Context, m *domain.Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, subscriber_id, kind, rendered_content, scheduled_at, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, m.ID, m.SubscriberID, m.Kind, m.RenderedContent, m.ScheduledAt, m.Status, m.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("inserting message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMessage returns a message by ID, or nil if it does not exist.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	m, err := scanMessage(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages with optional subscriber/status filtering,
// newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, subscriberID string, status domain.Status, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if subscriberID != "" {
		conditions = append(conditions, fmt.Sprintf("subscriber_id = $%d", argIdx))
		args = append(args, subscriberID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY scheduled_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// DueForDispatch returns SCHEDULED messages whose send instant falls within
// [from, to), oldest first.
func (s *PostgresStore) DueForDispatch(ctx context.Context, from, to time.Time) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at
	`, domain.StatusScheduled, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying due messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Missed returns non-terminal messages stuck past their send instant: any
// SCHEDULED, QUEUED or RETRYING record scheduled before the cutoff.
func (s *PostgresStore) Missed(ctx context.Context, olderThan time.Time) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status IN ($1, $2, $3) AND scheduled_at < $4
		ORDER BY scheduled_at
	`, domain.StatusScheduled, domain.StatusQueued, domain.StatusRetrying, olderThan)
	if err != nil {
		return nil, fmt.Errorf("querying missed messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// TransitionStatus moves a message from one status to another if and only if
// it is still in the expected status. The conditional UPDATE is the only
// concurrency control between racing enqueue/recovery/sender passes; a false
// return means another process already moved the record.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transitioning message %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent records a successful delivery. Only a SENDING record can become
// SENT, so a duplicate queue delivery that lost the SENDING race cannot
// overwrite the outcome.
func (s *PostgresStore) MarkSent(ctx context.Context, id string, responseCode int, responseBody string) error {
	var body *string
	if responseBody != "" {
		body = &responseBody
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $2, actual_sent_at = NOW(), response_code = $3, response_body = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, domain.StatusSent, responseCode, body, domain.StatusSending)
	if err != nil {
		return fmt.Errorf("marking message %s sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking message %s sent: not in %s", id, domain.StatusSending)
	}
	return nil
}

// MarkFailed records a transient delivery failure in one atomic statement:
// the retry count is incremented and the status lands on RETRYING, or on
// terminal FAILED once maxRetries attempts are exhausted. Returns the
// resulting status.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string, responseCode *int, maxRetries int) (domain.Status, error) {
	var status domain.Status
	err := s.pool.QueryRow(ctx, `
		UPDATE messages
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $4 THEN $5::varchar ELSE $6::varchar END,
		    last_retry_at = NOW(),
		    last_error = $2,
		    response_code = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $7
		RETURNING status
	`, id, errMsg, responseCode, maxRetries, domain.StatusFailed, domain.StatusRetrying, domain.StatusSending).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("marking message %s failed: not in %s", id, domain.StatusSending)
		}
		return "", fmt.Errorf("marking message %s failed: %w", id, err)
	}
	return status, nil
}

// MarkFailedPermanent moves a SENDING message straight to terminal FAILED.
// Used for permanent failures (4xx responses) that retrying cannot fix.
func (s *PostgresStore) MarkFailedPermanent(ctx context.Context, id string, errMsg string, responseCode *int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $2, retry_count = retry_count + 1, last_retry_at = NOW(),
		    last_error = $3, response_code = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, domain.StatusFailed, errMsg, responseCode, domain.StatusSending)
	if err != nil {
		return fmt.Errorf("marking message %s permanently failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking message %s permanently failed: not in %s", id, domain.StatusSending)
	}
	return nil
}

// DeleteFutureNonTerminal removes a subscriber's pending messages scheduled
// after the cutoff. Past and terminal records are never deleted — a
// reschedule must not resurrect or erase history.
func (s *PostgresStore) DeleteFutureNonTerminal(ctx context.Context, subscriberID string, after time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE subscriber_id = $1
		  AND status IN ($2, $3, $4)
		  AND scheduled_at > $5
	`, subscriberID, domain.StatusScheduled, domain.StatusQueued, domain.StatusRetrying, after)
	if err != nil {
		return 0, fmt.Errorf("deleting future messages for %s: %w", subscriberID, err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.SubscriberID, &m.Kind, &m.RenderedContent, &m.ScheduledAt,
		&m.ActualSentAt, &m.Status, &m.RetryCount, &m.LastRetryAt, &m.LastError,
		&m.ResponseCode, &m.ResponseBody, &m.IdempotencyKey, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *m)
	}

	if messages == nil {
		messages = []domain.Message{}
	}

	return messages, nil
}
