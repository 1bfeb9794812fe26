package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shrenik7/occasion-notifier/internal/domain"
)

const subscriberColumns = `id, name, email, timezone, birth_month, birth_day, birth_year,
	anniversary_month, anniversary_day, created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateSubscriber(ctx context.Context, req domain.CreateSubscriberRequest) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscribers (name, email, timezone, birth_month, birth_day, birth_year, anniversary_month, anniversary_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+subscriberColumns,
		req.Name, req.Email, req.Timezone,
		req.BirthMonth, req.BirthDay, req.BirthYear,
		req.AnniversaryMonth, req.AnniversaryDay,
	)

	sub, err := scanSubscriber(row)
	if err != nil {
		return nil, fmt.Errorf("inserting subscriber: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1 AND deleted_at IS NULL`, id)

	sub, err := scanSubscriber(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

// ActiveSubscribers returns every subscriber not soft-deleted. Trigger
// matching is the strategies' job — the store only filters liveness.
func (s *PostgresStore) ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying active subscribers: %w", err)
	}
	defer rows.Close()

	var subscribers []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}

	if subscribers == nil {
		subscribers = []domain.Subscriber{}
	}

	return subscribers, nil
}

func (s *PostgresStore) UpdateSubscriber(ctx context.Context, id string, req domain.UpdateSubscriberRequest) (*domain.Subscriber, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	addSet := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Name != nil {
		addSet("name", *req.Name)
	}
	if req.Email != nil {
		addSet("email", *req.Email)
	}
	if req.Timezone != nil {
		addSet("timezone", *req.Timezone)
	}
	if req.BirthMonth != nil {
		addSet("birth_month", *req.BirthMonth)
	}
	if req.BirthDay != nil {
		addSet("birth_day", *req.BirthDay)
	}
	if req.BirthYear != nil {
		addSet("birth_year", *req.BirthYear)
	}
	if req.AnniversaryMonth != nil {
		addSet("anniversary_month", *req.AnniversaryMonth)
	}
	if req.AnniversaryDay != nil {
		addSet("anniversary_day", *req.AnniversaryDay)
	}

	if len(setClauses) == 0 {
		return s.GetSubscriber(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE subscribers SET %s
		WHERE id = $%d AND deleted_at IS NULL
		RETURNING `+subscriberColumns,
		joinStrings(setClauses, ", "), argIdx)
	args = append(args, id)

	sub, err := scanSubscriber(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscriber: %w", err)
	}

	return sub, nil
}

// SoftDeleteSubscriber marks a subscriber deleted. The row stays so past
// messages keep a valid reference.
func (s *PostgresStore) SoftDeleteSubscriber(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("soft-deleting subscriber: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID, &sub.Name, &sub.Email, &sub.Timezone,
		&sub.BirthMonth, &sub.BirthDay, &sub.BirthYear,
		&sub.AnniversaryMonth, &sub.AnniversaryDay,
		&sub.CreatedAt, &sub.UpdatedAt, &sub.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func joinStrings(strs []string, sep string) string {
	result := ""
	for i, s := range strs {
		if i > 0 {
			result += sep
		}
		result += s
	}
	return result
}
