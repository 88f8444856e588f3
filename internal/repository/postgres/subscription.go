package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
)

type SubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

// Create does not use ON CONFLICT DO NOTHING: the ledger needs to know
// whether it created the row, so a duplicate surfaces as ErrConflict.
func (s *SubscriptionStore) Create(ctx context.Context, userID, recipientID int64, active bool) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (user_id, recipient_id, active)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, recipient_id, active, color`

	var sub models.Subscription
	err := conn(ctx, s.pool).QueryRow(ctx, query, userID, recipientID, active).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.RecipientID,
		&sub.Active,
		&sub.Color,
	)
	if err != nil {
		return nil, mapCreateErr("insert subscription", err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, userID, recipientID int64) (*models.Subscription, error) {
	query := `
		SELECT id, user_id, recipient_id, active, color
		FROM subscriptions
		WHERE user_id = $1 AND recipient_id = $2`

	var sub models.Subscription
	err := conn(ctx, s.pool).QueryRow(ctx, query, userID, recipientID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.RecipientID,
		&sub.Active,
		&sub.Color,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, "active = $2", id, active)
}

func (s *SubscriptionStore) SetColor(ctx context.Context, id int64, color string) error {
	return s.update(ctx, "color = $2", id, color)
}

func (s *SubscriptionStore) update(ctx context.Context, set string, id int64, value any) error {
	query := `UPDATE subscriptions SET ` + set + ` WHERE id = $1`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update subscription: %w", repository.ErrNotFound)
	}
	return nil
}

// ListActiveSubscribers is the fanout query: one join, served by the
// partial index on (recipient_id) WHERE active.
func (s *SubscriptionStore) ListActiveSubscribers(ctx context.Context, recipientID int64) ([]models.UserProfile, error) {
	query := `
		SELECT ` + userColumnsU + `
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.recipient_id = $1 AND s.active
		ORDER BY u.id`

	rows, err := conn(ctx, s.pool).Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	return collectUsers(rows)
}

func (s *SubscriptionStore) ListMembers(ctx context.Context, recipientID int64) ([]models.UserProfile, error) {
	query := `
		SELECT ` + userColumnsU + `
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.recipient_id = $1
		ORDER BY u.email`

	rows, err := conn(ctx, s.pool).Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return collectUsers(rows)
}

func (s *SubscriptionStore) ListPrivateRecipientIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT r.id
		FROM subscriptions s
		JOIN recipients r ON r.id = s.recipient_id
		WHERE s.user_id = $1 AND r.type <> $2
		ORDER BY r.id`

	rows, err := conn(ctx, s.pool).Query(ctx, query, userID, int16(models.RecipientStream))
	if err != nil {
		return nil, fmt.Errorf("list private recipients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan private recipients: %w", err)
	}
	return ids, nil
}
