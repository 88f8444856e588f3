package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type HuddleStore struct {
	pool *pgxpool.Pool
}

func NewHuddleStore(pool *pgxpool.Pool) *HuddleStore {
	return &HuddleStore{pool: pool}
}

func (s *HuddleStore) Create(ctx context.Context, hash string) (*models.Huddle, error) {
	query := `INSERT INTO huddles (huddle_hash) VALUES ($1) RETURNING id, huddle_hash`

	var h models.Huddle
	if err := conn(ctx, s.pool).QueryRow(ctx, query, hash).Scan(&h.ID, &h.Hash); err != nil {
		return nil, mapCreateErr("insert huddle", err)
	}
	return &h, nil
}

func (s *HuddleStore) GetByHash(ctx context.Context, hash string) (*models.Huddle, error) {
	query := `SELECT id, huddle_hash FROM huddles WHERE huddle_hash = $1`

	var h models.Huddle
	if err := conn(ctx, s.pool).QueryRow(ctx, query, hash).Scan(&h.ID, &h.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get huddle: %w", err)
	}
	return &h, nil
}
