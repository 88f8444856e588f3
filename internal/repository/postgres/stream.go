package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type StreamStore struct {
	pool *pgxpool.Pool
}

func NewStreamStore(pool *pgxpool.Pool) *StreamStore {
	return &StreamStore{pool: pool}
}

// Create relies on the (realm_id, lower(name)) unique index, so "General"
// and "general" created concurrently collide.
func (s *StreamStore) Create(ctx context.Context, realmID int64, name string) (*models.Stream, error) {
	query := `
		INSERT INTO streams (realm_id, name)
		VALUES ($1, $2)
		RETURNING id, realm_id, name`

	var st models.Stream
	err := conn(ctx, s.pool).QueryRow(ctx, query, realmID, name).Scan(&st.ID, &st.RealmID, &st.Name)
	if err != nil {
		return nil, mapCreateErr("insert stream", err)
	}
	return &st, nil
}

func (s *StreamStore) GetByID(ctx context.Context, id int64) (*models.Stream, error) {
	query := `SELECT id, realm_id, name FROM streams WHERE id = $1`

	var st models.Stream
	err := conn(ctx, s.pool).QueryRow(ctx, query, id).Scan(&st.ID, &st.RealmID, &st.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return &st, nil
}

func (s *StreamStore) GetByName(ctx context.Context, realmID int64, name string) (*models.Stream, error) {
	query := `
		SELECT id, realm_id, name
		FROM streams
		WHERE realm_id = $1 AND lower(name) = lower($2)`

	var st models.Stream
	err := conn(ctx, s.pool).QueryRow(ctx, query, realmID, name).Scan(&st.ID, &st.RealmID, &st.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream by name: %w", err)
	}
	return &st, nil
}
