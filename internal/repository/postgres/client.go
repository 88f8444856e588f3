package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type ClientStore struct {
	pool *pgxpool.Pool
}

func NewClientStore(pool *pgxpool.Pool) *ClientStore {
	return &ClientStore{pool: pool}
}

func (s *ClientStore) Create(ctx context.Context, name string) (*models.Client, error) {
	query := `INSERT INTO clients (name) VALUES ($1) RETURNING id, name`

	var c models.Client
	if err := conn(ctx, s.pool).QueryRow(ctx, query, name).Scan(&c.ID, &c.Name); err != nil {
		return nil, mapCreateErr("insert client", err)
	}
	return &c, nil
}

func (s *ClientStore) GetByName(ctx context.Context, name string) (*models.Client, error) {
	return s.getOne(ctx, "name = $1", name)
}

func (s *ClientStore) GetByID(ctx context.Context, id int64) (*models.Client, error) {
	return s.getOne(ctx, "id = $1", id)
}

func (s *ClientStore) getOne(ctx context.Context, where string, arg any) (*models.Client, error) {
	query := `SELECT id, name FROM clients WHERE ` + where

	var c models.Client
	if err := conn(ctx, s.pool).QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}
