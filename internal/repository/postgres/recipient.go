package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type RecipientStore struct {
	pool *pgxpool.Pool
}

func NewRecipientStore(pool *pgxpool.Pool) *RecipientStore {
	return &RecipientStore{pool: pool}
}

func (s *RecipientStore) Create(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error) {
	query := `
		INSERT INTO recipients (type, type_id)
		VALUES ($1, $2)
		RETURNING id, type, type_id`

	var r models.Recipient
	err := conn(ctx, s.pool).QueryRow(ctx, query, int16(typ), typeID).Scan(&r.ID, &r.Type, &r.TypeID)
	if err != nil {
		return nil, mapCreateErr("insert recipient", err)
	}
	return &r, nil
}

func (s *RecipientStore) GetByID(ctx context.Context, id int64) (*models.Recipient, error) {
	return s.getOne(ctx, `id = $1`, id)
}

func (s *RecipientStore) Get(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error) {
	return s.getOne(ctx, `type = $1 AND type_id = $2`, int16(typ), typeID)
}

func (s *RecipientStore) getOne(ctx context.Context, where string, args ...any) (*models.Recipient, error) {
	query := `SELECT id, type, type_id FROM recipients WHERE ` + where

	var r models.Recipient
	if err := conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&r.ID, &r.Type, &r.TypeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &r, nil
}
