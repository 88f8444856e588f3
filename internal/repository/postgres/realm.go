package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type RealmStore struct {
	pool *pgxpool.Pool
}

func NewRealmStore(pool *pgxpool.Pool) *RealmStore {
	return &RealmStore{pool: pool}
}

func (s *RealmStore) Create(ctx context.Context, domain string, plainTextOnly bool) (*models.Realm, error) {
	query := `
		INSERT INTO realms (domain, plain_text_only, created_at)
		VALUES ($1, $2, now())
		RETURNING id, domain, plain_text_only, created_at`

	var r models.Realm
	err := conn(ctx, s.pool).QueryRow(ctx, query, domain, plainTextOnly).Scan(
		&r.ID,
		&r.Domain,
		&r.PlainTextOnly,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, mapCreateErr("insert realm", err)
	}
	return &r, nil
}

func (s *RealmStore) GetByID(ctx context.Context, id int64) (*models.Realm, error) {
	return s.getOne(ctx, "id = $1", id)
}

func (s *RealmStore) GetByDomain(ctx context.Context, domain string) (*models.Realm, error) {
	return s.getOne(ctx, "domain = $1", domain)
}

func (s *RealmStore) getOne(ctx context.Context, where string, arg any) (*models.Realm, error) {
	query := `
		SELECT id, domain, plain_text_only, created_at
		FROM realms
		WHERE ` + where

	var r models.Realm
	err := conn(ctx, s.pool).QueryRow(ctx, query, arg).Scan(
		&r.ID,
		&r.Domain,
		&r.PlainTextOnly,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get realm: %w", err)
	}
	return &r, nil
}
