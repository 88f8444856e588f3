package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type DefaultStreamStore struct {
	pool *pgxpool.Pool
}

func NewDefaultStreamStore(pool *pgxpool.Pool) *DefaultStreamStore {
	return &DefaultStreamStore{pool: pool}
}

// Replace should run inside a transaction so readers never observe the
// empty list between the delete and the insert.
func (s *DefaultStreamStore) Replace(ctx context.Context, realmID int64, streamIDs []int64) error {
	q := conn(ctx, s.pool)

	if _, err := q.Exec(ctx, `DELETE FROM default_streams WHERE realm_id = $1`, realmID); err != nil {
		return fmt.Errorf("clear default streams: %w", err)
	}
	if len(streamIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO default_streams (realm_id, stream_id)
		SELECT $1, sid FROM unnest($2::bigint[]) AS sid
		ON CONFLICT (realm_id, stream_id) DO NOTHING`

	if _, err := q.Exec(ctx, query, realmID, streamIDs); err != nil {
		return fmt.Errorf("insert default streams: %w", err)
	}
	return nil
}

func (s *DefaultStreamStore) ListStreams(ctx context.Context, realmID int64) ([]models.Stream, error) {
	query := `
		SELECT st.id, st.realm_id, st.name
		FROM default_streams d
		JOIN streams st ON st.id = d.stream_id
		WHERE d.realm_id = $1
		ORDER BY st.name`

	rows, err := conn(ctx, s.pool).Query(ctx, query, realmID)
	if err != nil {
		return nil, fmt.Errorf("list default streams: %w", err)
	}
	defer rows.Close()

	streams := make([]models.Stream, 0)
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.RealmID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan default stream: %w", err)
		}
		streams = append(streams, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate default streams: %w", err)
	}
	return streams, nil
}
