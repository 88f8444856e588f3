package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type UserMessageStore struct {
	pool *pgxpool.Pool
}

func NewUserMessageStore(pool *pgxpool.Pool) *UserMessageStore {
	return &UserMessageStore{pool: pool}
}

// CreateBatch writes every delivery marker for a message in one statement.
// A duplicate (user, message) pair violates the unique constraint and fails
// the whole batch.
func (s *UserMessageStore) CreateBatch(ctx context.Context, messageID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO user_messages (user_id, message_id, archived)
		SELECT uid, $2, false FROM unnest($1::bigint[]) AS uid`

	if _, err := conn(ctx, s.pool).Exec(ctx, query, userIDs, messageID); err != nil {
		return mapCreateErr("insert user messages", err)
	}
	return nil
}

func (s *UserMessageStore) ListUserIDs(ctx context.Context, messageID int64) ([]int64, error) {
	query := `SELECT user_id FROM user_messages WHERE message_id = $1 ORDER BY user_id`

	rows, err := conn(ctx, s.pool).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list user messages: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user message: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user messages: %w", err)
	}
	return ids, nil
}
