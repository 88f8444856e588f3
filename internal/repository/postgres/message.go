package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Create inserts the message; bigserial assigns the id, which doubles as
// the per-recipient ordering key.
func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (sender_id, recipient_id, subject, content, pub_date, sending_client_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := conn(ctx, s.pool).QueryRow(ctx, query,
		m.SenderID,
		m.RecipientID,
		m.Subject,
		m.Content,
		m.PubDate,
		m.SendingClientID,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, sender_id, recipient_id, subject, content, pub_date, sending_client_id
		FROM messages
		WHERE id = $1`

	var m models.Message
	err := conn(ctx, s.pool).QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.SenderID,
		&m.RecipientID,
		&m.Subject,
		&m.Content,
		&m.PubDate,
		&m.SendingClientID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

func (s *MessageStore) RemoveUnreachable(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM messages m
		WHERE NOT EXISTS (
			SELECT 1 FROM user_messages um WHERE um.message_id = m.id
		)`

	tag, err := conn(ctx, s.pool).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("remove unreachable messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
