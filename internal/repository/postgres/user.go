package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
)

const userColumns = `id, realm_id, email, full_name, short_name, password_hash, api_key,
	pointer, last_pointer_updater, is_active, enable_desktop_notifications, date_joined`

// userColumnsU is userColumns qualified with the "u" alias used in joins.
const userColumnsU = `u.id, u.realm_id, u.email, u.full_name, u.short_name, u.password_hash, u.api_key,
	u.pointer, u.last_pointer_updater, u.is_active, u.enable_desktop_notifications, u.date_joined`

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func scanUser(row pgx.Row, u *models.UserProfile) error {
	return row.Scan(
		&u.ID,
		&u.RealmID,
		&u.Email,
		&u.FullName,
		&u.ShortName,
		&u.PasswordHash,
		&u.APIKey,
		&u.Pointer,
		&u.LastPointerUpdater,
		&u.IsActive,
		&u.EnableDesktopNotifications,
		&u.DateJoined,
	)
}

// collectUsers drains rows into a slice. Always returns a non-nil slice on success.
func collectUsers(rows pgx.Rows) ([]models.UserProfile, error) {
	defer rows.Close()

	users := make([]models.UserProfile, 0)
	for rows.Next() {
		var u models.UserProfile
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Create inserts a new user row. Postgres assigns the id and date_joined.
func (s *UserStore) Create(ctx context.Context, u *models.UserProfile) error {
	query := `
		INSERT INTO users (realm_id, email, full_name, short_name, password_hash, api_key,
			pointer, last_pointer_updater, is_active, enable_desktop_notifications, date_joined)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, date_joined`

	err := conn(ctx, s.pool).QueryRow(ctx, query,
		u.RealmID,
		u.Email,
		u.FullName,
		u.ShortName,
		u.PasswordHash,
		u.APIKey,
		u.Pointer,
		u.LastPointerUpdater,
		u.IsActive,
		u.EnableDesktopNotifications,
	).Scan(&u.ID, &u.DateJoined)
	if err != nil {
		return mapCreateErr("insert user", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*models.UserProfile, error) {
	return s.getOne(ctx, "id = $1", id)
}

// GetByEmail matches case-insensitively; emails are stored as entered.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	return s.getOne(ctx, "lower(email) = lower($1)", email)
}

func (s *UserStore) getOne(ctx context.Context, where string, arg any) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	var u models.UserProfile
	if err := scanUser(conn(ctx, s.pool).QueryRow(ctx, query, arg), &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *UserStore) GetByIDs(ctx context.Context, ids []int64) ([]models.UserProfile, error) {
	if len(ids) == 0 {
		return make([]models.UserProfile, 0), nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) ORDER BY id`

	rows, err := conn(ctx, s.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list users by id: %w", err)
	}
	return collectUsers(rows)
}

func (s *UserStore) ListByEmails(ctx context.Context, realmID int64, emails []string) ([]models.UserProfile, error) {
	if len(emails) == 0 {
		return make([]models.UserProfile, 0), nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE realm_id = $1 AND lower(email) = ANY($2)
		ORDER BY email`

	rows, err := conn(ctx, s.pool).Query(ctx, query, realmID, lowered)
	if err != nil {
		return nil, fmt.Errorf("list users by email: %w", err)
	}
	return collectUsers(rows)
}

func (s *UserStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, "is_active = $2", id, active)
}

func (s *UserStore) SetFullName(ctx context.Context, id int64, fullName string) error {
	return s.update(ctx, "full_name = $2", id, fullName)
}

func (s *UserStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.update(ctx, "password_hash = $2", id, hash)
}

func (s *UserStore) SetEnableDesktopNotifications(ctx context.Context, id int64, enabled bool) error {
	return s.update(ctx, "enable_desktop_notifications = $2", id, enabled)
}

func (s *UserStore) SetPointer(ctx context.Context, id int64, pointer int64, updater string) error {
	query := `UPDATE users SET pointer = $2, last_pointer_updater = $3 WHERE id = $1`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, id, pointer, updater)
	if err != nil {
		return fmt.Errorf("update user pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user pointer: %w", repository.ErrNotFound)
	}
	return nil
}

func (s *UserStore) update(ctx context.Context, set string, id int64, value any) error {
	query := `UPDATE users SET ` + set + ` WHERE id = $1`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user: %w", repository.ErrNotFound)
	}
	return nil
}
