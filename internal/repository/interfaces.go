package repository

import (
	"context"
	"errors"

	"github.com/lalith-99/courier/internal/models"
)

// Every method takes a context.Context first. A transaction started by
// Transactor.WithinTx travels inside that context, so the same repository
// value works both inside and outside a transaction.
//
// Lookups return nil, nil when the row does not exist. Creates return
// ErrConflict when a uniqueness constraint rejects the row.

var (
	// ErrConflict is returned by Create methods when a concurrent (or earlier)
	// writer already inserted a row with the same unique key.
	ErrConflict = errors.New("repository: unique constraint conflict")

	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("repository: not found")
)

// Transactor runs fn inside one atomic unit. fn's context carries the
// transaction; a nil return commits, anything else (including a panic)
// rolls back. Calling WithinTx with a context that already holds a
// transaction joins it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RealmRepository interface {
	Create(ctx context.Context, domain string, plainTextOnly bool) (*models.Realm, error)
	GetByID(ctx context.Context, id int64) (*models.Realm, error)
	GetByDomain(ctx context.Context, domain string) (*models.Realm, error)
}

type UserRepository interface {
	// Create inserts u and fills in ID and DateJoined.
	Create(ctx context.Context, u *models.UserProfile) error
	GetByID(ctx context.Context, id int64) (*models.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)

	// GetByIDs loads many users in one round trip. Missing ids are skipped.
	GetByIDs(ctx context.Context, ids []int64) ([]models.UserProfile, error)

	// ListByEmails loads the users of one realm whose email is in emails.
	ListByEmails(ctx context.Context, realmID int64, emails []string) ([]models.UserProfile, error)

	SetActive(ctx context.Context, id int64, active bool) error
	SetFullName(ctx context.Context, id int64, fullName string) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	SetEnableDesktopNotifications(ctx context.Context, id int64, enabled bool) error
	SetPointer(ctx context.Context, id int64, pointer int64, updater string) error
}

type ClientRepository interface {
	Create(ctx context.Context, name string) (*models.Client, error)
	GetByName(ctx context.Context, name string) (*models.Client, error)
	GetByID(ctx context.Context, id int64) (*models.Client, error)
}

type StreamRepository interface {
	Create(ctx context.Context, realmID int64, name string) (*models.Stream, error)
	GetByID(ctx context.Context, id int64) (*models.Stream, error)

	// GetByName matches name case-insensitively within the realm.
	GetByName(ctx context.Context, realmID int64, name string) (*models.Stream, error)
}

type RecipientRepository interface {
	Create(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error)
	GetByID(ctx context.Context, id int64) (*models.Recipient, error)
	Get(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error)
}

type HuddleRepository interface {
	Create(ctx context.Context, hash string) (*models.Huddle, error)
	GetByHash(ctx context.Context, hash string) (*models.Huddle, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, userID, recipientID int64, active bool) (*models.Subscription, error)
	Get(ctx context.Context, userID, recipientID int64) (*models.Subscription, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetColor(ctx context.Context, id int64, color string) error

	// ListActiveSubscribers returns every user with an active subscription to
	// the recipient, in one joined query.
	ListActiveSubscribers(ctx context.Context, recipientID int64) ([]models.UserProfile, error)

	// ListMembers returns the users subscribed to the recipient (active or
	// not), ordered by email ascending.
	ListMembers(ctx context.Context, recipientID int64) ([]models.UserProfile, error)

	// ListPrivateRecipientIDs returns the personal and huddle recipients the
	// user has a subscription row for, active or not, in ascending order.
	ListPrivateRecipientIDs(ctx context.Context, userID int64) ([]int64, error)
}

type MessageRepository interface {
	// Create inserts m and fills in ID.
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)

	// RemoveUnreachable deletes every message that no UserMessage references
	// and returns how many were removed.
	RemoveUnreachable(ctx context.Context) (int64, error)
}

type UserMessageRepository interface {
	// CreateBatch inserts one row per user id for the message.
	CreateBatch(ctx context.Context, messageID int64, userIDs []int64) error
	ListUserIDs(ctx context.Context, messageID int64) ([]int64, error)
}

type DefaultStreamRepository interface {
	// Replace drops the realm's default streams and stores streamIDs instead.
	Replace(ctx context.Context, realmID int64, streamIDs []int64) error
	ListStreams(ctx context.Context, realmID int64) ([]models.Stream, error)
}

// Store bundles every repository plus the transactor that spans them.
// postgres.NewStore and memory.NewStore both return one.
type Store struct {
	Tx             Transactor
	Realms         RealmRepository
	Users          UserRepository
	Clients        ClientRepository
	Streams        StreamRepository
	Recipients     RecipientRepository
	Huddles        HuddleRepository
	Subscriptions  SubscriptionRepository
	Messages       MessageRepository
	UserMessages   UserMessageRepository
	DefaultStreams DefaultStreamRepository
}
