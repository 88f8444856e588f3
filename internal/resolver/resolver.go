// Package resolver maps addressing inputs (a stream name, a set of user
// ids, a client name) to canonical rows, creating them on first use.
//
// Every creation is optimistic: insert, and if a unique constraint says a
// concurrent caller won, roll back and read the winner's row. No row is
// ever locked before it exists.
package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/repository"
)

var (
	ErrInvalidStreamName = errors.New("resolver: invalid stream name")
	ErrInvalidClientName = errors.New("resolver: invalid client name")
	ErrUnknownUser       = errors.New("resolver: unknown user")
	ErrEmptyHuddle       = errors.New("resolver: huddle needs at least one member")
	ErrMissingRecipient  = errors.New("resolver: recipient row missing")
)

const (
	maxStreamNameLen = 30
	maxClientNameLen = 30
)

type Resolver struct {
	store   *repository.Store
	logger  *zap.Logger
	metrics *observ.Metrics
}

func New(store *repository.Store, logger *zap.Logger, metrics *observ.Metrics) *Resolver {
	return &Resolver{store: store, logger: logger, metrics: metrics}
}

// HuddleHash is the SHA-1 hex digest of the sorted, de-duplicated ids
// joined by commas.
func HuddleHash(userIDs []int64) string {
	ids := dedupSorted(userIDs)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

func dedupSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// conflict records a lost creation race.
func (r *Resolver) conflict(entity string, fields ...zap.Field) {
	r.metrics.Conflict(entity)
	r.logger.Debug("create conflict, refetching", append(fields, zap.String("entity", entity))...)
}

// ValidateStreamName trims name and checks it is non-empty and at most 30
// characters.
func ValidateStreamName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxStreamNameLen {
		return "", fmt.Errorf("stream name %q: %w", name, ErrInvalidStreamName)
	}
	return name, nil
}

// ResolveStream returns the realm's stream matching name case-insensitively,
// creating it and its recipient in one transaction when missing.
func (r *Resolver) ResolveStream(ctx context.Context, realmID int64, name string) (*models.Stream, *models.Recipient, error) {
	name, err := ValidateStreamName(name)
	if err != nil {
		return nil, nil, err
	}

	st, rcpt, err := r.lookupStream(ctx, realmID, name)
	if err != nil || st != nil {
		return st, rcpt, err
	}

	err = r.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = r.store.Streams.Create(ctx, realmID, name)
		if err != nil {
			return err
		}
		rcpt, err = r.store.Recipients.Create(ctx, models.RecipientStream, st.ID)
		if err != nil {
			return fmt.Errorf("create stream recipient: %w", err)
		}
		return nil
	})
	if errors.Is(err, repository.ErrConflict) {
		r.conflict("stream", zap.Int64("realm_id", realmID), zap.String("stream", name))
		st, rcpt, err = r.lookupStream(ctx, realmID, name)
		if err != nil {
			return nil, nil, err
		}
		if st == nil {
			return nil, nil, fmt.Errorf("refetch stream %q: %w", name, repository.ErrNotFound)
		}
		return st, rcpt, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create stream: %w", err)
	}

	r.logger.Info("stream created",
		zap.Int64("stream_id", st.ID),
		zap.Int64("realm_id", realmID),
		zap.String("stream", name),
	)
	return st, rcpt, nil
}

// GetStream returns the stream and its recipient without creating them.
// Both are nil when the stream does not exist.
func (r *Resolver) GetStream(ctx context.Context, realmID int64, name string) (*models.Stream, *models.Recipient, error) {
	return r.lookupStream(ctx, realmID, strings.TrimSpace(name))
}

func (r *Resolver) lookupStream(ctx context.Context, realmID int64, name string) (*models.Stream, *models.Recipient, error) {
	st, err := r.store.Streams.GetByName(ctx, realmID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("get stream: %w", err)
	}
	if st == nil {
		return nil, nil, nil
	}
	rcpt, err := r.StreamRecipient(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	return st, rcpt, nil
}

func (r *Resolver) StreamRecipient(ctx context.Context, st *models.Stream) (*models.Recipient, error) {
	return r.recipient(ctx, models.RecipientStream, st.ID)
}

func (r *Resolver) recipient(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error) {
	rcpt, err := r.store.Recipients.Get(ctx, typ, typeID)
	if err != nil {
		return nil, fmt.Errorf("get %s recipient: %w", typ, err)
	}
	if rcpt == nil {
		return nil, fmt.Errorf("%s %d: %w", typ, typeID, ErrMissingRecipient)
	}
	return rcpt, nil
}

// ResolveHuddle returns the huddle for exactly this member set. On first
// use it creates the huddle, its recipient and one subscription per member
// in one transaction.
func (r *Resolver) ResolveHuddle(ctx context.Context, userIDs []int64) (*models.Huddle, *models.Recipient, error) {
	ids := dedupSorted(userIDs)
	if len(ids) == 0 {
		return nil, nil, ErrEmptyHuddle
	}
	hash := HuddleHash(ids)

	h, rcpt, err := r.lookupHuddle(ctx, hash)
	if err != nil || h != nil {
		return h, rcpt, err
	}

	users, err := r.store.Users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load huddle members: %w", err)
	}
	if len(users) != len(ids) {
		return nil, nil, fmt.Errorf("huddle members %v: %w", ids, ErrUnknownUser)
	}

	err = r.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		h, err = r.store.Huddles.Create(ctx, hash)
		if err != nil {
			return err
		}
		rcpt, err = r.store.Recipients.Create(ctx, models.RecipientHuddle, h.ID)
		if err != nil {
			return fmt.Errorf("create huddle recipient: %w", err)
		}
		for _, id := range ids {
			if _, err := r.store.Subscriptions.Create(ctx, id, rcpt.ID, true); err != nil {
				return fmt.Errorf("create huddle subscription: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, repository.ErrConflict) {
		r.conflict("huddle", zap.String("huddle_hash", hash))
		h, rcpt, err = r.lookupHuddle(ctx, hash)
		if err != nil {
			return nil, nil, err
		}
		if h == nil {
			return nil, nil, fmt.Errorf("refetch huddle %s: %w", hash, repository.ErrNotFound)
		}
		return h, rcpt, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create huddle: %w", err)
	}

	r.logger.Info("huddle created", zap.Int64("huddle_id", h.ID), zap.Int("members", len(ids)))
	return h, rcpt, nil
}

func (r *Resolver) lookupHuddle(ctx context.Context, hash string) (*models.Huddle, *models.Recipient, error) {
	h, err := r.store.Huddles.GetByHash(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("get huddle: %w", err)
	}
	if h == nil {
		return nil, nil, nil
	}
	rcpt, err := r.recipient(ctx, models.RecipientHuddle, h.ID)
	if err != nil {
		return nil, nil, err
	}
	return h, rcpt, nil
}

// PersonalRecipient returns the recipient created alongside the user.
func (r *Resolver) PersonalRecipient(ctx context.Context, userID int64) (*models.Recipient, error) {
	return r.recipient(ctx, models.RecipientPersonal, userID)
}

func (r *Resolver) GetRecipient(ctx context.Context, id int64) (*models.Recipient, error) {
	rcpt, err := r.store.Recipients.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	if rcpt == nil {
		return nil, fmt.Errorf("recipient %d: %w", id, ErrMissingRecipient)
	}
	return rcpt, nil
}

// GetClient returns the client named name, registering it on first use.
func (r *Resolver) GetClient(ctx context.Context, name string) (*models.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxClientNameLen {
		return nil, fmt.Errorf("client name %q: %w", name, ErrInvalidClientName)
	}

	c, err := r.store.Clients.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if c != nil {
		return c, nil
	}

	c, err = r.store.Clients.Create(ctx, name)
	if errors.Is(err, repository.ErrConflict) {
		r.conflict("client", zap.String("client", name))
		c, err = r.store.Clients.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("refetch client: %w", err)
		}
		if c == nil {
			return nil, fmt.Errorf("refetch client %q: %w", name, repository.ErrNotFound)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

func (r *Resolver) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	c, err := r.store.Clients.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("client %d: %w", id, repository.ErrNotFound)
	}
	return c, nil
}
