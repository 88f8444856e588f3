// Package views computes the read-side projections of stored rows: the
// display form of a recipient and the rendered message dict handed to
// clients and the push gateway. Both are cached and recomputed on a miss.
package views

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/cache"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/render"
	"github.com/lalith-99/courier/internal/repository"
)

type Projector struct {
	store    *repository.Store
	cache    cache.Store
	renderer *render.Renderer
	ttl      time.Duration
	logger   *zap.Logger
}

func NewProjector(store *repository.Store, c cache.Store, renderer *render.Renderer, ttl time.Duration, logger *zap.Logger) *Projector {
	return &Projector{
		store:    store,
		cache:    c,
		renderer: renderer,
		ttl:      ttl,
		logger:   logger,
	}
}

// DisplayRecipient returns the stream name for a stream recipient, or the
// subscribed users ordered by email for personal and huddle recipients.
func (p *Projector) DisplayRecipient(ctx context.Context, rcpt *models.Recipient) (models.DisplayRecipient, error) {
	key := cache.DisplayRecipientKey(rcpt.ID)

	var d models.DisplayRecipient
	if p.getCached(ctx, key, &d) {
		return d, nil
	}

	d, err := p.computeDisplayRecipient(ctx, rcpt)
	if err != nil {
		return models.DisplayRecipient{}, err
	}
	p.setCached(ctx, key, d)
	return d, nil
}

func (p *Projector) computeDisplayRecipient(ctx context.Context, rcpt *models.Recipient) (models.DisplayRecipient, error) {
	if rcpt.Type == models.RecipientStream {
		st, err := p.store.Streams.GetByID(ctx, rcpt.TypeID)
		if err != nil {
			return models.DisplayRecipient{}, fmt.Errorf("get stream: %w", err)
		}
		if st == nil {
			return models.DisplayRecipient{}, fmt.Errorf("get stream %d: %w", rcpt.TypeID, repository.ErrNotFound)
		}
		return models.DisplayRecipient{StreamName: st.Name}, nil
	}

	members, err := p.store.Subscriptions.ListMembers(ctx, rcpt.ID)
	if err != nil {
		return models.DisplayRecipient{}, fmt.Errorf("list recipient members: %w", err)
	}
	users := make([]models.DisplayUser, 0, len(members))
	for _, u := range members {
		users = append(users, DisplayUser(&u))
	}
	return models.DisplayRecipient{Users: users}, nil
}

// Invalidate drops the cached projection of a recipient. A cache failure
// is logged; the entry then expires by TTL.
func (p *Projector) Invalidate(ctx context.Context, recipientID int64) {
	if err := p.cache.Delete(ctx, cache.DisplayRecipientKey(recipientID)); err != nil {
		p.logger.Warn("invalidate display recipient",
			zap.Int64("recipient_id", recipientID),
			zap.Error(err),
		)
	}
}

// InvalidateUser drops the display projections of every private recipient
// the user belongs to, so a renamed user shows up with the new name.
func (p *Projector) InvalidateUser(ctx context.Context, userID int64) {
	ids, err := p.store.Subscriptions.ListPrivateRecipientIDs(ctx, userID)
	if err != nil {
		p.logger.Warn("list private recipients for invalidation",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return
	}
	for _, id := range ids {
		p.Invalidate(ctx, id)
	}
}

func DisplayUser(u *models.UserProfile) models.DisplayUser {
	return models.DisplayUser{Email: u.Email, FullName: u.FullName, ShortName: u.ShortName}
}

// getCached decodes key into dst. Any cache or decode error is a miss.
func (p *Projector) getCached(ctx context.Context, key string, dst any) bool {
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		p.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (p *Projector) setCached(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
		p.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
