// Package subscription records which users follow which streams. Rows are
// never deleted: unsubscribing flips Active. Every real change is audited
// before its transaction commits and drops the cached display recipient.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/resolver"
)

var (
	ErrNotSubscribed = errors.New("subscription: not subscribed")
	ErrInvalidColor  = errors.New("subscription: invalid color")
)

var colorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Invalidator drops a cached projection of a recipient.
type Invalidator interface {
	Invalidate(ctx context.Context, recipientID int64)
}

type Ledger struct {
	store    *repository.Store
	resolver *resolver.Resolver
	views    Invalidator
	events   eventlog.Recorder
	logger   *zap.Logger
}

func NewLedger(store *repository.Store, res *resolver.Resolver, views Invalidator, events eventlog.Recorder, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		resolver: res,
		views:    views,
		events:   events,
		logger:   logger,
	}
}

type Option func(*options)

type options struct {
	noLog bool
}

// NoLog skips the audit event, for replaying the event log itself.
func NoLog() Option {
	return func(o *options) { o.noLog = true }
}

func apply(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (l *Ledger) realmDomain(ctx context.Context, realmID int64) (string, error) {
	realm, err := l.store.Realms.GetByID(ctx, realmID)
	if err != nil {
		return "", fmt.Errorf("get realm: %w", err)
	}
	if realm == nil {
		return "", fmt.Errorf("realm %d: %w", realmID, repository.ErrNotFound)
	}
	return realm.Domain, nil
}

// Add makes user an active subscriber of stream. It reports true only when
// this call created or reactivated the subscription.
func (l *Ledger) Add(ctx context.Context, user *models.UserProfile, stream *models.Stream, opts ...Option) (bool, error) {
	o := apply(opts)

	rcpt, err := l.resolver.StreamRecipient(ctx, stream)
	if err != nil {
		return false, err
	}
	domain, err := l.realmDomain(ctx, stream.RealmID)
	if err != nil {
		return false, err
	}

	var changed bool
	add := func(ctx context.Context) error {
		changed = false
		sub, err := l.store.Subscriptions.Get(ctx, user.ID, rcpt.ID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		switch {
		case sub == nil:
			if _, err := l.store.Subscriptions.Create(ctx, user.ID, rcpt.ID, true); err != nil {
				return err
			}
			changed = true
		case !sub.Active:
			if err := l.store.Subscriptions.SetActive(ctx, sub.ID, true); err != nil {
				return fmt.Errorf("reactivate subscription: %w", err)
			}
			changed = true
		}
		if !changed || o.noLog {
			return nil
		}
		return l.audit(&eventlog.SubscriptionAdded{User: user.Email, Name: stream.Name, Domain: domain})
	}

	err = l.store.Tx.WithinTx(ctx, add)
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent Add inserted the row first; rerun against it.
		l.logger.Debug("subscription create conflict, retrying",
			zap.Int64("user_id", user.ID),
			zap.Int64("recipient_id", rcpt.ID),
		)
		err = l.store.Tx.WithinTx(ctx, add)
	}
	if err != nil {
		return false, fmt.Errorf("add subscription: %w", err)
	}

	if changed {
		l.views.Invalidate(ctx, rcpt.ID)
		l.logger.Info("subscribed",
			zap.Int64("user_id", user.ID),
			zap.Int64("stream_id", stream.ID),
		)
	}
	return changed, nil
}

// Remove deactivates user's subscription to stream. It reports false when
// there is no subscription or it was already inactive.
func (l *Ledger) Remove(ctx context.Context, user *models.UserProfile, stream *models.Stream, opts ...Option) (bool, error) {
	o := apply(opts)

	rcpt, err := l.resolver.StreamRecipient(ctx, stream)
	if err != nil {
		return false, err
	}
	domain, err := l.realmDomain(ctx, stream.RealmID)
	if err != nil {
		return false, err
	}

	var removed bool
	err = l.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := l.store.Subscriptions.Get(ctx, user.ID, rcpt.ID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		if sub == nil {
			return nil
		}
		removed = sub.Active
		if !removed {
			return nil
		}
		if err := l.store.Subscriptions.SetActive(ctx, sub.ID, false); err != nil {
			return fmt.Errorf("deactivate subscription: %w", err)
		}
		if o.noLog {
			return nil
		}
		return l.audit(&eventlog.SubscriptionRemoved{User: user.Email, Name: stream.Name, Domain: domain})
	})
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}

	if removed {
		l.views.Invalidate(ctx, rcpt.ID)
		l.logger.Info("unsubscribed",
			zap.Int64("user_id", user.ID),
			zap.Int64("stream_id", stream.ID),
		)
	}
	return removed, nil
}

// IsSubscribed reports whether user actively follows stream.
func (l *Ledger) IsSubscribed(ctx context.Context, user *models.UserProfile, stream *models.Stream) (bool, error) {
	rcpt, err := l.resolver.StreamRecipient(ctx, stream)
	if err != nil {
		return false, err
	}
	sub, err := l.store.Subscriptions.Get(ctx, user.ID, rcpt.ID)
	if err != nil {
		return false, fmt.Errorf("get subscription: %w", err)
	}
	return sub != nil && sub.Active, nil
}

// SetColor stores the subscriber's display color for stream, "#rgb" or
// "#rrggbb".
func (l *Ledger) SetColor(ctx context.Context, user *models.UserProfile, stream *models.Stream, color string, opts ...Option) error {
	if !colorRe.MatchString(color) {
		return fmt.Errorf("color %q: %w", color, ErrInvalidColor)
	}
	o := apply(opts)

	rcpt, err := l.resolver.StreamRecipient(ctx, stream)
	if err != nil {
		return err
	}

	return l.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := l.store.Subscriptions.Get(ctx, user.ID, rcpt.ID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		if sub == nil {
			return fmt.Errorf("stream %q: %w", stream.Name, ErrNotSubscribed)
		}
		if err := l.store.Subscriptions.SetColor(ctx, sub.ID, color); err != nil {
			return fmt.Errorf("set subscription color: %w", err)
		}
		if o.noLog {
			return nil
		}
		return l.audit(&eventlog.SubscriptionProperty{
			Property:   "color",
			User:       user.Email,
			StreamName: stream.Name,
			Value:      color,
		})
	})
}

func (l *Ledger) audit(ev eventlog.Event) error {
	if err := l.events.Append(ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Kind(), err)
	}
	return nil
}
