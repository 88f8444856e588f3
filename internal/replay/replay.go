// Package replay rebuilds realms, users, subscriptions and messages from an
// event log. Every replayed operation runs with auditing suppressed, so
// replaying into a store never grows the log it reads.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
)

var ErrUnsupported = errors.New("replay: unsupported event")

type Replayer struct {
	registry *registry.Registry
	resolver *resolver.Resolver
	ledger   *subscription.Ledger
	engine   *delivery.Engine
	logger   *zap.Logger
}

func New(reg *registry.Registry, res *resolver.Resolver, ledger *subscription.Ledger, engine *delivery.Engine, logger *zap.Logger) *Replayer {
	return &Replayer{registry: reg, resolver: res, ledger: ledger, engine: engine, logger: logger}
}

// Stats counts applied events by kind.
type Stats map[string]int

// File replays every event in path, stopping at the first failure.
func (r *Replayer) File(ctx context.Context, path string) (Stats, error) {
	stats := Stats{}
	err := eventlog.ReplayFile(path, func(ev eventlog.Event) error {
		if err := r.Apply(ctx, ev); err != nil {
			return err
		}
		stats[ev.Kind()]++
		return nil
	})
	return stats, err
}

// Apply performs the operation ev records.
func (r *Replayer) Apply(ctx context.Context, ev eventlog.Event) error {
	var err error
	switch e := ev.(type) {
	case *eventlog.RealmCreated:
		_, _, err = r.registry.CreateRealm(ctx, e.Domain, registry.Replay())
	case *eventlog.UserCreated:
		err = r.userCreated(ctx, e)
	case *eventlog.UserActivated:
		err = r.withUser(ctx, e.User, func(u *models.UserProfile) error {
			return r.registry.ActivateUser(ctx, u.ID, registry.Replay())
		})
	case *eventlog.UserDeactivated:
		err = r.withUser(ctx, e.User, func(u *models.UserProfile) error {
			return r.registry.DeactivateUser(ctx, u.ID, registry.Replay())
		})
	case *eventlog.UserChangeFullName:
		err = r.withUser(ctx, e.User, func(u *models.UserProfile) error {
			return r.registry.ChangeFullName(ctx, u.ID, e.FullName, registry.Replay())
		})
	case *eventlog.EnableDesktopNotificationsChanged:
		err = r.withUser(ctx, e.User, func(u *models.UserProfile) error {
			return r.registry.ChangeEnableDesktopNotifications(ctx, u.ID, e.EnableDesktopNotifications, registry.Replay())
		})
	case *eventlog.SubscriptionAdded:
		err = r.subscription(ctx, e.User, e.Domain, e.Name, true)
	case *eventlog.SubscriptionRemoved:
		err = r.subscription(ctx, e.User, e.Domain, e.Name, false)
	case *eventlog.SubscriptionProperty:
		err = r.subscriptionProperty(ctx, e)
	case *eventlog.MessageSent:
		err = r.messageSent(ctx, e)
	default:
		err = fmt.Errorf("%s: %w", ev.Kind(), ErrUnsupported)
	}
	if err != nil {
		return fmt.Errorf("replay %s: %w", ev.Kind(), err)
	}
	return nil
}

func (r *Replayer) withUser(ctx context.Context, email string, fn func(u *models.UserProfile) error) error {
	u, err := r.registry.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return fn(u)
}

// userCreated is a no-op for an account that already exists.
func (r *Replayer) userCreated(ctx context.Context, e *eventlog.UserCreated) error {
	realm, err := r.registry.GetRealmByDomain(ctx, e.Domain)
	if err != nil {
		return err
	}
	_, err = r.registry.CreateUser(ctx, registry.NewUser{
		RealmID:   realm.ID,
		Email:     e.User,
		FullName:  e.FullName,
		ShortName: e.ShortName,
	}, registry.Replay())
	if errors.Is(err, registry.ErrEmailTaken) {
		r.logger.Debug("replayed user already exists", zap.String("email", e.User))
		return nil
	}
	return err
}

// subscription resolves the stream in the realm named by domain, falling
// back to the user's own realm for events written without one.
func (r *Replayer) subscription(ctx context.Context, email, domain, streamName string, add bool) error {
	return r.withUser(ctx, email, func(u *models.UserProfile) error {
		realmID := u.RealmID
		if domain != "" {
			realm, err := r.registry.GetRealmByDomain(ctx, domain)
			if err != nil {
				return err
			}
			realmID = realm.ID
		}
		st, _, err := r.resolver.ResolveStream(ctx, realmID, streamName)
		if err != nil {
			return err
		}
		if add {
			_, err = r.ledger.Add(ctx, u, st, subscription.NoLog())
		} else {
			_, err = r.ledger.Remove(ctx, u, st, subscription.NoLog())
		}
		return err
	})
}

func (r *Replayer) subscriptionProperty(ctx context.Context, e *eventlog.SubscriptionProperty) error {
	if e.Property != "color" {
		return fmt.Errorf("property %q: %w", e.Property, ErrUnsupported)
	}
	return r.withUser(ctx, e.User, func(u *models.UserProfile) error {
		st, _, err := r.resolver.ResolveStream(ctx, u.RealmID, e.StreamName)
		if err != nil {
			return err
		}
		return r.ledger.SetColor(ctx, u, st, e.Value, subscription.NoLog())
	})
}

func (r *Replayer) messageSent(ctx context.Context, e *eventlog.MessageSent) error {
	sender, err := r.registry.GetUserByEmail(ctx, e.SenderEmail)
	if err != nil {
		return err
	}
	rcpt, err := r.recipient(ctx, sender, e)
	if err != nil {
		return err
	}
	client, err := r.resolver.GetClient(ctx, e.SendingClient)
	if err != nil {
		return err
	}
	_, err = r.engine.Send(ctx, &delivery.Draft{
		Sender:    sender,
		Recipient: rcpt,
		Client:    client,
		Subject:   e.Subject,
		Content:   e.Content,
		PubDate:   fromTimestamp(e.Timestamp),
	}, delivery.NoLog())
	return err
}

func (r *Replayer) recipient(ctx context.Context, sender *models.UserProfile, e *eventlog.MessageSent) (*models.Recipient, error) {
	switch e.RecipientType {
	case models.RecipientStream.String():
		_, rcpt, err := r.resolver.ResolveStream(ctx, sender.RealmID, e.Recipient.StreamName)
		return rcpt, err
	case models.RecipientPersonal.String():
		if len(e.Recipient.Users) != 1 {
			return nil, fmt.Errorf("personal recipient with %d users: %w", len(e.Recipient.Users), ErrUnsupported)
		}
		u, err := r.registry.GetUserByEmail(ctx, e.Recipient.Users[0].Email)
		if err != nil {
			return nil, err
		}
		return r.resolver.PersonalRecipient(ctx, u.ID)
	case models.RecipientHuddle.String():
		ids := make([]int64, 0, len(e.Recipient.Users))
		for _, du := range e.Recipient.Users {
			u, err := r.registry.GetUserByEmail(ctx, du.Email)
			if err != nil {
				return nil, err
			}
			ids = append(ids, u.ID)
		}
		_, rcpt, err := r.resolver.ResolveHuddle(ctx, ids)
		return rcpt, err
	}
	return nil, fmt.Errorf("recipient type %q: %w", e.RecipientType, ErrUnsupported)
}

func fromTimestamp(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
