// Package registry owns realms and user profiles: creation with their
// audit events, account state changes, credentials, and a bounded read
// cache of profiles keyed by id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/repository"
)

var (
	ErrInvalidRealm       = errors.New("registry: invalid realm domain")
	ErrRealmNotFound      = errors.New("registry: realm not found")
	ErrInvalidUser        = errors.New("registry: invalid user")
	ErrUserNotFound       = errors.New("registry: user not found")
	ErrEmailTaken         = errors.New("registry: email already registered")
	ErrInvalidCredentials = errors.New("registry: invalid credentials")
)

const (
	maxDomainLen    = 40
	maxFullNameLen  = 100
	maxShortNameLen = 100
)

type Options struct {
	// CacheMaxEntries bounds the number of cached profiles.
	CacheMaxEntries int64
	CacheTTL        time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Views, when set, is told about users whose displayed name changed.
	Views UserInvalidator
}

// UserInvalidator drops read-side projections that embed a user's profile.
type UserInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64)
}

type Registry struct {
	store   *repository.Store
	events  eventlog.Recorder
	users   *ristretto.Cache
	opts    Options
	logger  *zap.Logger
	metrics *observ.Metrics
}

func New(store *repository.Store, events eventlog.Recorder, logger *zap.Logger, metrics *observ.Metrics, opts Options) (*Registry, error) {
	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = 10000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	users, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheMaxEntries * 10,
		MaxCost:     opts.CacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}

	return &Registry{
		store:   store,
		events:  events,
		users:   users,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (r *Registry) Close() {
	r.users.Close()
}

// Option tunes a single registry call.
type Option func(*callOptions)

type callOptions struct {
	replay        bool
	plainTextOnly bool
}

// Replay suppresses audit events, for rebuilding state from the event log.
func Replay() Option {
	return func(o *callOptions) { o.replay = true }
}

// PlainTextOnly marks a realm created by CreateRealm as plain-text only.
func PlainTextOnly() Option {
	return func(o *callOptions) { o.plainTextOnly = true }
}

func apply(opts []Option) callOptions {
	var o callOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (r *Registry) audit(o callOptions, ev eventlog.Event) error {
	if o.replay {
		return nil
	}
	if err := r.events.Append(ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Kind(), err)
	}
	return nil
}

// CreateRealm returns the realm for domain, creating it if needed. The bool
// reports whether this call created it.
func (r *Registry) CreateRealm(ctx context.Context, domain string, opts ...Option) (*models.Realm, bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || utf8.RuneCountInString(domain) > maxDomainLen {
		return nil, false, fmt.Errorf("create realm %q: %w", domain, ErrInvalidRealm)
	}
	o := apply(opts)

	existing, err := r.store.Realms.GetByDomain(ctx, domain)
	if err != nil {
		return nil, false, fmt.Errorf("get realm: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	var realm *models.Realm
	err = r.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		realm, err = r.store.Realms.Create(ctx, domain, o.plainTextOnly)
		if err != nil {
			return err
		}
		return r.audit(o, &eventlog.RealmCreated{Domain: domain})
	})
	if errors.Is(err, repository.ErrConflict) {
		r.metrics.Conflict("realm")
		r.logger.Debug("realm create conflict, refetching", zap.String("domain", domain))
		existing, err := r.store.Realms.GetByDomain(ctx, domain)
		if err != nil {
			return nil, false, fmt.Errorf("refetch realm: %w", err)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("refetch realm %q: %w", domain, ErrRealmNotFound)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create realm: %w", err)
	}

	r.logger.Info("realm created", zap.Int64("realm_id", realm.ID), zap.String("domain", domain))
	return realm, true, nil
}

func (r *Registry) GetRealm(ctx context.Context, id int64) (*models.Realm, error) {
	realm, err := r.store.Realms.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get realm: %w", err)
	}
	if realm == nil {
		return nil, fmt.Errorf("get realm %d: %w", id, ErrRealmNotFound)
	}
	return realm, nil
}

func (r *Registry) GetRealmByDomain(ctx context.Context, domain string) (*models.Realm, error) {
	realm, err := r.store.Realms.GetByDomain(ctx, strings.ToLower(domain))
	if err != nil {
		return nil, fmt.Errorf("get realm: %w", err)
	}
	if realm == nil {
		return nil, fmt.Errorf("get realm %q: %w", domain, ErrRealmNotFound)
	}
	return realm, nil
}
