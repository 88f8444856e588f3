package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
)

type NewUser struct {
	RealmID   int64
	Email     string
	Password  string
	FullName  string
	ShortName string
	// Inactive creates the account deactivated (e.g. a mirrored sender).
	Inactive bool
}

func newAPIKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *Registry) hashPassword(password string) (string, error) {
	if password == "" {
		// No usable password: Authenticate always fails for this account.
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.opts.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser records user_created, then inserts the profile, its personal
// recipient and its self-subscription in one transaction.
func (r *Registry) CreateUser(ctx context.Context, nu NewUser, opts ...Option) (*models.UserProfile, error) {
	nu.Email = strings.TrimSpace(nu.Email)
	if !strings.Contains(nu.Email, "@") {
		return nil, fmt.Errorf("create user %q: %w", nu.Email, ErrInvalidUser)
	}
	if utf8.RuneCountInString(nu.FullName) > maxFullNameLen || utf8.RuneCountInString(nu.ShortName) > maxShortNameLen {
		return nil, fmt.Errorf("create user %q: name too long: %w", nu.Email, ErrInvalidUser)
	}
	o := apply(opts)

	realm, err := r.GetRealm(ctx, nu.RealmID)
	if err != nil {
		return nil, err
	}

	hash, err := r.hashPassword(nu.Password)
	if err != nil {
		return nil, err
	}

	u := &models.UserProfile{
		RealmID:                    realm.ID,
		Email:                      nu.Email,
		FullName:                   nu.FullName,
		ShortName:                  nu.ShortName,
		PasswordHash:               hash,
		APIKey:                     newAPIKey(),
		Pointer:                    -1,
		IsActive:                   !nu.Inactive,
		EnableDesktopNotifications: true,
	}

	err = r.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.audit(o, &eventlog.UserCreated{
			User:      u.Email,
			FullName:  u.FullName,
			ShortName: u.ShortName,
			Domain:    realm.Domain,
		}); err != nil {
			return err
		}
		if err := r.store.Users.Create(ctx, u); err != nil {
			return err
		}
		rcpt, err := r.store.Recipients.Create(ctx, models.RecipientPersonal, u.ID)
		if err != nil {
			return fmt.Errorf("create personal recipient: %w", err)
		}
		if _, err := r.store.Subscriptions.Create(ctx, u.ID, rcpt.ID, true); err != nil {
			return fmt.Errorf("create self subscription: %w", err)
		}
		return nil
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("create user %q: %w", nu.Email, ErrEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	r.logger.Info("user created",
		zap.Int64("user_id", u.ID),
		zap.Int64("realm_id", u.RealmID),
	)
	return u, nil
}

func (r *Registry) cacheUser(u *models.UserProfile) {
	r.users.SetWithTTL(u.ID, *u, 1, r.opts.CacheTTL)
}

func (r *Registry) cachedUser(id int64) (*models.UserProfile, bool) {
	v, ok := r.users.Get(id)
	if !ok {
		return nil, false
	}
	u := v.(models.UserProfile)
	return &u, true
}

// invalidate drops id and waits for buffered sets queued before the delete
// to drain, so none of them can resurrect the old profile.
func (r *Registry) invalidate(id int64) {
	r.users.Del(id)
	r.users.Wait()
}

func (r *Registry) GetUser(ctx context.Context, id int64) (*models.UserProfile, error) {
	if u, ok := r.cachedUser(id); ok {
		return u, nil
	}
	u, err := r.store.Users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("get user %d: %w", id, ErrUserNotFound)
	}
	r.cacheUser(u)
	return u, nil
}

// GetUsers loads every id in one store round trip for the cache misses.
// Unknown ids are skipped; the result is ordered by id.
func (r *Registry) GetUsers(ctx context.Context, ids []int64) ([]models.UserProfile, error) {
	users := make([]models.UserProfile, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	missing := make([]int64, 0)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := r.cachedUser(id); ok {
			users = append(users, *u)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := r.store.Users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("get users: %w", err)
		}
		for i := range loaded {
			r.cacheUser(&loaded[i])
			users = append(users, loaded[i])
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *Registry) GetUserByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	u, err := r.store.Users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("get user %q: %w", email, ErrUserNotFound)
	}
	r.cacheUser(u)
	return u, nil
}

// ListUsersByEmail resolves emails within one realm. Any unknown email
// fails the whole call.
func (r *Registry) ListUsersByEmail(ctx context.Context, realmID int64, emails []string) ([]models.UserProfile, error) {
	users, err := r.store.Users.ListByEmails(ctx, realmID, emails)
	if err != nil {
		return nil, fmt.Errorf("list users by email: %w", err)
	}
	found := make(map[string]bool, len(users))
	for _, u := range users {
		found[strings.ToLower(u.Email)] = true
	}
	for _, e := range emails {
		if !found[strings.ToLower(strings.TrimSpace(e))] {
			return nil, fmt.Errorf("get user %q: %w", e, ErrUserNotFound)
		}
	}
	return users, nil
}

// mutate runs a profile write and its audit event in one transaction and
// drops the cached profile before and after.
func (r *Registry) mutate(ctx context.Context, id int64, o callOptions, write func(ctx context.Context) error, ev func(u *models.UserProfile) eventlog.Event) error {
	u, err := r.GetUser(ctx, id)
	if err != nil {
		return err
	}

	r.invalidate(id)
	err = r.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		return r.audit(o, ev(u))
	})
	r.invalidate(id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("update user %d: %w", id, ErrUserNotFound)
	}
	return err
}

func (r *Registry) ActivateUser(ctx context.Context, id int64, opts ...Option) error {
	return r.mutate(ctx, id, apply(opts),
		func(ctx context.Context) error { return r.store.Users.SetActive(ctx, id, true) },
		func(u *models.UserProfile) eventlog.Event { return &eventlog.UserActivated{User: u.Email} },
	)
}

func (r *Registry) DeactivateUser(ctx context.Context, id int64, opts ...Option) error {
	return r.mutate(ctx, id, apply(opts),
		func(ctx context.Context) error { return r.store.Users.SetActive(ctx, id, false) },
		func(u *models.UserProfile) eventlog.Event { return &eventlog.UserDeactivated{User: u.Email} },
	)
}

func (r *Registry) ChangeFullName(ctx context.Context, id int64, fullName string, opts ...Option) error {
	if utf8.RuneCountInString(fullName) > maxFullNameLen {
		return fmt.Errorf("change full name: %w", ErrInvalidUser)
	}
	err := r.mutate(ctx, id, apply(opts),
		func(ctx context.Context) error { return r.store.Users.SetFullName(ctx, id, fullName) },
		func(u *models.UserProfile) eventlog.Event {
			return &eventlog.UserChangeFullName{User: u.Email, FullName: fullName}
		},
	)
	if err == nil && r.opts.Views != nil {
		r.opts.Views.InvalidateUser(ctx, id)
	}
	return err
}

func (r *Registry) ChangeEnableDesktopNotifications(ctx context.Context, id int64, enabled bool, opts ...Option) error {
	return r.mutate(ctx, id, apply(opts),
		func(ctx context.Context) error { return r.store.Users.SetEnableDesktopNotifications(ctx, id, enabled) },
		func(u *models.UserProfile) eventlog.Event {
			return &eventlog.EnableDesktopNotificationsChanged{User: u.Email, EnableDesktopNotifications: enabled}
		},
	)
}

// ChangePassword is not audited; the event log never carries hashes.
func (r *Registry) ChangePassword(ctx context.Context, id int64, password string) error {
	hash, err := r.hashPassword(password)
	if err != nil {
		return err
	}
	return r.mutate(ctx, id, callOptions{},
		func(ctx context.Context) error { return r.store.Users.SetPasswordHash(ctx, id, hash) },
		nil,
	)
}

// UpdatePointer moves the read pointer forward. It reports false when
// pointer does not advance past the stored one.
func (r *Registry) UpdatePointer(ctx context.Context, id int64, pointer int64, updater string) (bool, error) {
	u, err := r.GetUser(ctx, id)
	if err != nil {
		return false, err
	}
	if pointer <= u.Pointer {
		return false, nil
	}
	err = r.mutate(ctx, id, callOptions{},
		func(ctx context.Context) error { return r.store.Users.SetPointer(ctx, id, pointer, updater) },
		nil,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate checks an email/password pair. Unknown, inactive and
// passwordless accounts all fail with ErrInvalidCredentials.
func (r *Registry) Authenticate(ctx context.Context, email, password string) (*models.UserProfile, error) {
	u, err := r.store.Users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if u == nil || !u.IsActive || u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
