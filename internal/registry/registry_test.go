package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/repository/memory"
)

type fixture struct {
	reg    *Registry
	store  *repository.Store
	events *eventlog.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	events := eventlog.NewMemory()
	reg, err := New(store, events, zap.NewNop(), nil, Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return &fixture{reg: reg, store: store, events: events}
}

func (f *fixture) realm(t *testing.T, domain string) *models.Realm {
	t.Helper()
	realm, _, err := f.reg.CreateRealm(context.Background(), domain)
	require.NoError(t, err)
	return realm
}

func TestCreateRealm_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	realm, created, err := f.reg.CreateRealm(ctx, "Example.COM")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "example.com", realm.Domain)

	again, created, err := f.reg.CreateRealm(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, realm.ID, again.ID)

	assert.Len(t, f.events.OfKind(eventlog.TypeRealmCreated), 1)
}

func TestCreateRealm_ConcurrentCallersConverge(t *testing.T) {
	f := newFixture(t)

	const n = 10
	ids := make([]int64, n)
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			realm, created, err := f.reg.CreateRealm(context.Background(), "race.org")
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = realm.ID
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, createdCount)
}

func TestCreateRealm_ReplayAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, created, err := f.reg.CreateRealm(ctx, "quiet.org", Replay(), PlainTextOnly())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, f.events.Events())

	realm, err := f.reg.GetRealmByDomain(ctx, "quiet.org")
	require.NoError(t, err)
	assert.True(t, realm.PlainTextOnly)

	_, _, err = f.reg.CreateRealm(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidRealm)
}

func TestCreateUser_CreatesPersonalRecipientAndSelfSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")

	u, err := f.reg.CreateUser(ctx, NewUser{
		RealmID: realm.ID, Email: "hamlet@x.com", Password: "pw", FullName: "Hamlet", ShortName: "hamlet",
	})
	require.NoError(t, err)
	assert.EqualValues(t, -1, u.Pointer)
	assert.Len(t, u.APIKey, 32)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "pw", u.PasswordHash)

	rcpt, err := f.store.Recipients.Get(ctx, models.RecipientPersonal, u.ID)
	require.NoError(t, err)
	require.NotNil(t, rcpt)

	sub, err := f.store.Subscriptions.Get(ctx, u.ID, rcpt.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.Active)

	created := f.events.OfKind(eventlog.TypeUserCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "hamlet@x.com", created[0].(*eventlog.UserCreated).User)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")

	_, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com"})
	require.NoError(t, err)
	_, err = f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "A@X.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateUser_AuditFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")

	f.events.Fail(errors.New("disk full"))
	_, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com"})
	require.Error(t, err)

	u, err := f.store.Users.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserStateChangesInvalidateCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")
	u, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com", FullName: "A"})
	require.NoError(t, err)

	_, err = f.reg.GetUser(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, f.reg.ChangeFullName(ctx, u.ID, "Alpha"))
	require.NoError(t, f.reg.DeactivateUser(ctx, u.ID))
	require.NoError(t, f.reg.ChangeEnableDesktopNotifications(ctx, u.ID, false))

	got, err := f.reg.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.FullName)
	assert.False(t, got.IsActive)
	assert.False(t, got.EnableDesktopNotifications)

	require.NoError(t, f.reg.ActivateUser(ctx, u.ID))
	got, err = f.reg.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	kinds := make([]string, 0)
	for _, ev := range f.events.Events() {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []string{
		eventlog.TypeRealmCreated,
		eventlog.TypeUserCreated,
		eventlog.TypeUserChangeFullName,
		eventlog.TypeUserDeactivated,
		eventlog.TypeEnableDesktopNotificationsChanged,
		eventlog.TypeUserActivated,
	}, kinds)
}

type invalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (v *invalidations) InvalidateUser(_ context.Context, userID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ids = append(v.ids, userID)
}

func TestChangeFullNameInvalidatesViews(t *testing.T) {
	store := memory.NewStore()
	views := &invalidations{}
	reg, err := New(store, eventlog.NewMemory(), zap.NewNop(), nil, Options{BcryptCost: bcrypt.MinCost, Views: views})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	ctx := context.Background()

	realm, _, err := reg.CreateRealm(ctx, "x.com")
	require.NoError(t, err)
	u, err := reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com", FullName: "A"})
	require.NoError(t, err)

	require.NoError(t, reg.ChangeFullName(ctx, u.ID, "Alpha"))
	assert.Equal(t, []int64{u.ID}, views.ids)

	err = reg.ChangeFullName(ctx, u.ID, strings.Repeat("x", maxFullNameLen+1))
	assert.ErrorIs(t, err, ErrInvalidUser)
	require.NoError(t, reg.DeactivateUser(ctx, u.ID))
	assert.Len(t, views.ids, 1, "only successful renames invalidate")
}

func TestGetUsers_BatchSkipsUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")
	a, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com"})
	require.NoError(t, err)
	b, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "b@x.com"})
	require.NoError(t, err)

	_, err = f.reg.GetUser(ctx, a.ID)
	require.NoError(t, err)

	users, err := f.reg.GetUsers(ctx, []int64{b.ID, a.ID, 9999, a.ID})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, a.ID, users[0].ID)
	assert.Equal(t, b.ID, users[1].ID)

	_, err = f.reg.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListUsersByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")
	_, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com"})
	require.NoError(t, err)

	users, err := f.reg.ListUsersByEmail(ctx, realm.ID, []string{"A@x.com"})
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = f.reg.ListUsersByEmail(ctx, realm.ID, []string{"a@x.com", "ghost@x.com"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdatePointerOnlyAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")
	u, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com"})
	require.NoError(t, err)

	moved, err := f.reg.UpdatePointer(ctx, u.ID, 10, "website")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = f.reg.UpdatePointer(ctx, u.ID, 5, "website")
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := f.reg.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.Pointer)
	assert.Equal(t, "website", got.LastPointerUpdater)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := f.realm(t, "x.com")
	u, err := f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "a@x.com", Password: "secret"})
	require.NoError(t, err)
	_, err = f.reg.CreateUser(ctx, NewUser{RealmID: realm.ID, Email: "nopw@x.com"})
	require.NoError(t, err)

	got, err := f.reg.Authenticate(ctx, "A@x.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.reg.Authenticate(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.reg.Authenticate(ctx, "nopw@x.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.reg.Authenticate(ctx, "ghost@x.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.reg.ChangePassword(ctx, u.ID, "new"))
	_, err = f.reg.Authenticate(ctx, "a@x.com", "new")
	assert.NoError(t, err)

	require.NoError(t, f.reg.DeactivateUser(ctx, u.ID))
	_, err = f.reg.Authenticate(ctx, "a@x.com", "new")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
