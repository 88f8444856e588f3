package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/config"
	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage:             "memory",
		JWTSecret:           "secret",
		JWTTTL:              time.Hour,
		EventLogPath:        filepath.Join(t.TempDir(), "events.log"),
		PushTimeout:         time.Second,
		DisplayCacheTTL:     time.Hour,
		UserCacheMaxEntries: 100,
		UserCacheTTL:        time.Minute,
	}
}

func TestBuild_MemoryEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.SignupsBotEmail = "bot@internal.test"

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	internal, _, err := a.Registry.CreateRealm(ctx, "internal.test")
	require.NoError(t, err)
	_, err = a.Registry.CreateUser(ctx, registry.NewUser{RealmID: internal.ID, Email: "bot@internal.test", FullName: "Bot"})
	require.NoError(t, err)

	realm, created, err := a.Registry.CreateRealm(ctx, "acme.org")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, a.Engine.AnnounceRealm(ctx, realm))

	var kinds []string
	require.NoError(t, eventlog.ReplayFile(cfg.EventLogPath, func(ev eventlog.Event) error {
		kinds = append(kinds, ev.Kind())
		return nil
	}))
	assert.Equal(t, []string{
		eventlog.TypeRealmCreated,
		eventlog.TypeUserCreated,
		eventlog.TypeRealmCreated,
		eventlog.TypeMessageSent,
	}, kinds)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuild_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Contains(t, a.Health, "redis")

	ctx := context.Background()
	realm, _, err := a.Registry.CreateRealm(ctx, "acme.org")
	require.NoError(t, err)
	u, err := a.Registry.CreateUser(ctx, registry.NewUser{RealmID: realm.ID, Email: "a@acme.org"})
	require.NoError(t, err)
	st, _, err := a.Resolver.ResolveStream(ctx, realm.ID, "general")
	require.NoError(t, err)
	_, err = a.Ledger.Add(ctx, u, st)
	require.NoError(t, err)
	_, err = a.Engine.SendInternal(ctx, "a@acme.org", "general", "hi", "hello")
	require.NoError(t, err)

	assert.NotEmpty(t, mr.Keys(), "display recipient cached in redis")
}

func TestBuild_FailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestBuild_PushClientWired(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.PushURL = srv.URL
	cfg.PushSecret = "s"

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	realm, _, err := a.Registry.CreateRealm(ctx, "acme.org")
	require.NoError(t, err)
	u, err := a.Registry.CreateUser(ctx, registry.NewUser{RealmID: realm.ID, Email: "a@acme.org"})
	require.NoError(t, err)
	rcpt, err := a.Resolver.PersonalRecipient(ctx, u.ID)
	require.NoError(t, err)
	client, err := a.Resolver.GetClient(ctx, "API")
	require.NoError(t, err)

	_, err = a.Engine.Send(ctx, &delivery.Draft{Sender: u, Recipient: rcpt, Client: client, Content: "ping"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}
