package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalith-99/courier/internal/cache"
	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/push"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/render"
	"github.com/lalith-99/courier/internal/repository/memory"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
	"github.com/lalith-99/courier/internal/views"
)

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []push.Notification
}

func (f *fakeNotifier) NotifyNewMessage(_ context.Context, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	return f.err
}

func (f *fakeNotifier) sent() []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.calls...)
}

type fixture struct {
	engine   *Engine
	mem      *memory.Store
	reg      *registry.Registry
	res      *resolver.Resolver
	ledger   *subscription.Ledger
	events   *eventlog.Memory
	notifier *fakeNotifier
	metrics  *observ.Metrics
	realm    *models.Realm
	client   *models.Client
}

type fixtureOpt func(*Options)

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := memory.New()
	store := mem.Repositories()
	events := eventlog.NewMemory()
	metrics := observ.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()

	reg, err := registry.New(store, events, logger, metrics, registry.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	local, err := cache.NewLocal(1 << 20)
	require.NoError(t, err)
	t.Cleanup(local.Close)

	res := resolver.New(store, logger, metrics)
	proj := views.NewProjector(store, local, render.New(nil), time.Hour, logger)
	notifier := &fakeNotifier{}

	o := Options{Notifier: notifier}
	for _, fn := range opts {
		fn(&o)
	}

	realm, _, err := reg.CreateRealm(ctx, "example.com")
	require.NoError(t, err)
	client, err := res.GetClient(ctx, "website")
	require.NoError(t, err)

	return &fixture{
		engine:   New(store, reg, res, proj, events, logger, metrics, o),
		mem:      mem,
		reg:      reg,
		res:      res,
		ledger:   subscription.NewLedger(store, res, proj, events, logger),
		events:   events,
		notifier: notifier,
		metrics:  metrics,
		realm:    realm,
		client:   client,
	}
}

func (f *fixture) user(t *testing.T, email string) *models.UserProfile {
	t.Helper()
	u, err := f.reg.CreateUser(context.Background(), registry.NewUser{
		RealmID:   f.realm.ID,
		Email:     email,
		FullName:  strings.Split(email, "@")[0],
		ShortName: strings.Split(email, "@")[0],
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) stream(t *testing.T, name string, members ...*models.UserProfile) *models.Recipient {
	t.Helper()
	ctx := context.Background()
	st, rcpt, err := f.res.ResolveStream(ctx, f.realm.ID, name)
	require.NoError(t, err)
	for _, u := range members {
		_, err := f.ledger.Add(ctx, u, st)
		require.NoError(t, err)
	}
	return rcpt
}

func (f *fixture) personal(t *testing.T, u *models.UserProfile) *models.Recipient {
	t.Helper()
	rcpt, err := f.res.PersonalRecipient(context.Background(), u.ID)
	require.NoError(t, err)
	return rcpt
}

func (f *fixture) receivers(t *testing.T, messageID int64) []int64 {
	t.Helper()
	ids, err := f.mem.Repositories().UserMessages.ListUserIDs(context.Background(), messageID)
	require.NoError(t, err)
	return ids
}

func TestSend_EndToEndStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	general := f.stream(t, "general", a, b)

	before := f.mem.Stats()
	msg, err := f.engine.Send(ctx, &Draft{
		Sender:    a,
		Recipient: general,
		Client:    f.client,
		Subject:   "hi",
		Content:   "hello",
	})
	require.NoError(t, err)
	require.NotZero(t, msg.ID)

	after := f.mem.Stats()
	assert.Equal(t, before.Messages+1, after.Messages)
	assert.Equal(t, before.UserMessages+2, after.UserMessages)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, f.receivers(t, msg.ID))

	sent := f.events.OfKind(eventlog.TypeMessageSent)
	require.Len(t, sent, 1)
	ev := sent[0].(*eventlog.MessageSent)
	assert.Equal(t, "stream", ev.RecipientType)
	assert.True(t, ev.Recipient.IsStream())
	assert.Equal(t, "general", ev.Recipient.StreamName)
	assert.Equal(t, "a@example.com", ev.SenderEmail)
	assert.Equal(t, "website", ev.SendingClient)
	assert.Equal(t, "hello", ev.Content)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.MessagesSent.WithLabelValues("stream")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.UserMessagesWritten))
}

func TestSend_PersonalToSelfWritesOneRow(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")

	msg, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Subject:   "note",
		Content:   "to self",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, f.receivers(t, msg.ID))

	calls := f.notifier.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, []int64{a.ID}, calls[0].UserIDs)
}

func TestSend_PersonalToOtherWritesTwoRows(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")

	msg, err := f.engine.Send(context.Background(), &Draft{
		Sender:    b,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Subject:   "hey",
		Content:   "hello a",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, f.receivers(t, msg.ID))

	calls := f.notifier.sent()
	require.Len(t, calls, 1)
	html := calls[0].Rendered.HTML
	require.NotNil(t, html)
	assert.Equal(t, "private", html.Type)
	require.Len(t, html.DisplayRecipient.Users, 2)
	assert.Equal(t, "a@example.com", html.DisplayRecipient.Users[0].Email)
	assert.Equal(t, "b@example.com", html.DisplayRecipient.Users[1].Email)
	assert.Equal(t, "text/html", html.ContentType)
	assert.Equal(t, "text/x-markdown", calls[0].Rendered.Markdown.ContentType)
	assert.Equal(t, "hello a", calls[0].Rendered.Markdown.Content)
}

func TestSend_DeactivatedUsersGetNoRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	c := f.user(t, "c@example.com")
	rcpt := f.stream(t, "general", a, b, c)
	require.NoError(t, f.reg.DeactivateUser(ctx, c.ID))

	msg, err := f.engine.Send(ctx, &Draft{
		Sender:    a,
		Recipient: rcpt,
		Client:    f.client,
		Subject:   "hi",
		Content:   "hello",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, f.receivers(t, msg.ID))

	calls := f.notifier.sent()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []int64{a.ID, b.ID, c.ID}, calls[0].UserIDs, "push lists every subscriber")
}

func TestSend_HuddleDeliversToMembers(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")
	c := f.user(t, "c@example.com")
	_, rcpt, err := f.res.ResolveHuddle(context.Background(), []int64{c.ID, a.ID, b.ID})
	require.NoError(t, err)

	msg, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: rcpt,
		Client:    f.client,
		Subject:   "trio",
		Content:   "hi all",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID, c.ID}, f.receivers(t, msg.ID))

	ev := f.events.OfKind(eventlog.TypeMessageSent)[0].(*eventlog.MessageSent)
	assert.Equal(t, "huddle", ev.RecipientType)
	assert.Len(t, ev.Recipient.Users, 3)
}

func TestTruncate(t *testing.T) {
	short := strings.Repeat("a", MaxContentLen)
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("é", MaxContentLen+1)
	got := Truncate(long)
	assert.True(t, strings.HasSuffix(got, "\n\n[message was too long and has been truncated]"))
	assert.Equal(t, 3900, utf8.RuneCountInString(strings.TrimSuffix(got, truncationNotice)))
}

func TestSend_TruncatesStoredContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")

	msg, err := f.engine.Send(ctx, &Draft{
		Sender:    a,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Subject:   "long",
		Content:   strings.Repeat("x", MaxContentLen+500),
	})
	require.NoError(t, err)

	stored, err := f.engine.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 3900)+truncationNotice, stored.Content)
}

func TestSend_SubjectTooLong(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	before := f.mem.Stats()

	_, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Subject:   strings.Repeat("s", MaxSubjectLen+1),
		Content:   "x",
	})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Equal(t, before, f.mem.Stats())
}

func TestSend_InvalidRecipientType(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")

	_, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: &models.Recipient{ID: 999, Type: models.RecipientType(9), TypeID: 1},
		Client:    f.client,
		Content:   "x",
	})
	assert.ErrorIs(t, err, ErrInvalidRecipientType)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Empty(t, f.notifier.sent())
}

func TestSend_AuditFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	rcpt := f.stream(t, "general", a)
	before := f.mem.Stats()

	f.events.Fail(errors.New("disk full"))
	_, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: rcpt,
		Client:    f.client,
		Subject:   "hi",
		Content:   "hello",
	})
	require.Error(t, err)
	assert.Equal(t, before.Messages, f.mem.Stats().Messages)
	assert.Equal(t, before.UserMessages, f.mem.Stats().UserMessages)
	assert.Empty(t, f.notifier.sent())
}

func TestSend_SkipsAuditForTestClientsAndNoLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	testClient, err := f.res.GetClient(ctx, "test:suite")
	require.NoError(t, err)

	_, err = f.engine.Send(ctx, &Draft{Sender: a, Recipient: f.personal(t, a), Client: testClient, Content: "x"})
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, &Draft{Sender: a, Recipient: f.personal(t, a), Client: f.client, Content: "y"}, NoLog())
	require.NoError(t, err)

	assert.Empty(t, f.events.OfKind(eventlog.TypeMessageSent))
}

func TestSend_PushFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a@example.com")
	f.notifier.err = errors.New("gateway down")

	msg, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Content:   "still delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, f.receivers(t, msg.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PushNotifications.WithLabelValues("failure")))
}

func TestSend_SlowGatewayTimesOutWithoutFailingSend(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	const timeout = 100 * time.Millisecond
	f := newFixture(t, func(o *Options) { o.Notifier = push.NewClient(srv.URL, "s3cret", timeout) })
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")

	start := time.Now()
	msg, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: f.personal(t, b),
		Client:    f.client,
		Content:   "slow gateway",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.ElementsMatch(t, []int64{a.ID, b.ID}, f.receivers(t, msg.ID))
	stored, err := f.engine.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "slow gateway", stored.Content)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PushNotifications.WithLabelValues("failure")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.PushNotifications.WithLabelValues("success")))
}

func TestSend_PersonalFanoutReadsCurrentActiveFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	b := f.user(t, "b@example.com")

	// Warm this engine's registry cache with b still active.
	cached, err := f.reg.GetUser(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, cached.IsActive)

	// Another worker over the same store deactivates b.
	other, err := registry.New(f.mem.Repositories(), eventlog.Discard{}, zap.NewNop(), nil, registry.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(other.Close)
	require.NoError(t, other.DeactivateUser(ctx, b.ID))

	msg, err := f.engine.Send(ctx, &Draft{
		Sender:    a,
		Recipient: f.personal(t, b),
		Client:    f.client,
		Content:   "are you there?",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, f.receivers(t, msg.ID))

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, sent[0].UserIDs)
}

func TestSend_NoNotifierSkipsPush(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Notifier = nil })
	a := f.user(t, "a@example.com")

	_, err := f.engine.Send(context.Background(), &Draft{
		Sender:    a,
		Recipient: f.personal(t, a),
		Client:    f.client,
		Content:   "quiet",
	})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.sent())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.PushNotifications.WithLabelValues("success")))
}

func TestRemoveUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	empty := f.stream(t, "empty")

	orphan, err := f.engine.Send(ctx, &Draft{Sender: a, Recipient: empty, Client: f.client, Content: "nobody"})
	require.NoError(t, err)
	kept, err := f.engine.Send(ctx, &Draft{Sender: a, Recipient: f.personal(t, a), Client: f.client, Content: "me"})
	require.NoError(t, err)

	n, err := f.engine.RemoveUnreachable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.engine.GetMessage(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = f.engine.GetMessage(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestAnnounceRealm(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SignupsBotEmail = "signups-bot@example.com" })
	ctx := context.Background()

	bot := f.user(t, "signups-bot@example.com")
	newRealm, _, err := f.reg.CreateRealm(ctx, "acme.org")
	require.NoError(t, err)

	require.NoError(t, f.engine.AnnounceRealm(ctx, newRealm))

	st, _, err := f.res.GetStream(ctx, f.realm.ID, "signups")
	require.NoError(t, err)
	require.NotNil(t, st, "signups stream created in the bot's realm")

	sent := f.events.OfKind(eventlog.TypeMessageSent)
	require.Len(t, sent, 1)
	ev := sent[0].(*eventlog.MessageSent)
	assert.Equal(t, bot.Email, ev.SenderEmail)
	assert.Equal(t, "acme.org", ev.Subject)
	assert.Equal(t, "Signups enabled.", ev.Content)
	assert.Equal(t, InternalClient, ev.SendingClient)
}

func TestAnnounceRealm_DisabledWithoutBot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.AnnounceRealm(context.Background(), f.realm))
	assert.Empty(t, f.events.OfKind(eventlog.TypeMessageSent))
}

func TestMessageView_CachedAfterSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a@example.com")
	rcpt := f.stream(t, "general", a)

	msg, err := f.engine.Send(ctx, &Draft{Sender: a, Recipient: rcpt, Client: f.client, Subject: "s", Content: "**bold**"})
	require.NoError(t, err)

	html, err := f.engine.MessageView(ctx, msg, true)
	require.NoError(t, err)
	assert.Contains(t, html.Content, "<strong>bold</strong>")
	assert.Equal(t, "stream", html.Type)
	assert.Equal(t, "general", html.DisplayRecipient.StreamName)
	assert.Equal(t, msg.PubDate.Unix(), html.Timestamp)
	assert.Equal(t, views.GravatarHash("a@example.com"), html.GravatarHash)

	raw, err := f.engine.MessageView(ctx, msg, false)
	require.NoError(t, err)
	assert.Equal(t, "**bold**", raw.Content)
}
