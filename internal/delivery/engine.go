// Package delivery turns a drafted message into persisted delivery markers,
// one per receiving user, and then tells the push gateway about it.
//
// The order is fixed: validate, resolve the receiving users, audit, persist
// in a single transaction, push. Nothing external happens before commit and
// a failed push never fails the send.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/push"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/views"
)

const (
	MaxContentLen    = 10000
	truncatedLen     = 3900
	truncationNotice = "\n\n[message was too long and has been truncated]"
	MaxSubjectLen    = 60
)

var (
	ErrIntegrity            = errors.New("delivery: data integrity violation")
	ErrInvalidRecipientType = fmt.Errorf("delivery: invalid recipient type: %w", ErrIntegrity)
	ErrInvalidMessage       = errors.New("delivery: invalid message")
	ErrMessageNotFound      = errors.New("delivery: message not found")
)

// Notifier is the push gateway client.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, n push.Notification) error
}

type Options struct {
	// Notifier is nil when no push gateway is configured.
	Notifier Notifier
	// SignupsBotEmail is the sender of realm announcements. Empty disables
	// AnnounceRealm.
	SignupsBotEmail string
}

type Engine struct {
	store    *repository.Store
	registry *registry.Registry
	resolver *resolver.Resolver
	views    *views.Projector
	events   eventlog.Recorder
	opts     Options
	logger   *zap.Logger
	metrics  *observ.Metrics
}

func New(
	store *repository.Store,
	reg *registry.Registry,
	res *resolver.Resolver,
	proj *views.Projector,
	events eventlog.Recorder,
	logger *zap.Logger,
	metrics *observ.Metrics,
	opts Options,
) *Engine {
	return &Engine{
		store:    store,
		registry: reg,
		resolver: res,
		views:    proj,
		events:   events,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// Draft is a message whose sender, recipient and client are already loaded.
type Draft struct {
	Sender    *models.UserProfile
	Recipient *models.Recipient
	Client    *models.Client
	Subject   string
	Content   string
	// PubDate defaults to the current time.
	PubDate time.Time
}

type Option func(*sendOptions)

type sendOptions struct {
	noLog bool
}

// NoLog skips the message_sent audit record.
func NoLog() Option {
	return func(o *sendOptions) { o.noLog = true }
}

// Truncate shortens content longer than MaxContentLen runes and appends a
// notice. Shorter content is returned unchanged.
func Truncate(content string) string {
	if utf8.RuneCountInString(content) <= MaxContentLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:truncatedLen]) + truncationNotice
}

func validate(d *Draft) error {
	if d.Sender == nil || d.Recipient == nil || d.Client == nil {
		return fmt.Errorf("%w: sender, recipient and client are required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(d.Subject) > MaxSubjectLen {
		return fmt.Errorf("%w: subject longer than %d characters", ErrInvalidMessage, MaxSubjectLen)
	}
	d.Content = Truncate(d.Content)
	if d.PubDate.IsZero() {
		d.PubDate = time.Now().UTC()
	}
	return nil
}

// Send persists the message and one UserMessage per active receiving user,
// then pushes it. The returned message carries its assigned id.
func (e *Engine) Send(ctx context.Context, d *Draft, opts ...Option) (*models.Message, error) {
	start := time.Now()

	var o sendOptions
	for _, fn := range opts {
		fn(&o)
	}

	if err := validate(d); err != nil {
		return nil, err
	}

	users, err := e.recipientUsers(ctx, d)
	if err != nil {
		return nil, err
	}

	if !o.noLog && !strings.HasPrefix(d.Client.Name, "test:") {
		if err := e.logMessage(ctx, d); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		SenderID:        d.Sender.ID,
		RecipientID:     d.Recipient.ID,
		Subject:         d.Subject,
		Content:         d.Content,
		PubDate:         d.PubDate,
		SendingClientID: d.Client.ID,
	}

	active := make([]int64, 0, len(users))
	for _, u := range users {
		if u.IsActive {
			active = append(active, u.ID)
		}
	}

	err = e.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.store.Messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if len(active) == 0 {
			return nil
		}
		if err := e.store.UserMessages.CreateBatch(ctx, msg.ID, active); err != nil {
			return fmt.Errorf("insert user messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	e.metrics.MessageSent(d.Recipient.Type.String(), len(active))
	e.metrics.ObserveSend(time.Since(start).Seconds())
	e.logger.Info("message sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("sender_id", msg.SenderID),
		zap.Int64("recipient_id", msg.RecipientID),
		zap.Int("receivers", len(active)),
	)

	e.push(ctx, msg, d, users)
	return msg, nil
}

// recipientUsers lists everyone the message is addressed to, including
// deactivated accounts.
func (e *Engine) recipientUsers(ctx context.Context, d *Draft) ([]models.UserProfile, error) {
	switch d.Recipient.Type {
	case models.RecipientPersonal:
		// Read past the registry cache: the active flags must be current.
		ids := []int64{d.Recipient.TypeID}
		if d.Sender.ID != d.Recipient.TypeID {
			ids = append(ids, d.Sender.ID)
		}
		users, err := e.store.Users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load personal recipients: %w", err)
		}
		found := false
		for _, u := range users {
			if u.ID == d.Recipient.TypeID {
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("personal recipient %d has no user: %w", d.Recipient.ID, ErrIntegrity)
		}
		return users, nil

	case models.RecipientStream, models.RecipientHuddle:
		users, err := e.store.Subscriptions.ListActiveSubscribers(ctx, d.Recipient.ID)
		if err != nil {
			return nil, fmt.Errorf("load subscribers: %w", err)
		}
		return users, nil

	default:
		return nil, fmt.Errorf("recipient %d type %d: %w", d.Recipient.ID, int16(d.Recipient.Type), ErrInvalidRecipientType)
	}
}

func (e *Engine) logMessage(ctx context.Context, d *Draft) error {
	display, err := e.views.DisplayRecipient(ctx, d.Recipient)
	if err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	ev := &eventlog.MessageSent{
		SenderEmail:     d.Sender.Email,
		SenderFullName:  d.Sender.FullName,
		SenderShortName: d.Sender.ShortName,
		SendingClient:   d.Client.Name,
		RecipientType:   d.Recipient.Type.String(),
		Recipient:       display,
		Subject:         d.Subject,
		Content:         d.Content,
	}
	eventlog.Stamp(ev, d.PubDate)
	if err := e.events.Append(ev); err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}

// push is best effort: failures are logged and counted.
func (e *Engine) push(ctx context.Context, msg *models.Message, d *Draft, users []models.UserProfile) {
	if e.opts.Notifier == nil {
		return
	}

	rendered, err := e.rendered(ctx, msg, d)
	if err != nil {
		e.metrics.Push("failure")
		e.logger.Error("failed to render message for push",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	err = e.opts.Notifier.NotifyNewMessage(ctx, push.Notification{
		MessageID: msg.ID,
		Rendered:  rendered,
		UserIDs:   ids,
	})
	if err != nil {
		e.metrics.Push("failure")
		e.logger.Warn("push notification failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	e.metrics.Push("success")
}

func (e *Engine) rendered(ctx context.Context, msg *models.Message, d *Draft) (push.Rendered, error) {
	realm, err := e.registry.GetRealm(ctx, d.Sender.RealmID)
	if err != nil {
		return push.Rendered{}, err
	}
	mc := views.MessageContext{
		Message:   msg,
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Realm:     realm,
		Client:    d.Client,
	}
	html, err := e.views.MessageView(ctx, mc, true)
	if err != nil {
		return push.Rendered{}, err
	}
	md, err := e.views.MessageView(ctx, mc, false)
	if err != nil {
		return push.Rendered{}, err
	}
	return push.Rendered{HTML: html, Markdown: md}, nil
}

// RemoveUnreachable deletes every message that no user received.
func (e *Engine) RemoveUnreachable(ctx context.Context) (int64, error) {
	n, err := e.store.Messages.RemoveUnreachable(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove unreachable messages: %w", err)
	}
	e.logger.Info("removed unreachable messages", zap.Int64("count", n))
	return n, nil
}
