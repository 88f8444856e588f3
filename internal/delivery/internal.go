package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/views"
)

const (
	InternalClient = "Internal"
	signupsStream  = "signups"
)

// SendInternal posts from a system account to a stream in the sender's
// realm, creating the stream if needed.
func (e *Engine) SendInternal(ctx context.Context, senderEmail, streamName, subject, content string) (*models.Message, error) {
	sender, err := e.registry.GetUserByEmail(ctx, senderEmail)
	if err != nil {
		return nil, fmt.Errorf("send internal message: %w", err)
	}
	_, rcpt, err := e.resolver.ResolveStream(ctx, sender.RealmID, streamName)
	if err != nil {
		return nil, fmt.Errorf("send internal message: %w", err)
	}
	client, err := e.resolver.GetClient(ctx, InternalClient)
	if err != nil {
		return nil, fmt.Errorf("send internal message: %w", err)
	}

	return e.Send(ctx, &Draft{
		Sender:    sender,
		Recipient: rcpt,
		Client:    client,
		Subject:   subject,
		Content:   content,
		PubDate:   time.Now().UTC(),
	})
}

// AnnounceRealm tells the signups stream that realm was created. It does
// nothing when no signups bot is configured.
func (e *Engine) AnnounceRealm(ctx context.Context, realm *models.Realm) error {
	if e.opts.SignupsBotEmail == "" {
		return nil
	}
	_, err := e.SendInternal(ctx, e.opts.SignupsBotEmail, signupsStream, realm.Domain, "Signups enabled.")
	return err
}

// MessageView returns the client dict for a stored message, from cache when
// possible.
func (e *Engine) MessageView(ctx context.Context, msg *models.Message, applyMarkdown bool) (*views.MessageView, error) {
	sender, err := e.registry.GetUser(ctx, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("message view: %w", err)
	}
	rcpt, err := e.resolver.GetRecipient(ctx, msg.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("message view: %w", err)
	}
	realm, err := e.registry.GetRealm(ctx, sender.RealmID)
	if err != nil {
		return nil, fmt.Errorf("message view: %w", err)
	}
	client, err := e.resolver.GetClientByID(ctx, msg.SendingClientID)
	if err != nil {
		return nil, fmt.Errorf("message view: %w", err)
	}
	return e.views.MessageView(ctx, views.MessageContext{
		Message:   msg,
		Sender:    sender,
		Recipient: rcpt,
		Realm:     realm,
		Client:    client,
	}, applyMarkdown)
}

// GetMessage loads a stored message.
func (e *Engine) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg, err := e.store.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", id, ErrMessageNotFound)
	}
	return msg, nil
}

// ReceivedBy reports whether userID holds a delivery marker for the message.
func (e *Engine) ReceivedBy(ctx context.Context, messageID, userID int64) (bool, error) {
	ids, err := e.store.UserMessages.ListUserIDs(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("list message receivers: %w", err)
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}
