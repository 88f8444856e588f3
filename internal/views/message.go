package views

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/lalith-99/courier/internal/cache"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/render"
)

// MessageView is the client-facing message dict.
type MessageView struct {
	ID               int64                   `json:"id"`
	SenderEmail      string                  `json:"sender_email"`
	SenderFullName   string                  `json:"sender_full_name"`
	SenderShortName  string                  `json:"sender_short_name"`
	Type             string                  `json:"type"`
	DisplayRecipient models.DisplayRecipient `json:"display_recipient"`
	RecipientID      int64                   `json:"recipient_id"`
	Subject          string                  `json:"subject"`
	Timestamp        int64                   `json:"timestamp"`
	GravatarHash     string                  `json:"gravatar_hash"`
	Content          string                  `json:"content"`
	ContentType      string                  `json:"content_type"`
}

// MessageContext is a message plus the rows needed to render it.
type MessageContext struct {
	Message   *models.Message
	Sender    *models.UserProfile
	Recipient *models.Recipient
	Realm     *models.Realm
	Client    *models.Client
}

func GravatarHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// MessageView returns the cached dict for the message, building and caching
// it on a miss.
func (p *Projector) MessageView(ctx context.Context, mc MessageContext, applyMarkdown bool) (*MessageView, error) {
	key := cache.MessageViewKey(mc.Message.ID, applyMarkdown)

	var v MessageView
	if p.getCached(ctx, key, &v) {
		return &v, nil
	}

	built, err := p.buildMessageView(ctx, mc, applyMarkdown)
	if err != nil {
		return nil, err
	}
	p.setCached(ctx, key, built)
	return built, nil
}

func (p *Projector) buildMessageView(ctx context.Context, mc MessageContext, applyMarkdown bool) (*MessageView, error) {
	display, err := p.DisplayRecipient(ctx, mc.Recipient)
	if err != nil {
		return nil, err
	}

	typ := mc.Recipient.Type.String()
	switch mc.Recipient.Type {
	case models.RecipientStream:
	case models.RecipientPersonal, models.RecipientHuddle:
		typ = "private"
		display = withSender(display, DisplayUser(mc.Sender))
	}

	var content, contentType string
	if applyMarkdown {
		content, contentType = p.renderer.Render(mc.Message.Content, mc.Realm, mc.Client)
	} else {
		content, contentType = render.Raw(mc.Message.Content)
	}

	return &MessageView{
		ID:               mc.Message.ID,
		SenderEmail:      mc.Sender.Email,
		SenderFullName:   mc.Sender.FullName,
		SenderShortName:  mc.Sender.ShortName,
		Type:             typ,
		DisplayRecipient: display,
		RecipientID:      mc.Recipient.ID,
		Subject:          mc.Message.Subject,
		Timestamp:        mc.Message.PubDate.Unix(),
		GravatarHash:     GravatarHash(mc.Sender.Email),
		Content:          content,
		ContentType:      contentType,
	}, nil
}

// withSender adds the sender to a one-member private recipient so both
// sides of a conversation are listed, keeping email order. A message to
// oneself stays a single entry.
func withSender(d models.DisplayRecipient, sender models.DisplayUser) models.DisplayRecipient {
	if len(d.Users) != 1 {
		return d
	}
	other := d.Users[0]
	switch {
	case sender.Email < other.Email:
		return models.DisplayRecipient{Users: []models.DisplayUser{sender, other}}
	case sender.Email > other.Email:
		return models.DisplayRecipient{Users: []models.DisplayUser{other, sender}}
	}
	return d
}
