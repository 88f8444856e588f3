package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/middleware"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/resolver"
)

const defaultClient = "API"

type MessageHandler struct {
	engine   *delivery.Engine
	registry *registry.Registry
	resolver *resolver.Resolver
	logger   *zap.Logger
}

func NewMessageHandler(engine *delivery.Engine, reg *registry.Registry, res *resolver.Resolver, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{engine: engine, registry: reg, resolver: res, logger: logger}
}

// sendMessageRequest addresses a stream by name or users by email. A
// private message to a single other user is personal; to several it goes
// to the huddle of all of them plus the sender.
type sendMessageRequest struct {
	Type    string   `json:"type" binding:"required,oneof=stream private"`
	To      []string `json:"to" binding:"required,min=1"`
	Subject string   `json:"subject"`
	Content string   `json:"content" binding:"required"`
	Client  string   `json:"client"`
}

type sendMessageResponse struct {
	ID int64 `json:"id"`
}

// Create handles POST /v1/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	sender, err := h.registry.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to send message", err)
		return
	}

	rcpt, err := h.recipient(ctx, sender, req)
	if err != nil {
		respondError(c, h.logger, "failed to send message", err)
		return
	}

	if req.Client == "" {
		req.Client = defaultClient
	}
	client, err := h.resolver.GetClient(ctx, req.Client)
	if err != nil {
		respondError(c, h.logger, "failed to send message", err)
		return
	}

	msg, err := h.engine.Send(ctx, &delivery.Draft{
		Sender:    sender,
		Recipient: rcpt,
		Client:    client,
		Subject:   req.Subject,
		Content:   req.Content,
	})
	if err != nil {
		respondError(c, h.logger, "failed to send message", err)
		return
	}
	c.JSON(http.StatusCreated, sendMessageResponse{ID: msg.ID})
}

func (h *MessageHandler) recipient(ctx context.Context, sender *models.UserProfile, req sendMessageRequest) (*models.Recipient, error) {
	if req.Type == "stream" {
		if len(req.To) != 1 {
			return nil, fmt.Errorf("%w: a stream message has exactly one stream", delivery.ErrInvalidMessage)
		}
		_, rcpt, err := h.resolver.ResolveStream(ctx, sender.RealmID, req.To[0])
		return rcpt, err
	}

	users, err := h.registry.ListUsersByEmail(ctx, sender.RealmID, req.To)
	if err != nil {
		return nil, err
	}
	// The sender is always part of the conversation; listing them explicitly
	// must not turn a one-to-one message into a huddle.
	ids := make([]int64, 0, len(users)+1)
	for _, u := range users {
		if u.ID != sender.ID {
			ids = append(ids, u.ID)
		}
	}
	switch len(ids) {
	case 0:
		return h.resolver.PersonalRecipient(ctx, sender.ID)
	case 1:
		return h.resolver.PersonalRecipient(ctx, ids[0])
	}
	ids = append(ids, sender.ID)
	_, rcpt, err := h.resolver.ResolveHuddle(ctx, ids)
	return rcpt, err
}

// Get handles GET /v1/messages/:id?apply_markdown=true
//
// Only users who received the message may read it; anyone else gets 404.
func (h *MessageHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}
	applyMarkdown := true
	if v := c.Query("apply_markdown"); v != "" {
		if applyMarkdown, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'apply_markdown' parameter"})
			return
		}
	}
	ctx := c.Request.Context()

	received, err := h.engine.ReceivedBy(ctx, id, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to get message", err)
		return
	}
	if !received {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	msg, err := h.engine.GetMessage(ctx, id)
	if err != nil {
		respondError(c, h.logger, "failed to get message", err)
		return
	}
	view, err := h.engine.MessageView(ctx, msg, applyMarkdown)
	if err != nil {
		respondError(c, h.logger, "failed to get message", err)
		return
	}
	c.JSON(http.StatusOK, view)
}
