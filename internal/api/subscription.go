package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/middleware"
	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
)

type SubscriptionHandler struct {
	ledger   *subscription.Ledger
	registry *registry.Registry
	resolver *resolver.Resolver
	logger   *zap.Logger
}

func NewSubscriptionHandler(ledger *subscription.Ledger, reg *registry.Registry, res *resolver.Resolver, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{ledger: ledger, registry: reg, resolver: res, logger: logger}
}

type subscribeRequest struct {
	Stream string `json:"stream" binding:"required"`
}

// Subscribe handles POST /v1/subscriptions
//
// The stream is created on first use. "changed" is false when the user was
// already subscribed.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := h.registry.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to subscribe", err)
		return
	}
	st, _, err := h.resolver.ResolveStream(ctx, user.RealmID, req.Stream)
	if err != nil {
		respondError(c, h.logger, "failed to subscribe", err)
		return
	}
	changed, err := h.ledger.Add(ctx, user, st)
	if err != nil {
		respondError(c, h.logger, "failed to subscribe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": st.Name, "changed": changed})
}

// existingStream loads the caller and a stream that must already exist.
func (h *SubscriptionHandler) existingStream(ctx context.Context, c *gin.Context) (*models.UserProfile, *models.Stream, error) {
	user, err := h.registry.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		return nil, nil, err
	}
	name := c.Param("stream")
	if _, err := resolver.ValidateStreamName(name); err != nil {
		return nil, nil, err
	}
	st, _, err := h.resolver.GetStream(ctx, user.RealmID, name)
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, fmt.Errorf("stream %q: %w", name, repository.ErrNotFound)
	}
	return user, st, nil
}

// Unsubscribe handles DELETE /v1/subscriptions/:stream
func (h *SubscriptionHandler) Unsubscribe(c *gin.Context) {
	ctx := c.Request.Context()
	user, st, err := h.existingStream(ctx, c)
	if err != nil {
		respondError(c, h.logger, "failed to unsubscribe", err)
		return
	}
	changed, err := h.ledger.Remove(ctx, user, st)
	if err != nil {
		respondError(c, h.logger, "failed to unsubscribe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": st.Name, "changed": changed})
}

type colorRequest struct {
	Color string `json:"color" binding:"required"`
}

// SetColor handles PATCH /v1/subscriptions/:stream
func (h *SubscriptionHandler) SetColor(c *gin.Context) {
	var req colorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	user, st, err := h.existingStream(ctx, c)
	if err != nil {
		respondError(c, h.logger, "failed to update subscription", err)
		return
	}
	if err := h.ledger.SetColor(ctx, user, st, req.Color); err != nil {
		respondError(c, h.logger, "failed to update subscription", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": st.Name, "color": req.Color})
}
