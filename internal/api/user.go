package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/middleware"
	"github.com/lalith-99/courier/internal/registry"
)

type UserHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewUserHandler(reg *registry.Registry, logger *zap.Logger) *UserHandler {
	return &UserHandler{registry: reg, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.registry.GetUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to get user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type pointerRequest struct {
	Pointer *int64 `json:"pointer" binding:"required"`
	Client  string `json:"client"`
}

// UpdatePointer handles PUT /v1/users/me/pointer
//
// The pointer only moves forward; an older value is accepted and ignored,
// reported as "updated": false.
func (h *UserHandler) UpdatePointer(c *gin.Context) {
	var req pointerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Client == "" {
		req.Client = defaultClient
	}

	updated, err := h.registry.UpdatePointer(c.Request.Context(), middleware.GetUserID(c), *req.Pointer, req.Client)
	if err != nil {
		respondError(c, h.logger, "failed to update pointer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

type settingsRequest struct {
	FullName                   *string `json:"full_name"`
	EnableDesktopNotifications *bool   `json:"enable_desktop_notifications"`
}

// UpdateSettings handles PATCH /v1/users/me
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	if req.FullName != nil {
		if err := h.registry.ChangeFullName(ctx, userID, *req.FullName); err != nil {
			respondError(c, h.logger, "failed to update settings", err)
			return
		}
	}
	if req.EnableDesktopNotifications != nil {
		if err := h.registry.ChangeEnableDesktopNotifications(ctx, userID, *req.EnableDesktopNotifications); err != nil {
			respondError(c, h.logger, "failed to update settings", err)
			return
		}
	}

	user, err := h.registry.GetUser(ctx, userID)
	if err != nil {
		respondError(c, h.logger, "failed to update settings", err)
		return
	}
	c.JSON(http.StatusOK, user)
}
