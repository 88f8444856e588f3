package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
)

var badRequest = []error{
	delivery.ErrInvalidMessage,
	resolver.ErrInvalidStreamName,
	resolver.ErrInvalidClientName,
	resolver.ErrUnknownUser,
	resolver.ErrEmptyHuddle,
	subscription.ErrInvalidColor,
	registry.ErrInvalidUser,
}

var notFound = []error{
	registry.ErrUserNotFound,
	registry.ErrRealmNotFound,
	repository.ErrNotFound,
	delivery.ErrMessageNotFound,
	subscription.ErrNotSubscribed,
}

func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	if errors.Is(err, registry.ErrInvalidCredentials) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// respondError writes the error as JSON. Client errors echo the message;
// server errors are logged and hidden behind failMsg.
func respondError(c *gin.Context, logger *zap.Logger, failMsg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(failMsg, zap.Error(err))
		c.JSON(status, gin.H{"error": failMsg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
