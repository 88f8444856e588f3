package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/middleware"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Services struct {
	Registry *registry.Registry
	Resolver *resolver.Resolver
	Ledger   *subscription.Ledger
	Engine   *delivery.Engine

	JWTSecret string
	TokenTTL  time.Duration

	Logger   *zap.Logger
	Metrics  *observ.Metrics
	Gatherer prometheus.Gatherer
	// Health is keyed by dependency name ("postgres", "redis").
	Health map[string]HealthCheck
}

// NewRouter wires every route. /v1/health, /metrics and login are public;
// everything else under /v1 requires a JWT.
func NewRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(s.Logger), middleware.Metrics(s.Metrics))

	r.GET("/v1/health", health(s.Health))
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	authH := NewAuthHandler(s.Registry, s.JWTSecret, s.TokenTTL, s.Logger)
	r.POST("/v1/auth/login", authH.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(s.JWTSecret))

	users := NewUserHandler(s.Registry, s.Logger)
	v1.GET("/users/me", users.GetMe)
	v1.PATCH("/users/me", users.UpdateSettings)
	v1.PUT("/users/me/pointer", users.UpdatePointer)

	messages := NewMessageHandler(s.Engine, s.Registry, s.Resolver, s.Logger)
	v1.POST("/messages", messages.Create)
	v1.GET("/messages/:id", messages.Get)

	subs := NewSubscriptionHandler(s.Ledger, s.Registry, s.Resolver, s.Logger)
	v1.POST("/subscriptions", subs.Subscribe)
	v1.DELETE("/subscriptions/:stream", subs.Unsubscribe)
	v1.PATCH("/subscriptions/:stream", subs.SetColor)

	return r
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				deps[name] = err.Error()
				continue
			}
			deps[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "dependencies": deps})
	}
}
