package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/subscription-service/internal/http/handlers"
	"github.com/Dhoini/subscription-service/internal/metrics"
	"github.com/Dhoini/subscription-service/internal/middleware"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// Handlers набор обработчиков, которые подключает роутер
type Handlers struct {
	Authorizations *handlers.AuthorizationHandler
	Subscriptions  *handlers.SubscriptionHandler
	Webhooks       *handlers.WebhookHandler
	Health         *handlers.HealthHandler
}

// Options параметры роутера. Auth == nil - клиентские маршруты открыты.
type Options struct {
	Auth        *middleware.JWTMiddleware
	Registry    *prometheus.Registry
	HTTPMetrics *metrics.HTTPMetrics
}

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, h Handlers, opts Options, log *logger.Logger) {
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())
	if opts.HTTPMetrics != nil {
		router.Use(opts.HTTPMetrics.Middleware())
	}

	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		// Подпись Stripe-Signature и есть аутентификация вебхука
		api.POST("/webhooks/stripe", h.Webhooks.HandleStripeWebhook)
		api.GET("/health", h.Health.Health)

		client := api.Group("")
		if opts.Auth != nil {
			client.Use(opts.Auth.RequireAuth())
		}

		authorizations := client.Group("/authorizations")
		{
			authorizations.POST("", h.Authorizations.CreateAuthorization)
			authorizations.GET("/:id", h.Authorizations.GetAuthorization)
		}

		subscriptions := client.Group("/subscriptions")
		{
			subscriptions.POST("", h.Subscriptions.CreateSubscription)
			subscriptions.GET("", h.Subscriptions.GetSubscription)
		}
	}

	log.Infow("API routes successfully configured", "auth", opts.Auth != nil)
}
