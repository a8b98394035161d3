package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/api/handler"
	"github.com/qs3c/experience_billing/internal/api/middleware"
)

type Router struct {
	subscriptionHandler *handler.SubscriptionHandler
	balanceHandler      *handler.BalanceHandler
	recognitionHandler  *handler.RecognitionHandler
	webhookHandler      *handler.WebhookHandler
	cfg                 *config.Config
	logger              *zap.Logger
}

func NewRouter(
	subscriptionHandler *handler.SubscriptionHandler,
	balanceHandler *handler.BalanceHandler,
	recognitionHandler *handler.RecognitionHandler,
	webhookHandler *handler.WebhookHandler,
	cfg *config.Config,
	logger *zap.Logger,
) *Router {
	return &Router{
		subscriptionHandler: subscriptionHandler,
		balanceHandler:      balanceHandler,
		recognitionHandler:  recognitionHandler,
		webhookHandler:      webhookHandler,
		cfg:                 cfg,
		logger:              logger,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(r.logger))
	engine.Use(middleware.RequestLog(r.logger))

	api := engine.Group("/api/v1")
	{
		// provider callbacks authenticate themselves
		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/card", r.webhookHandler.Card)
			webhooks.POST("/platform", r.webhookHandler.Platform)
		}

		api.GET("/packages", r.subscriptionHandler.Packages)

		// reported by the matching-provider bridge
		api.POST("/experiences/:id/recognitions", r.recognitionHandler.Report)

		user := api.Group("")
		user.Use(middleware.Identity())
		{
			subscription := user.Group("/subscription")
			{
				subscription.GET("", r.subscriptionHandler.Get)
				subscription.POST("", r.subscriptionHandler.Assign)
				subscription.PUT("/plan", r.subscriptionHandler.ChangePlan)
				subscription.DELETE("", r.subscriptionHandler.Cancel)
				subscription.POST("/retry", r.subscriptionHandler.RetryPayment)
			}

			balance := user.Group("/balance")
			{
				balance.GET("", r.balanceHandler.Get)
				balance.POST("/refill", r.balanceHandler.Refill)
				balance.PUT("/limits", r.balanceHandler.UpdateLimits)
			}
		}
	}

	return engine
}
