package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/config"
	"github.com/harborcms/harbor-backend/internal/handlers"
	"github.com/harborcms/harbor-backend/internal/middleware"
	"go.uber.org/zap"
)

// HandlerDependencies carries the initialized handlers into the router
type HandlerDependencies struct {
	CampaignHandler  *handlers.CampaignHandler
	RetryHandler     *handlers.RetryHandler
	SchedulerHandler *handlers.SchedulerHandler
	WebhookHandler   *handlers.WebhookHandler
	TrackingHandler  *handlers.TrackingHandler
}

// SetupRouter sets up the router
func SetupRouter(cfg *config.Config, logger *zap.Logger, deps HandlerDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))

	// Public routes: health, provider callbacks and the tracking pixel.
	// Providers and mail clients cannot carry auth tokens.
	public := router.Group("/api/v1")
	{
		public.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})

		public.POST("/webhooks/email-events", deps.WebhookHandler.HandleEmailEvents)
		public.GET("/tracking/pixel/:trackingId", deps.TrackingHandler.ServePixel)
	}

	// Protected routes
	protected := router.Group("/api/v1")
	protected.Use(middleware.JWTAuthMiddleware(cfg))
	{
		campaigns := protected.Group("/campaigns")
		{
			campaigns.GET("", deps.CampaignHandler.GetCampaigns)
			campaigns.POST("", deps.CampaignHandler.CreateCampaign)
			campaigns.GET("/:id", deps.CampaignHandler.GetCampaignByID)
			campaigns.PUT("/:id", deps.CampaignHandler.UpdateCampaign)
			campaigns.DELETE("/:id", deps.CampaignHandler.DeleteCampaign)
			campaigns.POST("/:id/run", deps.CampaignHandler.RunCampaign)
			campaigns.POST("/:id/cancel", deps.CampaignHandler.CancelCampaign)
			campaigns.GET("/:id/failed", deps.CampaignHandler.GetFailedEmails)
			campaigns.POST("/:id/retry-failed", deps.CampaignHandler.RetryFailedEmails)
			campaigns.GET("/:id/stats", deps.CampaignHandler.GetCampaignStats)
		}

		retries := protected.Group("/retries")
		{
			retries.GET("/stats", deps.RetryHandler.GetRetryStats)
			retries.POST("/process", deps.RetryHandler.ProcessRetries)
		}

		protected.GET("/tracking/status/:trackingId", deps.TrackingHandler.GetDeliveryStatus)

		scheduler := protected.Group("/scheduler")
		{
			scheduler.GET("/status", deps.SchedulerHandler.GetStatus)
			scheduler.POST("/refresh", deps.SchedulerHandler.RefreshCache)
			scheduler.POST("/check", deps.SchedulerHandler.RunCheck)
		}
	}

	return router
}
