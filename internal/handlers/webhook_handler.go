package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/services"
	"go.uber.org/zap"
)

// WebhookHandler receives provider event batches
type WebhookHandler struct {
	bounceService *services.BounceService
	logger        *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(bounceService *services.BounceService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{bounceService: bounceService, logger: logger}
}

// HandleEmailEvents handles POST /webhooks/email-events. The provider sends
// a JSON array of events. Individual event failures are logged and skipped
// so one bad event never blocks the rest of the batch; only an unparseable
// body is rejected, which makes the provider redeliver it.
func (h *WebhookHandler) HandleEmailEvents(c *gin.Context) {
	var events []models.EmailEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		h.logger.Error("unparseable webhook payload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid payload"})
		return
	}

	processed := 0
	for i := range events {
		if err := h.bounceService.ProcessEvent(c.Request.Context(), &events[i]); err != nil {
			h.logger.Error("failed to process provider event",
				zap.String("event", events[i].Event),
				zap.String("email", events[i].Email),
				zap.Error(err))
			continue
		}
		processed++
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed, "received": len(events)})
}
