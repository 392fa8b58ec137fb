package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/services"
)

// RetryHandler exposes the retry sweeper over HTTP
type RetryHandler struct {
	retryService *services.RetryService
}

// NewRetryHandler creates a new RetryHandler
func NewRetryHandler(retryService *services.RetryService) *RetryHandler {
	return &RetryHandler{retryService: retryService}
}

// GetRetryStats handles GET /retries/stats
func (h *RetryHandler) GetRetryStats(c *gin.Context) {
	stats, err := h.retryService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute retry stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ProcessRetries handles POST /retries/process. It runs one sweep pass
// immediately instead of waiting for the next tick.
func (h *RetryHandler) ProcessRetries(c *gin.Context) {
	processed, succeeded, err := h.retryService.ProcessDueRetries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Retry sweep failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed, "succeeded": succeeded})
}
