package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/services"
)

// SchedulerHandler exposes the campaign scheduler over HTTP
type SchedulerHandler struct {
	schedulerService *services.SchedulerService
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(schedulerService *services.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{schedulerService: schedulerService}
}

// GetStatus handles GET /scheduler/status
func (h *SchedulerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.schedulerService.Status())
}

// RefreshCache handles POST /scheduler/refresh
func (h *SchedulerHandler) RefreshCache(c *gin.Context) {
	if err := h.schedulerService.RefreshCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh scheduler: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.schedulerService.Status())
}

// RunCheck handles POST /scheduler/check
func (h *SchedulerHandler) RunCheck(c *gin.Context) {
	if err := h.schedulerService.RunDailyCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scheduler scan failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.schedulerService.Status())
}
