package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CampaignHandler handles campaign management HTTP requests
type CampaignHandler struct {
	campaignService *services.CampaignService
}

// NewCampaignHandler creates a new CampaignHandler
func NewCampaignHandler(campaignService *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService}
}

// RunCampaignRequest is the optional body of POST /campaigns/:id/run
type RunCampaignRequest struct {
	Recipients []string `json:"recipients"`
}

// CreateCampaign handles POST /campaigns
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var campaign models.Campaign
	if err := c.ShouldBindJSON(&campaign); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if err := h.campaignService.Create(c.Request.Context(), &campaign, actorID(c)); err != nil {
		if errors.Is(err, services.ErrInvalidCampaign) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create campaign: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// GetCampaigns handles GET /campaigns
func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	campaigns, err := h.campaignService.GetAll(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve campaigns: " + err.Error()})
		return
	}
	total, err := h.campaignService.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count campaigns: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaigns": campaigns,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// GetCampaignByID handles GET /campaigns/:id
func (h *CampaignHandler) GetCampaignByID(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	campaign, err := h.campaignService.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// UpdateCampaign handles PUT /campaigns/:id
func (h *CampaignHandler) UpdateCampaign(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	var body models.Campaign
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	campaign, err := h.campaignService.Update(c.Request.Context(), id, &body, actorID(c))
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// DeleteCampaign handles DELETE /campaigns/:id
func (h *CampaignHandler) DeleteCampaign(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	if err := h.campaignService.Delete(c.Request.Context(), id, actorID(c)); err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Campaign deleted"})
}

// RunCampaign handles POST /campaigns/:id/run. The response acknowledges the
// start of the run; delivery continues in the background.
func (h *CampaignHandler) RunCampaign(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	var request RunCampaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}

	campaign, err := h.campaignService.Run(c.Request.Context(), id, request.Recipients, actorID(c))
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":         "Campaign run started",
		"campaignId":      campaign.ID.Hex(),
		"totalRecipients": campaign.TotalRecipients,
	})
}

// CancelCampaign handles POST /campaigns/:id/cancel
func (h *CampaignHandler) CancelCampaign(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	campaign, err := h.campaignService.Cancel(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// GetFailedEmails handles GET /campaigns/:id/failed
func (h *CampaignHandler) GetFailedEmails(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	records, err := h.campaignService.GetFailedEmails(c.Request.Context(), id)
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed": records, "count": len(records)})
}

// RetryFailedEmails handles POST /campaigns/:id/retry-failed
func (h *CampaignHandler) RetryFailedEmails(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	reset, err := h.campaignService.RetryFailedEmails(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Failed emails queued for retry", "reset": reset})
}

// GetCampaignStats handles GET /campaigns/:id/stats
func (h *CampaignHandler) GetCampaignStats(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	stats, err := h.campaignService.Stats(c.Request.Context(), id)
	if err != nil {
		writeCampaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeCampaignError maps service errors onto HTTP statuses
func writeCampaignError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCampaignRunning),
		errors.Is(err, services.ErrCampaignCompleted),
		errors.Is(err, services.ErrCampaignLocked),
		errors.Is(err, services.ErrCampaignNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoRecipients), errors.Is(err, services.ErrInvalidCampaign):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// actorID pulls the authenticated user id set by the JWT middleware
func actorID(c *gin.Context) string {
	if v, ok := c.Get("userId"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
