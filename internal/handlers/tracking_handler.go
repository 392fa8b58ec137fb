package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harborcms/harbor-backend/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// transparentGIF is a 1x1 transparent GIF served as the open-tracking pixel
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandler serves the open-tracking pixel and per-record delivery
// status lookups
type TrackingHandler struct {
	bounceService *services.BounceService
	dispatcher    *services.DispatchService
}

// NewTrackingHandler creates a new TrackingHandler
func NewTrackingHandler(bounceService *services.BounceService, dispatcher *services.DispatchService) *TrackingHandler {
	return &TrackingHandler{bounceService: bounceService, dispatcher: dispatcher}
}

// GetDeliveryStatus handles GET /tracking/status/:trackingId. It asks the
// provider for the current disposition of an already dispatched record.
func (h *TrackingHandler) GetDeliveryStatus(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("trackingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return
	}

	status, err := h.dispatcher.DeliveryStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotDispatched) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Delivery status unavailable: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackingId": id.Hex(), "status": status})
}

// ServePixel handles GET /tracking/pixel/:trackingId. The pixel is always
// returned with 200 regardless of whether the id matched anything, so a
// broken link never shows a broken image in the recipient's client.
func (h *TrackingHandler) ServePixel(c *gin.Context) {
	if trackingID := c.Param("trackingId"); trackingID != "" {
		h.bounceService.TrackOpen(c.Request.Context(), trackingID, c.Request.UserAgent(), c.ClientIP())
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/gif", transparentGIF)
}
