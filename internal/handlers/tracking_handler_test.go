package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelMarksRecordOpened(t *testing.T) {
	trackingRepo := newStubTrackingRepo()
	record := &models.EmailTracking{
		RecipientEmail: "reader@example.com",
		Status:         models.TrackingStatusSent,
	}
	trackingRepo.add(record)
	router := newWebhookRouter(trackingRepo, &stubBounceRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tracking/pixel/"+record.ID.Hex(), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, transparentGIF, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")

	trackingRepo.mu.Lock()
	opened := trackingRepo.records[record.ID].OpenedAt != nil
	trackingRepo.mu.Unlock()
	assert.True(t, opened)
}

func TestPixelAlwaysServedForUnknownID(t *testing.T) {
	router := newWebhookRouter(newStubTrackingRepo(), &stubBounceRepo{})

	for _, id := range []string{"not-an-object-id", "ffffffffffffffffffffffff"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/tracking/pixel/"+id, nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, transparentGIF, w.Body.Bytes())
	}
}

func TestDeliveryStatusLookup(t *testing.T) {
	trackingRepo := newStubTrackingRepo()
	record := &models.EmailTracking{
		RecipientEmail: "sent@example.com",
		Status:         models.TrackingStatusSent,
		MessageID:      "msg-abc",
	}
	trackingRepo.add(record)
	router := newWebhookRouter(trackingRepo, &stubBounceRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tracking/status/"+record.ID.Hex(), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"trackingId":"`+record.ID.Hex()+`","status":"delivered"}`, w.Body.String())
}

func TestDeliveryStatusWithoutMessageID(t *testing.T) {
	trackingRepo := newStubTrackingRepo()
	record := &models.EmailTracking{
		RecipientEmail: "pending@example.com",
		Status:         models.TrackingStatusPending,
	}
	trackingRepo.add(record)
	router := newWebhookRouter(trackingRepo, &stubBounceRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tracking/status/"+record.ID.Hex(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
