package services

import (
	"context"
	"testing"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/pkg/emailgateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type retryFixture struct {
	service      *RetryService
	campaignRepo *memCampaignRepo
	trackingRepo *memTrackingRepo
	gateway      *fakeGateway
}

func newRetryFixture(t *testing.T) *retryFixture {
	t.Helper()
	campaignRepo := newMemCampaignRepo()
	trackingRepo := newMemTrackingRepo()
	gateway := newFakeGateway()
	logger := testLogger()
	dispatcher := NewDispatchService(trackingRepo, gateway, logger)
	return &retryFixture{
		service:      NewRetryService(trackingRepo, campaignRepo, dispatcher, time.Minute, logger),
		campaignRepo: campaignRepo,
		trackingRepo: trackingRepo,
		gateway:      gateway,
	}
}

func (f *retryFixture) seedRetrying(t *testing.T, campaignID primitive.ObjectID, email string, due time.Time, retryCount, maxRetries int) *models.EmailTracking {
	t.Helper()
	record := &models.EmailTracking{
		CampaignID:     campaignID,
		RecipientEmail: email,
		Subject:        "s",
		Status:         models.TrackingStatusRetrying,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		NextRetryAt:    &due,
	}
	require.NoError(t, f.trackingRepo.Create(context.Background(), record))
	return record
}

func seedRetryCampaign(t *testing.T, repo *memCampaignRepo) *models.Campaign {
	t.Helper()
	campaign := &models.Campaign{
		Name:    "c",
		Subject: "s",
		Body:    "b",
		Status:  models.CampaignStatusCompleted,
	}
	require.NoError(t, repo.Create(context.Background(), campaign))
	return campaign
}

func TestProcessDueRetriesDelivers(t *testing.T) {
	f := newRetryFixture(t)
	campaign := seedRetryCampaign(t, f.campaignRepo)
	past := time.Now().Add(-time.Minute)
	record := f.seedRetrying(t, campaign.ID, "due@example.com", past, 1, 3)

	processed, succeeded, err := f.service.ProcessDueRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, succeeded)

	stored, err := f.trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusSent, stored.Status)
}

func TestProcessDueRetriesSkipsFutureRecords(t *testing.T) {
	f := newRetryFixture(t)
	campaign := seedRetryCampaign(t, f.campaignRepo)
	future := time.Now().Add(time.Hour)
	f.seedRetrying(t, campaign.ID, "later@example.com", future, 1, 3)

	processed, _, err := f.service.ProcessDueRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, f.gateway.callCount("later@example.com"))
}

func TestProcessDueRetriesReschedulesWithBackoff(t *testing.T) {
	f := newRetryFixture(t)
	campaign := seedRetryCampaign(t, f.campaignRepo)
	past := time.Now().Add(-time.Minute)
	record := f.seedRetrying(t, campaign.ID, "flaky@example.com", past, 1, 5)
	f.gateway.failNext("flaky@example.com", &emailgateway.SendError{Code: 451, Message: "try later"})

	before := time.Now()
	processed, succeeded, err := f.service.ProcessDueRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, succeeded)

	stored, err := f.trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusRetrying, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	// second retry backs off ten minutes
	assert.WithinDuration(t, before.Add(10*time.Minute), *stored.NextRetryAt, 2*time.Second)
}

func TestProcessDueRetriesDropsOrphanedRecords(t *testing.T) {
	f := newRetryFixture(t)
	past := time.Now().Add(-time.Minute)
	record := f.seedRetrying(t, primitive.NewObjectID(), "ghost@example.com", past, 1, 3)

	processed, _, err := f.service.ProcessDueRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, f.gateway.callCount("ghost@example.com"))

	stored, err := f.trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusPermanentlyFailed, stored.Status)
}

func TestRetryStats(t *testing.T) {
	f := newRetryFixture(t)
	campaignID := primitive.NewObjectID()
	now := time.Now()
	for _, status := range []models.TrackingStatus{
		models.TrackingStatusSent,
		models.TrackingStatusSent,
		models.TrackingStatusSent,
		models.TrackingStatusPermanentlyFailed,
		models.TrackingStatusRetrying,
	} {
		record := &models.EmailTracking{CampaignID: campaignID, Status: status}
		if status == models.TrackingStatusRetrying {
			record.NextRetryAt = &now
		}
		require.NoError(t, f.trackingRepo.Create(context.Background(), record))
	}

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingRetries)
	assert.Equal(t, int64(3), stats.TotalSent)
	assert.Equal(t, int64(1), stats.PermanentlyFailed)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.0001)
}

func TestRetryServiceStartStop(t *testing.T) {
	f := newRetryFixture(t)
	done := make(chan struct{})
	go func() {
		f.service.Start(context.Background())
		close(done)
	}()

	f.service.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
