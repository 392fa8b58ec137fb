package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/pkg/emailgateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newDispatchFixture(t *testing.T) (*DispatchService, *memTrackingRepo, *fakeGateway) {
	t.Helper()
	trackingRepo := newMemTrackingRepo()
	gateway := newFakeGateway()
	return NewDispatchService(trackingRepo, gateway, testLogger()), trackingRepo, gateway
}

func seedRecord(t *testing.T, repo *memTrackingRepo, email string, maxRetries int) *models.EmailTracking {
	t.Helper()
	record := &models.EmailTracking{
		CampaignID:     primitive.NewObjectID(),
		RecipientEmail: email,
		Subject:        "Hello",
		Status:         models.TrackingStatusPending,
		MaxRetries:     maxRetries,
	}
	require.NoError(t, repo.Create(context.Background(), record))
	return record
}

func TestSweepBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Minute, SweepBackoff(0))
	assert.Equal(t, 10*time.Minute, SweepBackoff(1))
	assert.Equal(t, 20*time.Minute, SweepBackoff(2))
	assert.Equal(t, 40*time.Minute, SweepBackoff(3))
	assert.Equal(t, 60*time.Minute, SweepBackoff(4))
	assert.Equal(t, 60*time.Minute, SweepBackoff(10))
	assert.Equal(t, 5*time.Minute, SweepBackoff(-1))
}

func TestAttemptSuccessClearsFailureState(t *testing.T) {
	dispatcher, trackingRepo, _ := newDispatchFixture(t)
	record := seedRecord(t, trackingRepo, "a@example.com", 3)
	record.FailureReason = models.FailureReasonNetworkError
	record.ErrorMessage = "previous failure"

	campaign := &models.Campaign{Body: "<p>hi</p>"}
	ok := dispatcher.Attempt(context.Background(), record, campaign, SweepBackoff)

	require.True(t, ok)
	assert.Equal(t, models.TrackingStatusSent, record.Status)
	assert.Empty(t, record.FailureReason)
	assert.Empty(t, record.ErrorMessage)
	assert.Nil(t, record.NextRetryAt)
	assert.NotNil(t, record.SentAt)

	stored, err := trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusSent, stored.Status)
	assert.Empty(t, stored.FailureReason)
	assert.Nil(t, stored.NextRetryAt)
}

func TestAttemptFailureSchedulesRetry(t *testing.T) {
	dispatcher, trackingRepo, gateway := newDispatchFixture(t)
	record := seedRecord(t, trackingRepo, "b@example.com", 3)
	gateway.failNext("b@example.com", &emailgateway.SendError{Code: 429, Message: "rate limit exceeded"})

	campaign := &models.Campaign{Body: "<p>hi</p>"}
	before := time.Now()
	ok := dispatcher.Attempt(context.Background(), record, campaign, SweepBackoff)

	require.False(t, ok)
	assert.Equal(t, models.TrackingStatusRetrying, record.Status)
	assert.Equal(t, models.FailureReasonRateLimit, record.FailureReason)
	assert.Equal(t, 1, record.RetryCount)
	require.NotNil(t, record.NextRetryAt)
	// first retry uses the retry count before the increment
	assert.WithinDuration(t, before.Add(5*time.Minute), *record.NextRetryAt, 2*time.Second)

	stored, err := trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestAttemptExhaustionMarksPermanentlyFailed(t *testing.T) {
	dispatcher, trackingRepo, gateway := newDispatchFixture(t)
	record := seedRecord(t, trackingRepo, "c@example.com", 2)
	record.RetryCount = 1
	gateway.failNext("c@example.com", &emailgateway.SendError{Code: 550, Message: "user not found"})

	campaign := &models.Campaign{Body: "<p>hi</p>"}
	ok := dispatcher.Attempt(context.Background(), record, campaign, SweepBackoff)

	require.False(t, ok)
	assert.Equal(t, models.TrackingStatusPermanentlyFailed, record.Status)
	assert.Equal(t, models.FailureReasonUserNotFound, record.FailureReason)
	assert.Nil(t, record.NextRetryAt)

	stored, err := trackingRepo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusPermanentlyFailed, stored.Status)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason models.FailureReason
	}{
		{"550 user not found", &emailgateway.SendError{Code: 550, Message: "unknown recipient"}, models.FailureReasonUserNotFound},
		{"user unknown text", errors.New("smtp: user unknown"), models.FailureReasonUserNotFound},
		{"552 mailbox full", &emailgateway.SendError{Code: 552, Message: "storage exceeded"}, models.FailureReasonMailboxFull},
		{"quota text", errors.New("recipient over quota"), models.FailureReasonMailboxFull},
		{"dns failure", errors.New("lookup failed: no mx record"), models.FailureReasonDomainNotFound},
		{"553 invalid", &emailgateway.SendError{Code: 553, Message: "bad mailbox name"}, models.FailureReasonInvalidEmail},
		{"invalid address text", errors.New("invalid address syntax"), models.FailureReasonInvalidEmail},
		{"429", &emailgateway.SendError{Code: 429, Message: "slow down"}, models.FailureReasonRateLimit},
		{"throttled text", errors.New("request throttled"), models.FailureReasonRateLimit},
		{"401", &emailgateway.SendError{Code: 401, Message: "bad credentials"}, models.FailureReasonAuthError},
		{"api key text", errors.New("invalid api key"), models.FailureReasonAuthError},
		{"timeout", errors.New("context deadline exceeded: timeout"), models.FailureReasonNetworkError},
		{"connection refused", errors.New("dial tcp: connection refused"), models.FailureReasonNetworkError},
		{"generic 4xx", &emailgateway.SendError{Code: 451, Message: "local error in processing"}, models.FailureReasonSMTPError},
		{"unclassifiable", errors.New("something odd happened"), models.FailureReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, _ := ClassifyError(tt.err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassifyErrorCapturesSMTPResponse(t *testing.T) {
	_, smtp := ClassifyError(&emailgateway.SendError{Code: 550, Message: "no such user"})
	require.NotNil(t, smtp)
	assert.Equal(t, 550, smtp.Code)

	_, smtp = ClassifyError(errors.New("plain transport error"))
	assert.Nil(t, smtp)
}
