package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"github.com/harborcms/harbor-backend/pkg/emailgateway"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// BackoffPolicy computes the delay before the next retry, given how many
// retries the record has already consumed.
type BackoffPolicy func(retryCount int) time.Duration

// SweepBackoff is the sweeper's retry delay: 5 minutes doubling per retry,
// capped at one hour (5, 10, 20, 40, 60, 60, ...).
func SweepBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 4 {
		return 60 * time.Minute
	}
	return time.Duration(5<<uint(retryCount)) * time.Minute
}

// FixedBackoff returns a policy with a constant delay. Used for the short
// in-run retry spacing inside a campaign send loop.
func FixedBackoff(d time.Duration) BackoffPolicy {
	return func(int) time.Duration { return d }
}

// DispatchService performs single delivery attempts and owns the
// retry-vs-permanent-failure decision. Every attempt is reflected in the
// tracking store before Attempt returns; a crash between the transport call
// succeeding and the status write is the only window in which a duplicate
// send is possible on recovery.
type DispatchService struct {
	trackingRepo repositories.EmailTrackingRepository
	gateway      emailgateway.Gateway
	logger       *zap.Logger
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(trackingRepo repositories.EmailTrackingRepository, gateway emailgateway.Gateway, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		trackingRepo: trackingRepo,
		gateway:      gateway,
		logger:       logger,
	}
}

// Attempt performs one delivery attempt for the given tracking record and
// writes the outcome. It returns true when the record was marked sent. On
// failure the record is either scheduled for a retry (delay chosen by the
// backoff policy) or marked permanently failed when the retry budget is
// exhausted. The record struct is updated in place to mirror the store.
func (s *DispatchService) Attempt(ctx context.Context, record *models.EmailTracking, campaign *models.Campaign, backoff BackoffPolicy) bool {
	messageID, err := s.gateway.SendEmail(ctx, record.RecipientEmail, record.Subject, campaign.Body, record.ID.Hex())
	if err == nil {
		now := time.Now()
		if uerr := s.trackingRepo.MarkSent(ctx, record.ID, messageID); uerr != nil {
			s.logger.Error("failed to mark tracking record sent",
				zap.String("trackingId", record.ID.Hex()),
				zap.Error(uerr))
		}
		record.Status = models.TrackingStatusSent
		record.MessageID = messageID
		record.SentAt = &now
		record.FailureReason = ""
		record.ErrorMessage = ""
		record.NextRetryAt = nil
		s.logger.Debug("email sent",
			zap.String("trackingId", record.ID.Hex()),
			zap.String("messageId", messageID))
		return true
	}

	reason, smtp := ClassifyError(err)

	if record.RetryCount+1 >= record.MaxRetries {
		if uerr := s.trackingRepo.MarkPermanentlyFailed(ctx, record.ID, reason, err.Error(), smtp); uerr != nil {
			s.logger.Error("failed to mark tracking record permanently failed",
				zap.String("trackingId", record.ID.Hex()),
				zap.Error(uerr))
		}
		now := time.Now()
		record.Status = models.TrackingStatusPermanentlyFailed
		record.FailureReason = reason
		record.ErrorMessage = err.Error()
		record.SMTPResponse = smtp
		record.FailedAt = &now
		record.NextRetryAt = nil
		s.logger.Warn("delivery permanently failed",
			zap.String("trackingId", record.ID.Hex()),
			zap.String("recipient", record.RecipientEmail),
			zap.String("reason", string(reason)),
			zap.Int("retryCount", record.RetryCount))
		return false
	}

	if uerr := s.trackingRepo.MarkFailed(ctx, record.ID, reason, err.Error(), smtp); uerr != nil {
		s.logger.Error("failed to mark tracking record failed",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(uerr))
	}
	next := time.Now().Add(backoff(record.RetryCount))
	if uerr := s.trackingRepo.ScheduleRetry(ctx, record.ID, next); uerr != nil {
		s.logger.Error("failed to schedule retry",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(uerr))
	}
	now := time.Now()
	record.Status = models.TrackingStatusRetrying
	record.FailureReason = reason
	record.ErrorMessage = err.Error()
	record.SMTPResponse = smtp
	record.FailedAt = &now
	record.RetryCount++
	record.NextRetryAt = &next
	s.logger.Debug("delivery failed, retry scheduled",
		zap.String("trackingId", record.ID.Hex()),
		zap.String("reason", string(reason)),
		zap.Int("retryCount", record.RetryCount),
		zap.Time("nextRetryAt", next))
	return false
}

// ErrNotDispatched is returned when a delivery-status probe is requested for
// a record that was never accepted by the provider.
var ErrNotDispatched = errors.New("record has no provider message id")

// DeliveryStatus asks the provider for the disposition of an already sent
// record
func (s *DispatchService) DeliveryStatus(ctx context.Context, trackingID primitive.ObjectID) (string, error) {
	record, err := s.trackingRepo.FindByID(ctx, trackingID)
	if err != nil {
		return "", err
	}
	if record.MessageID == "" {
		return "", ErrNotDispatched
	}
	return s.gateway.GetDeliveryStatus(ctx, record.MessageID)
}

// ClassifyError maps a transport error onto a failure reason using pattern
// rules over the provider's status code and message text.
func ClassifyError(err error) (models.FailureReason, *models.SMTPResponse) {
	code := 0
	msg := err.Error()
	var sendErr *emailgateway.SendError
	if errors.As(err, &sendErr) {
		code = sendErr.Code
	}

	var smtp *models.SMTPResponse
	if code != 0 {
		smtp = &models.SMTPResponse{Code: code, Message: firstLine(msg), Raw: msg}
	}

	return classifyReason(code, msg), smtp
}

func classifyReason(code int, msg string) models.FailureReason {
	lower := strings.ToLower(msg)
	switch {
	case code == 550 || containsAny(lower, "user not found", "user unknown", "no such user", "does not exist"):
		return models.FailureReasonUserNotFound
	case code == 552 || containsAny(lower, "mailbox full", "quota exceeded", "over quota"):
		return models.FailureReasonMailboxFull
	case containsAny(lower, "domain not found", "no mx record", "dns", "host not found"):
		return models.FailureReasonDomainNotFound
	case code == 553 || containsAny(lower, "invalid email", "invalid address", "invalid recipient", "malformed address"):
		return models.FailureReasonInvalidEmail
	case code == 429 || containsAny(lower, "rate limit", "too many requests", "throttl"):
		return models.FailureReasonRateLimit
	case code == 401 || code == 403 || containsAny(lower, "unauthorized", "authentication", "forbidden", "api key"):
		return models.FailureReasonAuthError
	case containsAny(lower, "timeout", "timed out", "connection", "network", "refused", "unreachable", "eof"):
		return models.FailureReasonNetworkError
	case code >= 400:
		return models.FailureReasonSMTPError
	default:
		return models.FailureReasonUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
