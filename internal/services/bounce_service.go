package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// BounceService processes inbound provider events: bounces, spam reports,
// unsubscribes, opens and clicks. Events that cannot be matched to a tracking
// record are logged and dropped; they never fail the webhook batch.
type BounceService struct {
	bounceRepo   repositories.BounceRepository
	trackingRepo repositories.EmailTrackingRepository
	campaignRepo repositories.CampaignRepository
	logger       *zap.Logger
}

// NewBounceService creates a new BounceService
func NewBounceService(
	bounceRepo repositories.BounceRepository,
	trackingRepo repositories.EmailTrackingRepository,
	campaignRepo repositories.CampaignRepository,
	logger *zap.Logger,
) *BounceService {
	return &BounceService{
		bounceRepo:   bounceRepo,
		trackingRepo: trackingRepo,
		campaignRepo: campaignRepo,
		logger:       logger,
	}
}

// ProcessEvent handles one provider event. A nil return means the event was
// either applied or deliberately dropped; an error means the caller may want
// to surface a partial failure but should keep processing the batch.
func (s *BounceService) ProcessEvent(ctx context.Context, event *models.EmailEvent) error {
	switch event.Event {
	case models.EmailEventOpen:
		return s.handleOpen(ctx, event)
	case models.EmailEventClick:
		return s.handleClick(ctx, event)
	case models.EmailEventBounce, models.EmailEventDropped, models.EmailEventSpamReport, models.EmailEventUnsubscribe:
		return s.processBounce(ctx, event)
	case models.EmailEventDelivered:
		s.logger.Debug("delivery confirmed",
			zap.String("email", event.Email),
			zap.String("trackingId", event.TrackingID))
		return nil
	default:
		s.logger.Debug("ignoring unknown event type",
			zap.String("event", event.Event),
			zap.String("email", event.Email))
		return nil
	}
}

// TrackOpen records an open reported by the tracking pixel. A record that was
// already opened, or an id that matches nothing, is a silent no-op.
func (s *BounceService) TrackOpen(ctx context.Context, trackingID, userAgent, ip string) {
	id, err := primitive.ObjectIDFromHex(trackingID)
	if err != nil {
		s.logger.Debug("pixel hit with malformed tracking id", zap.String("trackingId", trackingID))
		return
	}
	record, err := s.trackingRepo.FindByID(ctx, id)
	if err != nil {
		s.logger.Debug("pixel hit for unknown tracking id", zap.String("trackingId", trackingID))
		return
	}
	s.applyOpen(ctx, record, userAgent, ip)
}

func (s *BounceService) handleOpen(ctx context.Context, event *models.EmailEvent) error {
	record := s.resolveTracking(ctx, event)
	if record == nil {
		return nil
	}
	s.applyOpen(ctx, record, event.UserAgent, event.IP)
	return nil
}

func (s *BounceService) applyOpen(ctx context.Context, record *models.EmailTracking, userAgent, ip string) {
	if record.OpenedAt != nil {
		return
	}
	if err := s.trackingRepo.MarkOpened(ctx, record.ID, userAgent, ip); err != nil {
		s.logger.Error("failed to mark record opened",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(err))
		return
	}
	if err := s.campaignRepo.IncrementCounter(ctx, record.CampaignID, "openedCount"); err != nil {
		s.logger.Error("failed to increment opened counter",
			zap.String("campaignId", record.CampaignID.Hex()),
			zap.Error(err))
	}
}

func (s *BounceService) handleClick(ctx context.Context, event *models.EmailEvent) error {
	record := s.resolveTracking(ctx, event)
	if record == nil {
		return nil
	}
	if record.ClickedAt != nil {
		return nil
	}
	if err := s.trackingRepo.MarkClicked(ctx, record.ID, event.URL, event.UserAgent, event.IP); err != nil {
		s.logger.Error("failed to mark record clicked",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(err))
		return nil
	}
	if err := s.campaignRepo.IncrementCounter(ctx, record.CampaignID, "clickedCount"); err != nil {
		s.logger.Error("failed to increment clicked counter",
			zap.String("campaignId", record.CampaignID.Hex()),
			zap.Error(err))
	}
	return nil
}

// processBounce stores a bounce record for the matched tracking entry and
// moves the entry through its state machine. A terminal bounce goes straight
// to permanently_failed regardless of remaining retries; a soft bounce takes
// the normal failed-then-retrying path.
func (s *BounceService) processBounce(ctx context.Context, event *models.EmailEvent) error {
	record := s.resolveTracking(ctx, event)
	if record == nil {
		return nil
	}

	bounceType := classifyBounce(event)
	smtpCode := parseSMTPStatus(event.Status)

	bounce := &models.BounceRecord{
		EmailTrackingID: record.ID,
		CampaignID:      record.CampaignID,
		RecipientEmail:  record.RecipientEmail,
		BounceType:      bounceType,
		Reason:          event.Reason,
		SMTPCode:        smtpCode,
		SMTPMessage:     event.Reason,
		Metadata: models.BounceMetadata{
			MessageID:      event.MessageID,
			DiagnosticCode: event.Status,
		},
	}
	if err := s.bounceRepo.Create(ctx, bounce); err != nil {
		s.logger.Error("failed to store bounce record",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(err))
		return err
	}

	s.applyBounceTransition(ctx, record, bounceType, event)

	if err := s.bounceRepo.MarkProcessed(ctx, bounce.ID); err != nil {
		s.logger.Error("failed to mark bounce processed",
			zap.String("bounceId", bounce.ID.Hex()),
			zap.Error(err))
	}
	return nil
}

func (s *BounceService) applyBounceTransition(ctx context.Context, record *models.EmailTracking, bounceType models.BounceType, event *models.EmailEvent) {
	if record.IsTerminal() && record.Status == models.TrackingStatusPermanentlyFailed {
		return
	}

	reason := bounceFailureReason(bounceType)
	message := event.Reason
	if message == "" {
		message = string(bounceType)
	}
	var smtp *models.SMTPResponse
	if code := parseSMTPStatus(event.Status); code != 0 {
		smtp = &models.SMTPResponse{Code: code, Message: message, Raw: event.Status}
	}

	if bounceType.IsTerminal() {
		if err := s.trackingRepo.MarkPermanentlyFailed(ctx, record.ID, reason, message, smtp); err != nil {
			s.logger.Error("failed to apply terminal bounce",
				zap.String("trackingId", record.ID.Hex()),
				zap.Error(err))
		}
		s.logger.Info("terminal bounce applied",
			zap.String("trackingId", record.ID.Hex()),
			zap.String("recipient", record.RecipientEmail),
			zap.String("bounceType", string(bounceType)))
		return
	}

	// Soft bounce: consume one retry, re-arm the sweeper if budget remains.
	if err := s.trackingRepo.MarkFailed(ctx, record.ID, reason, message, smtp); err != nil {
		s.logger.Error("failed to apply soft bounce",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(err))
		return
	}
	if record.RetryCount+1 >= record.MaxRetries {
		if err := s.trackingRepo.MarkPermanentlyFailed(ctx, record.ID, reason, message, smtp); err != nil {
			s.logger.Error("failed to exhaust soft-bounced record",
				zap.String("trackingId", record.ID.Hex()),
				zap.Error(err))
		}
		return
	}
	next := time.Now().Add(SweepBackoff(record.RetryCount))
	if err := s.trackingRepo.ScheduleRetry(ctx, record.ID, next); err != nil {
		s.logger.Error("failed to schedule soft-bounce retry",
			zap.String("trackingId", record.ID.Hex()),
			zap.Error(err))
	}
}

// resolveTracking matches an event to its tracking record, first by the
// embedded correlation id, then by the recipient's most recent record.
func (s *BounceService) resolveTracking(ctx context.Context, event *models.EmailEvent) *models.EmailTracking {
	if event.TrackingID != "" {
		if id, err := primitive.ObjectIDFromHex(event.TrackingID); err == nil {
			if record, err := s.trackingRepo.FindByID(ctx, id); err == nil {
				return record
			}
		}
	}
	if event.Email != "" {
		if record, err := s.trackingRepo.FindLatestByRecipient(ctx, strings.ToLower(event.Email)); err == nil {
			return record
		}
	}
	s.logger.Warn("dropping unmatched provider event",
		zap.String("event", event.Event),
		zap.String("email", event.Email),
		zap.String("trackingId", event.TrackingID))
	return nil
}

// classifyBounce maps a provider event onto a bounce type
func classifyBounce(event *models.EmailEvent) models.BounceType {
	switch event.Event {
	case models.EmailEventDropped:
		return models.BounceTypeBlocked
	case models.EmailEventSpamReport:
		return models.BounceTypeSpam
	case models.EmailEventUnsubscribe:
		return models.BounceTypeUnsubscribed
	}

	lower := strings.ToLower(event.Reason)
	switch {
	case containsAny(lower, "invalid", "malformed", "syntax"):
		return models.BounceTypeInvalidEmail
	case containsAny(lower, "mailbox full", "quota", "temporar", "try again", "deferred", "greylist"):
		return models.BounceTypeSoft
	case strings.HasPrefix(event.Status, "4"):
		return models.BounceTypeSoft
	default:
		return models.BounceTypeHard
	}
}

func bounceFailureReason(bounceType models.BounceType) models.FailureReason {
	switch bounceType {
	case models.BounceTypeInvalidEmail:
		return models.FailureReasonInvalidEmail
	case models.BounceTypeSoft:
		return models.FailureReasonMailboxFull
	case models.BounceTypeHard:
		return models.FailureReasonUserNotFound
	default:
		return models.FailureReasonSMTPError
	}
}

// parseSMTPStatus extracts the leading class digit sequence of an enhanced
// status like "5.1.1" into a plain code (511). Empty or malformed input
// yields zero.
func parseSMTPStatus(status string) int {
	if status == "" {
		return 0
	}
	digits := strings.ReplaceAll(status, ".", "")
	code, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return code
}
