package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harborcms/harbor-backend/internal/config"
	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	// ErrCampaignNotFound is returned for unknown campaign ids
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignRunning is returned when a run is requested for a campaign that is already running
	ErrCampaignRunning = errors.New("campaign is already running")
	// ErrCampaignCompleted is returned when a run is requested for a completed campaign
	ErrCampaignCompleted = errors.New("campaign has already completed")
	// ErrCampaignLocked is returned when a running campaign is mutated or deleted
	ErrCampaignLocked = errors.New("campaign cannot be modified while running")
	// ErrCampaignNotCancellable is returned when cancel is called outside scheduled/running
	ErrCampaignNotCancellable = errors.New("only scheduled or running campaigns can be cancelled")
	// ErrNoRecipients is returned when the resolved recipient set is empty
	ErrNoRecipients = errors.New("campaign has no recipients")
	// ErrInvalidCampaign is returned when required content fields are missing
	ErrInvalidCampaign = errors.New("campaign name, subject and body are required")
)

// CampaignService owns campaign management and drives full campaign sends.
// A run flips the campaign to running, acknowledges the caller immediately
// and delivers in a detached background loop, one recipient at a time.
type CampaignService struct {
	campaignRepo repositories.CampaignRepository
	trackingRepo repositories.EmailTrackingRepository
	contactRepo  repositories.ContactRepository
	dispatcher   *DispatchService
	audit        *AuditService
	logger       *zap.Logger

	loopRetryDelay      time.Duration
	defaultMaxRetries   int
	defaultSendInterval int
}

// NewCampaignService creates a new CampaignService
func NewCampaignService(
	campaignRepo repositories.CampaignRepository,
	trackingRepo repositories.EmailTrackingRepository,
	contactRepo repositories.ContactRepository,
	dispatcher *DispatchService,
	audit *AuditService,
	cfg *config.Config,
	logger *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaignRepo:        campaignRepo,
		trackingRepo:        trackingRepo,
		contactRepo:         contactRepo,
		dispatcher:          dispatcher,
		audit:               audit,
		logger:              logger,
		loopRetryDelay:      time.Duration(cfg.Engine.LoopRetryDelay) * time.Second,
		defaultMaxRetries:   cfg.Engine.DefaultMaxRetries,
		defaultSendInterval: cfg.Engine.DefaultSendInterval,
	}
}

// Create creates a campaign in draft, or scheduled when a future scheduledAt
// is supplied
func (s *CampaignService) Create(ctx context.Context, campaign *models.Campaign, actorID string) error {
	if campaign.Name == "" || campaign.Subject == "" || campaign.Body == "" {
		return ErrInvalidCampaign
	}
	if campaign.Type == "" {
		campaign.Type = models.CampaignTypeEmail
	}
	if campaign.Settings.MaxRetries <= 0 {
		campaign.Settings.MaxRetries = s.defaultMaxRetries
	}
	if campaign.Settings.SendInterval < 0 {
		campaign.Settings.SendInterval = s.defaultSendInterval
	}

	campaign.Status = models.CampaignStatusDraft
	if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(time.Now()) {
		campaign.Status = models.CampaignStatusScheduled
	}
	campaign.CreatedBy = actorID

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return err
	}
	s.audit.Record(ctx, "campaign.create", "campaign", campaign.ID.Hex(), actorID, map[string]interface{}{
		"name":   campaign.Name,
		"status": campaign.Status,
	})
	return nil
}

// GetByID retrieves a campaign by ID
func (s *CampaignService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

// GetAll retrieves campaigns with pagination
func (s *CampaignService) GetAll(ctx context.Context, page, limit int) ([]*models.Campaign, error) {
	return s.campaignRepo.FindAll(ctx, page, limit)
}

// Count returns the total number of campaigns
func (s *CampaignService) Count(ctx context.Context) (int64, error) {
	return s.campaignRepo.Count(ctx)
}

// Update replaces a campaign's content fields and settings. Run state
// (status, counters, timestamps) is owned by the runner and preserved.
func (s *CampaignService) Update(ctx context.Context, id primitive.ObjectID, updated *models.Campaign, actorID string) (*models.Campaign, error) {
	existing, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrCampaignNotFound
	}
	if existing.IsLocked() {
		return nil, ErrCampaignLocked
	}

	if updated.Name != "" {
		existing.Name = updated.Name
	}
	if updated.Subject != "" {
		existing.Subject = updated.Subject
	}
	if updated.Body != "" {
		existing.Body = updated.Body
	}
	if updated.Settings.MaxRetries > 0 {
		existing.Settings.MaxRetries = updated.Settings.MaxRetries
	}
	if updated.Settings.SendInterval >= 0 {
		existing.Settings.SendInterval = updated.Settings.SendInterval
	}
	existing.Settings.IncludeUnsubscribed = updated.Settings.IncludeUnsubscribed
	if updated.ScheduledAt != nil {
		existing.ScheduledAt = updated.ScheduledAt
		if updated.ScheduledAt.After(time.Now()) && existing.Status == models.CampaignStatusDraft {
			existing.Status = models.CampaignStatusScheduled
		}
	}

	if err := s.campaignRepo.Update(ctx, existing); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, "campaign.update", "campaign", existing.ID.Hex(), actorID, nil)
	return existing, nil
}

// Delete deletes a campaign. Running campaigns cannot be deleted.
func (s *CampaignService) Delete(ctx context.Context, id primitive.ObjectID, actorID string) error {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return ErrCampaignNotFound
	}
	if campaign.IsLocked() {
		return ErrCampaignLocked
	}
	if err := s.campaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, "campaign.delete", "campaign", id.Hex(), actorID, nil)
	return nil
}

// Run starts a campaign send. Recipients come from the override list when
// supplied, otherwise from the distinct contact emails. The call returns as
// soon as the campaign is flipped to running; delivery happens in a detached
// background loop.
func (s *CampaignService) Run(ctx context.Context, id primitive.ObjectID, overrideRecipients []string, actorID string) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status == models.CampaignStatusRunning {
		return nil, ErrCampaignRunning
	}
	if campaign.Status == models.CampaignStatusCompleted {
		return nil, ErrCampaignCompleted
	}

	recipients, err := s.resolveRecipients(ctx, campaign, overrideRecipients)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := time.Now()
	campaign.Status = models.CampaignStatusRunning
	campaign.StartedAt = &now
	campaign.CompletedAt = nil
	campaign.TotalRecipients = len(recipients)
	campaign.RecipientEmails = recipients
	campaign.SentCount = 0
	campaign.FailedCount = 0
	campaign.SentEmails = nil
	campaign.FailedEmails = nil
	campaign.Metadata.LastError = ""

	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, "campaign.run", "campaign", campaign.ID.Hex(), actorID, map[string]interface{}{
		"totalRecipients": campaign.TotalRecipients,
	})

	// Detached send loop: the caller gets an acknowledgement, not a
	// completion signal. Failures surface through logs and campaign
	// metadata.
	go s.executeSendLoop(context.Background(), campaign.ID)

	return campaign, nil
}

// Cancel cancels a scheduled or running campaign. An in-flight send loop
// notices the status change between recipients and stops; records already
// written keep their last status.
func (s *CampaignService) Cancel(ctx context.Context, id primitive.ObjectID, actorID string) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrCampaignNotFound
	}
	if !campaign.IsCancellable() {
		return nil, ErrCampaignNotCancellable
	}

	now := time.Now()
	campaign.Status = models.CampaignStatusCancelled
	campaign.CompletedAt = &now
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, "campaign.cancel", "campaign", id.Hex(), actorID, nil)
	return campaign, nil
}

// GetFailedEmails lists the failed tracking records for a campaign
func (s *CampaignService) GetFailedEmails(ctx context.Context, campaignID primitive.ObjectID) ([]*models.EmailTracking, error) {
	if _, err := s.campaignRepo.FindByID(ctx, campaignID); err != nil {
		return nil, ErrCampaignNotFound
	}
	return s.trackingRepo.FindFailedByCampaignID(ctx, campaignID)
}

// RetryFailedEmails re-arms every failed record of a campaign with a fresh
// retry budget; the sweeper picks them up on its next pass. This is an
// operator override and deliberately includes permanently failed records.
func (s *CampaignService) RetryFailedEmails(ctx context.Context, campaignID primitive.ObjectID, actorID string) (int, error) {
	if _, err := s.campaignRepo.FindByID(ctx, campaignID); err != nil {
		return 0, ErrCampaignNotFound
	}
	records, err := s.trackingRepo.FindFailedByCampaignID(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, record := range records {
		if record.Status == models.TrackingStatusSent {
			continue
		}
		if err := s.trackingRepo.ResetForRetry(ctx, record.ID); err != nil {
			s.logger.Error("failed to reset tracking record for retry",
				zap.String("trackingId", record.ID.Hex()),
				zap.Error(err))
			continue
		}
		reset++
	}
	s.audit.Record(ctx, "campaign.retry_failed", "campaign", campaignID.Hex(), actorID, map[string]interface{}{
		"reset": reset,
	})
	return reset, nil
}

// Stats aggregates campaign counters with tracking-store counts by status
func (s *CampaignService) Stats(ctx context.Context, campaignID primitive.ObjectID) (*models.CampaignStats, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		return nil, ErrCampaignNotFound
	}
	counts, err := s.trackingRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &models.CampaignStats{
		CampaignID:      campaign.ID.Hex(),
		Status:          campaign.Status,
		TotalRecipients: campaign.TotalRecipients,
		SentCount:       campaign.SentCount,
		FailedCount:     campaign.FailedCount,
		OpenedCount:     campaign.OpenedCount,
		ClickedCount:    campaign.ClickedCount,
		TrackingCounts:  counts,
	}, nil
}

func (s *CampaignService) resolveRecipients(ctx context.Context, campaign *models.Campaign, override []string) ([]string, error) {
	source := override
	if len(source) == 0 {
		emails, err := s.contactRepo.DistinctEmails(ctx, campaign.Settings.IncludeUnsubscribed)
		if err != nil {
			return nil, err
		}
		source = emails
	}

	seen := make(map[string]struct{}, len(source))
	recipients := make([]string, 0, len(source))
	for _, email := range source {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, email)
	}
	return recipients, nil
}

// executeSendLoop delivers a campaign sequentially, one recipient at a time.
// It creates the full set of tracking records up front, re-checks the
// campaign status between recipients so a cancel stops the loop, persists
// running counters after every recipient and sleeps sendInterval seconds
// between sends.
func (s *CampaignService) executeSendLoop(ctx context.Context, campaignID primitive.ObjectID) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("send loop panicked",
				zap.String("campaignId", campaignID.Hex()),
				zap.Any("panic", r))
		}
	}()

	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		s.logger.Error("send loop could not load campaign",
			zap.String("campaignId", campaignID.Hex()),
			zap.Error(err))
		return
	}

	records := make([]*models.EmailTracking, 0, len(campaign.RecipientEmails))
	for _, email := range campaign.RecipientEmails {
		records = append(records, &models.EmailTracking{
			CampaignID:     campaign.ID,
			RecipientEmail: email,
			Subject:        campaign.Subject,
			Status:         models.TrackingStatusPending,
			MaxRetries:     campaign.Settings.MaxRetries,
			Metadata: models.TrackingMetadata{
				CampaignName: campaign.Name,
				SendInterval: campaign.Settings.SendInterval,
			},
		})
	}
	if err := s.trackingRepo.CreateMany(ctx, records); err != nil {
		s.failRun(ctx, campaign, err)
		return
	}

	sendInterval := time.Duration(campaign.Settings.SendInterval) * time.Second

	for i, record := range records {
		if s.sendWithRetries(ctx, record, campaign) {
			campaign.SentCount++
			campaign.SentEmails = append(campaign.SentEmails, record.RecipientEmail)
		} else {
			campaign.FailedCount++
			campaign.FailedEmails = append(campaign.FailedEmails, record.RecipientEmail)
		}

		// Merge store state before writing back so a cancel or webhook
		// counter increment that landed during the send is not clobbered.
		if fresh, ferr := s.campaignRepo.FindByID(ctx, campaignID); ferr == nil {
			campaign.Status = fresh.Status
			campaign.CompletedAt = fresh.CompletedAt
			campaign.OpenedCount = fresh.OpenedCount
			campaign.ClickedCount = fresh.ClickedCount
		}

		// Counters are a best-effort cache over tracking state; a failed
		// write must not undo the attempt already recorded.
		if err := s.campaignRepo.Update(ctx, campaign); err != nil {
			s.logger.Error("failed to persist campaign counters",
				zap.String("campaignId", campaignID.Hex()),
				zap.Error(err))
		}

		if campaign.Status != models.CampaignStatusRunning {
			s.logger.Info("send loop stopped: campaign no longer running",
				zap.String("campaignId", campaignID.Hex()),
				zap.String("status", string(campaign.Status)))
			return
		}

		if i < len(records)-1 && sendInterval > 0 {
			time.Sleep(sendInterval)
		}
	}

	now := time.Now()
	campaign.Status = models.CampaignStatusCompleted
	campaign.CompletedAt = &now
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		s.logger.Error("failed to mark campaign completed",
			zap.String("campaignId", campaignID.Hex()),
			zap.Error(err))
		return
	}
	s.logger.Info("campaign run completed",
		zap.String("campaignId", campaignID.Hex()),
		zap.Int("sent", campaign.SentCount),
		zap.Int("failed", campaign.FailedCount))
}

// sendWithRetries drives one recipient to a terminal outcome within the run,
// spacing attempts by the fixed in-run delay. The retry budget lives on the
// tracking record, so the loop ends at sent or permanently_failed.
func (s *CampaignService) sendWithRetries(ctx context.Context, record *models.EmailTracking, campaign *models.Campaign) bool {
	backoff := FixedBackoff(s.loopRetryDelay)
	for {
		if s.dispatcher.Attempt(ctx, record, campaign, backoff) {
			return true
		}
		if record.Status == models.TrackingStatusPermanentlyFailed {
			return false
		}
		if s.loopRetryDelay > 0 {
			time.Sleep(s.loopRetryDelay)
		}
	}
}

// failRun records a run that could not start at all
func (s *CampaignService) failRun(ctx context.Context, campaign *models.Campaign, cause error) {
	now := time.Now()
	next := now.Add(5 * time.Minute)
	campaign.Status = models.CampaignStatusFailed
	campaign.CompletedAt = &now
	campaign.Metadata.LastError = cause.Error()
	campaign.Metadata.RetryCount++
	campaign.Metadata.NextRetryAt = &next
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		s.logger.Error("failed to record campaign run failure",
			zap.String("campaignId", campaign.ID.Hex()),
			zap.Error(err))
	}
	s.logger.Error("campaign run failed to start",
		zap.String("campaignId", campaign.ID.Hex()),
		zap.Error(cause))
}
