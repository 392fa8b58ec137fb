package services

import (
	"context"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// retrySweepBatchSize bounds how many due records one sweep pass picks up.
const retrySweepBatchSize = 100

// RetryService is the background sweeper that re-attempts deliveries whose
// retry time has come due. One instance runs per process.
type RetryService struct {
	trackingRepo repositories.EmailTrackingRepository
	campaignRepo repositories.CampaignRepository
	dispatcher   *DispatchService
	logger       *zap.Logger
	interval     time.Duration
	stopCh       chan struct{}
}

// NewRetryService creates a new RetryService
func NewRetryService(
	trackingRepo repositories.EmailTrackingRepository,
	campaignRepo repositories.CampaignRepository,
	dispatcher *DispatchService,
	interval time.Duration,
	logger *zap.Logger,
) *RetryService {
	return &RetryService{
		trackingRepo: trackingRepo,
		campaignRepo: campaignRepo,
		dispatcher:   dispatcher,
		logger:       logger,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
// A pass runs immediately on start, then on every tick.
func (s *RetryService) Start(ctx context.Context) {
	s.logger.Info("retry sweeper started", zap.Duration("interval", s.interval))
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry sweeper stopped", zap.Error(ctx.Err()))
			return
		case <-s.stopCh:
			s.logger.Info("retry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweep loop to exit
func (s *RetryService) Stop() {
	close(s.stopCh)
}

func (s *RetryService) sweep(ctx context.Context) {
	processed, succeeded, err := s.ProcessDueRetries(ctx)
	if err != nil {
		s.logger.Error("retry sweep failed", zap.Error(err))
		return
	}
	if processed > 0 {
		s.logger.Info("retry sweep finished",
			zap.Int("processed", processed),
			zap.Int("succeeded", succeeded))
	}
}

// ProcessDueRetries re-attempts every tracking record whose retry is due,
// up to the batch size, and returns how many were processed and how many
// succeeded. Records whose parent campaign no longer exists are marked
// permanently failed so they stop cycling through the sweep.
func (s *RetryService) ProcessDueRetries(ctx context.Context) (int, int, error) {
	records, err := s.trackingRepo.FindDueRetries(ctx, time.Now(), retrySweepBatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}

	campaigns := make(map[primitive.ObjectID]*models.Campaign)
	processed := 0
	succeeded := 0
	for _, record := range records {
		campaign, ok := campaigns[record.CampaignID]
		if !ok {
			campaign, err = s.campaignRepo.FindByID(ctx, record.CampaignID)
			if err != nil {
				s.logger.Warn("dropping retry for missing campaign",
					zap.String("trackingId", record.ID.Hex()),
					zap.String("campaignId", record.CampaignID.Hex()))
				if uerr := s.trackingRepo.MarkPermanentlyFailed(ctx, record.ID, models.FailureReasonUnknown, "campaign no longer exists", nil); uerr != nil {
					s.logger.Error("failed to drop orphaned retry",
						zap.String("trackingId", record.ID.Hex()),
						zap.Error(uerr))
				}
				continue
			}
			campaigns[record.CampaignID] = campaign
		}

		processed++
		if s.dispatcher.Attempt(ctx, record, campaign, SweepBackoff) {
			succeeded++
		}
	}
	return processed, succeeded, nil
}

// Stats reports the sweeper's backlog and all-time delivery outcomes
func (s *RetryService) Stats(ctx context.Context) (*models.RetryStats, error) {
	pending, err := s.trackingRepo.CountGlobalByStatus(ctx, models.TrackingStatusRetrying)
	if err != nil {
		return nil, err
	}
	sent, err := s.trackingRepo.CountGlobalByStatus(ctx, models.TrackingStatusSent)
	if err != nil {
		return nil, err
	}
	permFailed, err := s.trackingRepo.CountGlobalByStatus(ctx, models.TrackingStatusPermanentlyFailed)
	if err != nil {
		return nil, err
	}

	stats := &models.RetryStats{
		PendingRetries:    pending,
		TotalSent:         sent,
		PermanentlyFailed: permFailed,
	}
	if total := sent + permFailed; total > 0 {
		stats.SuccessRate = float64(sent) / float64(total)
	}
	return stats, nil
}
