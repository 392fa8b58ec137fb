package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SchedulerService fires scheduled campaigns. Once per day it scans for
// campaigns scheduled within the current day and arms an in-process timer
// for each; a periodic check catches process restarts and date rollover.
// Timers are process local, so a restart before the next scan re-arms them
// from the store.
type SchedulerService struct {
	campaignRepo  repositories.CampaignRepository
	runner        *CampaignService
	logger        *zap.Logger
	checkInterval time.Duration

	mu           sync.Mutex
	timers       map[string]*time.Timer
	fireTimes    map[string]time.Time
	lastScanDate string

	stopCh chan struct{}
}

// NewSchedulerService creates a new SchedulerService
func NewSchedulerService(
	campaignRepo repositories.CampaignRepository,
	runner *CampaignService,
	checkInterval time.Duration,
	logger *zap.Logger,
) *SchedulerService {
	return &SchedulerService{
		campaignRepo:  campaignRepo,
		runner:        runner,
		logger:        logger,
		checkInterval: checkInterval,
		timers:        make(map[string]*time.Timer),
		fireTimes:     make(map[string]time.Time),
		stopCh:        make(chan struct{}),
	}
}

// Start runs the daily-scan loop until the context is cancelled or Stop is
// called. A scan runs immediately on start.
func (s *SchedulerService) Start(ctx context.Context) {
	s.logger.Info("campaign scheduler started", zap.Duration("checkInterval", s.checkInterval))
	if err := s.RunDailyCheck(ctx); err != nil {
		s.logger.Error("scheduler scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			s.logger.Info("campaign scheduler stopped", zap.Error(ctx.Err()))
			return
		case <-s.stopCh:
			s.stopTimers()
			s.logger.Info("campaign scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunDailyCheck(ctx); err != nil {
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the scan loop to exit and disarms all timers
func (s *SchedulerService) Stop() {
	close(s.stopCh)
}

// RunDailyCheck scans for campaigns scheduled within the current local day
// and arms a timer for each. At most one scan runs per day; subsequent calls
// on the same date are no-ops until the date rolls over or the cache is
// refreshed. Campaigns whose scheduled time has already passed fire
// immediately.
func (s *SchedulerService) RunDailyCheck(ctx context.Context) error {
	today := time.Now().Format("2006-01-02")

	s.mu.Lock()
	if s.lastScanDate == today {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	startOfDay, _ := time.ParseInLocation("2006-01-02", today, time.Local)
	endOfDay := startOfDay.Add(24 * time.Hour)

	campaigns, err := s.campaignRepo.FindScheduledBetween(ctx, startOfDay, endOfDay)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScanDate = today

	armed := 0
	for _, campaign := range campaigns {
		id := campaign.ID.Hex()
		if _, exists := s.timers[id]; exists {
			continue
		}
		if campaign.ScheduledAt == nil {
			continue
		}

		delay := time.Until(*campaign.ScheduledAt)
		if delay < 0 {
			delay = 0
		}

		campaignID := campaign.ID
		s.timers[id] = time.AfterFunc(delay, func() {
			s.fireCampaign(campaignID)
		})
		s.fireTimes[id] = *campaign.ScheduledAt
		armed++
	}

	s.logger.Info("scheduler scan finished",
		zap.String("date", today),
		zap.Int("found", len(campaigns)),
		zap.Int("armed", armed))
	return nil
}

// fireCampaign runs when an armed timer elapses. The campaign's status is
// re-checked before starting so that a cancel or manual run between the scan
// and the fire time wins.
func (s *SchedulerService) fireCampaign(id primitive.ObjectID) {
	hexID := id.Hex()
	s.mu.Lock()
	delete(s.timers, hexID)
	delete(s.fireTimes, hexID)
	s.mu.Unlock()

	ctx := context.Background()
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("scheduled campaign vanished before firing",
			zap.String("campaignId", hexID),
			zap.Error(err))
		return
	}
	if campaign.Status != models.CampaignStatusScheduled {
		s.logger.Info("skipping fire: campaign no longer scheduled",
			zap.String("campaignId", hexID),
			zap.String("status", string(campaign.Status)))
		return
	}

	s.logger.Info("firing scheduled campaign", zap.String("campaignId", hexID))
	if _, err := s.runner.Run(ctx, id, nil, "scheduler"); err != nil {
		s.logger.Error("scheduled campaign failed to start",
			zap.String("campaignId", hexID),
			zap.Error(err))
	}
}

// Status reports the scheduler's scan and timer state. At most five upcoming
// fire times are returned, soonest first.
func (s *SchedulerService) Status() *models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	times := make([]time.Time, 0, len(s.fireTimes))
	for _, t := range s.fireTimes {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	if len(times) > 5 {
		times = times[:5]
	}

	return &models.SchedulerStatus{
		LastScanDate:  s.lastScanDate,
		ScannedToday:  s.lastScanDate == time.Now().Format("2006-01-02"),
		ArmedTimers:   len(s.timers),
		NextFireTimes: times,
	}
}

// RefreshCache disarms every timer and forces a fresh scan. Used after bulk
// schedule edits so the in-process timers match the store again.
func (s *SchedulerService) RefreshCache(ctx context.Context) error {
	s.stopTimers()
	s.mu.Lock()
	s.lastScanDate = ""
	s.mu.Unlock()
	return s.RunDailyCheck(ctx)
}

func (s *SchedulerService) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
		delete(s.fireTimes, id)
	}
}
