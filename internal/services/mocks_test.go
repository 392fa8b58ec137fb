package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/harborcms/harbor-backend/internal/config"
	"github.com/harborcms/harbor-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var errNotFound = errors.New("not found")

// memCampaignRepo is an in-memory CampaignRepository. Reads and writes copy
// the struct so tests and the background send loop never share a pointer.
type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[primitive.ObjectID]models.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[primitive.ObjectID]models.Campaign)}
}

func (r *memCampaignRepo) Create(ctx context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if campaign.ID.IsZero() {
		campaign.ID = primitive.NewObjectID()
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = time.Now()
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *memCampaignRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, errNotFound
	}
	out := c
	return &out, nil
}

func (r *memCampaignRepo) FindAll(ctx context.Context, page, limit int) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memCampaignRepo) FindByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (r *memCampaignRepo) FindScheduledBetween(ctx context.Context, start, end time.Time) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Status != models.CampaignStatusScheduled || c.ScheduledAt == nil {
			continue
		}
		if c.ScheduledAt.Before(start) || !c.ScheduledAt.Before(end) {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	return out, nil
}

func (r *memCampaignRepo) Update(ctx context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaign.ID]; !ok {
		return errNotFound
	}
	campaign.UpdatedAt = time.Now()
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *memCampaignRepo) IncrementCounter(ctx context.Context, id primitive.ObjectID, field string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return errNotFound
	}
	switch field {
	case "openedCount":
		c.OpenedCount++
	case "clickedCount":
		c.ClickedCount++
	case "sentCount":
		c.SentCount++
	case "failedCount":
		c.FailedCount++
	}
	r.campaigns[id] = c
	return nil
}

func (r *memCampaignRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[id]; !ok {
		return errNotFound
	}
	delete(r.campaigns, id)
	return nil
}

func (r *memCampaignRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.campaigns)), nil
}

// memTrackingRepo is an in-memory EmailTrackingRepository
type memTrackingRepo struct {
	mu      sync.Mutex
	records map[primitive.ObjectID]models.EmailTracking
}

func newMemTrackingRepo() *memTrackingRepo {
	return &memTrackingRepo{records: make(map[primitive.ObjectID]models.EmailTracking)}
}

func (r *memTrackingRepo) Create(ctx context.Context, record *models.EmailTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	r.records[record.ID] = *record
	return nil
}

func (r *memTrackingRepo) CreateMany(ctx context.Context, records []*models.EmailTracking) error {
	for _, record := range records {
		if err := r.Create(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (r *memTrackingRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.EmailTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, errNotFound
	}
	out := rec
	return &out, nil
}

func (r *memTrackingRepo) FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.EmailTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EmailTracking
	for _, rec := range r.records {
		if rec.CampaignID == campaignID {
			rr := rec
			out = append(out, &rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTrackingRepo) FindFailedByCampaignID(ctx context.Context, campaignID primitive.ObjectID) ([]*models.EmailTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EmailTracking
	for _, rec := range r.records {
		if rec.CampaignID != campaignID {
			continue
		}
		switch rec.Status {
		case models.TrackingStatusFailed, models.TrackingStatusRetrying, models.TrackingStatusPermanentlyFailed:
			rr := rec
			out = append(out, &rr)
		}
	}
	return out, nil
}

func (r *memTrackingRepo) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.EmailTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EmailTracking
	for _, rec := range r.records {
		if rec.Status != models.TrackingStatusRetrying || rec.NextRetryAt == nil || rec.NextRetryAt.After(now) {
			continue
		}
		rr := rec
		out = append(out, &rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTrackingRepo) FindLatestByRecipient(ctx context.Context, email string) (*models.EmailTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.EmailTracking
	for _, rec := range r.records {
		if rec.RecipientEmail != email {
			continue
		}
		rr := rec
		if latest == nil || rr.CreatedAt.After(latest.CreatedAt) {
			latest = &rr
		}
	}
	if latest == nil {
		return nil, errNotFound
	}
	return latest, nil
}

func (r *memTrackingRepo) CountByStatus(ctx context.Context, campaignID primitive.ObjectID) (map[models.TrackingStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.TrackingStatus]int64)
	for _, rec := range r.records {
		if rec.CampaignID == campaignID {
			out[rec.Status]++
		}
	}
	return out, nil
}

func (r *memTrackingRepo) CountGlobalByStatus(ctx context.Context, status models.TrackingStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memTrackingRepo) MarkSent(ctx context.Context, id primitive.ObjectID, messageID string) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		now := time.Now()
		rec.Status = models.TrackingStatusSent
		rec.MessageID = messageID
		rec.SentAt = &now
		rec.FailureReason = ""
		rec.ErrorMessage = ""
		rec.NextRetryAt = nil
	})
}

func (r *memTrackingRepo) MarkFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		now := time.Now()
		rec.Status = models.TrackingStatusFailed
		rec.FailureReason = reason
		rec.ErrorMessage = errorMessage
		rec.SMTPResponse = smtp
		rec.FailedAt = &now
	})
}

func (r *memTrackingRepo) ScheduleRetry(ctx context.Context, id primitive.ObjectID, nextRetryAt time.Time) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		rec.Status = models.TrackingStatusRetrying
		rec.NextRetryAt = &nextRetryAt
		rec.RetryCount++
	})
}

func (r *memTrackingRepo) MarkPermanentlyFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		now := time.Now()
		rec.Status = models.TrackingStatusPermanentlyFailed
		rec.FailureReason = reason
		rec.ErrorMessage = errorMessage
		rec.SMTPResponse = smtp
		rec.FailedAt = &now
		rec.NextRetryAt = nil
	})
}

func (r *memTrackingRepo) MarkOpened(ctx context.Context, id primitive.ObjectID, userAgent, ip string) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		if rec.OpenedAt != nil {
			return
		}
		now := time.Now()
		rec.OpenedAt = &now
		rec.Metadata.UserAgent = userAgent
		rec.Metadata.IP = ip
	})
}

func (r *memTrackingRepo) MarkClicked(ctx context.Context, id primitive.ObjectID, url, userAgent, ip string) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		if rec.ClickedAt != nil {
			return
		}
		now := time.Now()
		rec.ClickedAt = &now
		rec.Metadata.ClickedURL = url
		rec.Metadata.UserAgent = userAgent
		rec.Metadata.IP = ip
	})
}

func (r *memTrackingRepo) ResetForRetry(ctx context.Context, id primitive.ObjectID) error {
	return r.mutate(id, func(rec *models.EmailTracking) {
		now := time.Now()
		rec.Status = models.TrackingStatusRetrying
		rec.RetryCount = 0
		rec.NextRetryAt = &now
	})
}

func (r *memTrackingRepo) mutate(id primitive.ObjectID, fn func(*models.EmailTracking)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errNotFound
	}
	fn(&rec)
	rec.UpdatedAt = time.Now()
	r.records[id] = rec
	return nil
}

// memBounceRepo is an in-memory BounceRepository
type memBounceRepo struct {
	mu      sync.Mutex
	records map[primitive.ObjectID]models.BounceRecord
}

func newMemBounceRepo() *memBounceRepo {
	return &memBounceRepo{records: make(map[primitive.ObjectID]models.BounceRecord)}
}

func (r *memBounceRepo) Create(ctx context.Context, record *models.BounceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	record.CreatedAt = time.Now()
	r.records[record.ID] = *record
	return nil
}

func (r *memBounceRepo) MarkProcessed(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	rec.Processed = true
	rec.ProcessedAt = &now
	r.records[id] = rec
	return nil
}

func (r *memBounceRepo) FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.BounceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.BounceRecord
	for _, rec := range r.records {
		if rec.CampaignID == campaignID {
			rr := rec
			out = append(out, &rr)
		}
	}
	return out, nil
}

func (r *memBounceRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.records)), nil
}

// memContactRepo is an in-memory ContactRepository
type memContactRepo struct {
	emails []string
	err    error
}

func (r *memContactRepo) DistinctEmails(ctx context.Context, includeUnsubscribed bool) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]string(nil), r.emails...), nil
}

// memAuditRepo is an in-memory AuditLogRepository
type memAuditRepo struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *memAuditRepo) Create(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// fakeGateway scripts delivery outcomes per recipient. Each call pops the
// next error from the recipient's queue; an empty queue means success.
type fakeGateway struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
	onSend   func(to string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (g *fakeGateway) failNext(recipient string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[recipient] = append(g.failures[recipient], errs...)
}

func (g *fakeGateway) callCount(recipient string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[recipient]
}

func (g *fakeGateway) SendEmail(ctx context.Context, to, subject, htmlBody, correlationID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[to]++
	if g.onSend != nil {
		g.onSend(to)
	}
	if queue := g.failures[to]; len(queue) > 0 {
		err := queue[0]
		g.failures[to] = queue[1:]
		return "", err
	}
	return "msg-" + correlationID, nil
}

func (g *fakeGateway) GetDeliveryStatus(ctx context.Context, messageID string) (string, error) {
	return "delivered", nil
}

// testConfig returns engine settings tuned so tests never sleep
func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			RetrySweepInterval:    5,
			SchedulerScanInterval: 60,
			LoopRetryDelay:        0,
			DefaultMaxRetries:     3,
			DefaultSendInterval:   0,
		},
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
