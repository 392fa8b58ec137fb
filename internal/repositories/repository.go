package repositories

import (
	"context"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CampaignRepository defines the interface for campaign data operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
	FindAll(ctx context.Context, page, limit int) ([]*models.Campaign, error)
	FindByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	FindScheduledBetween(ctx context.Context, start, end time.Time) ([]*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	IncrementCounter(ctx context.Context, id primitive.ObjectID, field string) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	Count(ctx context.Context) (int64, error)
}

// EmailTrackingRepository defines the interface for the per-recipient
// delivery ledger. Status transitions are individual update operations so a
// record moves through its state machine in single writes.
type EmailTrackingRepository interface {
	Create(ctx context.Context, record *models.EmailTracking) error
	CreateMany(ctx context.Context, records []*models.EmailTracking) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.EmailTracking, error)
	FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.EmailTracking, error)
	FindFailedByCampaignID(ctx context.Context, campaignID primitive.ObjectID) ([]*models.EmailTracking, error)
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.EmailTracking, error)
	FindLatestByRecipient(ctx context.Context, email string) (*models.EmailTracking, error)
	CountByStatus(ctx context.Context, campaignID primitive.ObjectID) (map[models.TrackingStatus]int64, error)
	CountGlobalByStatus(ctx context.Context, status models.TrackingStatus) (int64, error)

	MarkSent(ctx context.Context, id primitive.ObjectID, messageID string) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error
	ScheduleRetry(ctx context.Context, id primitive.ObjectID, nextRetryAt time.Time) error
	MarkPermanentlyFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error
	MarkOpened(ctx context.Context, id primitive.ObjectID, userAgent, ip string) error
	MarkClicked(ctx context.Context, id primitive.ObjectID, url, userAgent, ip string) error
	ResetForRetry(ctx context.Context, id primitive.ObjectID) error
}

// BounceRepository defines the interface for bounce record operations
type BounceRepository interface {
	Create(ctx context.Context, record *models.BounceRecord) error
	MarkProcessed(ctx context.Context, id primitive.ObjectID) error
	FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.BounceRecord, error)
	Count(ctx context.Context) (int64, error)
}

// ContactRepository is the content-side contact source consumed by the
// delivery engine.
type ContactRepository interface {
	DistinctEmails(ctx context.Context, includeUnsubscribed bool) ([]string, error)
}

// AuditLogRepository defines the interface for activity-log writes
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
}
