package mongodb

import (
	"context"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EmailTrackingRepository implements the repositories.EmailTrackingRepository interface
type EmailTrackingRepository struct {
	collection *mongo.Collection
}

// NewEmailTrackingRepository creates a new EmailTrackingRepository
func NewEmailTrackingRepository(db *mongo.Database) repositories.EmailTrackingRepository {
	return &EmailTrackingRepository{
		collection: db.Collection("email_tracking"),
	}
}

// Create creates a new tracking record
func (r *EmailTrackingRepository) Create(ctx context.Context, record *models.EmailTracking) error {
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	res, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		record.ID = id
	}
	return nil
}

// CreateMany creates one tracking record per recipient at run start
func (r *EmailTrackingRepository) CreateMany(ctx context.Context, records []*models.EmailTracking) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]interface{}, 0, len(records))
	for _, record := range records {
		record.CreatedAt = now
		record.UpdatedAt = now
		docs = append(docs, record)
	}
	res, err := r.collection.InsertMany(ctx, docs)
	if err != nil {
		return err
	}
	for i, inserted := range res.InsertedIDs {
		if id, ok := inserted.(primitive.ObjectID); ok && i < len(records) {
			records[i].ID = id
		}
	}
	return nil
}

// FindByID finds a tracking record by ID
func (r *EmailTrackingRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.EmailTracking, error) {
	var record models.EmailTracking
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByCampaignID finds tracking records by campaign ID with pagination
func (r *EmailTrackingRepository) FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.EmailTracking, error) {
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.M{"createdAt": 1})

	cursor, err := r.collection.Find(ctx, bson.M{"campaignId": campaignID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.EmailTracking
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindFailedByCampaignID finds failed and permanently failed records for a campaign
func (r *EmailTrackingRepository) FindFailedByCampaignID(ctx context.Context, campaignID primitive.ObjectID) ([]*models.EmailTracking, error) {
	filter := bson.M{
		"campaignId": campaignID,
		"status": bson.M{"$in": []models.TrackingStatus{
			models.TrackingStatusFailed,
			models.TrackingStatusRetrying,
			models.TrackingStatusPermanentlyFailed,
		}},
	}
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.EmailTracking
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindDueRetries finds records with status=retrying whose nextRetryAt has passed
func (r *EmailTrackingRepository) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.EmailTracking, error) {
	filter := bson.M{
		"status":      models.TrackingStatusRetrying,
		"nextRetryAt": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.M{"nextRetryAt": 1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.EmailTracking
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindLatestByRecipient finds the most recent tracking record for an email
// address. Used to resolve webhook events that lack a correlation id.
func (r *EmailTrackingRepository) FindLatestByRecipient(ctx context.Context, email string) (*models.EmailTracking, error) {
	opts := options.FindOne().SetSort(bson.M{"createdAt": -1})
	var record models.EmailTracking
	err := r.collection.FindOne(ctx, bson.M{"recipientEmail": email}, opts).Decode(&record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// CountByStatus returns campaign-scoped record counts grouped by status
func (r *EmailTrackingRepository) CountByStatus(ctx context.Context, campaignID primitive.ObjectID) (map[models.TrackingStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"campaignId": campaignID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := make(map[models.TrackingStatus]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status models.TrackingStatus `bson:"_id"`
			Count  int64                 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

// CountGlobalByStatus counts all tracking records in the given status
func (r *EmailTrackingRepository) CountGlobalByStatus(ctx context.Context, status models.TrackingStatus) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"status": status})
}

// MarkSent moves a record to sent, stores the provider message id and
// clears its failure state
func (r *EmailTrackingRepository) MarkSent(ctx context.Context, id primitive.ObjectID, messageID string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":    models.TrackingStatusSent,
			"messageId": messageID,
			"sentAt":    now,
			"updatedAt": now,
		},
		"$unset": bson.M{
			"failureReason": "",
			"errorMessage":  "",
			"nextRetryAt":   "",
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// MarkFailed records a failed attempt
func (r *EmailTrackingRepository) MarkFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error {
	now := time.Now()
	set := bson.M{
		"status":        models.TrackingStatusFailed,
		"failureReason": reason,
		"errorMessage":  errorMessage,
		"failedAt":      now,
		"updatedAt":     now,
	}
	if smtp != nil {
		set["smtpResponse"] = smtp
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

// ScheduleRetry moves a failed record to retrying and consumes one retry
func (r *EmailTrackingRepository) ScheduleRetry(ctx context.Context, id primitive.ObjectID, nextRetryAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":      models.TrackingStatusRetrying,
			"nextRetryAt": nextRetryAt,
			"updatedAt":   time.Now(),
		},
		"$inc": bson.M{"retryCount": 1},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// MarkPermanentlyFailed moves a record to its terminal failure state
func (r *EmailTrackingRepository) MarkPermanentlyFailed(ctx context.Context, id primitive.ObjectID, reason models.FailureReason, errorMessage string, smtp *models.SMTPResponse) error {
	now := time.Now()
	set := bson.M{
		"status":        models.TrackingStatusPermanentlyFailed,
		"failureReason": reason,
		"errorMessage":  errorMessage,
		"failedAt":      now,
		"updatedAt":     now,
	}
	if smtp != nil {
		set["smtpResponse"] = smtp
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"nextRetryAt": ""},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// MarkOpened records the first open for a tracking record
func (r *EmailTrackingRepository) MarkOpened(ctx context.Context, id primitive.ObjectID, userAgent, ip string) error {
	now := time.Now()
	set := bson.M{
		"openedAt":  now,
		"updatedAt": now,
	}
	if userAgent != "" {
		set["metadata.userAgent"] = userAgent
	}
	if ip != "" {
		set["metadata.ip"] = ip
	}
	// only the first open is recorded
	filter := bson.M{"_id": id, "openedAt": bson.M{"$exists": false}}
	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	return err
}

// MarkClicked records the first click for a tracking record
func (r *EmailTrackingRepository) MarkClicked(ctx context.Context, id primitive.ObjectID, url, userAgent, ip string) error {
	now := time.Now()
	set := bson.M{
		"clickedAt": now,
		"updatedAt": now,
	}
	if url != "" {
		set["metadata.clickedUrl"] = url
	}
	if userAgent != "" {
		set["metadata.userAgent"] = userAgent
	}
	if ip != "" {
		set["metadata.ip"] = ip
	}
	filter := bson.M{"_id": id, "clickedAt": bson.M{"$exists": false}}
	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	return err
}

// ResetForRetry re-arms a record with a fresh retry budget. Operator
// override behind the manual retry-failed endpoint.
func (r *EmailTrackingRepository) ResetForRetry(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":      models.TrackingStatusRetrying,
			"retryCount":  0,
			"nextRetryAt": now,
			"updatedAt":   now,
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}
