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

// BounceRepository implements the repositories.BounceRepository interface
type BounceRepository struct {
	collection *mongo.Collection
}

// NewBounceRepository creates a new BounceRepository
func NewBounceRepository(db *mongo.Database) repositories.BounceRepository {
	return &BounceRepository{
		collection: db.Collection("bounce_records"),
	}
}

// Create creates a new bounce record
func (r *BounceRepository) Create(ctx context.Context, record *models.BounceRecord) error {
	record.CreatedAt = time.Now()
	res, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		record.ID = id
	}
	return nil
}

// MarkProcessed flags a bounce record once its tracking transition succeeded
func (r *BounceRepository) MarkProcessed(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"processed":   true,
			"processedAt": now,
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// FindByCampaignID finds bounce records by campaign ID with pagination
func (r *BounceRepository) FindByCampaignID(ctx context.Context, campaignID primitive.ObjectID, page, limit int) ([]*models.BounceRecord, error) {
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.M{"createdAt": -1})

	cursor, err := r.collection.Find(ctx, bson.M{"campaignId": campaignID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.BounceRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Count counts all bounce records
func (r *BounceRepository) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}
