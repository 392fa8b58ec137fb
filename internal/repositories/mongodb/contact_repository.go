package mongodb

import (
	"context"

	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ContactRepository implements the repositories.ContactRepository interface
type ContactRepository struct {
	collection *mongo.Collection
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *mongo.Database) repositories.ContactRepository {
	return &ContactRepository{
		collection: db.Collection("contacts"),
	}
}

// DistinctEmails returns the de-duplicated set of known contact emails
func (r *ContactRepository) DistinctEmails(ctx context.Context, includeUnsubscribed bool) ([]string, error) {
	filter := bson.M{}
	if !includeUnsubscribed {
		filter["unsubscribed"] = bson.M{"$ne": true}
	}
	values, err := r.collection.Distinct(ctx, "email", filter)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			emails = append(emails, s)
		}
	}
	return emails, nil
}
