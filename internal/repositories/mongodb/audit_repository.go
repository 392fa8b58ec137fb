package mongodb

import (
	"context"
	"time"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogRepository implements the repositories.AuditLogRepository interface
type AuditLogRepository struct {
	collection *mongo.Collection
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *mongo.Database) repositories.AuditLogRepository {
	return &AuditLogRepository{
		collection: db.Collection("audit_log"),
	}
}

// Create appends one activity-log entry
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	entry.CreatedAt = time.Now()
	_, err := r.collection.InsertOne(ctx, entry)
	return err
}
