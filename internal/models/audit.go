package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditEntry is one structured activity-log write.
type AuditEntry struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	Action    string                 `bson:"action" json:"action"`
	Entity    string                 `bson:"entity" json:"entity"`
	EntityID  string                 `bson:"entityId,omitempty" json:"entityId,omitempty"`
	ActorID   string                 `bson:"actorId,omitempty" json:"actorId,omitempty"`
	Details   map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt time.Time              `bson:"createdAt" json:"createdAt"`
}
