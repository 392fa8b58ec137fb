package services

import (
	"context"

	"github.com/harborcms/harbor-backend/internal/models"
	"github.com/harborcms/harbor-backend/internal/repositories"
	"go.uber.org/zap"
)

// AuditService writes activity-log entries. Writes are best effort: a failed
// audit write is logged and never propagated to the caller.
type AuditService struct {
	auditRepo repositories.AuditLogRepository
	logger    *zap.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(auditRepo repositories.AuditLogRepository, logger *zap.Logger) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Record appends one activity-log entry
func (s *AuditService) Record(ctx context.Context, action, entity, entityID, actorID string, details map[string]interface{}) {
	entry := &models.AuditEntry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		ActorID:  actorID,
		Details:  details,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry",
			zap.String("action", action),
			zap.String("entity", entity),
			zap.String("entityId", entityID),
			zap.Error(err))
	}
}
