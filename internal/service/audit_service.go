package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error)
}

// AuditEntry describes one audited mutation.
type AuditEntry struct {
	Actor      models.Actor
	Action     string
	Resource   string
	ResourceID string
	OldValues  interface{}
	NewValues  interface{}
}

// AuditService appends to and reads the audit trail.
type AuditService struct {
	repo   auditRepository
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record writes the entry. Failures are logged and never returned, so callers can
// treat the audit trail as best effort.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil || s.repo == nil {
		return
	}
	log := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    entry.Action,
		Resource:  entry.Resource,
		OldValues: models.Snapshot(entry.OldValues),
		NewValues: models.Snapshot(entry.NewValues),
		CreatedAt: time.Now().UTC(),
	}
	if entry.Actor.ID != "" {
		log.UserID = stringPtr(entry.Actor.ID)
	}
	if entry.ResourceID != "" {
		log.ResourceID = stringPtr(entry.ResourceID)
	}
	if entry.Actor.IP != "" {
		log.IPAddress = stringPtr(entry.Actor.IP)
	}
	if entry.Actor.UserAgent != "" {
		log.UserAgent = stringPtr(entry.Actor.UserAgent)
	}
	if err := s.repo.Create(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err))
	}
}

// List returns audit entries, newest first.
func (s *AuditService) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func stringPtr(v string) *string {
	return &v
}

// auditRecorder is the slice of AuditService other services depend on.
type auditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}
