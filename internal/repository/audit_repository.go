package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

// AuditRepository appends and queries audit trail entries.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create records an audit entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries newest first.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error) {
	var where whereBuilder
	if filter.UserID != "" {
		where.add("user_id = %s", filter.UserID)
	}
	if filter.Action != "" {
		where.add("action = %s", filter.Action)
	}
	if filter.Resource != "" {
		where.add("resource = %s", filter.Resource)
	}
	if filter.ResourceID != "" {
		where.add("resource_id = %s", filter.ResourceID)
	}
	if filter.From != nil {
		where.add("created_at >= %s", *filter.From)
	}
	if filter.To != nil {
		where.add("created_at <= %s", *filter.To)
	}

	base := ` FROM audit_logs WHERE 1=1` + where.sql()
	limit, offset := pageWindow(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, limit, offset)

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return logs, total, nil
}
