package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, *models.Pagination, error)
}

// AuditHandler exposes the audit trail to admins.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List godoc
// @Summary Search the audit log
// @Tags Audit
// @Produce json
// @Param userId query string false "Actor"
// @Param action query string false "Action"
// @Param resource query string false "Resource"
// @Param resourceId query string false "Resource ID"
// @Param from query string false "RFC3339 or YYYY-MM-DD"
// @Param to query string false "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter := models.AuditLogFilter{
		UserID:     c.Query("userId"),
		Action:     strings.ToUpper(c.Query("action")),
		Resource:   strings.ToLower(c.Query("resource")),
		ResourceID: c.Query("resourceId"),
	}
	var err error
	if filter.From, err = parseTimeQuery(c.Query("from"), false); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from"))
		return
	}
	if filter.To, err = parseTimeQuery(c.Query("to"), true); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to"))
		return
	}
	filter.Page, filter.PageSize = pageParams(c)
	logs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// parseTimeQuery accepts RFC3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func parseTimeQuery(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
