package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

type auditServiceMock struct {
	filter models.AuditLogFilter
}

func (m *auditServiceMock) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, *models.Pagination, error) {
	m.filter = filter
	return []models.AuditLog{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func TestAuditHandlerListParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &auditServiceMock{}
	handler := NewAuditHandler(svc)

	c, w := newGinContext(http.MethodGet, "/audit-logs?userId=u-1&action=delete&resource=Course&from=2024-09-01&to=2024-09-30", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", svc.filter.UserID)
	assert.Equal(t, models.AuditActionDelete, svc.filter.Action)
	assert.Equal(t, models.AuditResourceCourse, svc.filter.Resource)
	require.NotNil(t, svc.filter.From)
	require.NotNil(t, svc.filter.To)
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), *svc.filter.From)
	assert.Equal(t, time.Date(2024, 9, 30, 23, 59, 59, 999999999, time.UTC), *svc.filter.To)
}

func TestAuditHandlerListRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuditHandler(&auditServiceMock{})

	c, w := newGinContext(http.MethodGet, "/audit-logs?from=yesterday", nil)
	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseTimeQueryAcceptsRFC3339(t *testing.T) {
	got, err := parseTimeQuery("2024-09-01T10:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeQuery("  ", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}
