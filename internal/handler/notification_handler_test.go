package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/middleware"
	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type notificationServiceMock struct {
	lastFilter models.NotificationFilter
	lastUser   string
	lastRole   models.UserRole
	lastReq    models.NotificationRequest
	markErr    error
	fanout     *models.FanoutResult
}

func (m *notificationServiceMock) SendToUser(ctx context.Context, userID string, req models.NotificationRequest) (*models.SendResult, error) {
	m.lastUser, m.lastReq = userID, req
	return &models.SendResult{Outcome: models.RecipientOutcome{UserID: userID, Status: models.DeliveryOffline}}, nil
}

func (m *notificationServiceMock) SendToRole(ctx context.Context, role models.UserRole, req models.NotificationRequest) (*models.FanoutResult, error) {
	m.lastRole, m.lastReq = role, req
	return m.fanout, nil
}

func (m *notificationServiceMock) SendToCourse(ctx context.Context, courseID string, req models.NotificationRequest) (*models.FanoutResult, error) {
	m.lastReq = req
	return m.fanout, nil
}

func (m *notificationServiceMock) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Notification{{ID: "n-1", UserID: filter.UserID}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *notificationServiceMock) UnreadCount(ctx context.Context, userID string) (int, error) {
	m.lastUser = userID
	return 4, nil
}

func (m *notificationServiceMock) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	m.lastUser = userID
	if m.markErr != nil {
		return nil, m.markErr
	}
	return &models.Notification{ID: id, UserID: userID, IsRead: true}, nil
}

func (m *notificationServiceMock) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return 3, nil
}

func (m *notificationServiceMock) Delete(ctx context.Context, userID, id string) error {
	return nil
}

func asUser(c *gin.Context, id string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: id, Role: role})
}

func TestNotificationHandlerListScopesToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &notificationServiceMock{}
	handler := NewNotificationHandler(svc)

	c, w := newGinContext(http.MethodGet, "/notifications?unread=true&type=grade&page=2&page_size=5", nil)
	asUser(c, "student-1", models.RoleStudent)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "student-1", svc.lastFilter.UserID)
	assert.True(t, svc.lastFilter.UnreadOnly)
	assert.Equal(t, models.NotificationTypeGrade, svc.lastFilter.Type)
	assert.Equal(t, 2, svc.lastFilter.Page)
	assert.Equal(t, 5, svc.lastFilter.PageSize)
}

func TestNotificationHandlerUnreadCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{})

	c, w := newGinContext(http.MethodGet, "/notifications/unread-count", nil)
	asUser(c, "student-1", models.RoleStudent)

	handler.UnreadCount(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"count":4}}`, w.Body.String())
}

func TestNotificationHandlerMarkReadOfOtherUserIsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{markErr: appErrors.Clone(appErrors.ErrNotFound, "notification not found")})

	c, w := newGinContext(http.MethodPatch, "/notifications/n-9/read", nil)
	c.Params = gin.Params{{Key: "id", Value: "n-9"}}
	asUser(c, "student-1", models.RoleStudent)

	handler.MarkRead(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationHandlerSendToRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &notificationServiceMock{fanout: &models.FanoutResult{Total: 2, Delivered: 1, Offline: 1}}
	handler := NewNotificationHandler(svc)

	body := []byte(`{"title":"Campus closed","message":"Snow day","type":"ANNOUNCEMENT"}`)
	c, w := newGinContext(http.MethodPost, "/notifications/roles/student", body)
	c.Params = gin.Params{{Key: "role", Value: "student"}}
	asUser(c, "admin", models.RoleAdmin)

	handler.SendToRole(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleStudent, svc.lastRole)
	assert.Equal(t, "Campus closed", svc.lastReq.Title)
	assert.Contains(t, w.Body.String(), `"delivered":1`)
}

func TestNotificationHandlerSendToRoleRejectsUnknownRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{})

	c, w := newGinContext(http.MethodPost, "/notifications/roles/janitor", []byte(`{}`))
	c.Params = gin.Params{{Key: "role", Value: "janitor"}}

	handler.SendToRole(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
