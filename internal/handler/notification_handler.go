package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type notificationService interface {
	SendToUser(ctx context.Context, userID string, req models.NotificationRequest) (*models.SendResult, error)
	SendToRole(ctx context.Context, role models.UserRole, req models.NotificationRequest) (*models.FanoutResult, error)
	SendToCourse(ctx context.Context, courseID string, req models.NotificationRequest) (*models.FanoutResult, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
}

// NotificationHandler exposes the inbox of the caller and the staff send endpoints.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List own notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param type query string false "Notification type"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	filter := models.NotificationFilter{
		UserID:     actorFromContext(c).ID,
		UnreadOnly: queryBool(c, "unread"),
		Type:       models.NotificationType(strings.ToUpper(c.Query("type"))),
	}
	filter.Page, filter.PageSize = pageParams(c)
	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), actorFromContext(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"count": count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Router /notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	n, err := h.service.MarkRead(c.Request.Context(), actorFromContext(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, n, nil)
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [patch]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	updated, err := h.service.MarkAllRead(c.Request.Context(), actorFromContext(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}

// Delete godoc
// @Summary Delete a notification
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c).ID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SendToUser godoc
// @Summary Send to one user
// @Tags Notifications
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.NotificationRequest true "Notification"
// @Success 201 {object} response.Envelope
// @Router /notifications/users/{id} [post]
func (h *NotificationHandler) SendToUser(c *gin.Context) {
	var req models.NotificationRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SendToUser(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// SendToRole godoc
// @Summary Send to every active user of a role
// @Tags Notifications
// @Accept json
// @Produce json
// @Param role path string true "Role"
// @Param payload body models.NotificationRequest true "Notification"
// @Success 200 {object} response.Envelope
// @Router /notifications/roles/{role} [post]
func (h *NotificationHandler) SendToRole(c *gin.Context) {
	role, ok := models.ParseRole(c.Param("role"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown role"))
		return
	}
	var req models.NotificationRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SendToRole(c.Request.Context(), role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SendToCourse godoc
// @Summary Send to the students and instructor of a course
// @Tags Notifications
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body models.NotificationRequest true "Notification"
// @Success 200 {object} response.Envelope
// @Router /notifications/courses/{id} [post]
func (h *NotificationHandler) SendToCourse(c *gin.Context) {
	var req models.NotificationRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.SendToCourse(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
