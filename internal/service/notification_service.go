package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/realtime"
)

const defaultFanoutWorkers = 8

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
}

type roleDirectory interface {
	ListActiveIDsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

type courseRoster interface {
	ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error)
}

type courseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EventPusher delivers realtime events to the sockets of a user.
type EventPusher interface {
	SendToUser(userID string, evt realtime.Event) int
}

// notifier is what domain services use to tell users about changes.
type notifier interface {
	SendToUser(ctx context.Context, userID string, req models.NotificationRequest) (*models.SendResult, error)
	SendToUsers(ctx context.Context, userIDs []string, req models.NotificationRequest) (*models.FanoutResult, error)
}

// NotificationService persists notifications and pushes them to live sockets.
type NotificationService struct {
	repo      notificationRepository
	users     roleDirectory
	roster    courseRoster
	courses   courseFinder
	pusher    EventPusher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	workers   int
}

// NewNotificationService constructs the service. pusher may be nil, in which case every
// recipient is reported offline.
func NewNotificationService(repo notificationRepository, users roleDirectory, roster courseRoster, courses courseFinder, pusher EventPusher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &NotificationService{
		repo:      repo,
		users:     users,
		roster:    roster,
		courses:   courses,
		pusher:    pusher,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		workers:   defaultFanoutWorkers,
	}
}

// SendToUser stores and pushes one notification.
func (s *NotificationService) SendToUser(ctx context.Context, userID string, req models.NotificationRequest) (*models.SendResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}
	n, outcome := s.deliver(ctx, userID, req)
	if outcome.Status == models.DeliveryFailed {
		return nil, appErrors.Wrap(errors.New(outcome.Error), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store notification")
	}
	return &models.SendResult{Notification: n, Outcome: outcome}, nil
}

// SendToUsers fans out to every distinct user id. A failing recipient never aborts the batch.
func (s *NotificationService) SendToUsers(ctx context.Context, userIDs []string, req models.NotificationRequest) (*models.FanoutResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}

	recipients := uniqueIDs(userIDs)
	outcomes := make([]models.RecipientOutcome, len(recipients))

	p := pool.New().WithMaxGoroutines(s.workers)
	for i, userID := range recipients {
		p.Go(func() {
			_, outcomes[i] = s.deliver(ctx, userID, req)
		})
	}
	p.Wait()

	result := &models.FanoutResult{Outcomes: make([]models.RecipientOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		result.Add(o)
	}
	if result.Failed > 0 {
		s.logger.Warn("notification fan-out finished with failures",
			zap.Int("total", result.Total),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// SendToRole notifies every active user holding role.
func (s *NotificationService) SendToRole(ctx context.Context, role models.UserRole, req models.NotificationRequest) (*models.FanoutResult, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	ids, err := s.users.ListActiveIDsByRole(ctx, role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipients")
	}
	return s.SendToUsers(ctx, ids, req)
}

// SendToCourse notifies the active students of a course and its instructor.
func (s *NotificationService) SendToCourse(ctx context.Context, courseID string, req models.NotificationRequest) (*models.FanoutResult, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	ids, err := s.roster.ActiveStudentIDs(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course roster")
	}
	if req.CourseID == nil {
		req.CourseID = &course.ID
	}
	return s.SendToUsers(ctx, append(ids, course.InstructorID), req)
}

// List returns the owner's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// UnreadCount returns how many notifications the owner has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one notification read. Notifications of other users are not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	n, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the owner and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}

// Delete removes one of the owner's notifications.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, userID string, req models.NotificationRequest) (*models.Notification, models.RecipientOutcome) {
	priority := req.Priority
	if priority == "" {
		priority = models.NotificationPriorityMedium
	}
	n := &models.Notification{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        req.Title,
		Message:      req.Message,
		Type:         req.Type,
		Priority:     priority,
		CourseID:     req.CourseID,
		AssignmentID: req.AssignmentID,
		GradeID:      req.GradeID,
		CreatedAt:    time.Now().UTC(),
	}
	if len(req.Metadata) > 0 {
		n.Metadata = models.Snapshot(req.Metadata)
	}

	outcome := models.RecipientOutcome{UserID: userID}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Warn("failed to store notification", zap.String("user_id", userID), zap.Error(err))
		outcome.Status = models.DeliveryFailed
		outcome.Error = err.Error()
		s.metrics.RecordNotification(outcome.Status)
		return nil, outcome
	}
	outcome.NotificationID = n.ID

	outcome.Status = models.DeliveryOffline
	if s.pusher != nil && s.pusher.SendToUser(userID, realtime.NewEvent(realtime.EventNotification, n)) > 0 {
		outcome.Status = models.DeliveryDelivered
	}
	s.metrics.RecordNotification(outcome.Status)
	return n, outcome
}

// uniqueIDs drops blanks and duplicates keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
