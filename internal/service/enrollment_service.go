package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type enrollmentRepository interface {
	Enroll(ctx context.Context, courseID, studentID string, enrolledBy *string) (*models.Enrollment, error)
	BulkEnroll(ctx context.Context, courseID string, studentIDs []string, enrolledBy *string) ([]string, []string, error)
	Drop(ctx context.Context, courseID, studentID string) error
	IsActive(ctx context.Context, courseID, studentID string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type enrollmentUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// EnrollRequest adds one student to a course.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

// BulkEnrollRequest adds many students at once.
type BulkEnrollRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,max=500,dive,uuid"`
}

// EnrollmentService manages course membership.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseFinder
	users     enrollmentUserLookup
	notifier  notifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(repo enrollmentRepository, courses courseFinder, users enrollmentUserLookup, notify notifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{repo: repo, courses: courses, users: users, notifier: notify, audit: audit, validator: validate, logger: logger}
}

// Enroll adds a student to a course, reactivating a dropped enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, actor models.Actor, courseID string, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can enroll students")
	}
	if err := ensureOpenCourse(course); err != nil {
		return nil, err
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBadRequest, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent || !student.IsActive {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "user is not an active student")
	}

	enrollment, err := s.repo.Enroll(ctx, courseID, req.StudentID, &actor.ID)
	if err != nil {
		return nil, mapEnrollError(err)
	}

	s.record(ctx, actor, models.AuditActionEnroll, enrollment.ID, enrollment)
	s.notifyEnrolled(ctx, course, []string{req.StudentID})
	return enrollment, nil
}

// BulkEnroll enrolls every listed student in one transaction. Already active students are
// skipped; when every student was already active nothing is written.
func (s *EnrollmentService) BulkEnroll(ctx context.Context, actor models.Actor, courseID string, req BulkEnrollRequest) (*models.BulkEnrollResult, error) {
	if !actor.HasSupervisorRights() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only supervisors can bulk enroll")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk enrollment payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := ensureOpenCourse(course); err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.StudentIDs)
	if err := s.ensureStudents(ctx, ids); err != nil {
		return nil, err
	}

	enrolled, skipped, err := s.repo.BulkEnroll(ctx, courseID, ids, &actor.ID)
	if err != nil {
		return nil, mapEnrollError(err)
	}
	if len(enrolled) == 0 {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "all students already enrolled")
	}

	result := &models.BulkEnrollResult{
		Success:  true,
		Enrolled: enrolled,
		Skipped:  skipped,
		Message:  fmt.Sprintf("%d enrolled, %d already enrolled", len(enrolled), len(skipped)),
	}
	s.record(ctx, actor, models.AuditActionBulkEnroll, courseID, result)
	s.notifyEnrolled(ctx, course, enrolled)
	return result, nil
}

// Drop ends an active enrollment. Students may drop themselves.
func (s *EnrollmentService) Drop(ctx context.Context, actor models.Actor, courseID, studentID string) error {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if actor.ID != studentID && !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "not allowed to drop this enrollment")
	}
	if err := s.repo.Drop(ctx, courseID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	s.record(ctx, actor, models.AuditActionDrop, courseID, map[string]string{"course_id": courseID, "student_id": studentID})
	return nil
}

// ListByCourse returns the roster of a course.
func (s *EnrollmentService) ListByCourse(ctx context.Context, actor models.Actor, courseID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can view the roster")
	}
	filter.CourseID = courseID
	filter.StudentID = ""
	return s.list(ctx, filter)
}

// ListByStudent returns the courses of a student. Students only see their own.
func (s *EnrollmentService) ListByStudent(ctx context.Context, actor models.Actor, studentID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor.Role == models.RoleStudent && actor.ID != studentID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "students can only view their own enrollments")
	}
	filter.StudentID = studentID
	filter.CourseID = ""
	return s.list(ctx, filter)
}

// IsEnrolled reports whether the student holds an active enrollment.
func (s *EnrollmentService) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	ok, err := s.repo.IsActive(ctx, courseID, studentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	return ok, nil
}

// CanJoinCourse decides realtime course room membership: enrolled students, the
// instructor, supervisors and admins.
func (s *EnrollmentService) CanJoinCourse(ctx context.Context, userID, courseID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if user.HasSupervisorRights() {
		return true, nil
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if course.InstructorID == userID {
		return true, nil
	}
	if user.Role != models.RoleStudent {
		return false, nil
	}
	return s.repo.IsActive(ctx, courseID, userID)
}

func (s *EnrollmentService) list(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *EnrollmentService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// ensureStudents rejects ids that are unknown, inactive or not students.
func (s *EnrollmentService) ensureStudents(ctx context.Context, ids []string) error {
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	valid := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.Role == models.RoleStudent && u.IsActive {
			valid[u.ID] = struct{}{}
		}
	}
	var invalid []string
	for _, id := range ids {
		if _, ok := valid[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return appErrors.Clone(appErrors.ErrBadRequest, "not active students: "+strings.Join(invalid, ", "))
	}
	return nil
}

func (s *EnrollmentService) notifyEnrolled(ctx context.Context, course *models.Course, studentIDs []string) {
	if s.notifier == nil || len(studentIDs) == 0 {
		return
	}
	req := models.NotificationRequest{
		Title:    "Enrolled in " + course.Code,
		Message:  fmt.Sprintf("You have been enrolled in %s %s.", course.Code, course.Name),
		Type:     models.NotificationTypeEnrollment,
		Priority: models.NotificationPriorityMedium,
		CourseID: &course.ID,
	}
	if _, err := s.notifier.SendToUsers(ctx, studentIDs, req); err != nil {
		s.logger.Warn("failed to notify enrolled students", zap.String("course_id", course.ID), zap.Error(err))
	}
}

func (s *EnrollmentService) record(ctx context.Context, actor models.Actor, action, id string, values interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{Actor: actor, Action: action, Resource: models.AuditResourceEnrollment, ResourceID: id, NewValues: values})
}

func ensureOpenCourse(course *models.Course) error {
	if course.Status == models.CourseStatusCancelled || course.Status == models.CourseStatusCompleted {
		return appErrors.Clone(appErrors.ErrBadRequest, "course is not open for enrollment")
	}
	return nil
}

func mapEnrollError(err error) error {
	switch {
	case errors.Is(err, repository.ErrAlreadyActive):
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled")
	case errors.Is(err, repository.ErrCourseFull):
		return appErrors.Clone(appErrors.ErrBadRequest, "course is full")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "course not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}
}
