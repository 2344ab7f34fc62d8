package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type assignmentRepository interface {
	Create(ctx context.Context, a *models.Assignment) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	ListOverdueForStudent(ctx context.Context, studentID string, now time.Time) ([]models.Assignment, error)
	ListOverdueForInstructor(ctx context.Context, instructorID string, now time.Time) ([]models.Assignment, error)
	Update(ctx context.Context, a *models.Assignment) error
	AdvanceStatus(ctx context.Context, id string, from, to models.AssignmentStatus) (bool, error)
	Delete(ctx context.Context, id string) error
}

type submissionRepository interface {
	Create(ctx context.Context, s *models.Submission) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.SubmissionDetail, error)
}

type fileOwnership interface {
	CountOwned(ctx context.Context, ids []string, userID string) (int, error)
}

type enrollmentChecker interface {
	IsActive(ctx context.Context, courseID, studentID string) (bool, error)
	ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error)
}

// CreateAssignmentRequest is the payload for a new assignment.
type CreateAssignmentRequest struct {
	CourseID    string    `json:"course_id" validate:"required,uuid"`
	Title       string    `json:"title" validate:"required,max=255"`
	Description *string   `json:"description"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	MaxPoints   float64   `json:"max_points" validate:"gt=0"`
	AllowLate   bool      `json:"allow_late"`
}

// UpdateAssignmentRequest carries the editable fields.
type UpdateAssignmentRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=255"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	MaxPoints   *float64   `json:"max_points" validate:"omitempty,gt=0"`
	AllowLate   *bool      `json:"allow_late"`
}

// SubmitAssignmentRequest is a student's hand-in.
type SubmitAssignmentRequest struct {
	Content *string  `json:"content"`
	FileIDs []string `json:"file_ids" validate:"omitempty,max=20,dive,uuid"`
}

// AssignmentService manages assignments and their submissions.
type AssignmentService struct {
	repo        assignmentRepository
	submissions submissionRepository
	files       fileOwnership
	courses     courseFinder
	enrollments enrollmentChecker
	notifier    notifier
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssignmentService constructs the service.
func NewAssignmentService(repo assignmentRepository, submissions submissionRepository, files fileOwnership, courses courseFinder, enrollments enrollmentChecker, notify notifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssignmentService{
		repo:        repo,
		submissions: submissions,
		files:       files,
		courses:     courses,
		enrollments: enrollments,
		notifier:    notify,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// Create adds an assignment and notifies the enrolled students.
func (s *AssignmentService) Create(ctx context.Context, actor models.Actor, req CreateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can create assignments")
	}

	assignment := &models.Assignment{
		CourseID:    course.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		DueDate:     req.DueDate.UTC(),
		MaxPoints:   req.MaxPoints,
		Status:      models.AssignmentStatusAssigned,
		AllowLate:   req.AllowLate,
		CreatedBy:   actor.ID,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	s.record(ctx, actor, models.AuditActionCreate, models.AuditResourceAssignment, assignment.ID, nil, assignment)
	s.notifyCourse(ctx, course, assignment)
	return assignment, nil
}

// Get returns an assignment visible to the actor.
func (s *AssignmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Assignment, error) {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCanView(ctx, actor, course); err != nil {
		return nil, err
	}
	return assignment, nil
}

// List returns the assignments of a course.
func (s *AssignmentService) List(ctx context.Context, actor models.Actor, filter models.AssignmentFilter) ([]models.Assignment, *models.Pagination, error) {
	if filter.CourseID == "" {
		if !actor.HasSupervisorRights() {
			return nil, nil, appErrors.Clone(appErrors.ErrBadRequest, "courseId is required")
		}
	} else {
		course, err := s.loadCourse(ctx, filter.CourseID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.ensureCanView(ctx, actor, course); err != nil {
			return nil, nil, err
		}
	}

	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListOverdue returns past-due work: unsubmitted assignments for students, ungraded ones
// for instructors and every course for supervisors.
func (s *AssignmentService) ListOverdue(ctx context.Context, actor models.Actor) ([]models.Assignment, error) {
	now := s.now().UTC()
	var (
		items []models.Assignment
		err   error
	)
	switch {
	case actor.Role == models.RoleStudent:
		items, err = s.repo.ListOverdueForStudent(ctx, actor.ID, now)
	case actor.HasSupervisorRights():
		items, err = s.repo.ListOverdueForInstructor(ctx, "", now)
	default:
		items, err = s.repo.ListOverdueForInstructor(ctx, actor.ID, now)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue assignments")
	}
	if items == nil {
		items = []models.Assignment{}
	}
	return items, nil
}

// Update edits an assignment.
func (s *AssignmentService) Update(ctx context.Context, actor models.Actor, id string, req UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can edit assignments")
	}

	before := *assignment
	if req.Title != nil {
		assignment.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		assignment.Description = req.Description
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate.UTC()
	}
	if req.MaxPoints != nil {
		assignment.MaxPoints = *req.MaxPoints
	}
	if req.AllowLate != nil {
		assignment.AllowLate = *req.AllowLate
	}

	if err := s.repo.Update(ctx, assignment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	s.record(ctx, actor, models.AuditActionUpdate, models.AuditResourceAssignment, assignment.ID, before, assignment)
	return assignment, nil
}

// Delete removes an assignment with its submissions.
func (s *AssignmentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return err
	}
	if !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can delete assignments")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	s.record(ctx, actor, models.AuditActionDelete, models.AuditResourceAssignment, id, assignment, nil)
	return nil
}

// Submit stores the single hand-in of a student. Late hand-ins are only accepted when the
// assignment allows them and are flagged.
func (s *AssignmentService) Submit(ctx context.Context, actor models.Actor, assignmentID string, req SubmitAssignmentRequest) (*models.Submission, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit assignments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if (req.Content == nil || strings.TrimSpace(*req.Content) == "") && len(req.FileIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "content or files are required")
	}

	assignment, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrollments.IsActive(ctx, assignment.CourseID, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in this course")
	}

	now := s.now().UTC()
	late := now.After(assignment.DueDate)
	if late && !assignment.AllowLate {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "assignment is past due")
	}

	fileIDs := uniqueIDs(req.FileIDs)
	if len(fileIDs) > 0 && s.files != nil {
		owned, err := s.files.CountOwned(ctx, fileIDs, actor.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attached files")
		}
		if owned != len(fileIDs) {
			return nil, appErrors.Clone(appErrors.ErrBadRequest, "attached files must be uploaded by the submitting student")
		}
	}

	submission := &models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    actor.ID,
		Content:      req.Content,
		FileIDs:      fileIDs,
		Status:       models.SubmissionStatusSubmitted,
		IsLate:       late,
		SubmittedAt:  now,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrAlreadySubmitted) || repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit assignment")
	}

	if assignment.Status == models.AssignmentStatusAssigned {
		if _, err := s.repo.AdvanceStatus(ctx, assignment.ID, models.AssignmentStatusAssigned, models.AssignmentStatusSubmitted); err != nil {
			s.logger.Warn("failed to advance assignment status", zap.String("assignment_id", assignment.ID), zap.Error(err))
		}
	}

	s.record(ctx, actor, models.AuditActionSubmit, models.AuditResourceSubmission, submission.ID, nil, submission)
	return submission, nil
}

// ListSubmissions returns every hand-in of an assignment for its instructor.
func (s *AssignmentService) ListSubmissions(ctx context.Context, actor models.Actor, assignmentID string) ([]models.SubmissionDetail, error) {
	_, course, err := s.loadWithCourse(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can view submissions")
	}
	items, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	if items == nil {
		items = []models.SubmissionDetail{}
	}
	return items, nil
}

func (s *AssignmentService) ensureCanView(ctx context.Context, actor models.Actor, course *models.Course) error {
	if canManageCourse(actor, course) {
		return nil
	}
	if actor.Role == models.RoleStudent {
		enrolled, err := s.enrollments.IsActive(ctx, course.ID, actor.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if enrolled {
			return nil
		}
		return appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in this course")
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this course")
}

func (s *AssignmentService) load(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) loadWithCourse(ctx context.Context, id string) (*models.Assignment, *models.Course, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, nil, err
	}
	return assignment, course, nil
}

func (s *AssignmentService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *AssignmentService) notifyCourse(ctx context.Context, course *models.Course, assignment *models.Assignment) {
	if s.notifier == nil {
		return
	}
	students, err := s.enrollments.ActiveStudentIDs(ctx, course.ID)
	if err != nil {
		s.logger.Warn("failed to load course roster", zap.String("course_id", course.ID), zap.Error(err))
		return
	}
	if len(students) == 0 {
		return
	}
	req := models.NotificationRequest{
		Title:        "New assignment: " + assignment.Title,
		Message:      fmt.Sprintf("%s in %s is due %s.", assignment.Title, course.Code, assignment.DueDate.Format(time.RFC1123)),
		Type:         models.NotificationTypeAssignment,
		Priority:     models.NotificationPriorityMedium,
		CourseID:     &course.ID,
		AssignmentID: &assignment.ID,
	}
	if _, err := s.notifier.SendToUsers(ctx, students, req); err != nil {
		s.logger.Warn("failed to notify course students", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
}

func (s *AssignmentService) record(ctx context.Context, actor models.Actor, action, resource, id string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{Actor: actor, Action: action, Resource: resource, ResourceID: id, OldValues: oldValues, NewValues: newValues})
}
