package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Update(ctx context.Context, course *models.Course) error
	UpdateStudyPlan(ctx context.Context, id string, plan *models.StudyPlan) error
	Delete(ctx context.Context, id string) error
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Code         string              `json:"code" validate:"required,max=20"`
	Name         string              `json:"name" validate:"required,max=255"`
	Description  *string             `json:"description"`
	Credits      int                 `json:"credits" validate:"required,min=1,max=20"`
	Semester     string              `json:"semester" validate:"required,max=20"`
	Year         int                 `json:"year" validate:"required,min=2000,max=2100"`
	Schedule     *string             `json:"schedule" validate:"omitempty,max=255"`
	Room         *string             `json:"room" validate:"omitempty,max=50"`
	InstructorID *string             `json:"instructor_id" validate:"omitempty,uuid"`
	Capacity     int                 `json:"capacity" validate:"min=0"`
	Status       models.CourseStatus `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE COMPLETED CANCELLED"`
}

// UpdateCourseRequest carries partial course changes. The code is immutable.
type UpdateCourseRequest struct {
	Name         *string              `json:"name" validate:"omitempty,min=1,max=255"`
	Description  *string              `json:"description"`
	Credits      *int                 `json:"credits" validate:"omitempty,min=1,max=20"`
	Semester     *string              `json:"semester" validate:"omitempty,min=1,max=20"`
	Year         *int                 `json:"year" validate:"omitempty,min=2000,max=2100"`
	Schedule     *string              `json:"schedule" validate:"omitempty,max=255"`
	Room         *string              `json:"room" validate:"omitempty,max=50"`
	InstructorID *string              `json:"instructor_id" validate:"omitempty,uuid"`
	Capacity     *int                 `json:"capacity" validate:"omitempty,min=0"`
	Status       *models.CourseStatus `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE COMPLETED CANCELLED"`
}

// StudyPlanRequest replaces a whole study plan.
type StudyPlanRequest struct {
	Weeks []models.StudyPlanWeek `json:"weeks" validate:"dive"`
}

// CourseService manages courses and their study plans.
type CourseService struct {
	repo      courseRepository
	users     userLookup
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the service.
func NewCourseService(repo courseRepository, users userLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, users: users, audit: audit, validator: validate, logger: logger}
}

// NormalizeCourseCode turns free-form codes such as "cs 101" into "CS-101".
func NormalizeCourseCode(raw string) string {
	return strings.ToUpper(slug.Make(raw))
}

// Create adds a course. Teachers always teach their own courses; supervisors and admins
// may name another teacher.
func (s *CourseService) Create(ctx context.Context, actor models.Actor, req CreateCourseRequest) (*models.Course, error) {
	if !models.IsAllowed(actor.Role, models.RoleTeacher, models.RoleSupervisorTeacher, models.RoleAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to create courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	code := NormalizeCourseCode(req.Code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course code must contain letters or digits")
	}

	instructorID := actor.ID
	if req.InstructorID != nil && *req.InstructorID != actor.ID {
		if !actor.HasSupervisorRights() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only supervisors can assign another instructor")
		}
		instructorID = *req.InstructorID
		if err := s.ensureInstructor(ctx, instructorID); err != nil {
			return nil, err
		}
	}

	exists, err := s.repo.CodeExists(ctx, code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	}

	status := req.Status
	if status == "" {
		status = models.CourseStatusDraft
	}
	course := &models.Course{
		ID:           uuid.NewString(),
		Code:         code,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Credits:      req.Credits,
		Semester:     strings.ToUpper(strings.TrimSpace(req.Semester)),
		Year:         req.Year,
		Schedule:     req.Schedule,
		Room:         req.Room,
		InstructorID: instructorID,
		Capacity:     req.Capacity,
		Status:       status,
		CreatedBy:    actor.ID,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.record(ctx, actor, models.AuditActionCreate, course.ID, nil, course)
	return course, nil
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// List returns courses matching filter.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown course status")
	}
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Update changes course fields.
func (s *CourseService) Update(ctx context.Context, actor models.Actor, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.editableCourse(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	before := *course

	if req.InstructorID != nil && *req.InstructorID != course.InstructorID {
		if !actor.HasSupervisorRights() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only supervisors can reassign the instructor")
		}
		if err := s.ensureInstructor(ctx, *req.InstructorID); err != nil {
			return nil, err
		}
		course.InstructorID = *req.InstructorID
	}
	if req.Name != nil {
		course.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		course.Description = req.Description
	}
	if req.Credits != nil {
		course.Credits = *req.Credits
	}
	if req.Semester != nil {
		course.Semester = strings.ToUpper(strings.TrimSpace(*req.Semester))
	}
	if req.Year != nil {
		course.Year = *req.Year
	}
	if req.Schedule != nil {
		course.Schedule = req.Schedule
	}
	if req.Room != nil {
		course.Room = req.Room
	}
	if req.Capacity != nil {
		course.Capacity = *req.Capacity
	}
	if req.Status != nil {
		course.Status = *req.Status
	}

	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.record(ctx, actor, models.AuditActionUpdate, id, before, course)
	return course, nil
}

// Delete removes a course.
func (s *CourseService) Delete(ctx context.Context, actor models.Actor, id string) error {
	course, err := s.editableCourse(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.record(ctx, actor, models.AuditActionDelete, id, course, nil)
	return nil
}

// GetStudyPlan returns the plan, empty when none was set.
func (s *CourseService) GetStudyPlan(ctx context.Context, id string) (*models.StudyPlan, error) {
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if course.StudyPlan == nil {
		return &models.StudyPlan{Weeks: []models.StudyPlanWeek{}}, nil
	}
	return course.StudyPlan, nil
}

// SetStudyPlan replaces every week of the plan.
func (s *CourseService) SetStudyPlan(ctx context.Context, actor models.Actor, id string, req StudyPlanRequest) (*models.StudyPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid study plan")
	}
	course, err := s.editableCourse(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	plan := &models.StudyPlan{Weeks: append([]models.StudyPlanWeek{}, req.Weeks...)}
	if err := plan.Normalize(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return s.saveStudyPlan(ctx, actor, course, plan)
}

// UpsertStudyPlanWeek replaces or adds a single week. The week number comes from the path.
func (s *CourseService) UpsertStudyPlanWeek(ctx context.Context, actor models.Actor, id string, week int, req models.StudyPlanWeek) (*models.StudyPlan, error) {
	req.Week = week
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid study plan week")
	}
	course, err := s.editableCourse(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	plan := &models.StudyPlan{}
	if course.StudyPlan != nil {
		plan.Weeks = append(plan.Weeks, course.StudyPlan.Weeks...)
	}
	plan.Upsert(req)
	return s.saveStudyPlan(ctx, actor, course, plan)
}

// DeleteStudyPlan clears the plan.
func (s *CourseService) DeleteStudyPlan(ctx context.Context, actor models.Actor, id string) error {
	course, err := s.editableCourse(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStudyPlan(ctx, id, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete study plan")
	}
	s.record(ctx, actor, models.AuditActionDelete, id, map[string]interface{}{"study_plan": course.StudyPlan}, nil)
	return nil
}

func (s *CourseService) saveStudyPlan(ctx context.Context, actor models.Actor, course *models.Course, plan *models.StudyPlan) (*models.StudyPlan, error) {
	if err := s.repo.UpdateStudyPlan(ctx, course.ID, plan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save study plan")
	}
	s.record(ctx, actor, models.AuditActionUpdate, course.ID,
		map[string]interface{}{"study_plan": course.StudyPlan},
		map[string]interface{}{"study_plan": plan})
	return plan, nil
}

// editableCourse loads the course and checks the actor teaches or supervises it.
func (s *CourseService) editableCourse(ctx context.Context, actor models.Actor, id string) (*models.Course, error) {
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can change this course")
	}
	return course, nil
}

func (s *CourseService) ensureInstructor(ctx context.Context, id string) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrBadRequest, "instructor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if !user.Role.IsStaff() || !user.IsActive {
		return appErrors.Clone(appErrors.ErrBadRequest, "instructor must be active staff")
	}
	return nil
}

func (s *CourseService) record(ctx context.Context, actor models.Actor, action, id string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Actor:      actor,
		Action:     action,
		Resource:   models.AuditResourceCourse,
		ResourceID: id,
		OldValues:  before,
		NewValues:  after,
	})
}

// canManageCourse: the instructor, supervisors and admins.
func canManageCourse(actor models.Actor, course *models.Course) bool {
	return actor.HasSupervisorRights() || (actor.Role == models.RoleTeacher && course.InstructorID == actor.ID)
}
