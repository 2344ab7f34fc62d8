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

type gradeRepository interface {
	CreateForSubmission(ctx context.Context, g *models.Grade) error
	CreateForQuiz(ctx context.Context, g *models.Grade) (*models.Grade, bool, error)
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	ListLegacyQuizCandidates(ctx context.Context, studentID, courseID string) ([]models.Grade, error)
	Update(ctx context.Context, g *models.Grade) error
	ListLetterGrades(ctx context.Context, filter models.GradeFilter) ([]string, error)
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error)
}

type submissionFinder interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
}

type assignmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type gpaWriter interface {
	UpdateGPA(ctx context.Context, userID string, gpa float64) error
}

// GradeServiceConfig tunes GPA caching and legacy quiz grade detection.
type GradeServiceConfig struct {
	GPACacheTTL     time.Duration
	LegacyQuizMatch bool
}

// GradeSubmissionRequest is the payload of a manual grade.
type GradeSubmissionRequest struct {
	Score         float64  `json:"score" validate:"min=0"`
	Feedback      *string  `json:"feedback" validate:"omitempty,max=5000"`
	Weight        *float64 `json:"weight" validate:"omitempty,gt=0"`
	IsExtraCredit bool     `json:"is_extra_credit"`
}

// UpdateGradeRequest regrades an existing grade.
type UpdateGradeRequest struct {
	Score         *float64 `json:"score" validate:"omitempty,min=0"`
	Feedback      *string  `json:"feedback" validate:"omitempty,max=5000"`
	Weight        *float64 `json:"weight" validate:"omitempty,gt=0"`
	IsExtraCredit *bool    `json:"is_extra_credit"`
}

// GradeService records grades from submissions and quizzes and maintains GPAs.
type GradeService struct {
	repo        gradeRepository
	submissions submissionFinder
	assignments assignmentFinder
	courses     courseFinder
	profiles    gpaWriter
	cache       *CacheService
	notifier    notifier
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         GradeServiceConfig
}

// NewGradeService constructs the service.
func NewGradeService(repo gradeRepository, submissions submissionFinder, assignments assignmentFinder, courses courseFinder, profiles gpaWriter, cache *CacheService, notify notifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cfg GradeServiceConfig) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GradeService{
		repo:        repo,
		submissions: submissions,
		assignments: assignments,
		courses:     courses,
		profiles:    profiles,
		cache:       cache,
		notifier:    notify,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// GradeSubmission grades a hand-in once. The submission and assignment move to GRADED.
func (s *GradeService) GradeSubmission(ctx context.Context, actor models.Actor, submissionID string, req GradeSubmissionRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can grade this submission")
	}
	if submission.IsGraded() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyGraded, "submission already graded")
	}
	if !req.IsExtraCredit && req.Score > assignment.MaxPoints {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("score exceeds max points (%.2f)", assignment.MaxPoints))
	}

	percentage := Percentage(req.Score, assignment.MaxPoints)
	grade := &models.Grade{
		StudentID:     submission.StudentID,
		CourseID:      course.ID,
		AssignmentID:  &assignment.ID,
		SubmissionID:  &submission.ID,
		SourceKind:    models.GradeSourceManual,
		Score:         req.Score,
		MaxPoints:     assignment.MaxPoints,
		Percentage:    percentage,
		LetterGrade:   LetterGrade(percentage),
		Weight:        weightOrDefault(req.Weight),
		IsExtraCredit: req.IsExtraCredit,
		Feedback:      req.Feedback,
		GradedBy:      &actor.ID,
	}
	if err := s.repo.CreateForSubmission(ctx, grade); err != nil {
		if errors.Is(err, repository.ErrGradeExists) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyGraded, "submission already graded")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade submission")
	}

	s.refreshGPA(ctx, grade.StudentID)
	s.record(ctx, actor, models.AuditActionGrade, grade.ID, nil, grade)
	s.notifyPosted(ctx, grade, assignment.Title)
	return grade, nil
}

// CreateFromQuizAttempt records the grade of a submitted attempt. Only the first attempt
// of a student produces a grade; later calls return the stored one with created=false.
func (s *GradeService) CreateFromQuizAttempt(ctx context.Context, attempt *models.QuizAttempt, quiz *models.Quiz) (*models.Grade, bool, error) {
	if attempt == nil || quiz == nil || attempt.Score == nil {
		return nil, false, fmt.Errorf("quiz grade requires a scored attempt")
	}
	if s.cfg.LegacyQuizMatch {
		legacy, err := s.findLegacyQuizGrade(ctx, attempt.StudentID, quiz)
		if err != nil {
			return nil, false, err
		}
		if legacy != nil {
			return legacy, false, nil
		}
	}

	percentage := Percentage(*attempt.Score, attempt.MaxPoints)
	feedback := QuizFeedback(quiz.Title)
	grade := &models.Grade{
		StudentID:     attempt.StudentID,
		CourseID:      quiz.CourseID,
		QuizID:        &quiz.ID,
		QuizAttemptID: &attempt.ID,
		SourceKind:    models.GradeSourceQuiz,
		Score:         *attempt.Score,
		MaxPoints:     attempt.MaxPoints,
		Percentage:    percentage,
		LetterGrade:   LetterGrade(percentage),
		Weight:        1,
		Feedback:      &feedback,
	}
	stored, created, err := s.repo.CreateForQuiz(ctx, grade)
	if err != nil {
		return nil, false, fmt.Errorf("create quiz grade: %w", err)
	}
	if created {
		s.refreshGPA(ctx, attempt.StudentID)
	}
	return stored, created, nil
}

// UpdateGrade regrades and recomputes the derived percentage and letter.
func (s *GradeService) UpdateGrade(ctx context.Context, actor models.Actor, id string, req UpdateGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	course, err := s.loadCourse(ctx, grade.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can update grades")
	}

	before := *grade
	if req.Score != nil {
		grade.Score = *req.Score
	}
	if req.Feedback != nil {
		grade.Feedback = req.Feedback
	}
	if req.Weight != nil {
		grade.Weight = *req.Weight
	}
	if req.IsExtraCredit != nil {
		grade.IsExtraCredit = *req.IsExtraCredit
	}
	if !grade.IsExtraCredit && grade.Score > grade.MaxPoints {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("score exceeds max points (%.2f)", grade.MaxPoints))
	}
	grade.Percentage = Percentage(grade.Score, grade.MaxPoints)
	grade.LetterGrade = LetterGrade(grade.Percentage)
	grade.GradedBy = &actor.ID

	if err := s.repo.Update(ctx, grade); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}

	s.refreshGPA(ctx, grade.StudentID)
	s.record(ctx, actor, models.AuditActionUpdate, grade.ID, before, grade)
	return grade, nil
}

// CalculateGPA averages grade points over the student's grades, optionally within one term.
func (s *GradeService) CalculateGPA(ctx context.Context, actor models.Actor, studentID, semester string, year int) (*models.GPAResult, error) {
	if err := ensureCanViewStudent(actor, studentID); err != nil {
		return nil, err
	}
	semester = strings.ToUpper(strings.TrimSpace(semester))
	key := gpaCacheKey(studentID, s.gpaGeneration(ctx, studentID), semester, year)

	var cached models.GPAResult
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	letters, err := s.repo.ListLetterGrades(ctx, models.GradeFilter{StudentID: studentID, Semester: semester, Year: year})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to calculate gpa")
	}
	result := &models.GPAResult{StudentID: studentID, GPA: GPA(letters), GradeCount: len(letters), Semester: semester, Year: year}
	_ = s.cache.Set(ctx, key, result, s.cfg.GPACacheTTL)
	return result, nil
}

// UpdateStudentGPA stores the overall GPA on the student's profile.
func (s *GradeService) UpdateStudentGPA(ctx context.Context, studentID string) (float64, error) {
	letters, err := s.repo.ListLetterGrades(ctx, models.GradeFilter{StudentID: studentID})
	if err != nil {
		return 0, fmt.Errorf("load letter grades: %w", err)
	}
	gpa := GPA(letters)
	if s.profiles != nil {
		if err := s.profiles.UpdateGPA(ctx, studentID, gpa); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("store gpa: %w", err)
		}
	}
	return gpa, nil
}

// ListByStudent returns a student's transcript.
func (s *GradeService) ListByStudent(ctx context.Context, actor models.Actor, studentID string, filter models.GradeFilter) ([]models.GradeDetail, error) {
	if err := ensureCanViewStudent(actor, studentID); err != nil {
		return nil, err
	}
	filter.StudentID = studentID
	filter.Semester = strings.ToUpper(strings.TrimSpace(filter.Semester))
	return s.list(ctx, filter)
}

// ListByCourse returns every grade of a course for its staff.
func (s *GradeService) ListByCourse(ctx context.Context, actor models.Actor, courseID string) ([]models.GradeDetail, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can view course grades")
	}
	return s.list(ctx, models.GradeFilter{CourseID: courseID})
}

func (s *GradeService) list(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error) {
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	if items == nil {
		items = []models.GradeDetail{}
	}
	return items, nil
}

func (s *GradeService) findLegacyQuizGrade(ctx context.Context, studentID string, quiz *models.Quiz) (*models.Grade, error) {
	candidates, err := s.repo.ListLegacyQuizCandidates(ctx, studentID, quiz.CourseID)
	if err != nil {
		return nil, fmt.Errorf("find legacy quiz grade: %w", err)
	}
	for i := range candidates {
		if IsLegacyQuizGrade(candidates[i].Feedback, quiz.Title) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (s *GradeService) gpaGeneration(ctx context.Context, studentID string) int64 {
	var generation int64
	if hit, err := s.cache.Get(ctx, gpaGenerationKey(studentID), &generation); err != nil || !hit {
		return 0
	}
	return generation
}

// refreshGPA moves the student to a new cache generation, drops the old
// entries and rewrites the profile value. Failures only log.
func (s *GradeService) refreshGPA(ctx context.Context, studentID string) {
	if _, err := s.cache.Incr(ctx, gpaGenerationKey(studentID)); err != nil {
		s.logger.Warn("failed to bump gpa cache generation", zap.String("student_id", studentID), zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, gpaCachePattern(studentID)); err != nil {
		s.logger.Warn("failed to invalidate gpa cache", zap.String("student_id", studentID), zap.Error(err))
	}
	if _, err := s.UpdateStudentGPA(ctx, studentID); err != nil {
		s.logger.Warn("failed to update student gpa", zap.String("student_id", studentID), zap.Error(err))
	}
}

func (s *GradeService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *GradeService) notifyPosted(ctx context.Context, grade *models.Grade, itemTitle string) {
	if s.notifier == nil {
		return
	}
	req := models.NotificationRequest{
		Title:    "Grade posted",
		Message:  fmt.Sprintf("Your grade for %s is %s (%.2f%%).", itemTitle, grade.LetterGrade, grade.Percentage),
		Type:     models.NotificationTypeGrade,
		Priority: models.NotificationPriorityMedium,
		CourseID: &grade.CourseID,
		GradeID:  &grade.ID,
	}
	if grade.AssignmentID != nil {
		req.AssignmentID = grade.AssignmentID
	}
	if _, err := s.notifier.SendToUser(ctx, grade.StudentID, req); err != nil {
		s.logger.Warn("failed to notify grade", zap.String("grade_id", grade.ID), zap.Error(err))
	}
}

func (s *GradeService) record(ctx context.Context, actor models.Actor, action, id string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{Actor: actor, Action: action, Resource: models.AuditResourceGrade, ResourceID: id, OldValues: oldValues, NewValues: newValues})
}

// ensureCanViewStudent lets students read only their own records.
func ensureCanViewStudent(actor models.Actor, studentID string) error {
	if actor.Role == models.RoleStudent && actor.ID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "students can only view their own grades")
	}
	return nil
}

func weightOrDefault(w *float64) float64 {
	if w == nil {
		return 1
	}
	return *w
}
