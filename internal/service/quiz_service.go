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

type quizRepository interface {
	Create(ctx context.Context, q *models.Quiz) error
	FindByID(ctx context.Context, id string) (*models.Quiz, error)
	List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error)
	Update(ctx context.Context, q *models.Quiz) error
	Delete(ctx context.Context, id string) error
}

type quizAttemptRepository interface {
	CreateNext(ctx context.Context, attempt *models.QuizAttempt, allowed int) error
	FindByID(ctx context.Context, id string) (*models.QuizAttempt, error)
	FindOpen(ctx context.Context, quizID, studentID string) (*models.QuizAttempt, error)
	Submit(ctx context.Context, attempt *models.QuizAttempt) error
	ListByQuiz(ctx context.Context, quizID, studentID string) ([]models.QuizAttempt, error)
}

// quizGrader turns a scored attempt into a grade.
type quizGrader interface {
	CreateFromQuizAttempt(ctx context.Context, attempt *models.QuizAttempt, quiz *models.Quiz) (*models.Grade, bool, error)
}

type quizMetrics interface {
	RecordQuizSubmission()
}

// CreateQuizRequest is the payload for a new quiz.
type CreateQuizRequest struct {
	CourseID         string              `json:"course_id" validate:"required,uuid"`
	Title            string              `json:"title" validate:"required,max=255"`
	Description      *string             `json:"description"`
	Questions        models.QuestionBank `json:"questions_data"`
	AttemptsAllowed  int                 `json:"attempts_allowed" validate:"omitempty,min=1,max=20"`
	TimeLimitMinutes *int                `json:"time_limit_minutes" validate:"omitempty,min=1"`
	DueDate          *time.Time          `json:"due_date"`
	IsPublished      bool                `json:"is_published"`
}

// UpdateQuizRequest carries the editable quiz fields.
type UpdateQuizRequest struct {
	Title            *string              `json:"title" validate:"omitempty,max=255"`
	Description      *string              `json:"description"`
	Questions        *models.QuestionBank `json:"questions_data"`
	AttemptsAllowed  *int                 `json:"attempts_allowed" validate:"omitempty,min=1,max=20"`
	TimeLimitMinutes *int                 `json:"time_limit_minutes" validate:"omitempty,min=1"`
	DueDate          *time.Time           `json:"due_date"`
	IsPublished      *bool                `json:"is_published"`
}

// SubmitQuizRequest holds the chosen option per question id.
type SubmitQuizRequest struct {
	Answers models.QuizAnswers `json:"answers" validate:"required"`
}

// QuizService manages quizzes and scores attempts.
type QuizService struct {
	repo        quizRepository
	attempts    quizAttemptRepository
	courses     courseFinder
	enrollments enrollmentChecker
	grades      quizGrader
	notifier    notifier
	metrics     quizMetrics
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewQuizService constructs the service.
func NewQuizService(repo quizRepository, attempts quizAttemptRepository, courses courseFinder, enrollments enrollmentChecker, grades quizGrader, notify notifier, metrics quizMetrics, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &QuizService{
		repo:        repo,
		attempts:    attempts,
		courses:     courses,
		enrollments: enrollments,
		grades:      grades,
		notifier:    notify,
		metrics:     metrics,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// Create stores a quiz after validating its question bank.
func (s *QuizService) Create(ctx context.Context, actor models.Actor, req CreateQuizRequest) (*models.Quiz, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quiz payload")
	}
	if err := req.Questions.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidQuestionBank, err.Error())
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can create quizzes")
	}

	attempts := req.AttemptsAllowed
	if attempts == 0 {
		attempts = 1
	}
	quiz := &models.Quiz{
		CourseID:         course.ID,
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		AttemptsAllowed:  attempts,
		TimeLimitMinutes: req.TimeLimitMinutes,
		DueDate:          utcPtr(req.DueDate),
		IsPublished:      req.IsPublished,
		CreatedBy:        actor.ID,
	}
	quiz.ApplyQuestionBank(req.Questions)

	if err := s.repo.Create(ctx, quiz); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create quiz")
	}
	s.record(ctx, actor, models.AuditActionCreate, quiz.ID, nil, quiz)
	return quiz, nil
}

// Get returns the full quiz to course staff and the answer-free view to enrolled students.
func (s *QuizService) Get(ctx context.Context, actor models.Actor, id string) (interface{}, error) {
	quiz, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if canManageCourse(actor, course) {
		return quiz, nil
	}
	if err := s.ensureStudentAccess(ctx, actor, quiz); err != nil {
		return nil, err
	}
	return quiz.ForStudent(), nil
}

// List returns the quizzes of a course. Students only see published quizzes, without
// their question banks.
func (s *QuizService) List(ctx context.Context, actor models.Actor, filter models.QuizFilter) ([]models.Quiz, *models.Pagination, error) {
	if filter.CourseID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrBadRequest, "courseId is required")
	}
	course, err := s.loadCourse(ctx, filter.CourseID)
	if err != nil {
		return nil, nil, err
	}
	manager := canManageCourse(actor, course)
	if !manager {
		if actor.Role != models.RoleStudent {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this course")
		}
		if err := s.ensureEnrolled(ctx, course.ID, actor.ID); err != nil {
			return nil, nil, err
		}
		filter.PublishedOnly = true
	}

	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list quizzes")
	}
	if !manager {
		for i := range items {
			items[i].QuestionsData = models.QuestionBank{Questions: []models.Question{}}
		}
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Update edits a quiz. A new question bank is validated and re-derives the totals.
func (s *QuizService) Update(ctx context.Context, actor models.Actor, id string, req UpdateQuizRequest) (*models.Quiz, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quiz payload")
	}
	quiz, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can edit quizzes")
	}

	before := *quiz
	if req.Questions != nil {
		if err := req.Questions.Validate(); err != nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidQuestionBank, err.Error())
		}
		quiz.ApplyQuestionBank(*req.Questions)
	}
	if req.Title != nil {
		quiz.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		quiz.Description = req.Description
	}
	if req.AttemptsAllowed != nil {
		quiz.AttemptsAllowed = *req.AttemptsAllowed
	}
	if req.TimeLimitMinutes != nil {
		quiz.TimeLimitMinutes = req.TimeLimitMinutes
	}
	if req.DueDate != nil {
		quiz.DueDate = utcPtr(req.DueDate)
	}
	if req.IsPublished != nil {
		quiz.IsPublished = *req.IsPublished
	}

	if err := s.repo.Update(ctx, quiz); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update quiz")
	}
	s.record(ctx, actor, models.AuditActionUpdate, quiz.ID, before, quiz)
	return quiz, nil
}

// Delete removes a quiz and its attempts.
func (s *QuizService) Delete(ctx context.Context, actor models.Actor, id string) error {
	quiz, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return err
	}
	if !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the instructor or a supervisor can delete quizzes")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete quiz")
	}
	s.record(ctx, actor, models.AuditActionDelete, id, quiz, nil)
	return nil
}

// StartAttempt opens the next attempt or resumes the open one.
func (s *QuizService) StartAttempt(ctx context.Context, actor models.Actor, quizID string) (*models.StartedAttempt, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can take quizzes")
	}
	quiz, err := s.load(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureStudentAccess(ctx, actor, quiz); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if quiz.IsClosed(now) {
		return nil, appErrors.Clone(appErrors.ErrQuizClosed, "quiz is past its due date")
	}

	if open, err := s.findOpen(ctx, quiz.ID, actor.ID); err != nil {
		return nil, err
	} else if open != nil {
		return &models.StartedAttempt{Attempt: open, Quiz: quiz.ForStudent(), Resumed: true}, nil
	}

	attempt := &models.QuizAttempt{QuizID: quiz.ID, StudentID: actor.ID, StartedAt: now, MaxPoints: quiz.MaxPoints}
	if err := s.attempts.CreateNext(ctx, attempt, quiz.AttemptsAllowed); err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptLimit):
			return nil, appErrors.Clone(appErrors.ErrMaxAttempts, fmt.Sprintf("maximum attempts (%d) reached", quiz.AttemptsAllowed))
		case errors.Is(err, repository.ErrConcurrentAttempt):
			// Lost the race to a parallel start; hand back the winner's attempt.
			open, findErr := s.findOpen(ctx, quiz.ID, actor.ID)
			if findErr != nil {
				return nil, findErr
			}
			if open != nil {
				return &models.StartedAttempt{Attempt: open, Quiz: quiz.ForStudent(), Resumed: true}, nil
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "attempt already started")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start attempt")
		}
	}
	return &models.StartedAttempt{Attempt: attempt, Quiz: quiz.ForStudent()}, nil
}

// SubmitAttempt scores the answers, closes the attempt and records the grade.
func (s *QuizService) SubmitAttempt(ctx context.Context, actor models.Actor, attemptID string, req SubmitQuizRequest) (*models.AttemptResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answers payload")
	}
	attempt, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attempt belongs to another student")
	}
	if attempt.IsSubmitted() {
		return nil, appErrors.Clone(appErrors.ErrAttemptSubmitted, "attempt already submitted")
	}
	quiz, err := s.load(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}

	score, results := ScoreAttempt(quiz.QuestionsData, req.Answers)
	submittedAt := s.now().UTC()
	attempt.SubmittedAt = &submittedAt
	attempt.Score = &score
	attempt.MaxPoints = quiz.QuestionsData.MaxPoints()
	attempt.Answers = req.Answers
	attempt.Results = results

	if err := s.attempts.Submit(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrAttemptClosed) {
			return nil, appErrors.Clone(appErrors.ErrAttemptSubmitted, "attempt already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit attempt")
	}
	if s.metrics != nil {
		s.metrics.RecordQuizSubmission()
	}

	percentage := Percentage(score, attempt.MaxPoints)
	result := &models.AttemptResult{
		Attempt:     attempt,
		Score:       score,
		MaxPoints:   attempt.MaxPoints,
		Percentage:  percentage,
		LetterGrade: LetterGrade(percentage),
		Results:     results,
	}

	if s.grades != nil {
		grade, created, err := s.grades.CreateFromQuizAttempt(ctx, attempt, quiz)
		if err != nil {
			s.logger.Error("failed to record quiz grade", zap.String("attempt_id", attempt.ID), zap.Error(err))
		} else {
			result.Grade = grade
			if created {
				s.notifyScored(ctx, quiz, result)
			}
		}
	}

	s.record(ctx, actor, models.AuditActionSubmit, quiz.ID, nil, map[string]interface{}{
		"attempt_id": attempt.ID,
		"score":      score,
		"max_points": attempt.MaxPoints,
	})
	return result, nil
}

// GetAttempt returns an attempt to its owner or the course staff.
func (s *QuizService) GetAttempt(ctx context.Context, actor models.Actor, id string) (*models.QuizAttempt, error) {
	attempt, err := s.loadAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID == actor.ID {
		return attempt, nil
	}
	_, course, err := s.loadWithCourse(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this attempt")
	}
	return attempt, nil
}

// ListAttempts returns every attempt for staff and the caller's own attempts for students.
func (s *QuizService) ListAttempts(ctx context.Context, actor models.Actor, quizID string) ([]models.QuizAttempt, error) {
	_, course, err := s.loadWithCourse(ctx, quizID)
	if err != nil {
		return nil, err
	}
	studentID := ""
	if !canManageCourse(actor, course) {
		if actor.Role != models.RoleStudent {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view these attempts")
		}
		studentID = actor.ID
	}
	items, err := s.attempts.ListByQuiz(ctx, quizID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	if items == nil {
		items = []models.QuizAttempt{}
	}
	return items, nil
}

func (s *QuizService) ensureStudentAccess(ctx context.Context, actor models.Actor, quiz *models.Quiz) error {
	if actor.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this quiz")
	}
	if !quiz.IsPublished {
		return appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
	}
	return s.ensureEnrolled(ctx, quiz.CourseID, actor.ID)
}

func (s *QuizService) ensureEnrolled(ctx context.Context, courseID, studentID string) error {
	enrolled, err := s.enrollments.IsActive(ctx, courseID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in this course")
	}
	return nil
}

func (s *QuizService) findOpen(ctx context.Context, quizID, studentID string) (*models.QuizAttempt, error) {
	open, err := s.attempts.FindOpen(ctx, quizID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load open attempt")
	}
	return open, nil
}

func (s *QuizService) load(ctx context.Context, id string) (*models.Quiz, error) {
	quiz, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "quiz not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quiz")
	}
	return quiz, nil
}

func (s *QuizService) loadWithCourse(ctx context.Context, id string) (*models.Quiz, *models.Course, error) {
	quiz, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	course, err := s.loadCourse(ctx, quiz.CourseID)
	if err != nil {
		return nil, nil, err
	}
	return quiz, course, nil
}

func (s *QuizService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *QuizService) loadAttempt(ctx context.Context, id string) (*models.QuizAttempt, error) {
	attempt, err := s.attempts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attempt not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}
	return attempt, nil
}

func (s *QuizService) notifyScored(ctx context.Context, quiz *models.Quiz, result *models.AttemptResult) {
	if s.notifier == nil {
		return
	}
	req := models.NotificationRequest{
		Title:    "Quiz graded: " + quiz.Title,
		Message:  fmt.Sprintf("You scored %.2f/%.2f (%s) on %s.", result.Score, result.MaxPoints, result.LetterGrade, quiz.Title),
		Type:     models.NotificationTypeQuiz,
		Priority: models.NotificationPriorityMedium,
		CourseID: &quiz.CourseID,
		Metadata: map[string]interface{}{"quiz_id": quiz.ID, "attempt_id": result.Attempt.ID},
	}
	if result.Grade != nil {
		req.GradeID = &result.Grade.ID
	}
	if _, err := s.notifier.SendToUser(ctx, result.Attempt.StudentID, req); err != nil {
		s.logger.Warn("failed to notify quiz result", zap.String("attempt_id", result.Attempt.ID), zap.Error(err))
	}
}

func (s *QuizService) record(ctx context.Context, actor models.Actor, action, id string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{Actor: actor, Action: action, Resource: models.AuditResourceQuiz, ResourceID: id, OldValues: oldValues, NewValues: newValues})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
