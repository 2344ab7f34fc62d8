package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

const quizCourseID = "9a1f7c0e-2f6b-4d0b-8f51-5a8e1c7d0001"

func sampleBank() models.QuestionBank {
	return models.QuestionBank{Questions: []models.Question{
		{ID: "q1", Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: 1, Points: 2, Explanation: "arithmetic"},
		{ID: "q2", Text: "Capital of France?", Options: []string{"Paris", "Rome", "Oslo"}, CorrectAnswer: 0, Points: 3},
	}}
}

type quizFixture struct {
	svc      *QuizService
	repo     *fakeQuizRepo
	attempts *fakeAttemptRepo
	grader   *recordingGrader
	metrics  *countingMetrics
	notifier *recordingNotifier
	now      time.Time
}

func newQuizFixture(quizzes ...*models.Quiz) *quizFixture {
	course := &models.Course{ID: quizCourseID, Code: "CS-101", InstructorID: "teacher-1", Status: models.CourseStatusActive}
	enrollments := newFakeEnrollmentRepo()
	enrollments.status[enrollmentKey(quizCourseID, "student-1")] = models.EnrollmentStatusActive

	f := &quizFixture{
		repo:     newFakeQuizRepo(quizzes...),
		attempts: &fakeAttemptRepo{},
		grader:   &recordingGrader{},
		metrics:  &countingMetrics{},
		notifier: newRecordingNotifier(),
		now:      time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewQuizService(f.repo, f.attempts, newFakeCourseRepo(course), enrollments, f.grader, f.notifier, f.metrics, &recordingAudit{}, validator.New(), zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func publishedQuiz(id string, attempts int) *models.Quiz {
	q := &models.Quiz{ID: id, CourseID: quizCourseID, Title: "Basics", AttemptsAllowed: attempts, IsPublished: true}
	q.ApplyQuestionBank(sampleBank())
	return q
}

func TestQuizServiceCreateDerivesTotals(t *testing.T) {
	f := newQuizFixture()
	quiz, err := f.svc.Create(context.Background(), teacherActor, CreateQuizRequest{CourseID: quizCourseID, Title: "Basics", Questions: sampleBank()})
	require.NoError(t, err)
	assert.Equal(t, 2, quiz.TotalQuestions)
	assert.Equal(t, 5.0, quiz.MaxPoints)
	assert.Equal(t, 1, quiz.AttemptsAllowed)
}

func TestQuizServiceCreateRejectsInvalidBank(t *testing.T) {
	f := newQuizFixture()
	bank := sampleBank()
	bank.Questions[1].CorrectAnswer = 7

	_, err := f.svc.Create(context.Background(), teacherActor, CreateQuizRequest{CourseID: quizCourseID, Title: "Broken", Questions: bank})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidQuestionBank.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Create(context.Background(), teacherActor, CreateQuizRequest{CourseID: quizCourseID, Title: "Empty"})
	assert.Equal(t, appErrors.ErrInvalidQuestionBank.Code, appErrors.FromError(err).Code)
}

func TestQuizServiceGetHidesAnswersFromStudents(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 1))
	ctx := context.Background()

	view, err := f.svc.Get(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	studentView, ok := view.(models.StudentQuiz)
	require.True(t, ok)
	assert.Len(t, studentView.Questions, 2)

	full, err := f.svc.Get(ctx, teacherActor, "quiz-1")
	require.NoError(t, err)
	assert.IsType(t, &models.Quiz{}, full)

	_, err = f.svc.Get(ctx, models.Actor{ID: "student-9", Role: models.RoleStudent}, "quiz-1")
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestQuizServiceStartAttemptResumesOpenAttempt(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 2))
	ctx := context.Background()

	first, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	assert.False(t, first.Resumed)
	assert.Equal(t, 1, first.Attempt.AttemptNumber)

	again, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Attempt.ID, again.Attempt.ID)
	assert.Len(t, f.attempts.items, 1)
}

func TestQuizServiceAttemptLimit(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 3))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
		require.NoError(t, err)
		assert.Equal(t, i, started.Attempt.AttemptNumber)
		_, err = f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{"q1": 1}})
		require.NoError(t, err)
	}

	_, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMaxAttempts.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.attempts.items, 3)
}

func TestQuizServiceStartAttemptRejections(t *testing.T) {
	due := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	closed := publishedQuiz("closed", 1)
	closed.DueDate = &due
	draft := publishedQuiz("draft", 1)
	draft.IsPublished = false
	f := newQuizFixture(closed, draft, publishedQuiz("open", 1))
	ctx := context.Background()

	_, err := f.svc.StartAttempt(ctx, studentActor, "closed")
	assert.Equal(t, appErrors.ErrQuizClosed.Code, appErrors.FromError(err).Code)

	_, err = f.svc.StartAttempt(ctx, studentActor, "draft")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.StartAttempt(ctx, models.Actor{ID: "student-9", Role: models.RoleStudent}, "open")
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)

	_, err = f.svc.StartAttempt(ctx, teacherActor, "open")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestQuizServiceSubmitAttemptScores(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 1))
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)

	result, err := f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{"q1": 1, "q2": 2}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.Score)
	assert.Equal(t, 5.0, result.MaxPoints)
	assert.Equal(t, 40.0, result.Percentage)
	assert.Equal(t, "F", result.LetterGrade)
	require.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].IsCorrect)
	assert.False(t, result.Results[1].IsCorrect)
	require.NotNil(t, result.Grade)
	assert.Equal(t, 1, f.grader.calls)
	assert.Equal(t, 1, f.metrics.submissions)
	assert.Equal(t, 1, f.notifier.count("student-1"))

	_, err = f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{"q1": 1}})
	assert.Equal(t, appErrors.ErrAttemptSubmitted.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.grader.calls)
}

func TestQuizServiceSubmitAttemptNullAnswersScoreZero(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 1))
	ctx := context.Background()
	started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)

	var req SubmitQuizRequest
	require.NoError(t, json.Unmarshal([]byte(`{"answers":{"q1":null,"q2":null}}`), &req))

	result, err := f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, req)
	require.NoError(t, err)
	assert.Zero(t, result.Score)
	require.Len(t, result.Results, 2)
	for _, r := range result.Results {
		assert.False(t, r.IsCorrect, r.QuestionID)
		assert.Nil(t, r.StudentAnswer, r.QuestionID)
		assert.Zero(t, r.PointsEarned, r.QuestionID)
	}
}

func TestQuizServiceSubmitAttemptOwnership(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 1))
	ctx := context.Background()
	started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)

	other := models.Actor{ID: "student-2", Role: models.RoleStudent}
	_, err = f.svc.SubmitAttempt(ctx, other, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{}})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.SubmitAttempt(ctx, studentActor, "missing", SubmitQuizRequest{Answers: models.QuizAnswers{}})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestQuizServiceSubmitAfterDueDateForStartedAttempt(t *testing.T) {
	due := time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)
	quiz := publishedQuiz("quiz-1", 1)
	quiz.DueDate = &due
	f := newQuizFixture(quiz)
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)

	f.now = due.Add(time.Hour)
	result, err := f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{"q1": 1, "q2": 0}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Percentage)
}

func TestQuizServiceGradeFailureStillReturnsResult(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 1))
	f.grader.err = errors.New("db down")
	ctx := context.Background()

	started, err := f.svc.StartAttempt(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	result, err := f.svc.SubmitAttempt(ctx, studentActor, started.Attempt.ID, SubmitQuizRequest{Answers: models.QuizAnswers{}})
	require.NoError(t, err)
	assert.Nil(t, result.Grade)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 0, f.notifier.count("student-1"))
}

func TestQuizServiceListAttemptsScope(t *testing.T) {
	f := newQuizFixture(publishedQuiz("quiz-1", 3))
	f.attempts.items = []*models.QuizAttempt{
		{ID: "a1", QuizID: "quiz-1", StudentID: "student-1"},
		{ID: "a2", QuizID: "quiz-1", StudentID: "student-2"},
	}
	ctx := context.Background()

	mine, err := f.svc.ListAttempts(ctx, studentActor, "quiz-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a1", mine[0].ID)

	all, err := f.svc.ListAttempts(ctx, teacherActor, "quiz-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetAttempt(ctx, studentActor, "a2")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestQuizServiceListStripsQuestionsForStudents(t *testing.T) {
	draft := publishedQuiz("draft", 1)
	draft.IsPublished = false
	f := newQuizFixture(publishedQuiz("quiz-1", 1), draft)
	ctx := context.Background()

	items, _, err := f.svc.List(ctx, studentActor, models.QuizFilter{CourseID: quizCourseID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].QuestionsData.Questions)

	items, _, err = f.svc.List(ctx, teacherActor, models.QuizFilter{CourseID: quizCourseID})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
