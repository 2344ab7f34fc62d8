package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

const assignmentCourseID = "0b7c6f7e-5c1e-4a59-9a43-3c0b7c1e0001"

type assignmentFixture struct {
	svc         *AssignmentService
	repo        *fakeAssignmentRepo
	submissions *fakeSubmissionRepo
	enrollments *fakeEnrollmentRepo
	files       *fakeFileRepo
	notifier    *recordingNotifier
	now         time.Time
}

func newAssignmentFixture(assignments ...*models.Assignment) *assignmentFixture {
	course := &models.Course{ID: assignmentCourseID, Code: "CS-101", InstructorID: "teacher-1", Status: models.CourseStatusActive}
	enrollments := newFakeEnrollmentRepo()
	enrollments.status[enrollmentKey(assignmentCourseID, "student-1")] = models.EnrollmentStatusActive
	enrollments.status[enrollmentKey(assignmentCourseID, "student-2")] = models.EnrollmentStatusActive

	f := &assignmentFixture{
		repo:        newFakeAssignmentRepo(assignments...),
		submissions: newFakeSubmissionRepo(),
		enrollments: enrollments,
		files:       &fakeFileRepo{items: map[string]*models.FileUpload{}},
		notifier:    newRecordingNotifier(),
		now:         time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAssignmentService(f.repo, f.submissions, f.files, newFakeCourseRepo(course), enrollments, f.notifier, &recordingAudit{}, validator.New(), zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestAssignmentServiceCreateNotifiesStudents(t *testing.T) {
	f := newAssignmentFixture()
	req := CreateAssignmentRequest{CourseID: assignmentCourseID, Title: " Essay ", DueDate: f.now.Add(48 * time.Hour), MaxPoints: 100}

	assignment, err := f.svc.Create(context.Background(), teacherActor, req)
	require.NoError(t, err)
	assert.Equal(t, "Essay", assignment.Title)
	assert.Equal(t, models.AssignmentStatusAssigned, assignment.Status)
	assert.Equal(t, 1, f.notifier.count("student-1"))
	assert.Equal(t, 1, f.notifier.count("student-2"))

	_, err = f.svc.Create(context.Background(), models.Actor{ID: "teacher-2", Role: models.RoleTeacher}, req)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	req.MaxPoints = 0
	_, err = f.svc.Create(context.Background(), teacherActor, req)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceSubmit(t *testing.T) {
	due := time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC)
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, DueDate: due, MaxPoints: 100, Status: models.AssignmentStatusAssigned})
	ctx := context.Background()

	submission, err := f.svc.Submit(ctx, studentActor, "a-1", SubmitAssignmentRequest{Content: stringPtr("my answer")})
	require.NoError(t, err)
	assert.False(t, submission.IsLate)
	assert.Equal(t, models.SubmissionStatusSubmitted, submission.Status)
	assert.Equal(t, []models.AssignmentStatus{models.AssignmentStatusSubmitted}, f.repo.statuses)

	_, err = f.svc.Submit(ctx, studentActor, "a-1", SubmitAssignmentRequest{Content: stringPtr("again")})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "assignment already submitted", appErr.Message)

	second := models.Actor{ID: "student-2", Role: models.RoleStudent}
	_, err = f.svc.Submit(ctx, second, "a-1", SubmitAssignmentRequest{Content: stringPtr("late")})
	require.NoError(t, err)
	assert.Len(t, f.repo.statuses, 1)
}

func TestAssignmentServiceSubmitKeepsConcurrentGrade(t *testing.T) {
	due := time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC)
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, DueDate: due, MaxPoints: 100, Status: models.AssignmentStatusAssigned})
	f.repo.onFind = func(stored *models.Assignment) {
		stored.Status = models.AssignmentStatusGraded
	}

	_, err := f.svc.Submit(context.Background(), studentActor, "a-1", SubmitAssignmentRequest{Content: stringPtr("my answer")})
	require.NoError(t, err)
	assert.Empty(t, f.repo.statuses)
	assert.Equal(t, models.AssignmentStatusGraded, f.repo.items["a-1"].Status)
}

func TestAssignmentServiceSubmitPastDue(t *testing.T) {
	due := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	f := newAssignmentFixture(
		&models.Assignment{ID: "strict", CourseID: assignmentCourseID, DueDate: due, MaxPoints: 10, Status: models.AssignmentStatusAssigned},
		&models.Assignment{ID: "lenient", CourseID: assignmentCourseID, DueDate: due, MaxPoints: 10, Status: models.AssignmentStatusAssigned, AllowLate: true},
	)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, studentActor, "strict", SubmitAssignmentRequest{Content: stringPtr("x")})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)

	submission, err := f.svc.Submit(ctx, studentActor, "lenient", SubmitAssignmentRequest{Content: stringPtr("x")})
	require.NoError(t, err)
	assert.True(t, submission.IsLate)
}

func TestAssignmentServiceSubmitRequiresEnrollment(t *testing.T) {
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, DueDate: time.Now().Add(time.Hour), MaxPoints: 10})
	ctx := context.Background()

	outsider := models.Actor{ID: "student-9", Role: models.RoleStudent}
	_, err := f.svc.Submit(ctx, outsider, "a-1", SubmitAssignmentRequest{Content: stringPtr("x")})
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Submit(ctx, teacherActor, "a-1", SubmitAssignmentRequest{Content: stringPtr("x")})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Submit(ctx, studentActor, "a-1", SubmitAssignmentRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Submit(ctx, studentActor, "missing", SubmitAssignmentRequest{Content: stringPtr("x")})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceVisibility(t *testing.T) {
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, MaxPoints: 10})
	ctx := context.Background()

	_, err := f.svc.Get(ctx, studentActor, "a-1")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, models.Actor{ID: "student-9", Role: models.RoleStudent}, "a-1")
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ListSubmissions(ctx, studentActor, "a-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	items, err := f.svc.ListSubmissions(ctx, teacherActor, "a-1")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, _, err = f.svc.List(ctx, teacherActor, models.AssignmentFilter{})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceListOverdueByRole(t *testing.T) {
	f := newAssignmentFixture()
	f.repo.overdue["student:student-1"] = []models.Assignment{{ID: "a-1"}}
	f.repo.overdue["instructor:teacher-1"] = []models.Assignment{{ID: "a-2"}}
	f.repo.overdue["instructor:"] = []models.Assignment{{ID: "a-1"}, {ID: "a-2"}}
	ctx := context.Background()

	items, err := f.svc.ListOverdue(ctx, studentActor)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = f.svc.ListOverdue(ctx, teacherActor)
	require.NoError(t, err)
	assert.Equal(t, "a-2", items[0].ID)

	items, err = f.svc.ListOverdue(ctx, adminActor)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.svc.ListOverdue(ctx, models.Actor{ID: "student-9", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.NotNil(t, items)
}

func TestAssignmentIsOverdue(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	a := models.Assignment{DueDate: now.Add(-time.Minute)}
	assert.True(t, a.IsOverdue(false, now))
	assert.False(t, a.IsOverdue(true, now))
	a.DueDate = now.Add(time.Minute)
	assert.False(t, a.IsOverdue(false, now))
}

func TestAssignmentServiceUpdateAndDelete(t *testing.T) {
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, Title: "Old", MaxPoints: 10})
	ctx := context.Background()

	title := "New"
	updated, err := f.svc.Update(ctx, teacherActor, "a-1", UpdateAssignmentRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)

	err = f.svc.Delete(ctx, studentActor, "a-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Delete(ctx, supervisorActor, "a-1"))
	_, err = f.svc.Get(ctx, teacherActor, "a-1")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceSubmitChecksFileOwnership(t *testing.T) {
	f := newAssignmentFixture(&models.Assignment{ID: "a-1", CourseID: assignmentCourseID, DueDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), MaxPoints: 10})
	own := "1d4c0a9e-6a43-4d8e-b2a4-000000000001"
	foreign := "1d4c0a9e-6a43-4d8e-b2a4-000000000002"
	f.files.items[own] = &models.FileUpload{ID: own, UploadedBy: "student-1"}
	f.files.items[foreign] = &models.FileUpload{ID: foreign, UploadedBy: "student-2"}
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, studentActor, "a-1", SubmitAssignmentRequest{FileIDs: []string{own, foreign}})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)

	submission, err := f.svc.Submit(ctx, studentActor, "a-1", SubmitAssignmentRequest{FileIDs: []string{own, own}})
	require.NoError(t, err)
	assert.Equal(t, []string{own}, []string(submission.FileIDs))
}
