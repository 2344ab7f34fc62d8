package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

const (
	studentA = "6f1c1d7e-1a2b-4c3d-8e9f-000000000001"
	studentB = "6f1c1d7e-1a2b-4c3d-8e9f-000000000002"
	studentC = "6f1c1d7e-1a2b-4c3d-8e9f-000000000003"
)

type enrollmentFixture struct {
	svc      *EnrollmentService
	repo     *fakeEnrollmentRepo
	notifier *recordingNotifier
	audit    *recordingAudit
}

func newEnrollmentFixture() enrollmentFixture {
	course := &models.Course{ID: "course-1", Code: "CS-101", Name: "Intro", InstructorID: "teacher-1", Status: models.CourseStatusActive}
	closed := &models.Course{ID: "course-2", Code: "CS-102", InstructorID: "teacher-1", Status: models.CourseStatusCancelled}
	users := &mockUserRepo{users: map[string]*models.User{
		studentA:    {ID: studentA, Role: models.RoleStudent, IsActive: true},
		studentB:    {ID: studentB, Role: models.RoleStudent, IsActive: true},
		studentC:    {ID: studentC, Role: models.RoleStudent, IsActive: true},
		"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher, IsActive: true},
		"teacher-2": {ID: "teacher-2", Role: models.RoleTeacher, IsActive: true},
		"admin-1":   {ID: "admin-1", Role: models.RoleAdmin, IsActive: true},
	}}
	repo := newFakeEnrollmentRepo()
	notify := newRecordingNotifier()
	audit := &recordingAudit{}
	svc := NewEnrollmentService(repo, newFakeCourseRepo(course, closed), users, notify, audit, validator.New(), zap.NewNop())
	return enrollmentFixture{svc: svc, repo: repo, notifier: notify, audit: audit}
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	enrollment, err := f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 1, f.notifier.count(studentA))
	assert.Equal(t, []string{models.AuditActionEnroll}, f.audit.actions())

	_, err = f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollRejections(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, models.Actor{ID: "teacher-2", Role: models.RoleTeacher}, "course-1", EnrollRequest{StudentID: studentA})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Enroll(ctx, teacherActor, "course-2", EnrollRequest{StudentID: studentA})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: "6f1c1d7e-1a2b-4c3d-8e9f-0000000000ff"})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Enroll(ctx, teacherActor, "missing", EnrollRequest{StudentID: studentA})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: "not-a-uuid"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCourseFull(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.capacity["course-1"] = 1
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.NoError(t, err)

	_, err = f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentB})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErr.Code)
	assert.Equal(t, "course is full", appErr.Message)
}

func TestEnrollmentServiceBulkEnrollSkipsActive(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.BulkEnroll(ctx, supervisorActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA, studentB}})
	require.NoError(t, err)

	result, err := f.svc.BulkEnroll(ctx, supervisorActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA, studentB, studentC, studentC}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{studentC}, result.Enrolled)
	assert.Equal(t, []string{studentA, studentB}, result.Skipped)
	assert.Equal(t, "1 enrolled, 2 already enrolled", result.Message)
	assert.Equal(t, 1, f.notifier.count(studentC))
	assert.Equal(t, 1, f.notifier.count(studentA))
}

func TestEnrollmentServiceBulkEnrollAllActive(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.BulkEnroll(ctx, adminActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA, studentB}})
	require.NoError(t, err)

	_, err = f.svc.BulkEnroll(ctx, adminActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA, studentB}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceBulkEnrollRejections(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.BulkEnroll(ctx, teacherActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA}})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.BulkEnroll(ctx, supervisorActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA, "6f1c1d7e-1a2b-4c3d-8e9f-0000000000ff"}})
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)

	active, err := f.repo.IsActive(ctx, "course-1", studentA)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEnrollmentServiceDropAndReactivate(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.NoError(t, err)

	other := models.Actor{ID: studentB, Role: models.RoleStudent}
	err = f.svc.Drop(ctx, other, "course-1", studentA)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	self := models.Actor{ID: studentA, Role: models.RoleStudent}
	require.NoError(t, f.svc.Drop(ctx, self, "course-1", studentA))

	err = f.svc.Drop(ctx, self, "course-1", studentA)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	result, err := f.svc.BulkEnroll(ctx, supervisorActor, "course-1", BulkEnrollRequest{StudentIDs: []string{studentA}})
	require.NoError(t, err)
	assert.Equal(t, []string{studentA}, result.Enrolled)
}

func TestEnrollmentServiceListByStudentScope(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.NoError(t, err)

	self := models.Actor{ID: studentA, Role: models.RoleStudent}
	items, pagination, err := f.svc.ListByStudent(ctx, self, studentA, models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 20, pagination.PageSize)

	_, _, err = f.svc.ListByStudent(ctx, models.Actor{ID: studentB, Role: models.RoleStudent}, studentA, models.EnrollmentFilter{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.ListByCourse(ctx, self, "course-1", models.EnrollmentFilter{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCanJoinCourse(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, teacherActor, "course-1", EnrollRequest{StudentID: studentA})
	require.NoError(t, err)

	cases := []struct {
		user string
		want bool
	}{
		{studentA, true},
		{studentB, false},
		{"teacher-1", true},
		{"teacher-2", false},
		{"admin-1", true},
		{"ghost", false},
	}
	for _, tc := range cases {
		ok, err := f.svc.CanJoinCourse(ctx, tc.user, "course-1")
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.user)
	}
}
