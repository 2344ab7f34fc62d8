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

func newTestCourseService(repo *fakeCourseRepo, users *mockUserRepo) *CourseService {
	if users == nil {
		users = &mockUserRepo{users: map[string]*models.User{}}
	}
	return NewCourseService(repo, users, &recordingAudit{}, validator.New(), zap.NewNop())
}

func TestNormalizeCourseCode(t *testing.T) {
	assert.Equal(t, "CS-101", NormalizeCourseCode("CS 101"))
	assert.Equal(t, "CS-101", NormalizeCourseCode("  cs.101 "))
	assert.Equal(t, "", NormalizeCourseCode("!!!"))
}

func TestCourseServiceCreateDefaultsInstructor(t *testing.T) {
	repo := newFakeCourseRepo()
	svc := newTestCourseService(repo, nil)

	course, err := svc.Create(context.Background(), teacherActor, CreateCourseRequest{
		Code: "cs 101", Name: "Intro", Credits: 3, Semester: "fall", Year: 2024, Capacity: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, "CS-101", course.Code)
	assert.Equal(t, "FALL", course.Semester)
	assert.Equal(t, teacherActor.ID, course.InstructorID)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
	assert.Contains(t, repo.courses, course.ID)
}

func TestCourseServiceCreateRejectsForeignInstructorForTeacher(t *testing.T) {
	other := "5f0d6c1e-4b8e-4a52-9c59-0a9b1d7e8f10"
	svc := newTestCourseService(newFakeCourseRepo(), nil)

	_, err := svc.Create(context.Background(), teacherActor, CreateCourseRequest{
		Code: "CS-102", Name: "Data", Credits: 3, Semester: "FALL", Year: 2024, InstructorID: &other,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceSupervisorAssignsInstructor(t *testing.T) {
	teacherID := "5f0d6c1e-4b8e-4a52-9c59-0a9b1d7e8f10"
	users := &mockUserRepo{users: map[string]*models.User{
		teacherID: {ID: teacherID, Role: models.RoleTeacher, IsActive: true},
	}}
	svc := newTestCourseService(newFakeCourseRepo(), users)

	course, err := svc.Create(context.Background(), supervisorActor, CreateCourseRequest{
		Code: "MA-201", Name: "Calculus", Credits: 4, Semester: "SPRING", Year: 2025, InstructorID: &teacherID,
	})
	require.NoError(t, err)
	assert.Equal(t, teacherID, course.InstructorID)
}

func TestCourseServiceCreateDuplicateCode(t *testing.T) {
	repo := newFakeCourseRepo(&models.Course{ID: "c1", Code: "CS-101"})
	svc := newTestCourseService(repo, nil)

	_, err := svc.Create(context.Background(), adminActor, CreateCourseRequest{
		Code: "cs 101", Name: "Intro", Credits: 3, Semester: "FALL", Year: 2024,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateOnlyInstructorOrSupervisor(t *testing.T) {
	repo := newFakeCourseRepo(&models.Course{ID: "c1", Code: "CS-101", Name: "Intro", InstructorID: "teacher-2"})
	svc := newTestCourseService(repo, nil)
	name := "Renamed"

	_, err := svc.Update(context.Background(), teacherActor, "c1", UpdateCourseRequest{Name: &name})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	course, err := svc.Update(context.Background(), supervisorActor, "c1", UpdateCourseRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", course.Name)
}

func TestCourseServiceStudyPlan(t *testing.T) {
	repo := newFakeCourseRepo(&models.Course{ID: "c1", Code: "CS-101", InstructorID: teacherActor.ID})
	svc := newTestCourseService(repo, nil)
	ctx := context.Background()

	plan, err := svc.SetStudyPlan(ctx, teacherActor, "c1", StudyPlanRequest{Weeks: []models.StudyPlanWeek{
		{Week: 3, Title: "Loops"},
		{Week: 1, Title: "Intro"},
	}})
	require.NoError(t, err)
	require.Len(t, plan.Weeks, 2)
	assert.Equal(t, 1, plan.Weeks[0].Week)

	plan, err = svc.UpsertStudyPlanWeek(ctx, teacherActor, "c1", 2, models.StudyPlanWeek{Title: "Variables", Topics: []string{"types"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, []int{plan.Weeks[0].Week, plan.Weeks[1].Week, plan.Weeks[2].Week})

	plan, err = svc.UpsertStudyPlanWeek(ctx, teacherActor, "c1", 3, models.StudyPlanWeek{Title: "Loops and recursion"})
	require.NoError(t, err)
	assert.Len(t, plan.Weeks, 3)
	assert.Equal(t, "Loops and recursion", plan.Weeks[2].Title)

	require.NoError(t, svc.DeleteStudyPlan(ctx, teacherActor, "c1"))
	got, err := svc.GetStudyPlan(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got.Weeks)
}

func TestCourseServiceStudyPlanRejectsDuplicateWeeks(t *testing.T) {
	repo := newFakeCourseRepo(&models.Course{ID: "c1", InstructorID: teacherActor.ID})
	svc := newTestCourseService(repo, nil)

	_, err := svc.SetStudyPlan(context.Background(), teacherActor, "c1", StudyPlanRequest{Weeks: []models.StudyPlanWeek{
		{Week: 1, Title: "a"},
		{Week: 1, Title: "b"},
	}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceGetNotFound(t *testing.T) {
	svc := newTestCourseService(newFakeCourseRepo(), nil)
	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
