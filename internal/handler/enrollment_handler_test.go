package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type enrollmentServiceMock struct {
	enrollErr  error
	bulkResult *models.BulkEnrollResult
	bulkErr    error
	dropErr    error
	items      []models.EnrollmentDetail

	lastActor    models.Actor
	lastCourseID string
	lastStudent  string
	lastBulk     service.BulkEnrollRequest
	lastFilter   models.EnrollmentFilter
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, actor models.Actor, courseID string, req service.EnrollRequest) (*models.Enrollment, error) {
	m.lastActor = actor
	m.lastCourseID = courseID
	m.lastStudent = req.StudentID
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return &models.Enrollment{ID: "enr-1", CourseID: courseID, StudentID: req.StudentID, Status: models.EnrollmentStatusActive}, nil
}

func (m *enrollmentServiceMock) BulkEnroll(ctx context.Context, actor models.Actor, courseID string, req service.BulkEnrollRequest) (*models.BulkEnrollResult, error) {
	m.lastBulk = req
	return m.bulkResult, m.bulkErr
}

func (m *enrollmentServiceMock) Drop(ctx context.Context, actor models.Actor, courseID, studentID string) error {
	m.lastActor = actor
	m.lastCourseID = courseID
	m.lastStudent = studentID
	return m.dropErr
}

func (m *enrollmentServiceMock) ListByCourse(ctx context.Context, actor models.Actor, courseID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.lastCourseID = courseID
	m.lastFilter = filter
	return m.items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.items)}, nil
}

func (m *enrollmentServiceMock) ListByStudent(ctx context.Context, actor models.Actor, studentID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.lastStudent = studentID
	m.lastFilter = filter
	return m.items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.items)}, nil
}

func TestEnrollmentHandlerEnrollCreates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{}
	handler := NewEnrollmentHandler(svc)

	body, _ := json.Marshal(map[string]string{"student_id": "stu-1"})
	c, w := newGinContext(http.MethodPost, "/enrollment/courses/course-1/students", body)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}
	asUser(c, "teacher-1", models.RoleTeacher)

	handler.Enroll(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "course-1", svc.lastCourseID)
	assert.Equal(t, "stu-1", svc.lastStudent)
	assert.Equal(t, "teacher-1", svc.lastActor.ID)
	assert.Equal(t, models.RoleTeacher, svc.lastActor.Role)
}

func TestEnrollmentHandlerEnrollRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := newGinContext(http.MethodPost, "/enrollment/courses/course-1/students", []byte("{"))
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}

	handler.Enroll(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w).Code)
}

func TestEnrollmentHandlerEnrollSurfacesDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEnrollmentHandler(&enrollmentServiceMock{enrollErr: appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled")})

	body, _ := json.Marshal(map[string]string{"student_id": "stu-1"})
	c, w := newGinContext(http.MethodPost, "/enrollment/courses/course-1/students", body)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}

	handler.Enroll(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ALREADY_ENROLLED", decodeError(t, w).Code)
}

func TestEnrollmentHandlerBulkEnrollReturnsSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{bulkResult: &models.BulkEnrollResult{
		Success: true, Enrolled: []string{"stu-2"}, Skipped: []string{"stu-1"}, Message: "1 enrolled, 1 skipped",
	}}
	handler := NewEnrollmentHandler(svc)

	body, _ := json.Marshal(map[string][]string{"student_ids": {"stu-1", "stu-2"}})
	c, w := newGinContext(http.MethodPost, "/enrollment/courses/course-1/bulk-enroll", body)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}

	handler.BulkEnroll(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"stu-1", "stu-2"}, svc.lastBulk.StudentIDs)

	var envelope struct {
		Data models.BulkEnrollResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, []string{"stu-2"}, envelope.Data.Enrolled)
	assert.Equal(t, []string{"stu-1"}, envelope.Data.Skipped)
}

func TestEnrollmentHandlerListByCourseParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{items: []models.EnrollmentDetail{{StudentName: "Ada"}}}
	handler := NewEnrollmentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/enrollment/courses/course-1/students?status=dropped&page=2&page_size=5", nil)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}

	handler.ListByCourse(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EnrollmentStatusDropped, svc.lastFilter.Status)
	assert.Equal(t, 2, svc.lastFilter.Page)
	assert.Equal(t, 5, svc.lastFilter.PageSize)

	var envelope struct {
		Pagination *models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestEnrollmentHandlerDropForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{dropErr: appErrors.ErrForbidden}
	handler := NewEnrollmentHandler(svc)

	c, w := newGinContext(http.MethodDelete, "/enrollment/courses/course-1/students/stu-9", nil)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}, {Key: "studentId", Value: "stu-9"}}
	asUser(c, "stu-1", models.RoleStudent)

	handler.Drop(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "stu-9", svc.lastStudent)
}
