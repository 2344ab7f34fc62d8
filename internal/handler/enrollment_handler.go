package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, actor models.Actor, courseID string, req service.EnrollRequest) (*models.Enrollment, error)
	BulkEnroll(ctx context.Context, actor models.Actor, courseID string, req service.BulkEnrollRequest) (*models.BulkEnrollResult, error)
	Drop(ctx context.Context, actor models.Actor, courseID, studentID string) error
	ListByCourse(ctx context.Context, actor models.Actor, courseID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	ListByStudent(ctx context.Context, actor models.Actor, studentID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll a student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.EnrollRequest true "Student"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollment/courses/{id}/students [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// BulkEnroll godoc
// @Summary Bulk enroll students
// @Description Already enrolled students are skipped. Fails when every student is already enrolled.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.BulkEnrollRequest true "Students"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollment/courses/{id}/bulk-enroll [post]
func (h *EnrollmentHandler) BulkEnroll(c *gin.Context) {
	var req service.BulkEnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.enrollments.BulkEnroll(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListByCourse godoc
// @Summary Course roster
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Param status query string false "ACTIVE, DROPPED or COMPLETED"
// @Success 200 {object} response.Envelope
// @Router /enrollment/courses/{id}/students [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	filter := models.EnrollmentFilter{Status: models.EnrollmentStatus(strings.ToUpper(c.Query("status")))}
	filter.Page, filter.PageSize = pageParams(c)
	items, pagination, err := h.enrollments.ListByCourse(c.Request.Context(), actorFromContext(c), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Drop godoc
// @Summary Drop a student
// @Tags Enrollments
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /enrollment/courses/{id}/students/{studentId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	if err := h.enrollments.Drop(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListByStudent godoc
// @Summary Courses of a student
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /enrollment/students/{id}/courses [get]
func (h *EnrollmentHandler) ListByStudent(c *gin.Context) {
	filter := models.EnrollmentFilter{Status: models.EnrollmentStatus(strings.ToUpper(c.Query("status")))}
	filter.Page, filter.PageSize = pageParams(c)
	items, pagination, err := h.enrollments.ListByStudent(c.Request.Context(), actorFromContext(c), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}
