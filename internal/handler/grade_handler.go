package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

// GradeHandler exposes grading and GPA endpoints.
type GradeHandler struct {
	grades *service.GradeService
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades *service.GradeService) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// GradeSubmission godoc
// @Summary Grade a submission
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradeSubmissionRequest true "Score"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades/submissions/{id} [post]
func (h *GradeHandler) GradeSubmission(c *gin.Context) {
	var req service.GradeSubmissionRequest
	if !bindJSON(c, &req) {
		return
	}
	grade, err := h.grades.GradeSubmission(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// Update godoc
// @Summary Regrade
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Grade ID"
// @Param payload body service.UpdateGradeRequest true "Fields"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [put]
func (h *GradeHandler) Update(c *gin.Context) {
	var req service.UpdateGradeRequest
	if !bindJSON(c, &req) {
		return
	}
	grade, err := h.grades.UpdateGrade(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// ListByStudent godoc
// @Summary Grades of a student
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Param courseId query string false "Course filter"
// @Param semester query string false "Semester"
// @Param year query int false "Year"
// @Success 200 {object} response.Envelope
// @Router /grades/student/{id} [get]
func (h *GradeHandler) ListByStudent(c *gin.Context) {
	filter := models.GradeFilter{
		CourseID: c.Query("courseId"),
		Semester: strings.ToUpper(c.Query("semester")),
		Year:     queryInt(c, "year"),
	}
	items, err := h.grades.ListByStudent(c.Request.Context(), actorFromContext(c), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// GPA godoc
// @Summary Calculate GPA
// @Description Weighted GPA over all grades, optionally scoped to a term.
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Param semester query string false "Semester"
// @Param year query int false "Year"
// @Success 200 {object} response.Envelope
// @Router /grades/student/{id}/gpa [get]
func (h *GradeHandler) GPA(c *gin.Context) {
	result, err := h.grades.CalculateGPA(c.Request.Context(), actorFromContext(c), c.Param("id"),
		strings.ToUpper(c.Query("semester")), queryInt(c, "year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListByCourse godoc
// @Summary Grades of a course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /grades/course/{id} [get]
func (h *GradeHandler) ListByCourse(c *gin.Context) {
	items, err := h.grades.ListByCourse(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
