package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

// CourseHandler exposes course and study plan endpoints.
type CourseHandler struct {
	service *service.CourseService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(svc *service.CourseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.service.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Param status query string false "DRAFT, ACTIVE, COMPLETED or CANCELLED"
// @Param instructor_id query string false "Instructor"
// @Param semester query string false "Semester"
// @Param year query int false "Year"
// @Param search query string false "Search by code or name"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		Status:       models.CourseStatus(strings.ToUpper(c.Query("status"))),
		InstructorID: c.Query("instructor_id"),
		Semester:     strings.ToUpper(c.Query("semester")),
		Year:         queryInt(c, "year"),
		Search:       c.Query("search"),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	courses, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Course fields"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpdateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.service.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetStudyPlan godoc
// @Summary Get study plan
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/study-plan [get]
func (h *CourseHandler) GetStudyPlan(c *gin.Context) {
	plan, err := h.service.GetStudyPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// SetStudyPlan godoc
// @Summary Replace study plan
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.StudyPlanRequest true "Weeks"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/study-plan [post]
func (h *CourseHandler) SetStudyPlan(c *gin.Context) {
	var req service.StudyPlanRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.service.SetStudyPlan(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// UpsertStudyPlanWeek godoc
// @Summary Insert or replace one study plan week
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param week path int true "Week number"
// @Param payload body models.StudyPlanWeek true "Week"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/study-plan/weeks/{week} [put]
func (h *CourseHandler) UpsertStudyPlanWeek(c *gin.Context) {
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil || week < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "week must be a positive integer"))
		return
	}
	var req models.StudyPlanWeek
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.service.UpsertStudyPlanWeek(c.Request.Context(), actorFromContext(c), c.Param("id"), week, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// DeleteStudyPlan godoc
// @Summary Delete study plan
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Router /courses/{id}/study-plan [delete]
func (h *CourseHandler) DeleteStudyPlan(c *gin.Context) {
	if err := h.service.DeleteStudyPlan(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
