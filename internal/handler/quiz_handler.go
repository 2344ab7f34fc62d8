package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type quizService interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateQuizRequest) (*models.Quiz, error)
	Get(ctx context.Context, actor models.Actor, id string) (interface{}, error)
	List(ctx context.Context, actor models.Actor, filter models.QuizFilter) ([]models.Quiz, *models.Pagination, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateQuizRequest) (*models.Quiz, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	StartAttempt(ctx context.Context, actor models.Actor, quizID string) (*models.StartedAttempt, error)
	SubmitAttempt(ctx context.Context, actor models.Actor, attemptID string, req service.SubmitQuizRequest) (*models.AttemptResult, error)
	GetAttempt(ctx context.Context, actor models.Actor, id string) (*models.QuizAttempt, error)
	ListAttempts(ctx context.Context, actor models.Actor, quizID string) ([]models.QuizAttempt, error)
}

// QuizHandler exposes quiz and attempt endpoints.
type QuizHandler struct {
	quizzes quizService
}

// NewQuizHandler constructs the handler.
func NewQuizHandler(quizzes quizService) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

// Create godoc
// @Summary Create quiz
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param payload body service.CreateQuizRequest true "Quiz with question bank"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /quizzes [post]
func (h *QuizHandler) Create(c *gin.Context) {
	var req service.CreateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.quizzes.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, quiz)
}

// List godoc
// @Summary List quizzes of a course
// @Tags Quizzes
// @Produce json
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes [get]
func (h *QuizHandler) List(c *gin.Context) {
	filter := models.QuizFilter{CourseID: c.Query("courseId"), PublishedOnly: queryBool(c, "published")}
	filter.Page, filter.PageSize = pageParams(c)
	items, pagination, err := h.quizzes.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get quiz
// @Description Students receive the quiz without answers or explanations.
// @Tags Quizzes
// @Produce json
// @Param id path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id} [get]
func (h *QuizHandler) Get(c *gin.Context) {
	quiz, err := h.quizzes.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Update godoc
// @Summary Update quiz
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param id path string true "Quiz ID"
// @Param payload body service.UpdateQuizRequest true "Fields"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{id} [put]
func (h *QuizHandler) Update(c *gin.Context) {
	var req service.UpdateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.quizzes.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Delete godoc
// @Summary Delete quiz
// @Tags Quizzes
// @Param id path string true "Quiz ID"
// @Success 204
// @Router /quizzes/{id} [delete]
func (h *QuizHandler) Delete(c *gin.Context) {
	if err := h.quizzes.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// StartAttempt godoc
// @Summary Start or resume an attempt
// @Tags Quiz Attempts
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /quiz-attempts/start/{quizId} [post]
func (h *QuizHandler) StartAttempt(c *gin.Context) {
	started, err := h.quizzes.StartAttempt(c.Request.Context(), actorFromContext(c), c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, started)
}

// SubmitAttempt godoc
// @Summary Submit answers
// @Tags Quiz Attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param payload body service.SubmitQuizRequest true "Answers keyed by question id"
// @Success 200 {object} response.Envelope
// @Router /quiz-attempts/{id}/submit [post]
func (h *QuizHandler) SubmitAttempt(c *gin.Context) {
	var req service.SubmitQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.quizzes.SubmitAttempt(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// GetAttempt godoc
// @Summary Get attempt
// @Tags Quiz Attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} response.Envelope
// @Router /quiz-attempts/{id} [get]
func (h *QuizHandler) GetAttempt(c *gin.Context) {
	attempt, err := h.quizzes.GetAttempt(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt, nil)
}

// ListAttempts godoc
// @Summary Attempts of a quiz
// @Description Staff see every attempt, students their own.
// @Tags Quiz Attempts
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quiz-attempts/quiz/{quizId} [get]
func (h *QuizHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.quizzes.ListAttempts(c.Request.Context(), actorFromContext(c), c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, nil)
}
