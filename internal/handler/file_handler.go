package handler

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type fileService interface {
	Upload(ctx context.Context, actor models.Actor, in service.UploadInput) (*models.FileUpload, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.FileDownload, error)
	Open(ctx context.Context, token string) (*models.FileUpload, *os.File, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// FileHandler manages uploads and signed downloads.
type FileHandler struct {
	service fileService
}

// NewFileHandler constructs the handler.
func NewFileHandler(service fileService) *FileHandler {
	return &FileHandler{service: service}
}

// Upload godoc
// @Summary Upload a file
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Content"
// @Param courseId formData string false "Course reference"
// @Param assignmentId formData string false "Assignment reference"
// @Success 201 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	file, err := h.service.Upload(c.Request.Context(), actorFromContext(c), service.UploadInput{
		Name:         fileHeader.Filename,
		Size:         fileHeader.Size,
		Body:         src,
		CourseID:     optionalForm(c, "courseId"),
		AssignmentID: optionalForm(c, "assignmentId"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Get godoc
// @Summary File metadata with a signed download URL
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a file via signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	meta, handle, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer handle.Close() //nolint:errcheck
	response.Attachment(c, meta.OriginalName, meta.MimeType, meta.SizeBytes, handle)
}

// Delete godoc
// @Summary Delete a file
// @Tags Files
// @Param id path string true "File ID"
// @Success 204
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func optionalForm(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return nil
	}
	return &v
}
