package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-import-api/internal/dto"
	"github.com/noah-isme/roster-import-api/internal/models"
	appErrors "github.com/noah-isme/roster-import-api/pkg/errors"
	"github.com/noah-isme/roster-import-api/pkg/response"
)

// multipartOverhead leaves room for form boundaries and headers around the file.
const multipartOverhead = 64 * 1024

type importService interface {
	Template() ([]byte, string, error)
	Create(ctx context.Context, auth *models.AuthSession, req dto.CreateImportRequest) (*dto.ImportSessionView, error)
	Get(ctx context.Context, auth *models.AuthSession, id string) (*dto.ImportSessionView, error)
	Discard(ctx context.Context, auth *models.AuthSession, id string) error
	ImportFile(ctx context.Context, auth *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error)
	EnqueueImport(ctx context.Context, auth *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error)
	AddStudent(ctx context.Context, auth *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.StudentMutationResponse, error)
	SaveDraft(ctx context.Context, auth *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.ImportSessionView, error)
	UpdateStudent(ctx context.Context, auth *models.AuthSession, id string, index int, req dto.UpdateStudentRequest) (*dto.StudentMutationResponse, error)
	RemoveStudent(ctx context.Context, auth *models.AuthSession, id string, index int) (*dto.StudentMutationResponse, error)
	Commit(ctx context.Context, auth *models.AuthSession, id string, req *dto.CommitRequest) (*dto.CommitResponse, error)
	ListCommits(ctx context.Context, auth *models.AuthSession, id string) ([]models.ImportCommit, error)
	ListUserCommits(ctx context.Context, auth *models.AuthSession, limit int) ([]models.ImportCommit, error)
}

// ImportHandler exposes roster import session endpoints.
type ImportHandler struct {
	service        importService
	maxUploadBytes int64
}

// NewImportHandler constructs the handler.
func NewImportHandler(service importService, maxUploadBytes int64) *ImportHandler {
	return &ImportHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// Template godoc
// @Summary Download the roster CSV template
// @Tags Imports
// @Produce text/csv
// @Success 200 {file} file
// @Router /imports/template [get]
func (h *ImportHandler) Template(c *gin.Context) {
	data, name, err := h.service.Template()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// Create godoc
// @Summary Open an import session
// @Tags Imports
// @Accept json
// @Produce json
// @Param payload body dto.CreateImportRequest false "Target project"
// @Success 201 {object} response.Envelope
// @Router /imports [post]
func (h *ImportHandler) Create(c *gin.Context) {
	var req dto.CreateImportRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	view, err := h.service.Create(c.Request.Context(), authFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Get godoc
// @Summary Get an import session
// @Tags Imports
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id} [get]
func (h *ImportHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), authFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Discard godoc
// @Summary Discard an import session
// @Tags Imports
// @Param id path string true "Session ID"
// @Success 204
// @Router /imports/{id} [delete]
func (h *ImportHandler) Discard(c *gin.Context) {
	if err := h.service.Discard(c.Request.Context(), authFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadFile godoc
// @Summary Import a roster CSV file into the session preview
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Session ID"
// @Param file formData file true "CSV file"
// @Param async query bool false "Process the file in the background"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /imports/{id}/files [post]
func (h *ImportHandler) UploadFile(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	var reader io.Reader = src
	if h.maxUploadBytes > 0 {
		reader = io.LimitReader(src, h.maxUploadBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}

	auth := authFromContext(c)
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		result, err := h.service.EnqueueImport(c.Request.Context(), auth, c.Param("id"), fileHeader.Filename, data)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, result)
		return
	}

	result, err := h.service.ImportFile(c.Request.Context(), auth, c.Param("id"), fileHeader.Filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// AddStudent godoc
// @Summary Add a student manually
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.StudentFormRequest true "Student"
// @Success 201 {object} response.Envelope
// @Router /imports/{id}/students [post]
func (h *ImportHandler) AddStudent(c *gin.Context) {
	var req dto.StudentFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student payload"))
		return
	}
	result, err := h.service.AddStudent(c.Request.Context(), authFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// SaveDraft godoc
// @Summary Save the manual-entry draft
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.StudentFormRequest true "Draft"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/draft [put]
func (h *ImportHandler) SaveDraft(c *gin.Context) {
	var req dto.StudentFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid draft payload"))
		return
	}
	view, err := h.service.SaveDraft(c.Request.Context(), authFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// UpdateStudent godoc
// @Summary Edit one field of a pending student
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Row index in the preview"
// @Param payload body dto.UpdateStudentRequest true "Field update"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/students/{index} [patch]
func (h *ImportHandler) UpdateStudent(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req dto.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid update payload"))
		return
	}
	result, err := h.service.UpdateStudent(c.Request.Context(), authFromContext(c), c.Param("id"), index, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// RemoveStudent godoc
// @Summary Remove a pending student from the preview
// @Tags Imports
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Row index in the preview"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/students/{index} [delete]
func (h *ImportHandler) RemoveStudent(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	result, err := h.service.RemoveStudent(c.Request.Context(), authFromContext(c), c.Param("id"), index)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Commit godoc
// @Summary Send the novel students to the project API
// @Tags Imports
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CommitRequest false "Project metadata, required when the session creates a project"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /imports/{id}/commit [post]
func (h *ImportHandler) Commit(c *gin.Context) {
	var req *dto.CommitRequest
	if hasBody(c) {
		req = &dto.CommitRequest{}
		if err := c.ShouldBindJSON(req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid commit payload"))
			return
		}
	}
	result, err := h.service.Commit(c.Request.Context(), authFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ListCommits godoc
// @Summary Commit history of a session
// @Tags Imports
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/commits [get]
func (h *ImportHandler) ListCommits(c *gin.Context) {
	commits, err := h.service.ListCommits(c.Request.Context(), authFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, commits, map[string]interface{}{"count": len(commits)})
}

// History godoc
// @Summary Recent commits of the caller across sessions
// @Tags Imports
// @Produce json
// @Param limit query int false "Maximum entries (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /imports/history [get]
func (h *ImportHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	commits, err := h.service.ListUserCommits(c.Request.Context(), authFromContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, commits, map[string]interface{}{"count": len(commits)})
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "index must be a non-negative integer"))
		return 0, false
	}
	return index, true
}

func hasBody(c *gin.Context) bool {
	return c.Request.Body != nil && c.Request.Body != http.NoBody && c.Request.ContentLength != 0
}

func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if !hasBody(c) {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return false
	}
	return true
}
