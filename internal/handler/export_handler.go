package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-import-api/internal/dto"
	"github.com/noah-isme/roster-import-api/internal/models"
	appErrors "github.com/noah-isme/roster-import-api/pkg/errors"
	"github.com/noah-isme/roster-import-api/pkg/response"
)

type exportService interface {
	Export(ctx context.Context, auth *models.AuthSession, sessionID string, req dto.ExportRequest) (*models.RosterExport, error)
	Resolve(token string) (*models.ExportDownload, io.ReadSeekCloser, error)
}

// ExportHandler renders rosters and serves signed downloads.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Create godoc
// @Summary Export the pending roster
// @Tags Exports
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ExportRequest true "Export format"
// @Success 201 {object} response.Envelope
// @Router /imports/{id}/exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
		return
	}
	result, err := h.service.Export(c.Request.Context(), authFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an exported roster
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 410 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	download, file, err := h.service.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.FileName))
	c.Header("Content-Type", download.ContentType)
	c.Header("Cache-Control", "no-store")
	http.ServeContent(c.Writer, c.Request, download.FileName, time.Time{}, file)
}
