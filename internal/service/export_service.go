package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/roster-import-api/internal/dto"
	"github.com/noah-isme/roster-import-api/internal/models"
	"github.com/noah-isme/roster-import-api/internal/roster"
	appErrors "github.com/noah-isme/roster-import-api/pkg/errors"
	"github.com/noah-isme/roster-import-api/pkg/export"
	"github.com/noah-isme/roster-import-api/pkg/storage"
)

type sessionReader interface {
	Snapshot(ctx context.Context, auth *models.AuthSession, id string) (*models.ImportSession, error)
}

type fileStorage interface {
	Save(name string, data []byte) error
	Open(name string) (io.ReadSeekCloser, int64, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders pending rosters to CSV, PDF or XLSX files and hands
// out signed download links.
type ExportService struct {
	sessions  sessionReader
	storage   fileStorage
	signer    *storage.SignedURLSigner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(sessions sessionReader, store fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{
		sessions:  sessions,
		storage:   store,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders the roster of a session and returns a signed link to it.
func (s *ExportService) Export(ctx context.Context, auth *models.AuthSession, sessionID string, req dto.ExportRequest) (*models.RosterExport, error) {
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	sess, err := s.sessions.Snapshot(ctx, auth, sessionID)
	if err != nil {
		return nil, err
	}

	renderer, err := export.ForFormat(req.Format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	table := rosterTable(sess.State.Roster, req.Title)
	payload, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	exportID := uuid.NewString()
	fileName := fmt.Sprintf("roster_%s.%s", s.now().UTC().Format("20060102_150405"), renderer.Extension())
	relPath := path.Join(exportID, fileName)
	if err := s.storage.Save(relPath, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	link, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	s.metrics.RecordExport(req.Format)
	s.logger.Info("roster exported",
		zap.String("session_id", sessionID),
		zap.String("export_id", exportID),
		zap.String("format", req.Format),
		zap.Int("rows", len(table.Rows)),
	)

	return &models.RosterExport{
		ID:          exportID,
		SessionID:   sessionID,
		Format:      req.Format,
		FileName:    fileName,
		Rows:        len(table.Rows),
		DownloadURL: fmt.Sprintf("%s/exports/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), link.Token),
		ExpiresAt:   link.ExpiresAt,
	}, nil
}

// Resolve validates a download token and opens the file it points at. The
// caller closes the returned reader.
func (s *ExportService) Resolve(token string) (*models.ExportDownload, io.ReadSeekCloser, error) {
	link, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrGone.Code, appErrors.ErrGone.Status, "export link expired")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}

	file, _, err := s.storage.Open(link.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file no longer available")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}

	fileName := path.Base(link.Path)
	contentType := "application/octet-stream"
	if renderer, err := export.ForFormat(strings.TrimPrefix(path.Ext(fileName), ".")); err == nil {
		contentType = renderer.ContentType()
	}
	return &models.ExportDownload{FileName: fileName, ContentType: contentType, Path: link.Path}, file, nil
}

// Cleanup removes files older than ttl, defaulting to the configured TTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	deleted, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Cleanup(0); err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

func rosterTable(students []roster.StudentRecord, title string) export.Table {
	if strings.TrimSpace(title) == "" {
		title = "Student roster"
	}
	rows := make([][]string, 0, len(students))
	for _, st := range students {
		rank, grade := "", ""
		if st.Rank != nil {
			rank = strconv.Itoa(*st.Rank)
		}
		if st.Grade != nil {
			grade = strconv.FormatFloat(*st.Grade, 'f', -1, 64)
		}
		rows = append(rows, []string{st.Email, st.Name, st.Filiere, rank, grade})
	}
	return export.Table{
		Title:   title,
		Columns: []string{roster.ColumnEmail, roster.ColumnName, roster.ColumnFiliere, roster.ColumnRank, roster.ColumnGrade},
		Rows:    rows,
	}
}
