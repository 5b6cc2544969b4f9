package service

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/noah-isme/roster-import-api/pkg/jobs"
	"github.com/noah-isme/roster-import-api/pkg/projects"
)

// ImportJobType is the jobs.Job type of asynchronous file imports.
const ImportJobType = "roster.import"

const (
	defaultGroupSize         = 3
	englishLevelingGroupSize = 4
	maxDetailedRowErrors     = 5

	commitFailedMessage = "failed to import students"
	abandonJobTimeout   = 5 * time.Second
)

type sessionStore interface {
	Get(ctx context.Context, id string) (*models.ImportSession, error)
	Save(ctx context.Context, session *models.ImportSession) error
	Delete(ctx context.Context, id string) error
}

type commitLog interface {
	Create(ctx context.Context, commit *models.ImportCommit) error
	ListBySession(ctx context.Context, sessionID string) ([]models.ImportCommit, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ImportCommit, error)
}

type projectGateway interface {
	CreateProject(ctx context.Context, token string, req projects.CreateProjectRequest) (*projects.Project, error)
	UploadStudents(ctx context.Context, token string, projectID int64, students []projects.Student) (*projects.UploadResult, error)
	ListStudents(ctx context.Context, token string, projectID int64) ([]projects.Student, error)
}

type importQueue interface {
	TryEnqueue(job jobs.Job) error
}

// ImportConfig tunes the import service.
type ImportConfig struct {
	EmailDomain    string
	MaxUploadBytes int64
}

type importJobPayload struct {
	SessionID string
	FileName  string
	Data      []byte
}

// ImportService drives roster import sessions: file imports, manual edits
// and commits to the project API.
type ImportService struct {
	store     sessionStore
	commits   commitLog
	gateway   projectGateway
	queue     importQueue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ImportConfig

	locks *keyedMutex
	ids   *roster.IDGenerator
	now   func() time.Time
}

// NewImportService constructs an ImportService. commits may be nil when the
// database is disabled.
func NewImportService(store sessionStore, commits commitLog, gateway projectGateway, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config ImportConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterStructValidation(validateCommitRequest, dto.CommitRequest{})
	if config.EmailDomain == "" {
		config.EmailDomain = roster.DefaultEmailDomain
	}
	return &ImportService{
		store:     store,
		commits:   commits,
		gateway:   gateway,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		locks:     newKeyedMutex(),
		ids:       roster.NewIDGenerator(),
		now:       time.Now,
	}
}

// AttachQueue enables asynchronous imports. The queue handler must be
// HandleImportJob.
func (s *ImportService) AttachQueue(q importQueue) {
	s.queue = q
}

func validateCommitRequest(sl validator.StructLevel) {
	req := sl.Current().Interface().(dto.CommitRequest)
	if req.ProjectType == projects.TypeEnglishLeveling && req.GroupSize != 0 && req.GroupSize != englishLevelingGroupSize {
		sl.ReportError(req.GroupSize, "group_size", "GroupSize", "english_leveling_size", "")
	}
}

// Template renders the sample CSV offered for download.
func (s *ImportService) Template() ([]byte, string, error) {
	table := export.Table{
		Columns: []string{roster.ColumnEmail, roster.ColumnName, roster.ColumnFiliere, roster.ColumnRank, roster.ColumnGrade},
		Rows:    [][]string{{"etudiant" + s.config.EmailDomain, "Jean Dupont", "E5FI", "42", "14.5"}},
	}
	data, err := export.NewCSVExporter().Render(table)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render template")
	}
	return data, "template_etudiants.csv", nil
}

// Create opens a session. With a project id the project's current students
// are loaded and treated as already imported.
func (s *ImportService) Create(ctx context.Context, auth *models.AuthSession, req dto.CreateImportRequest) (*dto.ImportSessionView, error) {
	if auth == nil || auth.Claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid import session payload")
	}

	var existing []roster.StudentRecord
	if req.ProjectID != nil {
		start := s.now()
		students, err := s.gateway.ListStudents(ctx, auth.Token, *req.ProjectID)
		s.metrics.ObserveUpstream("list_students", time.Since(start))
		if err != nil {
			return nil, mapProjectError(err, "failed to load project students")
		}
		existing = make([]roster.StudentRecord, 0, len(students))
		for _, st := range students {
			existing = append(existing, s.fromPayload(st))
		}
	}

	now := s.now().UTC()
	r := roster.NewSession(existing, s.sessionOptions())
	sess := &models.ImportSession{
		ID:        uuid.NewString(),
		OwnerID:   auth.UserID(),
		ProjectID: req.ProjectID,
		State:     r.State(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save import session")
	}

	s.logger.Info("import session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", sess.OwnerID),
		zap.Int("pre_existing", len(existing)),
	)
	view := toSessionView(sess)
	return &view, nil
}

// Get returns the session view.
func (s *ImportService) Get(ctx context.Context, auth *models.AuthSession, id string) (*dto.ImportSessionView, error) {
	sess, err := s.load(ctx, auth, id)
	if err != nil {
		return nil, err
	}
	view := toSessionView(sess)
	return &view, nil
}

// Snapshot returns the raw session for read-only consumers such as exports.
func (s *ImportService) Snapshot(ctx context.Context, auth *models.AuthSession, id string) (*models.ImportSession, error) {
	return s.load(ctx, auth, id)
}

// Discard deletes a session and its pending roster.
func (s *ImportService) Discard(ctx context.Context, auth *models.AuthSession, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.load(ctx, auth, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete import session")
	}
	s.logger.Info("import session discarded", zap.String("session_id", id))
	return nil
}

// ImportFile parses and merges one CSV file synchronously.
func (s *ImportService) ImportFile(ctx context.Context, auth *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error) {
	if err := s.checkUpload(fileName, data); err != nil {
		return nil, err
	}

	var result roster.ImportResult
	sess, err := s.mutate(ctx, auth, id, func(_ *models.ImportSession, r *roster.Session) error {
		var importErr error
		result, importErr = s.applyImport(id, fileName, r, data)
		return importErr
	})
	if err != nil {
		return nil, err
	}

	return &dto.ImportFileResponse{
		Added:      result.Added,
		Duplicates: result.Duplicates,
		Warnings:   nonNilIssues(result.Warnings),
		Session:    toSessionView(sess),
	}, nil
}

// EnqueueImport records a pending job and hands the file to the worker
// queue. Files submitted together may be applied in any order.
func (s *ImportService) EnqueueImport(ctx context.Context, auth *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "asynchronous imports are disabled")
	}
	if err := s.checkUpload(fileName, data); err != nil {
		return nil, err
	}

	job := models.ImportJob{
		ID:        uuid.NewString(),
		FileName:  fileName,
		Status:    models.ImportJobPending,
		CreatedAt: s.now().UTC(),
	}
	sess, err := s.mutate(ctx, auth, id, func(sess *models.ImportSession, _ *roster.Session) error {
		sess.Jobs = append(sess.Jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}

	enqueueErr := s.queue.TryEnqueue(jobs.Job{
		ID:      job.ID,
		Type:    ImportJobType,
		Payload: importJobPayload{SessionID: id, FileName: fileName, Data: data},
	})
	if enqueueErr != nil {
		s.logger.Warn("import job rejected", zap.String("session_id", id), zap.String("job_id", job.ID), zap.Error(enqueueErr))
		_, _ = s.mutate(ctx, auth, id, func(sess *models.ImportSession, _ *roster.Session) error {
			if entry := sess.Job(job.ID); entry != nil {
				finished := s.now().UTC()
				entry.Status = models.ImportJobFailed
				entry.Message = "import queue is full, retry later"
				entry.FinishedAt = &finished
			}
			return nil
		})
		return nil, appErrors.Wrap(enqueueErr, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "import queue is full, retry later")
	}
	s.metrics.JobStarted()

	return &dto.ImportFileResponse{
		Warnings: []roster.RowIssue{},
		Session:  toSessionView(sess),
		Job:      &job,
	}, nil
}

// HandleImportJob is the queue handler of asynchronous imports. Parse
// failures are recorded on the job and not retried.
func (s *ImportService) HandleImportJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(importJobPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected import payload %T", job.Payload))
	}

	unlock := s.locks.Lock(payload.SessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.metrics.JobFinished()
			return jobs.Permanent(fmt.Errorf("session %s expired before job %s ran", payload.SessionID, job.ID))
		}
		return err
	}
	entry := sess.Job(job.ID)
	if entry == nil {
		s.metrics.JobFinished()
		return jobs.Permanent(fmt.Errorf("job %s not registered on session %s", job.ID, payload.SessionID))
	}

	r := roster.RestoreSession(sess.State, s.sessionOptions())
	result, importErr := s.applyImport(payload.SessionID, payload.FileName, r, payload.Data)

	finished := s.now().UTC()
	entry.FinishedAt = &finished
	if importErr != nil {
		entry.Status = models.ImportJobFailed
		entry.Message = importErr.Error()
		var batchErr *roster.BatchError
		if errors.As(importErr, &batchErr) {
			entry.Errors = capIssues(batchErr.Rows)
		}
	} else {
		entry.Status = models.ImportJobSucceeded
		entry.Message = r.Status()
		entry.Added = result.Added
		entry.Duplicates = result.Duplicates
		entry.Warnings = result.Warnings
	}
	sess.State = r.State()
	sess.UpdatedAt = finished

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s after job %s: %w", payload.SessionID, job.ID, err)
	}
	s.metrics.JobFinished()
	return nil
}

// AbandonImportJob settles an import job the queue stopped retrying: it
// leaves the in-flight gauge and the job entry is marked failed when the
// session can still be saved.
func (s *ImportService) AbandonImportJob(job jobs.Job, cause error) {
	s.metrics.JobFinished()
	payload, ok := job.Payload.(importJobPayload)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), abandonJobTimeout)
	defer cancel()
	unlock := s.locks.Lock(payload.SessionID)
	defer unlock()

	logger := s.logger.With(zap.String("session_id", payload.SessionID), zap.String("job_id", job.ID))
	sess, err := s.store.Get(ctx, payload.SessionID)
	if err != nil {
		logger.Warn("failed to load session of abandoned import job", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	entry := sess.Job(job.ID)
	if entry == nil || entry.Status != models.ImportJobPending {
		return
	}
	finished := s.now().UTC()
	entry.Status = models.ImportJobFailed
	entry.Message = "the import could not be completed, upload the file again"
	entry.FinishedAt = &finished
	sess.UpdatedAt = finished
	if err := s.store.Save(ctx, sess); err != nil {
		logger.Warn("failed to record abandoned import job", zap.NamedError("cause", cause), zap.Error(err))
	}
}

// AddStudent validates a manual entry and appends it to the roster.
func (s *ImportService) AddStudent(ctx context.Context, auth *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.StudentMutationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	var added roster.StudentRecord
	sess, err := s.mutate(ctx, auth, id, func(_ *models.ImportSession, r *roster.Session) error {
		var addErr error
		added, addErr = r.AddManual(req.Draft())
		return addErr
	})
	if err != nil {
		return nil, err
	}
	return &dto.StudentMutationResponse{Student: added, Session: toSessionView(sess)}, nil
}

// SaveDraft stores the manual-entry form so it survives a page reload.
func (s *ImportService) SaveDraft(ctx context.Context, auth *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.ImportSessionView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid draft payload")
	}
	sess, err := s.mutate(ctx, auth, id, func(_ *models.ImportSession, r *roster.Session) error {
		r.SetDraft(req.Draft())
		return nil
	})
	if err != nil {
		return nil, err
	}
	view := toSessionView(sess)
	return &view, nil
}

// UpdateStudent edits one field of the student at index.
func (s *ImportService) UpdateStudent(ctx context.Context, auth *models.AuthSession, id string, index int, req dto.UpdateStudentRequest) (*dto.StudentMutationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student update payload")
	}
	field := roster.Field(req.Field)
	value := parseFieldValue(field, req.Value)

	var updated roster.StudentRecord
	sess, err := s.mutate(ctx, auth, id, func(_ *models.ImportSession, r *roster.Session) error {
		if err := r.EditField(index, field, value); err != nil {
			return err
		}
		updated = r.Roster()[index]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dto.StudentMutationResponse{Student: updated, Session: toSessionView(sess)}, nil
}

// RemoveStudent retracts the student at index.
func (s *ImportService) RemoveStudent(ctx context.Context, auth *models.AuthSession, id string, index int) (*dto.StudentMutationResponse, error) {
	var removed roster.StudentRecord
	sess, err := s.mutate(ctx, auth, id, func(_ *models.ImportSession, r *roster.Session) error {
		var removeErr error
		removed, removeErr = r.Remove(index)
		return removeErr
	})
	if err != nil {
		return nil, err
	}
	return &dto.StudentMutationResponse{Student: removed, Session: toSessionView(sess)}, nil
}

// Commit sends the novel students to the project API: a new project is
// created for unbound sessions, otherwise the students are uploaded to the
// bound project. A created project binds the session for later commits.
func (s *ImportService) Commit(ctx context.Context, auth *models.AuthSession, id string, req *dto.CommitRequest) (*dto.CommitResponse, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.load(ctx, auth, id)
	if err != nil {
		return nil, err
	}

	r := roster.RestoreSession(sess.State, s.sessionOptions())
	pending := len(r.Novel())
	projectID := sess.ProjectID

	var create *projects.CreateProjectRequest
	mode := models.CommitModeUpload
	if sess.ProjectID == nil && pending > 0 {
		if req == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "project details are required to create a project")
		}
		if err := s.validator.Struct(*req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
		}
		create = buildCreateRequest(*req)
		mode = models.CommitModeCreate
	}

	accept := func(ctx context.Context, students []roster.StudentRecord) error {
		payload := make([]projects.Student, 0, len(students))
		for _, st := range students {
			payload = append(payload, toPayload(st))
		}
		start := s.now()
		if create != nil {
			create.Students = payload
			project, err := s.gateway.CreateProject(ctx, auth.Token, *create)
			s.metrics.ObserveUpstream("create_project", time.Since(start))
			if err != nil {
				return err
			}
			pid := project.ID
			projectID = &pid
			return nil
		}
		_, err := s.gateway.UploadStudents(ctx, auth.Token, *projectID, payload)
		s.metrics.ObserveUpstream("upload_students", time.Since(start))
		return err
	}

	result, commitErr := r.Commit(ctx, accept)
	sess.ProjectID = projectID
	sess.State = r.State()
	sess.UpdatedAt = s.now().UTC()

	if !result.NoOp {
		s.recordCommit(ctx, auth, sess, mode, pending, commitErr)
	}
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Error("failed to save session after commit", zap.String("session_id", id), zap.Error(err))
		if commitErr == nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "students were imported but the session could not be saved")
		}
	}
	if commitErr != nil {
		return nil, mapCommitError(commitErr)
	}

	return &dto.CommitResponse{
		Committed: len(result.Committed),
		NoOp:      result.NoOp,
		ProjectID: sess.ProjectID,
		Status:    sess.State.Status,
		Session:   toSessionView(sess),
	}, nil
}

// ListCommits returns the commit history of a session.
func (s *ImportService) ListCommits(ctx context.Context, auth *models.AuthSession, id string) ([]models.ImportCommit, error) {
	if s.commits == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "commit history requires the database")
	}
	if _, err := s.load(ctx, auth, id); err != nil {
		return nil, err
	}
	commits, err := s.commits.ListBySession(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list commits")
	}
	if commits == nil {
		commits = []models.ImportCommit{}
	}
	return commits, nil
}

// ListUserCommits returns the most recent commits made by the caller across
// all of their sessions, including expired ones.
func (s *ImportService) ListUserCommits(ctx context.Context, auth *models.AuthSession, limit int) ([]models.ImportCommit, error) {
	if auth == nil || auth.Claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.commits == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "commit history requires the database")
	}
	commits, err := s.commits.ListByUser(ctx, auth.UserID(), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list commits")
	}
	if commits == nil {
		commits = []models.ImportCommit{}
	}
	return commits, nil
}

func (s *ImportService) recordCommit(ctx context.Context, auth *models.AuthSession, sess *models.ImportSession, mode models.CommitMode, count int, commitErr error) {
	status := models.CommitSucceeded
	var message *string
	if commitErr != nil {
		status = models.CommitFailed
		msg := commitErr.Error()
		message = &msg
	}
	s.metrics.RecordCommit(string(mode), string(status), successCount(count, commitErr))

	fields := []zap.Field{
		zap.String("session_id", sess.ID),
		zap.String("user_id", auth.UserID()),
		zap.String("mode", string(mode)),
		zap.Int("students", count),
	}
	if sess.ProjectID != nil {
		fields = append(fields, zap.Int64("project_id", *sess.ProjectID))
	}
	if commitErr != nil {
		s.logger.Warn("roster commit failed", append(fields, zap.Error(commitErr))...)
	} else {
		s.logger.Info("roster committed", fields...)
	}

	if s.commits == nil {
		return
	}
	entry := &models.ImportCommit{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		UserID:       auth.UserID(),
		ProjectID:    sess.ProjectID,
		Mode:         mode,
		Status:       status,
		StudentCount: count,
		Message:      message,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.commits.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record commit", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func successCount(count int, err error) int {
	if err != nil {
		return 0
	}
	return count
}

// applyImport runs one file through the session and reports it.
func (s *ImportService) applyImport(sessionID, fileName string, r *roster.Session, data []byte) (roster.ImportResult, error) {
	result, err := r.ImportFile(data)
	if err != nil {
		outcome := "format_error"
		var batchErr *roster.BatchError
		if errors.As(err, &batchErr) {
			outcome = "row_error"
		}
		s.metrics.RecordImport(outcome, 0, 0, 0)
		s.logger.Info("csv import rejected",
			zap.String("session_id", sessionID),
			zap.String("file", fileName),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return result, err
	}

	s.metrics.RecordImport("accepted", result.Added, result.Duplicates, len(result.Warnings))
	for _, w := range result.Warnings {
		s.logger.Warn("csv row warning",
			zap.String("session_id", sessionID),
			zap.String("file", fileName),
			zap.Int("line", w.Line),
			zap.String("kind", string(w.Kind)),
			zap.String("message", w.Message),
		)
	}
	s.logger.Info("csv imported",
		zap.String("session_id", sessionID),
		zap.String("file", fileName),
		zap.Int("added", result.Added),
		zap.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// mutate runs fn on the restored session under the session lock and saves
// the result. The session is saved even when fn fails so the status message
// reflects the failure.
func (s *ImportService) mutate(ctx context.Context, auth *models.AuthSession, id string, fn func(*models.ImportSession, *roster.Session) error) (*models.ImportSession, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.load(ctx, auth, id)
	if err != nil {
		return nil, err
	}
	r := roster.RestoreSession(sess.State, s.sessionOptions())
	fnErr := fn(sess, r)

	sess.State = r.State()
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save import session")
	}
	if fnErr != nil {
		return nil, mapRosterError(fnErr)
	}
	return sess, nil
}

func (s *ImportService) load(ctx context.Context, auth *models.AuthSession, id string) (*models.ImportSession, error) {
	if auth == nil || auth.Claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "import session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import session")
	}
	if sess.OwnerID != auth.Claims.UserID && auth.Claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "import session belongs to another user")
	}
	return sess, nil
}

func (s *ImportService) checkUpload(fileName string, data []byte) error {
	if !strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		return appErrors.Clone(appErrors.ErrValidation, "only .csv files are accepted")
	}
	if s.config.MaxUploadBytes > 0 && int64(len(data)) > s.config.MaxUploadBytes {
		return appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", s.config.MaxUploadBytes))
	}
	return nil
}

func (s *ImportService) sessionOptions() roster.SessionOptions {
	return roster.SessionOptions{EmailDomain: s.config.EmailDomain, IDs: s.ids}
}

func (s *ImportService) fromPayload(st projects.Student) roster.StudentRecord {
	record := roster.StudentRecord{
		ID:    s.ids.Next(),
		Name:  st.Name,
		Email: st.Email,
		Rank:  st.Rank,
		Grade: st.Grade,
	}
	if st.Filiere != nil {
		record.Filiere = *st.Filiere
	}
	if record.Name == "" {
		record.Name = roster.DeriveName(st.Email)
	}
	return record
}

func toPayload(r roster.StudentRecord) projects.Student {
	st := projects.Student{Name: r.Name, Email: r.Email, Rank: r.Rank, Grade: r.Grade}
	if r.Filiere != "" {
		filiere := r.Filiere
		st.Filiere = &filiere
	}
	return st
}

func buildCreateRequest(req dto.CommitRequest) *projects.CreateProjectRequest {
	groupSize := req.GroupSize
	if groupSize == 0 {
		groupSize = defaultGroupSize
		if req.ProjectType == projects.TypeEnglishLeveling {
			groupSize = englishLevelingGroupSize
		}
	}
	partners := true
	if req.PartnerPreferenceEnabled != nil {
		partners = *req.PartnerPreferenceEnabled
	}
	return &projects.CreateProjectRequest{
		Title:                    strings.TrimSpace(req.Title),
		Description:              strings.TrimSpace(req.Description),
		ProjectType:              req.ProjectType,
		GroupSize:                groupSize,
		PartnerPreferenceEnabled: partners,
	}
}

// parseFieldValue converts raw inline-edit input. Unparsable rank or grade
// clears the field.
func parseFieldValue(field roster.Field, raw *string) roster.FieldValue {
	text := ""
	if raw != nil {
		text = strings.TrimSpace(*raw)
	}
	switch field {
	case roster.FieldRank:
		return roster.FieldValue{Rank: roster.ParseRank(text)}
	case roster.FieldGrade:
		return roster.FieldValue{Grade: roster.ParseGrade(text)}
	default:
		return roster.FieldValue{Text: text}
	}
}

func toSessionView(sess *models.ImportSession) dto.ImportSessionView {
	preExisting := make(map[string]struct{}, len(sess.State.PreExisting))
	for _, email := range sess.State.PreExisting {
		preExisting[email] = struct{}{}
	}
	pending := 0
	for _, st := range sess.State.Roster {
		if _, ok := preExisting[st.Email]; !ok {
			pending++
		}
	}
	students := sess.State.Roster
	if students == nil {
		students = []roster.StudentRecord{}
	}
	return dto.ImportSessionView{
		ID:               sess.ID,
		ProjectID:        sess.ProjectID,
		Students:         students,
		PendingCount:     pending,
		PreExistingCount: len(sess.State.PreExisting),
		Status:           sess.State.Status,
		Draft:            sess.State.Draft,
		Jobs:             sess.Jobs,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
}

func mapRosterError(err error) error {
	var formatErr *roster.FormatError
	var batchErr *roster.BatchError
	switch {
	case errors.As(err, &formatErr):
		return appErrors.Clone(appErrors.ErrImportFormat, formatErr.Error())
	case errors.As(err, &batchErr):
		details := map[string]interface{}{
			"rows":      capIssues(batchErr.Rows),
			"remaining": len(batchErr.Rows) - len(capIssues(batchErr.Rows)),
		}
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrImportRows, batchErr.Error()), details)
	case errors.Is(err, roster.ErrEmptyBatch):
		return appErrors.Clone(appErrors.ErrImportFormat, err.Error())
	case errors.Is(err, roster.ErrInvalidEmail), errors.Is(err, roster.ErrEmailDomain), errors.Is(err, roster.ErrUnknownField):
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	case errors.Is(err, roster.ErrDuplicateEmail), errors.Is(err, roster.ErrAlreadyInProject):
		return appErrors.Clone(appErrors.ErrConflict, err.Error())
	case errors.Is(err, roster.ErrIndexRange):
		return appErrors.Clone(appErrors.ErrNotFound, "student not found in the preview")
	}
	return appErrors.FromError(err)
}

func capIssues(rows []roster.RowIssue) []roster.RowIssue {
	if len(rows) > maxDetailedRowErrors {
		return rows[:maxDetailedRowErrors]
	}
	return rows
}

func nonNilIssues(rows []roster.RowIssue) []roster.RowIssue {
	if rows == nil {
		return []roster.RowIssue{}
	}
	return rows
}

// mapCommitError keeps the downstream status for client errors so the
// caller sees why the project API refused the roster.
func mapCommitError(err error) error {
	var apiErr *projects.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 401:
			return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "session expired, sign in again")
		case apiErr.Status >= 400 && apiErr.Status < 500:
			message := commitFailedMessage
			if apiErr.Detail != "" {
				message = fmt.Sprintf("%s: %s", commitFailedMessage, apiErr.Detail)
			}
			return appErrors.Wrap(err, appErrors.ErrCommitFailed.Code, apiErr.Status, message)
		}
	}
	return appErrors.Wrap(err, appErrors.ErrCommitFailed.Code, appErrors.ErrCommitFailed.Status, commitFailedMessage)
}

func mapProjectError(err error, message string) error {
	var apiErr *projects.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 401:
			return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "session expired, sign in again")
		case 403:
			return appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "project access denied")
		case 404:
			return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "project not found")
		}
	}
	return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, message)
}
