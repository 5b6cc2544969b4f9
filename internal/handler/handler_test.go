package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-import-api/internal/dto"
	"github.com/noah-isme/roster-import-api/internal/middleware"
	"github.com/noah-isme/roster-import-api/internal/models"
	"github.com/noah-isme/roster-import-api/internal/roster"
	appErrors "github.com/noah-isme/roster-import-api/pkg/errors"
)

type importServiceMock struct {
	err          error
	fileName     string
	data         []byte
	async        bool
	index        int
	commitReq    *dto.CommitRequest
	createReq    dto.CreateImportRequest
	updateReq    dto.UpdateStudentRequest
	auth         *models.AuthSession
	commits      []models.ImportCommit
	discardedIDs []string
}

func (m *importServiceMock) Template() ([]byte, string, error) {
	return []byte("name,email\n"), "template_etudiants.csv", m.err
}

func (m *importServiceMock) Create(_ context.Context, auth *models.AuthSession, req dto.CreateImportRequest) (*dto.ImportSessionView, error) {
	m.auth = auth
	m.createReq = req
	return &dto.ImportSessionView{ID: "sess-1", ProjectID: req.ProjectID}, m.err
}

func (m *importServiceMock) Get(_ context.Context, auth *models.AuthSession, id string) (*dto.ImportSessionView, error) {
	m.auth = auth
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ImportSessionView{ID: id}, nil
}

func (m *importServiceMock) Discard(_ context.Context, _ *models.AuthSession, id string) error {
	m.discardedIDs = append(m.discardedIDs, id)
	return m.err
}

func (m *importServiceMock) ImportFile(_ context.Context, _ *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error) {
	m.fileName, m.data = fileName, data
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ImportFileResponse{Added: 1, Session: dto.ImportSessionView{ID: id}}, nil
}

func (m *importServiceMock) EnqueueImport(_ context.Context, _ *models.AuthSession, id, fileName string, data []byte) (*dto.ImportFileResponse, error) {
	m.async = true
	m.fileName, m.data = fileName, data
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ImportFileResponse{Session: dto.ImportSessionView{ID: id}, Job: &models.ImportJob{ID: "job-1", Status: models.ImportJobPending}}, nil
}

func (m *importServiceMock) AddStudent(_ context.Context, _ *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.StudentMutationResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.StudentMutationResponse{Student: roster.StudentRecord{Email: req.Email}, Session: dto.ImportSessionView{ID: id}}, nil
}

func (m *importServiceMock) SaveDraft(_ context.Context, _ *models.AuthSession, id string, req dto.StudentFormRequest) (*dto.ImportSessionView, error) {
	return &dto.ImportSessionView{ID: id, Draft: req.Draft()}, m.err
}

func (m *importServiceMock) UpdateStudent(_ context.Context, _ *models.AuthSession, id string, index int, req dto.UpdateStudentRequest) (*dto.StudentMutationResponse, error) {
	m.index = index
	m.updateReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.StudentMutationResponse{Session: dto.ImportSessionView{ID: id}}, nil
}

func (m *importServiceMock) RemoveStudent(_ context.Context, _ *models.AuthSession, id string, index int) (*dto.StudentMutationResponse, error) {
	m.index = index
	if m.err != nil {
		return nil, m.err
	}
	return &dto.StudentMutationResponse{Session: dto.ImportSessionView{ID: id}}, nil
}

func (m *importServiceMock) Commit(_ context.Context, _ *models.AuthSession, id string, req *dto.CommitRequest) (*dto.CommitResponse, error) {
	m.commitReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.CommitResponse{Committed: 2, Session: dto.ImportSessionView{ID: id}}, nil
}

func (m *importServiceMock) ListCommits(context.Context, *models.AuthSession, string) ([]models.ImportCommit, error) {
	return m.commits, m.err
}

func (m *importServiceMock) ListUserCommits(_ context.Context, _ *models.AuthSession, limit int) ([]models.ImportCommit, error) {
	m.index = limit
	return m.commits, m.err
}

func teacherSession() *models.AuthSession {
	return &models.AuthSession{Claims: &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, Token: "tok"}
}

func newImportRouter(svc importService, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewImportHandler(svc, maxUpload)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, teacherSession())
		c.Next()
	})
	r.GET("/imports/template", h.Template)
	r.GET("/imports/history", h.History)
	r.POST("/imports", h.Create)
	r.GET("/imports/:id", h.Get)
	r.DELETE("/imports/:id", h.Discard)
	r.POST("/imports/:id/files", h.UploadFile)
	r.POST("/imports/:id/students", h.AddStudent)
	r.PUT("/imports/:id/draft", h.SaveDraft)
	r.PATCH("/imports/:id/students/:index", h.UpdateStudent)
	r.DELETE("/imports/:id/students/:index", h.RemoveStudent)
	r.POST("/imports/:id/commit", h.Commit)
	r.GET("/imports/:id/commits", h.ListCommits)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}

func TestImportHandlerTemplate(t *testing.T) {
	rec := doJSON(newImportRouter(&importServiceMock{}, 0), http.MethodGet, "/imports/template", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "template_etudiants.csv")
	assert.Equal(t, "name,email\n", rec.Body.String())
}

func TestImportHandlerCreate(t *testing.T) {
	svc := &importServiceMock{}
	r := newImportRouter(svc, 0)

	rec := doJSON(r, http.MethodPost, "/imports", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, svc.createReq.ProjectID)
	assert.Equal(t, "tok", svc.auth.Token)

	rec = doJSON(r, http.MethodPost, "/imports", map[string]interface{}{"project_id": 12})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.createReq.ProjectID)
	assert.EqualValues(t, 12, *svc.createReq.ProjectID)

	req := httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	bad := httptest.NewRecorder()
	r.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestImportHandlerGetPropagatesErrors(t *testing.T) {
	r := newImportRouter(&importServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "import session not found")}, 0)
	rec := doJSON(r, http.MethodGet, "/imports/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "import session not found", decodeError(t, rec).Message)
}

func TestImportHandlerDiscard(t *testing.T) {
	svc := &importServiceMock{}
	rec := doJSON(newImportRouter(svc, 0), http.MethodDelete, "/imports/sess-9", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sess-9"}, svc.discardedIDs)
}

func TestImportHandlerUploadFile(t *testing.T) {
	svc := &importServiceMock{}
	r := newImportRouter(svc, 1024)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/imports/sess-1/files", "roster.csv", "email\na@b.c\n"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "roster.csv", svc.fileName)
	assert.Equal(t, "email\na@b.c\n", string(svc.data))
	assert.False(t, svc.async)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/imports/sess-1/files?async=true", "roster.csv", "email\na@b.c\n"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, svc.async)
}

func TestImportHandlerUploadFileTruncatesOversized(t *testing.T) {
	svc := &importServiceMock{}
	r := newImportRouter(svc, 8)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/imports/sess-1/files", "roster.csv", strings.Repeat("x", 32)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.data, 9)
}

func TestImportHandlerUploadFileMissing(t *testing.T) {
	r := newImportRouter(&importServiceMock{}, 0)
	rec := doJSON(r, http.MethodPost, "/imports/sess-1/files", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandlerUploadFileRowErrors(t *testing.T) {
	details := map[string]interface{}{"remaining": 0}
	svc := &importServiceMock{err: appErrors.WithDetails(appErrors.Clone(appErrors.ErrImportRows, "found 1 invalid rows"), details)}
	rec := httptest.NewRecorder()
	newImportRouter(svc, 0).ServeHTTP(rec, multipartRequest(t, "/imports/sess-1/files", "roster.csv", "email\nbad\n"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, appErrors.ErrImportRows.Code, decodeError(t, rec).Code)
}

func TestImportHandlerStudents(t *testing.T) {
	svc := &importServiceMock{}
	r := newImportRouter(svc, 0)

	rec := doJSON(r, http.MethodPost, "/imports/sess-1/students", dto.StudentFormRequest{Email: "a@edu.esiee.fr"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(r, http.MethodPut, "/imports/sess-1/draft", dto.StudentFormRequest{Name: "Draft"})
	assert.Equal(t, http.StatusOK, rec.Code)

	value := "E5FI"
	rec = doJSON(r, http.MethodPatch, "/imports/sess-1/students/3", dto.UpdateStudentRequest{Field: "filiere", Value: &value})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, svc.index)
	assert.Equal(t, "filiere", svc.updateReq.Field)

	rec = doJSON(r, http.MethodDelete, "/imports/sess-1/students/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.index)

	rec = doJSON(r, http.MethodDelete, "/imports/sess-1/students/-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(r, http.MethodPatch, "/imports/sess-1/students/abc", dto.UpdateStudentRequest{Field: "name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandlerCommit(t *testing.T) {
	svc := &importServiceMock{}
	r := newImportRouter(svc, 0)

	rec := doJSON(r, http.MethodPost, "/imports/sess-1/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.commitReq)

	rec = doJSON(r, http.MethodPost, "/imports/sess-1/commit", dto.CommitRequest{Title: "PFE", ProjectType: "group_project"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.commitReq)
	assert.Equal(t, "PFE", svc.commitReq.Title)

	failing := &importServiceMock{err: appErrors.Clone(appErrors.ErrCommitFailed, "failed to import students: boom")}
	rec = doJSON(newImportRouter(failing, 0), http.MethodPost, "/imports/sess-1/commit", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "failed to import students: boom", decodeError(t, rec).Message)
}

func TestImportHandlerListCommits(t *testing.T) {
	svc := &importServiceMock{commits: []models.ImportCommit{{ID: "c1"}, {ID: "c2"}}}
	rec := doJSON(newImportRouter(svc, 0), http.MethodGet, "/imports/sess-1/commits", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []models.ImportCommit `json:"data"`
		Meta map[string]int        `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 2)
	assert.Equal(t, 2, envelope.Meta["count"])
}

func TestImportHandlerHistory(t *testing.T) {
	svc := &importServiceMock{commits: []models.ImportCommit{{ID: "c1"}}}
	r := newImportRouter(svc, 0)

	rec := doJSON(r, http.MethodGet, "/imports/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.index)

	rec = doJSON(r, http.MethodGet, "/imports/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type exportServiceMock struct {
	result   *models.RosterExport
	download *models.ExportDownload
	content  string
	err      error
	req      dto.ExportRequest
}

type nopSeekCloser struct {
	*strings.Reader
}

func (nopSeekCloser) Close() error { return nil }

func (m *exportServiceMock) Export(_ context.Context, _ *models.AuthSession, _ string, req dto.ExportRequest) (*models.RosterExport, error) {
	m.req = req
	return m.result, m.err
}

func (m *exportServiceMock) Resolve(string) (*models.ExportDownload, io.ReadSeekCloser, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.download, nopSeekCloser{strings.NewReader(m.content)}, nil
}

func newExportRouter(svc exportService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewExportHandler(svc)
	r := gin.New()
	r.POST("/imports/:id/exports", func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, teacherSession())
		h.Create(c)
	})
	r.GET("/exports/:token", h.Download)
	return r
}

func TestExportHandlerCreate(t *testing.T) {
	svc := &exportServiceMock{result: &models.RosterExport{ID: "exp-1", DownloadURL: "/api/v1/exports/tok"}}
	rec := doJSON(newExportRouter(svc), http.MethodPost, "/imports/sess-1/exports", dto.ExportRequest{Format: "pdf"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pdf", svc.req.Format)
	assert.Contains(t, rec.Body.String(), "/api/v1/exports/tok")
}

func TestExportHandlerDownload(t *testing.T) {
	svc := &exportServiceMock{
		download: &models.ExportDownload{FileName: "roster.csv", ContentType: "text/csv; charset=utf-8"},
		content:  "email\na@b.c\n",
	}
	rec := doJSON(newExportRouter(svc), http.MethodGet, "/exports/tok", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=\"roster.csv\"", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "email\na@b.c\n", rec.Body.String())

	expired := &exportServiceMock{err: appErrors.Clone(appErrors.ErrGone, "export link expired")}
	rec = doJSON(newExportRouter(expired), http.MethodGet, "/exports/tok", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, map[string]Pinger{"sessions": pingStub{}})
	r := gin.New()
	r.GET("/ready", healthy.Ready)
	r.GET("/health", healthy.Health)
	r.GET("/metrics", healthy.Prometheus)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(r, http.MethodGet, "/metrics", nil).Code)

	degraded := NewMetricsHandler(nil, map[string]Pinger{"database": pingStub{err: errors.New("down")}})
	r2 := gin.New()
	r2.GET("/ready", degraded.Ready)
	rec := doJSON(r2, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}
