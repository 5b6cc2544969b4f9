package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Project types accepted by the project API.
const (
	TypeGroupProject    = "group_project"
	TypeEnglishLeveling = "english_leveling"
	TypeExchangeProgram = "exchange_program"
)

// ErrUnauthorized is matched by APIError values carrying a 401.
var ErrUnauthorized = errors.New("project api rejected the token")

// Student is the roster entry exchanged with the project API.
type Student struct {
	ID      int64    `json:"id,omitempty"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Filiere *string  `json:"filiere"`
	Rank    *int     `json:"rank"`
	Grade   *float64 `json:"grade"`
}

// CreateProjectRequest is the body of POST /projects/.
type CreateProjectRequest struct {
	Title                    string    `json:"title"`
	Description              string    `json:"description"`
	ProjectType              string    `json:"project_type"`
	GroupSize                int       `json:"group_size"`
	PartnerPreferenceEnabled bool      `json:"partner_preference_enabled"`
	Students                 []Student `json:"students"`
}

// Project is the subset of the project resource the importer reads back.
type Project struct {
	ID                       int64  `json:"id"`
	Title                    string `json:"title"`
	ProjectType              string `json:"project_type"`
	GroupSize                *int   `json:"group_size"`
	PartnerPreferenceEnabled bool   `json:"partner_preference_enabled"`
}

// UploadResult is returned by POST /projects/{id}/upload-students.
type UploadResult struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	CreatedCount  int       `json:"created_count"`
	ExistingCount int       `json:"existing_count"`
	Students      []Student `json:"students"`
}

// APIError is a non-2xx answer from the project API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("project api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("project api: HTTP %d: %s", e.Status, e.Detail)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 answers.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Client talks to the project API on behalf of the signed-in teacher. Every
// call forwards the caller's bearer token unchanged.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for baseURL, e.g. http://localhost:8000/api.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateProject creates a project seeded with the given students.
func (c *Client) CreateProject(ctx context.Context, token string, req CreateProjectRequest) (*Project, error) {
	if req.Students == nil {
		req.Students = []Student{}
	}
	var project Project
	if err := c.do(ctx, token, http.MethodPost, "/projects/", req, &project); err != nil {
		return nil, err
	}
	c.logger.Info("project created",
		zap.Int64("project_id", project.ID),
		zap.Int("students", len(req.Students)),
	)
	return &project, nil
}

// UploadStudents adds students to an existing project.
func (c *Client) UploadStudents(ctx context.Context, token string, projectID int64, students []Student) (*UploadResult, error) {
	if students == nil {
		students = []Student{}
	}
	body := struct {
		Students []Student `json:"students"`
	}{Students: students}

	var result UploadResult
	path := fmt.Sprintf("/projects/%d/upload-students", projectID)
	if err := c.do(ctx, token, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	c.logger.Info("students uploaded",
		zap.Int64("project_id", projectID),
		zap.Int("created", result.CreatedCount),
		zap.Int("existing", result.ExistingCount),
	)
	return &result, nil
}

// ListStudents returns the students already enrolled in a project.
func (c *Client) ListStudents(ctx context.Context, token string, projectID int64) ([]Student, error) {
	var students []Student
	path := fmt.Sprintf("/projects/%d/students", projectID)
	if err := c.do(ctx, token, http.MethodGet, path, nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	c.logger.Debug("project api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// readDetail extracts the message of a FastAPI style {"detail": ...} body.
// Validation failures carry a list; it is kept as raw JSON.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}
	return string(envelope.Detail)
}
