package models

import (
	"time"

	"github.com/noah-isme/roster-import-api/internal/roster"
)

// ImportJobStatus tracks an asynchronous file import.
type ImportJobStatus string

const (
	ImportJobPending   ImportJobStatus = "PENDING"
	ImportJobSucceeded ImportJobStatus = "SUCCEEDED"
	ImportJobFailed    ImportJobStatus = "FAILED"
)

// ImportJob records one file submitted with ?async=true.
type ImportJob struct {
	ID         string            `json:"id"`
	FileName   string            `json:"file_name"`
	Status     ImportJobStatus   `json:"status"`
	Message    string            `json:"message,omitempty"`
	Added      int               `json:"added"`
	Duplicates int               `json:"duplicates"`
	Warnings   []roster.RowIssue `json:"warnings,omitempty"`
	Errors     []roster.RowIssue `json:"errors,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// ImportSession is the persisted envelope of a roster.Session.
type ImportSession struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	ProjectID *int64              `json:"project_id,omitempty"`
	State     roster.SessionState `json:"state"`
	Jobs      []ImportJob         `json:"jobs,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Job returns the async job with the given id.
func (s *ImportSession) Job(id string) *ImportJob {
	for i := range s.Jobs {
		if s.Jobs[i].ID == id {
			return &s.Jobs[i]
		}
	}
	return nil
}
