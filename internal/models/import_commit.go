package models

import "time"

// CommitMode tells how a roster reached the project API.
type CommitMode string

const (
	CommitModeCreate CommitMode = "CREATE_PROJECT"
	CommitModeUpload CommitMode = "UPLOAD_STUDENTS"
)

// CommitStatus is the outcome of a commit attempt.
type CommitStatus string

const (
	CommitSucceeded CommitStatus = "SUCCEEDED"
	CommitFailed    CommitStatus = "FAILED"
)

// ImportCommit is one row of the import_commits audit table.
type ImportCommit struct {
	ID           string       `db:"id" json:"id"`
	SessionID    string       `db:"session_id" json:"session_id"`
	UserID       string       `db:"user_id" json:"user_id"`
	ProjectID    *int64       `db:"project_id" json:"project_id,omitempty"`
	Mode         CommitMode   `db:"mode" json:"mode"`
	Status       CommitStatus `db:"status" json:"status"`
	StudentCount int          `db:"student_count" json:"student_count"`
	Message      *string      `db:"message" json:"message,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}
