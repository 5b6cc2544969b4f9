package dto

import (
	"time"

	"github.com/noah-isme/roster-import-api/internal/models"
	"github.com/noah-isme/roster-import-api/internal/roster"
)

// CreateImportRequest opens an import session, optionally targeting an
// existing project whose students are loaded first.
type CreateImportRequest struct {
	ProjectID *int64 `json:"project_id" validate:"omitempty,gt=0"`
}

// StudentFormRequest is the manual-entry form. Rank and grade are raw text;
// values that do not parse are stored as empty.
type StudentFormRequest struct {
	Name    string `json:"name" validate:"max=255"`
	Email   string `json:"email" validate:"max=255"`
	Filiere string `json:"filiere" validate:"max=64"`
	Rank    string `json:"rank" validate:"max=16"`
	Grade   string `json:"grade" validate:"max=16"`
}

// Draft converts the form to its session representation.
func (r StudentFormRequest) Draft() roster.ManualDraft {
	return roster.ManualDraft{Name: r.Name, Email: r.Email, Filiere: r.Filiere, Rank: r.Rank, Grade: r.Grade}
}

// UpdateStudentRequest edits one field of a pending student. A null or empty
// value clears rank and grade.
type UpdateStudentRequest struct {
	Field string  `json:"field" validate:"required,oneof=name filiere rank grade"`
	Value *string `json:"value" validate:"omitempty,max=255"`
}

// CommitRequest carries the project metadata used when the session creates
// a new project. It is ignored for sessions bound to an existing project.
type CommitRequest struct {
	Title                    string `json:"title" validate:"required,max=255"`
	Description              string `json:"description"`
	ProjectType              string `json:"project_type" validate:"required,oneof=group_project english_leveling exchange_program"`
	GroupSize                int    `json:"group_size" validate:"omitempty,min=2,max=10"`
	PartnerPreferenceEnabled *bool  `json:"partner_preference_enabled"`
}

// ExportRequest selects the format of a roster export.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf xlsx"`
	Title  string `json:"title" validate:"max=120"`
}

// ImportSessionView is the API representation of an import session.
type ImportSessionView struct {
	ID               string                 `json:"id"`
	ProjectID        *int64                 `json:"project_id,omitempty"`
	Students         []roster.StudentRecord `json:"students"`
	PendingCount     int                    `json:"pending_count"`
	PreExistingCount int                    `json:"pre_existing_count"`
	Status           string                 `json:"status"`
	Draft            roster.ManualDraft     `json:"draft"`
	Jobs             []models.ImportJob     `json:"jobs,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ImportFileResponse reports the outcome of a synchronous file import.
type ImportFileResponse struct {
	Added      int               `json:"added"`
	Duplicates int               `json:"duplicates"`
	Warnings   []roster.RowIssue `json:"warnings"`
	Session    ImportSessionView `json:"session"`
	Job        *models.ImportJob `json:"job,omitempty"`
}

// StudentMutationResponse is returned after a manual add, edit or removal.
type StudentMutationResponse struct {
	Student roster.StudentRecord `json:"student"`
	Session ImportSessionView    `json:"session"`
}

// CommitResponse reports what reached the project API.
type CommitResponse struct {
	Committed int               `json:"committed"`
	NoOp      bool              `json:"no_op"`
	ProjectID *int64            `json:"project_id,omitempty"`
	Status    string            `json:"status"`
	Session   ImportSessionView `json:"session"`
}
