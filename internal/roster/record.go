package roster

import "fmt"

// StudentRecord is one row of a pending roster.
type StudentRecord struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Filiere string   `json:"filiere"`
	Rank    *int     `json:"rank"`
	Grade   *float64 `json:"grade"`
}

func (r StudentRecord) clone() StudentRecord {
	out := r
	if r.Rank != nil {
		rank := *r.Rank
		out.Rank = &rank
	}
	if r.Grade != nil {
		grade := *r.Grade
		out.Grade = &grade
	}
	return out
}

func cloneRecords(records []StudentRecord) []StudentRecord {
	if records == nil {
		return nil
	}
	out := make([]StudentRecord, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}
	return out
}

// IssueKind classifies a row-level finding.
type IssueKind string

const (
	IssueInvalidEmail   IssueKind = "INVALID_EMAIL"
	IssueDuplicateEmail IssueKind = "DUPLICATE_EMAIL"
	IssueDerivedName    IssueKind = "DERIVED_NAME"
	IssueInvalidRank    IssueKind = "INVALID_RANK"
	IssueInvalidGrade   IssueKind = "INVALID_GRADE"
)

// RowIssue is an error or warning tied to a 1-based file line.
type RowIssue struct {
	Line    int       `json:"line"`
	Kind    IssueKind `json:"kind"`
	Value   string    `json:"value,omitempty"`
	Message string    `json:"message"`
}

func (i RowIssue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

// ImportBatch is the result of parsing one file.
type ImportBatch struct {
	Records  []StudentRecord
	Errors   []RowIssue
	Warnings []RowIssue
}
