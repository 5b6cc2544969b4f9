package roster

import (
	"fmt"
	"strings"
)

// Column names recognised in the CSV header.
const (
	ColumnEmail   = "email"
	ColumnName    = "name"
	ColumnFiliere = "filiere"
	ColumnRank    = "rank"
	ColumnGrade   = "grade"
)

// RowResult classifies one validated row. Record is nil when the row was
// rejected (Err set) or skipped as an in-batch duplicate.
type RowResult struct {
	Record   *StudentRecord
	Err      *RowIssue
	Warnings []RowIssue
}

// RowValidator validates rows of a single batch. It remembers accepted
// emails so later rows repeating one are skipped.
type RowValidator struct {
	ids  *IDGenerator
	seen map[string]struct{}
}

// NewRowValidator returns a validator for one batch.
func NewRowValidator(ids *IDGenerator) *RowValidator {
	if ids == nil {
		ids = defaultIDs
	}
	return &RowValidator{ids: ids, seen: make(map[string]struct{})}
}

// Validate checks the raw column values of the row found at the given file line.
func (v *RowValidator) Validate(fields map[string]string, line int) RowResult {
	email := strings.TrimSpace(fields[ColumnEmail])
	if email == "" || !strings.Contains(email, "@") {
		shown := email
		if shown == "" {
			shown = "empty"
		}
		return RowResult{Err: &RowIssue{
			Line:    line,
			Kind:    IssueInvalidEmail,
			Value:   email,
			Message: fmt.Sprintf("invalid email %q", shown),
		}}
	}

	if _, dup := v.seen[email]; dup {
		return RowResult{Warnings: []RowIssue{{
			Line:    line,
			Kind:    IssueDuplicateEmail,
			Value:   email,
			Message: fmt.Sprintf("duplicate email %q ignored", email),
		}}}
	}

	var warnings []RowIssue
	record := &StudentRecord{
		ID:      v.ids.Next(),
		Name:    strings.TrimSpace(fields[ColumnName]),
		Email:   email,
		Filiere: strings.TrimSpace(fields[ColumnFiliere]),
	}

	if record.Name == "" {
		record.Name = DeriveName(email)
		warnings = append(warnings, RowIssue{
			Line:    line,
			Kind:    IssueDerivedName,
			Value:   record.Name,
			Message: fmt.Sprintf("name derived from email: %q", record.Name),
		})
	}

	if raw := fields[ColumnRank]; raw != "" {
		rank, ok := parseRank(raw)
		if !ok {
			warnings = append(warnings, RowIssue{
				Line:    line,
				Kind:    IssueInvalidRank,
				Value:   raw,
				Message: fmt.Sprintf("invalid rank %q", raw),
			})
		}
		record.Rank = rank
	}

	if raw := fields[ColumnGrade]; raw != "" {
		grade, ok := parseGrade(raw)
		if !ok {
			warnings = append(warnings, RowIssue{
				Line:    line,
				Kind:    IssueInvalidGrade,
				Value:   raw,
				Message: fmt.Sprintf("invalid grade %q", raw),
			})
		}
		record.Grade = grade
	}

	v.seen[email] = struct{}{}
	return RowResult{Record: record, Warnings: warnings}
}
