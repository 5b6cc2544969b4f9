package roster

import (
	"errors"
	"fmt"
	"strings"
)

const maxReportedRowErrors = 5

// ErrEmptyBatch is returned when a file yields no acceptable student.
var ErrEmptyBatch = errors.New("no valid student found in the csv file")

// FormatError reports a structurally invalid CSV file.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return e.Reason
}

// BatchError aggregates the row errors that caused a whole batch to be rejected.
type BatchError struct {
	Rows []RowIssue
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d invalid rows:", len(e.Rows))
	for i, row := range e.Rows {
		if i == maxReportedRowErrors {
			fmt.Fprintf(&b, "\n... and %d more errors", len(e.Rows)-maxReportedRowErrors)
			break
		}
		b.WriteString("\n")
		b.WriteString(row.String())
	}
	return b.String()
}

// Parser turns CSV text into an ImportBatch.
//
// Columns are split on literal commas: quoted fields and embedded commas are
// not supported.
type Parser struct {
	ids *IDGenerator
}

// NewParser builds a parser drawing record IDs from ids.
func NewParser(ids *IDGenerator) *Parser {
	if ids == nil {
		ids = defaultIDs
	}
	return &Parser{ids: ids}
}

// Parse validates every row and returns the accepted records. Any row error
// rejects the whole batch.
func (p *Parser) Parse(text string) (*ImportBatch, error) {
	// spreadsheet exports prefix the header with a UTF-8 byte order mark
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return nil, &FormatError{Reason: "the csv file must contain a header line and at least one data line"}
	}

	header := splitLine(lines[0])
	for i := range header {
		header[i] = strings.ToLower(header[i])
	}
	if !hasColumn(header, ColumnEmail) {
		return nil, &FormatError{Reason: `missing required column "email": the csv must have an email column`}
	}

	validator := NewRowValidator(p.ids)
	batch := &ImportBatch{}
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		values := splitLine(line)
		fields := make(map[string]string, len(header))
		for idx, col := range header {
			if idx < len(values) {
				fields[col] = values[idx]
			} else {
				fields[col] = ""
			}
		}

		result := validator.Validate(fields, i+1)
		batch.Warnings = append(batch.Warnings, result.Warnings...)
		if result.Err != nil {
			batch.Errors = append(batch.Errors, *result.Err)
			continue
		}
		if result.Record != nil {
			batch.Records = append(batch.Records, *result.Record)
		}
	}

	if len(batch.Errors) > 0 {
		return nil, &BatchError{Rows: batch.Errors}
	}
	if len(batch.Records) == 0 {
		return nil, ErrEmptyBatch
	}
	return batch, nil
}

// Parse parses text with the process-wide ID generator.
func Parse(text string) (*ImportBatch, error) {
	return NewParser(nil).Parse(text)
}

func splitLine(line string) []string {
	parts := strings.Split(line, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func hasColumn(header []string, name string) bool {
	for _, col := range header {
		if col == name {
			return true
		}
	}
	return false
}
