package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultEmailDomain is the institutional suffix required for manual entries.
const DefaultEmailDomain = "@edu.esiee.fr"

var (
	ErrInvalidEmail     = errors.New("a valid email is required")
	ErrEmailDomain      = errors.New("email domain not accepted")
	ErrDuplicateEmail   = errors.New("a student with this email already exists")
	ErrAlreadyInProject = errors.New("this student already belongs to the project")
	ErrIndexRange       = errors.New("student index out of range")
	ErrUnknownField     = errors.New("unknown student field")
)

// CommitError wraps a failure of the acceptance callback.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to import students: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// AcceptFunc receives the novel records of a commit.
type AcceptFunc func(ctx context.Context, students []StudentRecord) error

// Field names a student attribute editable inline.
type Field string

const (
	FieldName    Field = "name"
	FieldFiliere Field = "filiere"
	FieldRank    Field = "rank"
	FieldGrade   Field = "grade"
)

// FieldValue carries the new value of an inline edit. Text is used for name
// and filiere; Rank and Grade are pre-parsed by the caller, nil clears them.
type FieldValue struct {
	Text  string
	Rank  *int
	Grade *float64
}

// ManualDraft is the raw content of the manual-entry form.
type ManualDraft struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Filiere string `json:"filiere"`
	Rank    string `json:"rank"`
	Grade   string `json:"grade"`
}

// ImportResult summarises one successful file import.
type ImportResult struct {
	Added      int        `json:"added"`
	Duplicates int        `json:"duplicates"`
	Warnings   []RowIssue `json:"warnings"`
}

// CommitResult summarises a commit. NoOp is set when nothing novel was pending.
type CommitResult struct {
	Committed []StudentRecord `json:"committed"`
	NoOp      bool            `json:"no_op"`
}

// SessionState is the serialisable form of a Session.
type SessionState struct {
	Roster      []StudentRecord `json:"roster"`
	PreExisting []string        `json:"pre_existing"`
	Deleted     []string        `json:"deleted"`
	Status      string          `json:"status"`
	Draft       ManualDraft     `json:"draft"`
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// EmailDomain is the suffix manual entries must carry. Empty disables the check.
	EmailDomain string
	IDs         *IDGenerator
}

// Session accumulates file imports and manual edits into one pending roster
// until it is committed.
//
// A Session is not safe for concurrent use. Two Commit calls that overlap
// while the roster is mutated in between can submit different subsets.
type Session struct {
	roster      []StudentRecord
	preExisting map[string]struct{}
	deleted     map[string]struct{}
	status      string
	draft       ManualDraft

	domain string
	ids    *IDGenerator
	parser *Parser
}

// NewSession starts a session seeded with students that already belong to
// the target project. They are shown in the roster but never committed again.
func NewSession(existing []StudentRecord, opts SessionOptions) *Session {
	s := newSession(opts)
	s.roster = cloneRecords(existing)
	for _, r := range existing {
		s.preExisting[r.Email] = struct{}{}
	}
	return s
}

// RestoreSession rebuilds a session from a snapshot.
func RestoreSession(state SessionState, opts SessionOptions) *Session {
	s := newSession(opts)
	s.roster = cloneRecords(state.Roster)
	for _, email := range state.PreExisting {
		s.preExisting[email] = struct{}{}
	}
	for _, email := range state.Deleted {
		s.deleted[email] = struct{}{}
	}
	s.status = state.Status
	s.draft = state.Draft
	return s
}

func newSession(opts SessionOptions) *Session {
	ids := opts.IDs
	if ids == nil {
		ids = defaultIDs
	}
	return &Session{
		preExisting: make(map[string]struct{}),
		deleted:     make(map[string]struct{}),
		domain:      normalizeDomain(opts.EmailDomain),
		ids:         ids,
		parser:      NewParser(ids),
	}
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain != "" && !strings.HasPrefix(domain, "@") {
		domain = "@" + domain
	}
	return domain
}

// State returns a snapshot of the session.
func (s *Session) State() SessionState {
	return SessionState{
		Roster:      cloneRecords(s.roster),
		PreExisting: setToSlice(s.preExisting),
		Deleted:     setToSlice(s.deleted),
		Status:      s.status,
		Draft:       s.draft,
	}
}

// Roster returns a copy of the pending roster.
func (s *Session) Roster() []StudentRecord {
	return cloneRecords(s.roster)
}

// Len returns the number of pending records.
func (s *Session) Len() int {
	return len(s.roster)
}

// Status returns the last status message.
func (s *Session) Status() string {
	return s.status
}

// Draft returns the manual-entry draft.
func (s *Session) Draft() ManualDraft {
	return s.draft
}

// SetDraft stores the manual-entry draft.
func (s *Session) SetDraft(d ManualDraft) {
	s.draft = d
}

// Novel returns the pending records that did not exist before the session started.
func (s *Session) Novel() []StudentRecord {
	novel := make([]StudentRecord, 0, len(s.roster))
	for _, r := range s.roster {
		if _, ok := s.preExisting[r.Email]; ok {
			continue
		}
		novel = append(novel, r.clone())
	}
	return novel
}

// ImportFile parses the file content and merges it into the roster. On error
// the roster is left untouched and the error message becomes the status.
func (s *Session) ImportFile(data []byte) (ImportResult, error) {
	batch, err := s.parser.Parse(string(data))
	if err != nil {
		s.status = err.Error()
		return ImportResult{}, err
	}

	known := make(map[string]struct{}, len(s.deleted)+len(s.preExisting))
	for email := range s.deleted {
		known[email] = struct{}{}
	}
	for email := range s.preExisting {
		known[email] = struct{}{}
	}
	merged := Merge(s.roster, known, batch.Records)
	s.roster = merged.Merged

	switch {
	case merged.Added > 0 && merged.Duplicates > 0:
		s.status = fmt.Sprintf("%d students added to the preview, %d duplicates ignored", merged.Added, merged.Duplicates)
	case merged.Added > 0:
		s.status = fmt.Sprintf("%d students added to the preview", merged.Added)
	default:
		s.status = "all students in this file already exist in the list"
	}

	return ImportResult{Added: merged.Added, Duplicates: merged.Duplicates, Warnings: batch.Warnings}, nil
}

// AddManual validates a manual entry and appends it to the roster.
func (s *Session) AddManual(d ManualDraft) (StudentRecord, error) {
	email := strings.TrimSpace(d.Email)
	if email == "" || !strings.Contains(email, "@") {
		s.status = ErrInvalidEmail.Error()
		return StudentRecord{}, ErrInvalidEmail
	}
	if s.domain != "" && !strings.HasSuffix(email, s.domain) {
		err := fmt.Errorf("%w: use an address ending in %s", ErrEmailDomain, s.domain)
		s.status = err.Error()
		return StudentRecord{}, err
	}
	for _, r := range s.roster {
		if r.Email == email {
			s.status = ErrDuplicateEmail.Error()
			return StudentRecord{}, ErrDuplicateEmail
		}
	}
	if _, ok := s.preExisting[email]; ok {
		s.status = ErrAlreadyInProject.Error()
		return StudentRecord{}, ErrAlreadyInProject
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = DeriveName(email)
	}
	rank := ParseRank(d.Rank)
	grade := ParseGrade(d.Grade)
	record := StudentRecord{
		ID:      s.ids.Next(),
		Name:    name,
		Email:   email,
		Filiere: strings.TrimSpace(d.Filiere),
		Rank:    rank,
		Grade:   grade,
	}
	s.roster = append(s.roster, record)
	s.draft = ManualDraft{}
	s.status = fmt.Sprintf("student %s added", record.Name)
	return record.clone(), nil
}

// EditField updates one field of the record at index.
func (s *Session) EditField(index int, field Field, value FieldValue) error {
	if index < 0 || index >= len(s.roster) {
		return fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	r := &s.roster[index]
	switch field {
	case FieldName:
		r.Name = value.Text
	case FieldFiliere:
		r.Filiere = value.Text
	case FieldRank:
		r.Rank = nil
		if value.Rank != nil {
			rank := *value.Rank
			r.Rank = &rank
		}
	case FieldGrade:
		r.Grade = nil
		if value.Grade != nil {
			grade := *value.Grade
			r.Grade = &grade
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Remove retracts the record at index. Its email is remembered so that a
// later import containing it counts as a duplicate.
func (s *Session) Remove(index int) (StudentRecord, error) {
	if index < 0 || index >= len(s.roster) {
		return StudentRecord{}, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	removed := s.roster[index]
	next := make([]StudentRecord, 0, len(s.roster)-1)
	next = append(next, s.roster[:index]...)
	next = append(next, s.roster[index+1:]...)
	s.roster = next
	s.deleted[removed.Email] = struct{}{}
	s.status = fmt.Sprintf("student %s removed from the preview", removed.Name)
	return removed, nil
}

// Commit hands the novel records to accept. The roster is cleared only when
// accept succeeds; committed emails then count as pre-existing.
func (s *Session) Commit(ctx context.Context, accept AcceptFunc) (CommitResult, error) {
	novel := s.Novel()
	if len(novel) == 0 {
		s.status = "no new student to import"
		return CommitResult{NoOp: true}, nil
	}
	if err := accept(ctx, novel); err != nil {
		s.status = "failed to import students"
		return CommitResult{}, &CommitError{Err: err}
	}
	for _, r := range novel {
		s.preExisting[r.Email] = struct{}{}
	}
	s.roster = nil
	s.status = fmt.Sprintf("%d students imported", len(novel))
	return CommitResult{Committed: novel}, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
