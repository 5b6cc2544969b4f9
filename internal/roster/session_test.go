package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoStudents = "email,name,filiere\njean.dupont@edu.esiee.fr,Jean Dupont,E5FI\nalice@edu.esiee.fr,,E4\n"

func newTestSession(existing ...StudentRecord) *Session {
	return NewSession(existing, SessionOptions{EmailDomain: DefaultEmailDomain, IDs: NewIDGenerator()})
}

func TestSessionImportSameFileTwice(t *testing.T) {
	s := newTestSession()

	first, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Added)
	assert.Equal(t, 0, first.Duplicates)
	assert.Len(t, first.Warnings, 1)
	assert.Equal(t, "2 students added to the preview", s.Status())

	second, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "all students in this file already exist in the list", s.Status())
}

func TestSessionImportFailureLeavesRoster(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)

	_, err = s.ImportFile([]byte("name,filiere\nAlice,E5FI\n"))
	require.Error(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, err.Error(), s.Status())
}

func TestSessionRemovedEmailIsDuplicateOnReimport(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)

	removed, err := s.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "Jean Dupont", removed.Name)
	assert.Contains(t, s.Status(), "Jean Dupont")
	assert.Equal(t, 1, s.Len())

	res, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, s.State().Deleted, "jean.dupont@edu.esiee.fr")
}

func TestSessionMixedImportStatus(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte("email\na@edu.esiee.fr\n"))
	require.NoError(t, err)

	res, err := s.ImportFile([]byte("email\na@edu.esiee.fr\nb@edu.esiee.fr\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, "1 students added to the preview, 1 duplicates ignored", s.Status())
}

func TestSessionAddManual(t *testing.T) {
	s := newTestSession()
	s.SetDraft(ManualDraft{Email: "partial"})

	_, err := s.AddManual(ManualDraft{Email: "nope"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = s.AddManual(ManualDraft{Email: "bob@gmail.com"})
	assert.ErrorIs(t, err, ErrEmailDomain)
	assert.Contains(t, err.Error(), "@edu.esiee.fr")

	rec, err := s.AddManual(ManualDraft{Email: "marie.curie@edu.esiee.fr", Rank: "7", Grade: "oops"})
	require.NoError(t, err)
	assert.Equal(t, "Marie Curie", rec.Name)
	require.NotNil(t, rec.Rank)
	assert.Equal(t, 7, *rec.Rank)
	assert.Nil(t, rec.Grade)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, ManualDraft{}, s.Draft())

	_, err = s.AddManual(ManualDraft{Email: "marie.curie@edu.esiee.fr", Name: "Again"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, 1, s.Len())
}

func TestSessionAddManualWithoutDomainPolicy(t *testing.T) {
	s := NewSession(nil, SessionOptions{})
	_, err := s.AddManual(ManualDraft{Email: "bob@gmail.com", Name: "  Bob  "})
	require.NoError(t, err)
	assert.Equal(t, "Bob", s.Roster()[0].Name)
}

func TestSessionEditField(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)

	rank := 12
	grade := 15.25
	require.NoError(t, s.EditField(1, FieldName, FieldValue{Text: "Alice Martin"}))
	require.NoError(t, s.EditField(1, FieldFiliere, FieldValue{Text: "E5SE"}))
	require.NoError(t, s.EditField(1, FieldRank, FieldValue{Rank: &rank}))
	require.NoError(t, s.EditField(1, FieldGrade, FieldValue{Grade: &grade}))

	rank = 99
	got := s.Roster()[1]
	assert.Equal(t, "Alice Martin", got.Name)
	assert.Equal(t, "E5SE", got.Filiere)
	assert.Equal(t, 12, *got.Rank)
	assert.InDelta(t, 15.25, *got.Grade, 1e-9)

	require.NoError(t, s.EditField(1, FieldRank, FieldValue{}))
	assert.Nil(t, s.Roster()[1].Rank)

	assert.ErrorIs(t, s.EditField(5, FieldName, FieldValue{Text: "x"}), ErrIndexRange)
	assert.ErrorIs(t, s.EditField(0, Field("email"), FieldValue{Text: "x"}), ErrUnknownField)
	_, err = s.Remove(-1)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestSessionRosterIsACopy(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte("email,rank\na@edu.esiee.fr,3\n"))
	require.NoError(t, err)

	view := s.Roster()
	view[0].Name = "mutated"
	*view[0].Rank = 100

	fresh := s.Roster()
	assert.Equal(t, "A", fresh[0].Name)
	assert.Equal(t, 3, *fresh[0].Rank)
}

func TestSessionCommitOnlyNovel(t *testing.T) {
	existing := StudentRecord{ID: 1, Name: "Old", Email: "old@edu.esiee.fr"}
	s := newTestSession(existing)
	_, err := s.ImportFile([]byte(twoStudents + "old@edu.esiee.fr,Old Again,\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	var got []StudentRecord
	res, err := s.Commit(context.Background(), func(ctx context.Context, students []StudentRecord) error {
		got = students
		return nil
	})
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	require.Len(t, got, 2)
	assert.Equal(t, "jean.dupont@edu.esiee.fr", got[0].Email)
	assert.Equal(t, 0, s.Len())

	imp, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	assert.Equal(t, 0, imp.Added)
}

func TestSessionAddManualRejectsProjectStudent(t *testing.T) {
	s := newTestSession(StudentRecord{ID: 1, Name: "Old", Email: "old@edu.esiee.fr"})
	_, err := s.AddManual(ManualDraft{Email: "old@edu.esiee.fr"})
	assert.ErrorIs(t, err, ErrAlreadyInProject)
	assert.Equal(t, ErrAlreadyInProject.Error(), s.Status())

	_, err = s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	_, err = s.Commit(context.Background(), func(context.Context, []StudentRecord) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())

	_, err = s.AddManual(ManualDraft{Email: "jean.dupont@edu.esiee.fr"})
	assert.ErrorIs(t, err, ErrAlreadyInProject)
	assert.Equal(t, 0, s.Len())
}

func TestSessionCommitNoop(t *testing.T) {
	s := newTestSession(StudentRecord{ID: 1, Name: "Old", Email: "old@edu.esiee.fr"})
	called := false
	res, err := s.Commit(context.Background(), func(ctx context.Context, students []StudentRecord) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.False(t, called)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "no new student to import", s.Status())
}

func TestSessionCommitFailureKeepsRoster(t *testing.T) {
	s := newTestSession()
	_, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)

	boom := errors.New("downstream unavailable")
	_, err = s.Commit(context.Background(), func(ctx context.Context, students []StudentRecord) error {
		return boom
	})
	var commitErr *CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, s.Len())

	res, err := s.Commit(context.Background(), func(ctx context.Context, students []StudentRecord) error {
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, res.Committed, 2)
}

func TestSessionStateRoundTrip(t *testing.T) {
	s := newTestSession(StudentRecord{ID: 1, Name: "Old", Email: "old@edu.esiee.fr"})
	_, err := s.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	_, err = s.Remove(1)
	require.NoError(t, err)
	s.SetDraft(ManualDraft{Email: "draft@edu.esiee.fr"})

	restored := RestoreSession(s.State(), SessionOptions{EmailDomain: DefaultEmailDomain})
	assert.Equal(t, s.Roster(), restored.Roster())
	assert.Equal(t, s.Status(), restored.Status())
	assert.Equal(t, s.Draft(), restored.Draft())
	assert.Equal(t, len(s.Novel()), len(restored.Novel()))

	res, err := restored.ImportFile([]byte(twoStudents))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Duplicates)
}
