package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTable() Table {
	return Table{
		Title:   "Projet Génie Logiciel",
		Columns: []string{"email", "name", "filiere", "rank", "grade"},
		Rows: [][]string{
			{"jean.dupont@edu.esiee.fr", "Jean Dupont", "E5FI", "42", "14.5"},
			{"alice@edu.esiee.fr", "Alice"},
		},
	}
}

func TestForFormat(t *testing.T) {
	for _, format := range []string{"csv", "PDF", " xlsx "} {
		r, err := ForFormat(format)
		require.NoError(t, err, format)
		assert.NotEmpty(t, r.ContentType())
	}

	_, err := ForFormat("docx")
	assert.Error(t, err)
}

func TestCSVExporterPadsShortRows(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleTable())
	require.NoError(t, err)

	expected := "email,name,filiere,rank,grade\n" +
		"jean.dupont@edu.esiee.fr,Jean Dupont,E5FI,42,14.5\n" +
		"alice@edu.esiee.fr,Alice,,,\n"
	assert.Equal(t, expected, string(out))
}

func TestExportersRejectEmptyColumns(t *testing.T) {
	for _, r := range []Renderer{NewCSVExporter(), NewPDFExporter(), NewXLSXExporter()} {
		_, err := r.Render(Table{})
		assert.ErrorIs(t, err, ErrNoColumns)
	}
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleTable())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"email", "name", "filiere", "rank", "grade"}, rows[0])
	assert.Equal(t, "Jean Dupont", rows[1][1])
	assert.Equal(t, "42", rows[1][3])
	assert.Equal(t, "14.5", rows[1][4])
	assert.Equal(t, []string{"alice@edu.esiee.fr", "Alice"}, rows[2])
}
