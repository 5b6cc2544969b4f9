package export

import (
	"errors"
	"fmt"
	"strings"
)

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// ErrNoColumns is returned when a table has nothing to lay out.
var ErrNoColumns = errors.New("export requires at least one column")

// Table is positional tabular content. Rows shorter than Columns are padded
// with blanks; extra cells are dropped.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

func (t Table) cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// Renderer turns a table into a downloadable document.
type Renderer interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat resolves the renderer for a format name such as "csv".
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	case FormatXLSX:
		return NewXLSXExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
