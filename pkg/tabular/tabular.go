// Package tabular streams header-keyed rows out of uploaded CSV and XLSX files.
package tabular

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoHeader          = errors.New("file has no header row")
)

// FormatFor picks the parser from a file name extension.
func FormatFor(fileName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Row is one data line. Line counts from 1 at the header row.
type Row struct {
	Line   int
	cells  []string
	header *header
}

// Get returns the trimmed cell under column, or "" when the column or cell is absent.
func (r Row) Get(column string) string {
	if r.header == nil {
		return ""
	}
	idx, ok := r.header.index[strings.TrimSpace(column)]
	if !ok || idx >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[idx])
}

// Map flattens the row into column → value. Missing trailing cells map to "".
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r.header.names))
	for _, name := range r.header.names {
		if name == "" {
			continue
		}
		if _, seen := out[name]; seen {
			continue
		}
		out[name] = r.Get(name)
	}
	return out
}

// Blank reports whether every cell is empty.
func (r Row) Blank() bool {
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type header struct {
	names []string
	index map[string]int
}

func newHeader(raw []string) (*header, error) {
	h := &header{names: make([]string, len(raw)), index: make(map[string]int, len(raw))}
	nonEmpty := 0
	for i, name := range raw {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		h.names[i] = name
		if name == "" {
			continue
		}
		nonEmpty++
		if _, dup := h.index[name]; !dup {
			h.index[name] = i
		}
	}
	if nonEmpty == 0 {
		return nil, ErrNoHeader
	}
	return h, nil
}

// Reader yields rows until io.EOF. Blank lines are skipped.
type Reader interface {
	Headers() []string
	Next() (Row, error)
	Close() error
}

// Open returns a Reader over r in the given format. The header row is consumed eagerly.
func Open(r io.Reader, format Format) (Reader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(r)
	case FormatXLSX:
		return newXLSXReader(r)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// Preview reads the header and at most limit non-blank rows.
func Preview(r io.Reader, format Format, limit int) ([]string, []map[string]string, error) {
	reader, err := Open(r, format)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()

	rows := make([]map[string]string, 0, limit)
	for len(rows) < limit {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row.Map())
	}
	return reader.Headers(), rows, nil
}

func headerNames(h *header) []string {
	out := make([]string, 0, len(h.names))
	for _, name := range h.names {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
