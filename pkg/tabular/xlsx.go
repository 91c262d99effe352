package tabular

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// xlsxReader walks the first worksheet of a workbook.
type xlsxReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header *header
	line   int
}

func newXLSXReader(src io.Reader) (*xlsxReader, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, ErrNoHeader
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open sheet %s: %w", sheets[0], err)
	}

	x := &xlsxReader{file: f, rows: rows}
	for rows.Next() {
		x.line++
		cells, err := rows.Columns()
		if err != nil {
			_ = x.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		h, err := newHeader(cells)
		if errors.Is(err, ErrNoHeader) {
			continue
		}
		x.header = h
		return x, nil
	}
	_ = x.Close()
	return nil, ErrNoHeader
}

func (x *xlsxReader) Headers() []string { return headerNames(x.header) }

func (x *xlsxReader) Next() (Row, error) {
	for x.rows.Next() {
		x.line++
		cells, err := x.rows.Columns()
		if err != nil {
			return Row{}, fmt.Errorf("read sheet row %d: %w", x.line, err)
		}
		row := Row{Line: x.line, cells: cells, header: x.header}
		if row.Blank() {
			continue
		}
		return row, nil
	}
	if err := x.rows.Error(); err != nil {
		return Row{}, fmt.Errorf("iterate sheet: %w", err)
	}
	return Row{}, io.EOF
}

func (x *xlsxReader) Close() error {
	if x.rows != nil {
		_ = x.rows.Close()
	}
	return x.file.Close()
}
