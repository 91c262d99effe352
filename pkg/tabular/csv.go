package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

type csvReader struct {
	r      *csv.Reader
	header *header
	line   int
}

func newCSVReader(src io.Reader) (*csvReader, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	h, err := newHeader(first)
	if err != nil {
		return nil, err
	}
	return &csvReader{r: r, header: h, line: 1}, nil
}

func (c *csvReader) Headers() []string { return headerNames(c.header) }

func (c *csvReader) Next() (Row, error) {
	for {
		cells, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Row{}, io.EOF
			}
			return Row{}, fmt.Errorf("read csv line %d: %w", c.line+1, err)
		}
		c.line, _ = c.r.FieldPos(0)
		row := Row{Line: c.line, cells: cells, header: c.header}
		if row.Blank() {
			continue
		}
		return row, nil
	}
}

func (c *csvReader) Close() error { return nil }
