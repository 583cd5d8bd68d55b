// Package source reads the trip and station CSV exports.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"citybike-importer/internal/citybike"
)

// Table is a delimited file held in memory: a header and its rows.
// Header names are unique.
type Table struct {
	Header []string
	Rows   [][]string
	Lines  []int // source line of each row
}

// Index returns the position of column name in the header, or -1.
func (t Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Drop returns a copy of the table without the named columns.
// Every name must be present in the header.
func (t Table) Drop(names ...string) (Table, error) {
	drop := make(map[int]bool, len(names))
	for _, n := range names {
		i := t.Index(n)
		if i < 0 {
			return Table{}, fmt.Errorf("column %q not found", n)
		}
		drop[i] = true
	}
	out := Table{Header: make([]string, 0, len(t.Header)-len(drop))}
	for i, h := range t.Header {
		if !drop[i] {
			out.Header = append(out.Header, h)
		}
	}
	out.Lines = append([]int(nil), t.Lines...)
	out.Rows = make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make([]string, 0, len(out.Header))
		for i, v := range r {
			if !drop[i] {
				row = append(row, v)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// readTable parses path as comma-delimited text with a header row.
// Errors are returned as citybike.LoadError.
func readTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, citybike.LoadError{Stage: citybike.StageLoad, Source: path, Err: err}
	}
	defer f.Close()

	t, err := parseTable(f)
	if err != nil {
		return Table{}, citybike.LoadError{Stage: citybike.StageLoad, Source: path, Err: err}
	}
	return t, nil
}

func parseTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, errors.New("missing header row")
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return Table{}, errors.New("empty header row")
	}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return Table{}, fmt.Errorf("duplicate column %q in header", h)
		}
		seen[h] = true
	}

	t := Table{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, err
		}
		line, _ := cr.FieldPos(0)
		t.Rows = append(t.Rows, rec)
		t.Lines = append(t.Lines, line)
	}
	return t, nil
}
