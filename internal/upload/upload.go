// Package upload reads bulk record files: xlsx workbooks for upload modules
// and tab-separated text for scripted ingestion.
package upload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"taxrollsync/pkg/domain"
)

// Sheet is a parsed upload: the header row and the data rows beneath it.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ReadWorkbook parses the first worksheet of an xlsx document and checks its
// header row equals the schema's columns in order and count. A mismatch
// returns *domain.HeaderMismatchError and no rows.
func ReadWorkbook(r io.Reader, schema domain.Schema) (Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Sheet{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sheet{}, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return fromRows(sheets[0], rows, schema)
}

// ReadDelimited parses tab-separated text. When header is true the first line
// must match the schema like a workbook header; otherwise every line is data.
func ReadDelimited(r io.Reader, schema domain.Schema, header bool) (Sheet, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return Sheet{}, fmt.Errorf("read delimited: %w", err)
	}
	if !header {
		if err := checkWidth(records, schema); err != nil {
			return Sheet{}, err
		}
		return Sheet{Name: "stdin", Header: schema.Headers(), Rows: records}, nil
	}
	return fromRows("stdin", records, schema)
}

func fromRows(name string, rows [][]string, schema domain.Schema) (Sheet, error) {
	var got []string
	if len(rows) > 0 {
		got = rows[0]
	}
	want := schema.Headers()
	if !slices.Equal(got, want) {
		return Sheet{}, &domain.HeaderMismatchError{Module: schema.Module, Expected: want, Actual: slices.Clone(got)}
	}
	if err := checkWidth(rows[1:], schema); err != nil {
		return Sheet{}, err
	}
	return Sheet{Name: name, Header: got, Rows: rows[1:]}, nil
}

// checkWidth rejects data that fills cells past the last schema column. Such
// a cell is an unnamed column, so the file is treated as a header mismatch.
// Trailing blank cells are ignored.
func checkWidth(rows [][]string, schema domain.Schema) error {
	want := schema.Headers()
	width := len(want)
	for _, row := range rows {
		for i := len(row) - 1; i >= width; i-- {
			if strings.TrimSpace(row[i]) != "" {
				width = i + 1
				break
			}
		}
	}
	if width == len(want) {
		return nil
	}
	actual := make([]string, width)
	copy(actual, want)
	return &domain.HeaderMismatchError{Module: schema.Module, Expected: want, Actual: actual}
}

// Template returns an xlsx workbook whose only sheet holds the schema header,
// for operators preparing an upload.
func Template(schema domain.Schema) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	name := sheetTitle(schema.Module)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return nil, err
	}
	header := make([]any, schema.Len())
	for i, h := range schema.Headers() {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sheetTitle(m domain.ModuleID) string {
	r := []rune(strings.TrimSpace(string(m)))
	if len(r) > 31 {
		r = r[:31]
	}
	return string(r)
}
