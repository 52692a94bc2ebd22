// Package domain defines the record modules, their column schemas, and the
// typed errors shared by the ingestion pipeline.
package domain

import (
	"fmt"
	"strings"
)

// ModuleID names one of the record categories an operator can enter.
type ModuleID string

const (
	ModuleValueUpdate    ModuleID = "Value Update"
	ModuleLUCUpdate      ModuleID = "LUC Update"
	ModuleLandsizeUpdate ModuleID = "Landsize Update"
	ModuleGBAUpdate      ModuleID = "GBA Update"
	ModuleTaxrollInsert  ModuleID = "Taxroll Insert"
)

// ColumnType is the semantic type a cell is coerced to during sanitization.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnNumeric ColumnType = "numeric"
)

// Source identifies how rows reach a module.
type Source string

const (
	SourceGrid   Source = "grid"   // bulk paste / manual entry
	SourceUpload Source = "upload" // spreadsheet upload
)

// Audit column names appended to every insert and report sheet.
const (
	AuditAuthorColumn  = "CreatedBy"
	AuditCreatedColumn = "CreatedDate"
	BatchColumn        = "Batch"
)

// Column describes one ordered schema column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the per-module configuration value the generic pipeline is parameterized by.
type Schema struct {
	Module   ModuleID `json:"module"`
	Table    string   `json:"table"`
	Columns  []Column `json:"columns"`
	Source   Source   `json:"source"`
	GridRows int      `json:"grid_rows,omitempty"`
}

// Len returns the number of schema columns, excluding audit columns.
func (s Schema) Len() int { return len(s.Columns) }

// Headers returns the ordered column names.
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// InsertColumns returns the schema columns followed by the audit columns.
func (s Schema) InsertColumns() []string {
	return append(s.Headers(), AuditAuthorColumn, AuditCreatedColumn)
}

// NumericColumns returns the set of column indices coerced to numbers.
func (s Schema) NumericColumns() map[int]bool {
	out := make(map[int]bool)
	for i, c := range s.Columns {
		if c.Type == ColumnNumeric {
			out[i] = true
		}
	}
	return out
}

// BatchIndex reports the position of the Batch column, if the schema defines one.
func (s Schema) BatchIndex() (int, bool) {
	for i, c := range s.Columns {
		if c.Name == BatchColumn {
			return i, true
		}
	}
	return -1, false
}

// Validate checks the schema is usable by the pipeline.
func (s Schema) Validate() error {
	if strings.TrimSpace(string(s.Module)) == "" {
		return fmt.Errorf("schema module required")
	}
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("schema %s: table required", s.Module)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %s: at least one column required", s.Module)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Type != ColumnText && c.Type != ColumnNumeric {
			return fmt.Errorf("schema %s: column %s has unknown type %q", s.Module, c.Name, c.Type)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("schema %s: duplicate column %s", s.Module, c.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func text(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Name: n, Type: ColumnText}
	}
	return out
}

func withNumeric(cols []Column, idx ...int) []Column {
	for _, i := range idx {
		cols[i].Type = ColumnNumeric
	}
	return cols
}
