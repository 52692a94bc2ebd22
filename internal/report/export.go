package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"taxrollsync/internal/ledger"
	"taxrollsync/pkg/domain"
)

// ArtifactName is the file name of the session workbook.
const ArtifactName = "Taxroll_Update_Report.xlsx"

// ContentType is the MIME type of the session workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const maxSheetName = 31

// Artifact is a rendered workbook.
type Artifact struct {
	ID          string
	Name        string
	ContentType string
	Sheets      []string
	Data        []byte
	CreatedAt   time.Time
}

// Exporter renders snapshots as xlsx workbooks.
type Exporter struct {
	catalog *domain.Catalog
	now     func() time.Time
}

// NewExporter returns an exporter that lays sheets out in catalog order.
func NewExporter(catalog *domain.Catalog) *Exporter {
	return &Exporter{catalog: catalog, now: time.Now}
}

// SheetName truncates a module name to the 31 character worksheet limit.
func SheetName(module domain.ModuleID) string {
	r := []rune(string(module))
	if len(r) > maxSheetName {
		r = r[:maxSheetName]
	}
	return string(r)
}

// Export writes one sheet per module with records. The header row is the
// schema columns followed by the audit columns.
func (e *Exporter) Export(snap ledger.Snapshot) (Artifact, error) {
	if snap.Total() == 0 {
		return Artifact{}, errors.New("nothing to export")
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const defaultSheet = "Sheet1"
	var sheets []string
	for _, schema := range e.catalog.Schemas() {
		recs := snap.Records(schema.Module)
		if len(recs) == 0 {
			continue
		}
		name := SheetName(schema.Module)
		idx, err := f.NewSheet(name)
		if err != nil {
			return Artifact{}, fmt.Errorf("create sheet %s: %w", name, err)
		}
		if len(sheets) == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeSheet(f, name, schema, recs); err != nil {
			return Artifact{}, err
		}
		sheets = append(sheets, name)
	}
	if len(sheets) == 0 {
		return Artifact{}, errors.New("snapshot holds no catalogued modules")
	}
	if err := f.DeleteSheet(defaultSheet); err != nil {
		return Artifact{}, fmt.Errorf("drop default sheet: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("encode workbook: %w", err)
	}
	return Artifact{
		ID:          uuid.NewString(),
		Name:        ArtifactName,
		ContentType: ContentType,
		Sheets:      sheets,
		Data:        buf.Bytes(),
		CreatedAt:   e.now(),
	}, nil
}

func writeSheet(f *excelize.File, sheet string, schema domain.Schema, recs []domain.Record) error {
	cols := schema.InsertColumns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header %s: %w", sheet, err)
	}
	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		args := r.ArgsFor(schema.Len())
		if err := f.SetSheetRow(sheet, cell, &args); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
