package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/xuri/excelize/v2"
)

// headerFields maps the run log's human-readable column headers onto
// canonical field names.
var headerFields = map[string]string{
	"LHI Completion DateTime": assay.FieldLHICompletion,
	"LHI ID":                  assay.FieldLHIID,
	"SpectraMax Instrument":   assay.FieldInstrument,
	"Std Read DateTime":       assay.FieldStdRead,
	"Std Δ Time (min)":        assay.FieldStdDeltaTimeMin,
	"Std-01 RFU (avg)":        assay.FieldStd01RFU,
	"Std-07 RFU (avg)":        assay.FieldStd07RFU,
	"Blank RFU (avg)":         assay.FieldBlankRFU,
	"Std S/N (Std7/Blank)":    assay.FieldSNStd7Blank,
}

// NormalizeHeader returns the canonical name for a column header. Unknown
// headers are returned trimmed and otherwise unchanged.
func NormalizeHeader(header string) string {
	h := strings.TrimSpace(header)

	if field, ok := headerFields[h]; ok {
		return field
	}

	return h
}

// Snapshot is a parsed run log sheet.
type Snapshot struct {
	Dataset *assay.Dataset
	// Headers are the normalized column names in sheet order.
	Headers []string
	// Skipped counts blank or duplicate rows that produced no run.
	Skipped int
}

// ParseSnapshot reads the named sheet of a workbook. The first row holds
// column headers; every following non-blank row is one run, or one plate
// of a run when the sheet carries a qplate_number column.
func ParseSnapshot(data []byte, sheet string) (*Snapshot, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}

	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	snap := &Snapshot{Dataset: assay.NewDataset()}

	if len(rows) == 0 {
		return snap, nil
	}

	snap.Headers = make([]string, len(rows[0]))
	for i, h := range rows[0] {
		snap.Headers[i] = NormalizeHeader(h)
	}

	b := newSheetBuilder(snap.Headers)

	for i, row := range rows[1:] {
		if err := b.add(row); err != nil {
			// Row numbers are 1-based and the header is row 1.
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	snap.Dataset.Runs = b.runs
	snap.Dataset.QPlates = b.plates
	snap.Skipped = b.skipped

	return snap, nil
}
