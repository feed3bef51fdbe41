package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/mitchellh/mapstructure"
	"github.com/xuri/excelize/v2"
)

// sheetRow is one run log row keyed by canonical field name. Cells are kept
// as text until converted.
type sheetRow struct {
	RunID           string `mapstructure:"run_id"`
	LHIID           string `mapstructure:"lhi_id"`
	Completed       string `mapstructure:"lhi_completion_datetime"`
	Instrument      string `mapstructure:"instrument"`
	StdRead         string `mapstructure:"std_read_datetime"`
	StdDeltaTimeMin string `mapstructure:"std_delta_time_min"`
	Std01RFU        string `mapstructure:"std_01_rfu"`
	Std07RFU        string `mapstructure:"std_07_rfu"`
	BlankRFU        string `mapstructure:"blank_rfu"`
	SNStd7Blank     string `mapstructure:"sn_std7_blank"`

	QPlateNumber string `mapstructure:"qplate_number"`
	QHighConc    string `mapstructure:"qhigh_conc_ng_ul"`
	QLowConc     string `mapstructure:"qlow_conc_ng_ul"`
	QBlankConc   string `mapstructure:"qblank_conc_ng_ul"`
	SNQPlate     string `mapstructure:"sn_qplate"`
	OverallQC    string `mapstructure:"overall_plate_qc"`
	Read         string `mapstructure:"read_datetime"`
	DeltaTimeMin string `mapstructure:"delta_time_min"`
}

// sheetBuilder accumulates runs and plates row by row. Runs are unique by
// identity; a repeated identity only contributes its plate.
type sheetBuilder struct {
	headers   []string
	hasPlates bool

	runs    []assay.Run
	plates  []assay.QPlate
	index   map[string]int
	skipped int
}

func newSheetBuilder(headers []string) *sheetBuilder {
	b := &sheetBuilder{
		headers: headers,
		runs:    []assay.Run{},
		plates:  []assay.QPlate{},
		index:   make(map[string]int, 64),
	}

	for _, h := range headers {
		if h == assay.FieldQPlateNumber {
			b.hasPlates = true
		}
	}

	return b
}

func (b *sheetBuilder) add(cells []string) error {
	record := make(map[string]any, len(b.headers))

	for i, h := range b.headers {
		if h == "" {
			continue
		}

		value := ""
		if i < len(cells) {
			value = strings.TrimSpace(cells[i])
		}

		// The first of two columns mapping onto one field wins.
		if prev, ok := record[h]; ok && prev != "" {
			continue
		}

		record[h] = value
	}

	if blank(record) {
		b.skipped++

		return nil
	}

	var (
		row sheetRow
		md  mapstructure.Metadata
	)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   &row,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(record); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}

	run := assay.Run{
		Key: assay.Key{
			RunID:     row.RunID,
			LHIID:     row.LHIID,
			Completed: cellTime(row.Completed),
		},
		Instrument:      row.Instrument,
		StdRead:         cellTime(row.StdRead),
		StdDeltaTimeMin: cellNumber(row.StdDeltaTimeMin),
		Std01RFU:        cellNumber(row.Std01RFU),
		Std07RFU:        cellNumber(row.Std07RFU),
		BlankRFU:        cellNumber(row.BlankRFU),
		SNStd7Blank:     cellNumber(row.SNStd7Blank),
	}

	for _, k := range md.Unused {
		v, _ := record[k].(string)
		if v == "" {
			continue
		}

		if run.Extra == nil {
			run.Extra = make(map[string]string, len(md.Unused))
		}

		run.Extra[k] = v
	}

	id := identity(run.Key)

	idx, seen := b.index[id]
	if !seen {
		idx = len(b.runs)
		b.index[id] = idx
		b.runs = append(b.runs, run)
	}

	if !b.hasPlates || row.QPlateNumber == "" {
		if seen {
			b.skipped++
		}

		return nil
	}

	number, err := plateNumber(row.QPlateNumber)
	if err != nil {
		return err
	}

	instrument := run.Instrument
	if instrument == "" {
		instrument = b.runs[idx].Instrument
	}

	b.plates = append(b.plates, assay.QPlate{
		Key:          b.runs[idx].Key,
		Number:       number,
		QHighConc:    cellNumber(row.QHighConc),
		QLowConc:     cellNumber(row.QLowConc),
		QBlankConc:   cellNumber(row.QBlankConc),
		SNQPlate:     cellNumber(row.SNQPlate),
		OverallQC:    row.OverallQC,
		Read:         cellTime(row.Read),
		DeltaTimeMin: cellNumber(row.DeltaTimeMin),
		Instrument:   instrument,
	})
	b.runs[idx].QPlateCount++

	return nil
}

func blank(record map[string]any) bool {
	for _, v := range record {
		if s, _ := v.(string); s != "" {
			return false
		}
	}

	return true
}

func identity(k assay.Key) string {
	return k.RunID + "\x00" + k.LHIID + "\x00" + k.Completed.UTC().Format(time.RFC3339Nano)
}

func plateNumber(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid qplate_number %q", s)
	}

	return int(f), nil
}

// cellNumber parses a numeric cell. Empty, textual ("#DIV/0!", "N/A") and
// non-finite values are missing.
func cellNumber(s string) *float64 {
	if s == "" {
		return nil
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}

// cellTime parses a date cell: an Excel serial date or a timestamp string.
// Unparseable values are the zero time.
func cellTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}
		}

		return t.Round(time.Second)
	}

	t, err := assay.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}

	return t
}
