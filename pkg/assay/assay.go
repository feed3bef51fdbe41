package assay

import (
	"strings"
	"time"
)

// AllInstruments is the instrument selector value that disables the
// instrument filter.
const AllInstruments = "All Instruments"

// Canonical field names shared by the store columns, the spreadsheet header
// mapping and the statistics rollup.
const (
	FieldRunID           = "run_id"
	FieldLHIID           = "lhi_id"
	FieldLHICompletion   = "lhi_completion_datetime"
	FieldInstrument      = "instrument"
	FieldStdRead         = "std_read_datetime"
	FieldStdDeltaTimeMin = "std_delta_time_min"
	FieldStd01RFU        = "std_01_rfu"
	FieldStd07RFU        = "std_07_rfu"
	FieldBlankRFU        = "blank_rfu"
	FieldSNStd7Blank     = "sn_std7_blank"
	FieldQPlateNumber    = "qplate_number"
	FieldQHighConc       = "qhigh_conc_ng_ul"
	FieldQLowConc        = "qlow_conc_ng_ul"
	FieldQBlankConc      = "qblank_conc_ng_ul"
	FieldSNQPlate        = "sn_qplate"
	FieldOverallPlateQC  = "overall_plate_qc"
	FieldReadDatetime    = "read_datetime"
	FieldDeltaTimeMin    = "delta_time_min"
)

// NotAvailable is displayed in place of a missing value.
const NotAvailable = "N/A"

const (
	shortInstrumentSep  = " - "
	labelFieldSeparator = " | "
)

// Key identifies a run. Q-plates reference their parent run by the same key.
type Key struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	LHIID     string    `json:"lhi_id" yaml:"lhi_id"`
	Completed time.Time `json:"lhi_completion_datetime" yaml:"lhi_completion_datetime"`
}

// Run is one completed assay run on the plate reader.
type Run struct {
	Key `yaml:",inline"`

	Instrument      string            `json:"instrument,omitempty" yaml:"instrument,omitempty"`
	StdRead         time.Time         `json:"std_read_datetime,omitzero" yaml:"std_read_datetime,omitempty"`
	StdDeltaTimeMin *float64          `json:"std_delta_time_min" yaml:"std_delta_time_min"`
	Std01RFU        *float64          `json:"std_01_rfu" yaml:"std_01_rfu"`
	Std07RFU        *float64          `json:"std_07_rfu" yaml:"std_07_rfu"`
	BlankRFU        *float64          `json:"blank_rfu" yaml:"blank_rfu"`
	SNStd7Blank     *float64          `json:"sn_std7_blank" yaml:"sn_std7_blank"`
	QPlateCount     int               `json:"qplate_count" yaml:"qplate_count"`
	Extra           map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// QPlate is one quality-control plate measured alongside a run.
type QPlate struct {
	Key `yaml:",inline"`

	Number       int       `json:"qplate_number" yaml:"qplate_number"`
	QHighConc    *float64  `json:"qhigh_conc_ng_ul" yaml:"qhigh_conc_ng_ul"`
	QLowConc     *float64  `json:"qlow_conc_ng_ul" yaml:"qlow_conc_ng_ul"`
	QBlankConc   *float64  `json:"qblank_conc_ng_ul" yaml:"qblank_conc_ng_ul"`
	SNQPlate     *float64  `json:"sn_qplate" yaml:"sn_qplate"`
	OverallQC    string    `json:"overall_plate_qc" yaml:"overall_plate_qc"`
	Read         time.Time `json:"read_datetime,omitzero" yaml:"read_datetime,omitempty"`
	DeltaTimeMin *float64  `json:"delta_time_min" yaml:"delta_time_min"`
	Instrument   string    `json:"instrument,omitempty" yaml:"instrument,omitempty"`
}

// StatisticRow summarises one metric on one instrument. A nil Instrument
// means the row covers all instruments.
type StatisticRow struct {
	Metric     string  `json:"metric_name" yaml:"metric_name"`
	Instrument *string `json:"instrument" yaml:"instrument"`
	Count      int     `json:"count,omitempty" yaml:"count,omitempty"`
	Mean       float64 `json:"mean_value" yaml:"mean_value"`
	Min        float64 `json:"min_value" yaml:"min_value"`
	Max        float64 `json:"max_value" yaml:"max_value"`
	StdDev     float64 `json:"std_value" yaml:"std_value"`
	P25        float64 `json:"p25_value" yaml:"p25_value"`
	P50        float64 `json:"p50_value" yaml:"p50_value"`
	P75        float64 `json:"p75_value" yaml:"p75_value"`
	P95        float64 `json:"p95_value" yaml:"p95_value"`
}

// InstrumentName returns the row's instrument or AllInstruments.
func (s *StatisticRow) InstrumentName() string {
	if s.Instrument == nil {
		return AllInstruments
	}

	return *s.Instrument
}

// Dataset is everything a loader produced for one request.
type Dataset struct {
	Runs       []Run          `json:"runs"`
	QPlates    []QPlate       `json:"qplates"`
	Statistics []StatisticRow `json:"statistics"`
}

// NewDataset returns a dataset with non-nil, empty sequences.
func NewDataset() *Dataset {
	return &Dataset{
		Runs:       []Run{},
		QPlates:    []QPlate{},
		Statistics: []StatisticRow{},
	}
}

// Empty reports whether the dataset holds no runs.
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Runs) == 0
}

// PlatesFor returns the plates belonging to the given run, in input order.
func PlatesFor(key Key, plates []QPlate) []QPlate {
	out := make([]QPlate, 0, 4)

	for i := range plates {
		if plates[i].Key.Equal(key) {
			out = append(out, plates[i])
		}
	}

	return out
}

// Equal compares two keys. Completion times compare as instants.
func (k Key) Equal(o Key) bool {
	return k.RunID == o.RunID && k.LHIID == o.LHIID && k.Completed.Equal(o.Completed)
}

// mapKey is a comparable form of Key usable as a map key.
type mapKey struct {
	runID string
	lhiID string
	sec   int64
	nsec  int
}

func (k Key) mapKey() mapKey {
	return mapKey{
		runID: k.RunID,
		lhiID: k.LHIID,
		sec:   k.Completed.Unix(),
		nsec:  k.Completed.Nanosecond(),
	}
}

// ShortInstrumentName returns the label after the last " - " separator,
// e.g. "SpectraMax - SMX-02" becomes "SMX-02". Names without a separator are
// returned unchanged and an empty name yields "N/A".
func ShortInstrumentName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return NotAvailable
	}

	idx := strings.LastIndex(name, shortInstrumentSep)
	if idx < 0 {
		return name
	}

	short := strings.TrimSpace(name[idx+len(shortInstrumentSep):])
	if short == "" {
		return name
	}

	return short
}

// Label is the one-line header shown for a run.
func Label(r *Run) string {
	lhi := r.LHIID
	if lhi == "" {
		lhi = NotAvailable
	}

	completed := NotAvailable
	if !r.Completed.IsZero() {
		completed = FormatTimestamp(r.Completed)
	}

	return strings.Join([]string{
		lhi, completed, ShortInstrumentName(r.Instrument),
	}, labelFieldSeparator)
}

// Instruments returns the distinct non-empty instruments in first-seen order.
func Instruments(runs []Run) []string {
	seen := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)

	for i := range runs {
		name := runs[i].Instrument
		if name == "" {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, name)
	}

	return out
}

// Value returns the reading of a run metric by canonical field name, or nil
// when the metric is missing or not a run reading.
func (r *Run) Value(metric string) *float64 {
	switch metric {
	case FieldStd01RFU:
		return r.Std01RFU
	case FieldStd07RFU:
		return r.Std07RFU
	case FieldBlankRFU:
		return r.BlankRFU
	case FieldSNStd7Blank:
		return r.SNStd7Blank
	case FieldStdDeltaTimeMin:
		return r.StdDeltaTimeMin
	default:
		return nil
	}
}

// Value returns the reading of a plate metric by canonical field name.
func (p *QPlate) Value(metric string) *float64 {
	switch metric {
	case FieldQHighConc:
		return p.QHighConc
	case FieldQLowConc:
		return p.QLowConc
	case FieldQBlankConc:
		return p.QBlankConc
	case FieldSNQPlate:
		return p.SNQPlate
	case FieldDeltaTimeMin:
		return p.DeltaTimeMin
	default:
		return nil
	}
}
