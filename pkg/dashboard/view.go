package dashboard

import (
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/qc"
	"github.com/labqc/dnamonitor/pkg/stats"
)

// StatisticsOrigin tells whether statistics came from the rollup table or
// were computed from the current selection.
type StatisticsOrigin string

const (
	OriginPrecomputed StatisticsOrigin = "precomputed"
	OriginComputed    StatisticsOrigin = "computed"
)

// View is everything a presentation layer needs to render the dashboard
// for one selection.
type View struct {
	Source      string         `json:"source" yaml:"source"`
	Criteria    assay.Criteria `json:"criteria" yaml:"criteria"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`

	// Diagnostic describes a load failure. The rest of the view is then
	// empty but well formed.
	Diagnostic string `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty"`
	// NoData is set when the selection holds no runs.
	NoData bool `json:"no_data" yaml:"no_data"`
	// DateBoundsIgnored is set when the data carries no completion times
	// and the date range could not be applied.
	DateBoundsIgnored bool `json:"date_bounds_ignored,omitempty" yaml:"date_bounds_ignored,omitempty"`

	// Instruments feeds the instrument selector; the first entry is
	// assay.AllInstruments.
	Instruments []string `json:"instruments" yaml:"instruments"`

	RunCount    int `json:"run_count" yaml:"run_count"`
	QPlateCount int `json:"qplate_count" yaml:"qplate_count"`

	Runs []RunView `json:"runs" yaml:"runs"`

	Trends         []Trend                  `json:"trends" yaml:"trends"`
	Distributions  []Distribution           `json:"distributions" yaml:"distributions"`
	SNByInstrument []InstrumentDistribution `json:"sn_by_instrument" yaml:"sn_by_instrument"`

	PlateQC            qc.LevelCounts `json:"plate_qc" yaml:"plate_qc"`
	PlateDistributions []Distribution `json:"plate_distributions" yaml:"plate_distributions"`

	// SignalToNoise tallies the S/N level of every selected run.
	SignalToNoise qc.LevelCounts `json:"signal_to_noise" yaml:"signal_to_noise"`

	Statistics       []assay.StatisticRow `json:"statistics" yaml:"statistics"`
	StatisticsOrigin StatisticsOrigin     `json:"statistics_origin" yaml:"statistics_origin"`
}

// RunView is one run with its classification and plates.
type RunView struct {
	Label           string       `json:"label" yaml:"label"`
	ShortInstrument string       `json:"short_instrument" yaml:"short_instrument"`
	Run             assay.Run    `json:"run" yaml:"run"`
	Status          qc.RunStatus `json:"status" yaml:"status"`
	QPlates         []PlateView  `json:"qplates" yaml:"qplates"`
}

// PlateView is a Q-plate with its QC level.
type PlateView struct {
	Plate assay.QPlate `json:"plate" yaml:"plate"`
	Level qc.Level     `json:"level" yaml:"level"`
}

// Point is one trend sample.
type Point struct {
	Time  time.Time `json:"time" yaml:"time"`
	Value float64   `json:"value" yaml:"value"`
	Label string    `json:"label" yaml:"label"`
}

// Reference line kinds.
const (
	LineTarget   = "target"
	LineWarning  = "warning"
	LineCritical = "critical"
)

// ReferenceLine is a horizontal line drawn on a trend.
type ReferenceLine struct {
	Kind  string  `json:"kind" yaml:"kind"`
	Value float64 `json:"value" yaml:"value"`
}

// ReferenceBand is a shaded horizontal band drawn on a trend.
type ReferenceBand struct {
	Kind string  `json:"kind" yaml:"kind"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// Trend is a metric over completion time, oldest first.
type Trend struct {
	Metric string          `json:"metric" yaml:"metric"`
	Title  string          `json:"title" yaml:"title"`
	Points []Point         `json:"points" yaml:"points"`
	Lines  []ReferenceLine `json:"lines,omitempty" yaml:"lines,omitempty"`
	Bands  []ReferenceBand `json:"bands,omitempty" yaml:"bands,omitempty"`
}

// Distribution is the sample of one metric and its summary. Summary is nil
// when there are no values.
type Distribution struct {
	Metric  string         `json:"metric" yaml:"metric"`
	Title   string         `json:"title" yaml:"title"`
	Values  []float64      `json:"values" yaml:"values"`
	Summary *stats.Summary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// InstrumentDistribution is a distribution restricted to one instrument.
type InstrumentDistribution struct {
	Instrument   string `json:"instrument" yaml:"instrument"`
	Distribution `yaml:",inline"`
}
