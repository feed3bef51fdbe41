package qc

import (
	"errors"
	"strings"

	"github.com/labqc/dnamonitor/pkg/assay"
)

// Plate QC values written by the upstream plate analysis.
const (
	PlatePass    = "PASS"
	PlateWarning = "WARNING"
	PlateFail    = "FAIL"
)

// RunMetrics are the run readings that carry a QC status.
var RunMetrics = []string{
	assay.FieldStd01RFU,
	assay.FieldStd07RFU,
	assay.FieldSNStd7Blank,
}

// Status is the classification of one reading.
type Status struct {
	Metric  string   `json:"metric"`
	Value   *float64 `json:"value"`
	Level   Level    `json:"level"`
	Missing bool     `json:"missing,omitempty"`
}

// RunStatus holds the status of each run metric, in RunMetrics order.
type RunStatus []Status

// Get returns the status for metric.
func (rs RunStatus) Get(metric string) (Status, bool) {
	for _, s := range rs {
		if s.Metric == metric {
			return s, true
		}
	}

	return Status{}, false
}

// ClassifyRun classifies every run metric that has a rule. Missing readings
// are reported as Unknown with Missing set rather than coerced to zero.
func (t Thresholds) ClassifyRun(r *assay.Run) RunStatus {
	out := make(RunStatus, 0, len(RunMetrics))

	for _, metric := range RunMetrics {
		if _, ok := t[metric]; !ok {
			continue
		}

		v := r.Value(metric)
		level, err := t.Classify(metric, v)

		var missing *MissingValueError

		out = append(out, Status{
			Metric:  metric,
			Value:   v,
			Level:   level,
			Missing: errors.As(err, &missing),
		})
	}

	return out
}

// PlateQC maps the upstream overall plate QC value onto the level scale.
// Values other than PASS, WARNING and FAIL are Unknown.
func PlateQC(value string) Level {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case PlatePass:
		return Good
	case PlateWarning:
		return Warning
	case PlateFail:
		return Bad
	default:
		return Unknown
	}
}

// LevelCounts tallies levels.
type LevelCounts struct {
	Good    int `json:"good" yaml:"good"`
	Warning int `json:"warning" yaml:"warning"`
	Bad     int `json:"bad" yaml:"bad"`
	Unknown int `json:"unknown" yaml:"unknown"`
}

// Add counts one level.
func (c *LevelCounts) Add(l Level) {
	switch l {
	case Good:
		c.Good++
	case Warning:
		c.Warning++
	case Bad:
		c.Bad++
	default:
		c.Unknown++
	}
}

// Total returns the number of counted items.
func (c LevelCounts) Total() int {
	return c.Good + c.Warning + c.Bad + c.Unknown
}

// CountMetric classifies metric for every run and tallies the result.
func (t Thresholds) CountMetric(runs []assay.Run, metric string) LevelCounts {
	var counts LevelCounts

	for i := range runs {
		level, _ := t.Classify(metric, runs[i].Value(metric))
		counts.Add(level)
	}

	return counts
}

// CountPlateQC tallies the overall QC of each plate.
func CountPlateQC(plates []assay.QPlate) LevelCounts {
	var counts LevelCounts

	for i := range plates {
		counts.Add(PlateQC(plates[i].OverallQC))
	}

	return counts
}
