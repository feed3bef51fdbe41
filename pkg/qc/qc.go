// Package qc classifies assay readings into good/warning/bad levels using
// configurable calibration thresholds.
package qc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/labqc/dnamonitor/pkg/assay"
)

// Level is an ordinal QC outcome.
type Level int

const (
	// Unknown is used for missing readings and unclassified plate QC values.
	Unknown Level = iota
	Good
	Warning
	Bad
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case Good:
		return "good"
	case Warning:
		return "warning"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// Marker is the status icon shown next to a value.
func (l Level) Marker() string {
	switch l {
	case Good:
		return "🟢"
	case Warning:
		return "🟡"
	case Bad:
		return "🔴"
	default:
		return "⚪"
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "good":
		*l = Good
	case "warning":
		*l = Warning
	case "bad":
		*l = Bad
	case "unknown", "":
		*l = Unknown
	default:
		return fmt.Errorf("unknown qc level %q", string(b))
	}

	return nil
}

// Band is an open interval (Min, Max). Use math.Inf for a one-sided band.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether Min < v < Max. Boundary values are outside.
func (b Band) Contains(v float64) bool {
	return b.Min < v && v < b.Max
}

// MarshalJSON omits infinite bounds, which JSON cannot represent.
func (b Band) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, 2)

	if !math.IsInf(b.Min, 0) {
		out["min"] = b.Min
	}

	if !math.IsInf(b.Max, 0) {
		out["max"] = b.Max
	}

	return json.Marshal(out)
}

// Within reports whether b lies inside o.
func (b Band) Within(o Band) bool {
	return b.Min >= o.Min && b.Max <= o.Max
}

// Rule holds the bands for one metric. A reading inside Good is good,
// otherwise inside Warning is a warning, otherwise bad.
type Rule struct {
	Good    Band     `json:"good"`
	Warning Band     `json:"warning"`
	Target  *float64 `json:"target,omitempty"`
}

// Classify applies the rule to a finite value.
func (r Rule) Classify(v float64) Level {
	switch {
	case r.Good.Contains(v):
		return Good
	case r.Warning.Contains(v):
		return Warning
	default:
		return Bad
	}
}

// Thresholds maps metric names to their rules.
type Thresholds map[string]Rule

// MissingValueError reports a metric that has no usable reading.
type MissingValueError struct {
	Metric string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("missing value for %s", e.Metric)
}

// DefaultThresholds returns the instrument calibration targets used when
// no thresholds are configured.
func DefaultThresholds() Thresholds {
	inf := math.Inf(1)

	return Thresholds{
		assay.FieldStd01RFU: {
			Good:    Band{Min: 40_000_000, Max: 42_000_000},
			Warning: Band{Min: 39_000_000, Max: 43_000_000},
			Target:  ptr(40_000_000),
		},
		assay.FieldStd07RFU: {
			Good:    Band{Min: 300_000, Max: 400_000},
			Warning: Band{Min: 200_000, Max: 450_000},
			Target:  ptr(350_000),
		},
		assay.FieldSNStd7Blank: {
			Good:    Band{Min: 3.0, Max: inf},
			Warning: Band{Min: 2.5, Max: inf},
			Target:  ptr(3.0),
		},
	}
}

// Metrics returns the configured metric names, sorted.
func (t Thresholds) Metrics() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Classify maps a reading of the named metric to a level. Nil and
// non-finite readings yield Unknown with a *MissingValueError.
func (t Thresholds) Classify(metric string, value *float64) (Level, error) {
	rule, ok := t[metric]
	if !ok {
		return Unknown, fmt.Errorf("no thresholds configured for metric %q", metric)
	}

	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return Unknown, &MissingValueError{Metric: metric}
	}

	return rule.Classify(*value), nil
}

// Validate checks that every good band lies within its warning band and
// that bands are not inverted.
func (t Thresholds) Validate() error {
	for _, name := range t.Metrics() {
		rule := t[name]

		if rule.Good.Min >= rule.Good.Max {
			return fmt.Errorf("metric %q: good band is empty", name)
		}

		if rule.Warning.Min >= rule.Warning.Max {
			return fmt.Errorf("metric %q: warning band is empty", name)
		}

		if !rule.Good.Within(rule.Warning) {
			return fmt.Errorf("metric %q: good band must lie within the warning band", name)
		}
	}

	return nil
}

func ptr(v float64) *float64 {
	return &v
}
