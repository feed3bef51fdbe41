package assay

import (
	"fmt"
	"strings"
	"time"
)

// Criteria restricts a dataset to a completion-time window and optionally
// one instrument. Zero bounds are open.
type Criteria struct {
	From       time.Time `json:"from,omitzero" yaml:"from,omitempty"`
	To         time.Time `json:"to,omitzero" yaml:"to,omitempty"`
	Instrument string    `json:"instrument,omitempty" yaml:"instrument,omitempty"`
}

// ParseCriteria builds Criteria from user input. Empty strings leave the
// corresponding bound open. A date-only "to" covers that whole day.
func ParseCriteria(from, to, instrument string) (Criteria, error) {
	var c Criteria

	if strings.TrimSpace(from) != "" {
		t, err := ParseTimestamp(from)
		if err != nil {
			return Criteria{}, fmt.Errorf("parsing from date: %w", err)
		}

		c.From = t
	}

	if strings.TrimSpace(to) != "" {
		t, err := ParseTimestamp(to)
		if err != nil {
			return Criteria{}, fmt.Errorf("parsing to date: %w", err)
		}

		if isDateOnly(to) {
			t = EndOfDay(t)
		}

		c.To = t
	}

	if !c.From.IsZero() && !c.To.IsZero() && c.To.Before(c.From) {
		return Criteria{}, fmt.Errorf(
			"to date %s is before from date %s",
			FormatTimestamp(c.To), FormatTimestamp(c.From),
		)
	}

	c.Instrument = strings.TrimSpace(instrument)

	return c, nil
}

// HasDateBounds reports whether either date bound is set.
func (c Criteria) HasDateBounds() bool {
	return !c.From.IsZero() || !c.To.IsZero()
}

// InstrumentFilter returns the instrument to match, or "" when every
// instrument is selected.
func (c Criteria) InstrumentFilter() string {
	if c.Instrument == AllInstruments {
		return ""
	}

	return c.Instrument
}

// WithoutDates returns a copy of c with both date bounds cleared.
func (c Criteria) WithoutDates() Criteria {
	return Criteria{Instrument: c.Instrument}
}

// Matches reports whether a run passes the criteria.
func (c Criteria) Matches(r *Run) bool {
	if c.HasDateBounds() {
		if r.Completed.IsZero() {
			return false
		}

		if !c.From.IsZero() && r.Completed.Before(c.From) {
			return false
		}

		if !c.To.IsZero() && r.Completed.After(c.To) {
			return false
		}
	}

	if inst := c.InstrumentFilter(); inst != "" && r.Instrument != inst {
		return false
	}

	return true
}

// Filter restricts runs to those matching c and plates to those whose parent
// run was kept. Input order is preserved and the inputs are not modified.
func Filter(runs []Run, plates []QPlate, c Criteria) ([]Run, []QPlate) {
	keptRuns := make([]Run, 0, len(runs))
	keys := make(map[mapKey]struct{}, len(runs))

	for i := range runs {
		if !c.Matches(&runs[i]) {
			continue
		}

		keptRuns = append(keptRuns, runs[i])
		keys[runs[i].mapKey()] = struct{}{}
	}

	keptPlates := make([]QPlate, 0, len(plates))

	for i := range plates {
		if _, ok := keys[plates[i].mapKey()]; ok {
			keptPlates = append(keptPlates, plates[i])
		}
	}

	return keptRuns, keptPlates
}
