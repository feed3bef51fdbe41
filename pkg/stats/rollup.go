package stats

import (
	"errors"
	"math"

	"github.com/labqc/dnamonitor/pkg/assay"
)

// RunMetrics are the run readings included in the statistics rollup.
var RunMetrics = []string{
	assay.FieldStd01RFU,
	assay.FieldStd07RFU,
	assay.FieldBlankRFU,
	assay.FieldSNStd7Blank,
	assay.FieldStdDeltaTimeMin,
}

// PlateMetrics are the Q-plate readings included in the statistics rollup.
var PlateMetrics = []string{
	assay.FieldQHighConc,
	assay.FieldQLowConc,
	assay.FieldSNQPlate,
}

// RunValues collects the finite readings of metric across runs.
func RunValues(runs []assay.Run, metric string) []float64 {
	out := make([]float64, 0, len(runs))

	for i := range runs {
		if v := runs[i].Value(metric); finite(v) {
			out = append(out, *v)
		}
	}

	return out
}

// PlateValues collects the finite readings of metric across plates.
func PlateValues(plates []assay.QPlate, metric string) []float64 {
	out := make([]float64, 0, len(plates))

	for i := range plates {
		if v := plates[i].Value(metric); finite(v) {
			out = append(out, *v)
		}
	}

	return out
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Compute derives the statistics rollup from runs and plates: for each
// metric one all-instruments row followed by one row per instrument in
// first-seen order. Partitions without values produce no row.
func Compute(runs []assay.Run, plates []assay.QPlate) []assay.StatisticRow {
	instruments := assay.Instruments(runs)
	rows := make([]assay.StatisticRow, 0, (len(RunMetrics)+len(PlateMetrics))*(len(instruments)+1))

	for _, metric := range RunMetrics {
		rows = appendRow(rows, metric, nil, RunValues(runs, metric))

		for _, inst := range instruments {
			rows = appendRow(rows, metric, &inst, RunValues(runsOn(runs, inst), metric))
		}
	}

	plateInstruments := plateInstrumentsOf(plates)

	for _, metric := range PlateMetrics {
		rows = appendRow(rows, metric, nil, PlateValues(plates, metric))

		for _, inst := range plateInstruments {
			rows = appendRow(rows, metric, &inst, PlateValues(platesOn(plates, inst), metric))
		}
	}

	return rows
}

func appendRow(
	rows []assay.StatisticRow, metric string, instrument *string, values []float64,
) []assay.StatisticRow {
	s, err := Summarize(values)
	if errors.Is(err, ErrNoData) {
		return rows
	}

	var inst *string
	if instrument != nil {
		name := *instrument
		inst = &name
	}

	return append(rows, s.Row(metric, inst))
}

func runsOn(runs []assay.Run, instrument string) []assay.Run {
	out := make([]assay.Run, 0, len(runs))

	for i := range runs {
		if runs[i].Instrument == instrument {
			out = append(out, runs[i])
		}
	}

	return out
}

func platesOn(plates []assay.QPlate, instrument string) []assay.QPlate {
	out := make([]assay.QPlate, 0, len(plates))

	for i := range plates {
		if plates[i].Instrument == instrument {
			out = append(out, plates[i])
		}
	}

	return out
}

func plateInstrumentsOf(plates []assay.QPlate) []string {
	seen := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)

	for i := range plates {
		name := plates[i].Instrument
		if name == "" {
			continue
		}

		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}

	return out
}
