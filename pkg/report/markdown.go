package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/dashboard"
	"github.com/labqc/dnamonitor/pkg/qc"
)

// Markdown renders v as Markdown tables. The output is capped at maxChars
// characters when maxChars is positive.
func Markdown(v *dashboard.View, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	sb.WriteString("# DNA Quantitation QC Report\n\n")
	writeOverview(&sb, v)

	if v.Diagnostic != "" {
		fmt.Fprintf(&sb, "> **Data source error:** %s\n\n", v.Diagnostic)
	}

	if v.DateBoundsIgnored {
		sb.WriteString("> The data has no completion times; the date range was not applied.\n\n")
	}

	if v.NoData {
		sb.WriteString("*No runs match the selection.*\n")

		return sb.String()
	}

	writeQuality(&sb, v)
	writeStatistics(&sb, v)

	// Runs are last so they get truncated if needed.
	writeRuns(&sb, v.Runs, maxChars)

	return sb.String()
}

func writeOverview(sb *strings.Builder, v *dashboard.View) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Source | %s |\n", v.Source)
	fmt.Fprintf(sb, "| From | %s |\n", formatBound(v.Criteria.From))
	fmt.Fprintf(sb, "| To | %s |\n", formatBound(v.Criteria.To))

	instrument := v.Criteria.InstrumentFilter()
	if instrument == "" {
		instrument = assay.AllInstruments
	}

	fmt.Fprintf(sb, "| Instrument | %s |\n", instrument)
	fmt.Fprintf(sb, "| Runs | %d |\n", v.RunCount)
	fmt.Fprintf(sb, "| Q-Plates | %d |\n", v.QPlateCount)

	if !v.GeneratedAt.IsZero() {
		fmt.Fprintf(sb, "| Generated | %s UTC |\n",
			assay.FormatTimestamp(v.GeneratedAt.UTC()))
	}

	sb.WriteByte('\n')
}

func writeQuality(sb *strings.Builder, v *dashboard.View) {
	sb.WriteString("## Quality Summary\n\n")
	sb.WriteString("| Check | " + qc.Good.Marker() + " Good | " +
		qc.Warning.Marker() + " Warning | " + qc.Bad.Marker() + " Bad | " +
		qc.Unknown.Marker() + " Unknown |\n")
	sb.WriteString("|---|---|---|---|---|\n")

	writeCounts(sb, dashboard.Title(assay.FieldSNStd7Blank), v.SignalToNoise)
	writeCounts(sb, "Q-Plate QC", v.PlateQC)

	sb.WriteByte('\n')
}

func writeCounts(sb *strings.Builder, name string, c qc.LevelCounts) {
	fmt.Fprintf(sb, "| %s | %d | %d | %d | %d |\n",
		name, c.Good, c.Warning, c.Bad, c.Unknown)
}

func writeStatistics(sb *strings.Builder, v *dashboard.View) {
	if len(v.Statistics) == 0 {
		return
	}

	fmt.Fprintf(sb, "## Statistics (%s)\n\n", v.StatisticsOrigin)
	sb.WriteString("| Metric | Instrument | Count | Mean | Std | Min " +
		"| P25 | Median | P75 | P95 | Max |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|---|---|\n")

	for _, row := range v.Statistics {
		count := "-"
		if row.Count > 0 {
			count = strconv.Itoa(row.Count)
		}

		fmt.Fprintf(sb, "| %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			dashboard.Title(row.Metric),
			row.InstrumentName(),
			count,
			formatNumber(row.Mean),
			formatNumber(row.StdDev),
			formatNumber(row.Min),
			formatNumber(row.P25),
			formatNumber(row.P50),
			formatNumber(row.P75),
			formatNumber(row.P95),
			formatNumber(row.Max),
		)
	}

	sb.WriteByte('\n')
}

func writeRuns(sb *strings.Builder, runs []dashboard.RunView, maxChars int) {
	sb.WriteString("## Runs\n\n")

	header := []string{"Run"}
	for _, m := range qc.RunMetrics {
		header = append(header, dashboard.Title(m))
	}

	header = append(header, "Q-Plates")

	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sb.WriteString(strings.Repeat("|---", len(header)) + "|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i := range runs {
		row := runRow(&runs[i])

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			fmt.Fprintf(sb,
				"\n*%d more run(s) not shown (output truncated at %d chars)*\n",
				len(runs)-i, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

func runRow(rv *dashboard.RunView) string {
	cells := []string{rv.Label}

	for _, m := range qc.RunMetrics {
		st, ok := rv.Status.Get(m)
		if !ok {
			cells = append(cells, formatValue(rv.Run.Value(m)))

			continue
		}

		cells = append(cells, st.Level.Marker()+" "+formatValue(st.Value))
	}

	plates := make([]string, 0, len(rv.QPlates))
	for _, p := range rv.QPlates {
		plates = append(plates, fmt.Sprintf("%s #%d", p.Level.Marker(), p.Plate.Number))
	}

	if len(plates) == 0 {
		plates = append(plates, "-")
	}

	cells = append(cells, strings.Join(plates, " "))

	return "| " + strings.Join(cells, " | ") + " |\n"
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return assay.FormatTimestamp(t)
}

func formatValue(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return assay.NotAvailable
	}

	return formatNumber(*v)
}

// formatNumber writes large readings with comma separators and small ones
// with two decimals.
func formatNumber(v float64) string {
	if math.Abs(v) < 1000 {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}

	s := strconv.FormatInt(int64(math.Round(v)), 10)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	n := len(s)

	var b strings.Builder

	b.Grow(n + (n-1)/3 + 1)
	b.WriteString(sign)

	// Insert commas from the right.
	for i, ch := range s {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteByte(',')
		}

		b.WriteRune(ch)
	}

	return b.String()
}
