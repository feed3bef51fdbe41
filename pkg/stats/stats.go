// Package stats computes descriptive statistics over assay metrics.
package stats

import (
	"errors"
	"math"
	"sort"

	"github.com/labqc/dnamonitor/pkg/assay"
)

// ErrNoData is returned when there are no values to summarise.
var ErrNoData = errors.New("no data")

// Summary describes a sample of one metric.
type Summary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	StdDev float64 `json:"std" yaml:"std"`
	P25    float64 `json:"p25" yaml:"p25"`
	P50    float64 `json:"p50" yaml:"p50"`
	P75    float64 `json:"p75" yaml:"p75"`
	P95    float64 `json:"p95" yaml:"p95"`
}

// Summarize computes count, mean, min, max, sample standard deviation and
// the 25/50/75/95th percentiles of values. Non-finite values are ignored.
// The input slice is not modified.
func Summarize(values []float64) (Summary, error) {
	sorted := make([]float64, 0, len(values))

	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}

		sorted = append(sorted, v)
	}

	if len(sorted) == 0 {
		return Summary{}, ErrNoData
	}

	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	mean := sum / float64(n)

	var stddev float64

	if n > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}

		stddev = math.Sqrt(sq / float64(n-1))
	}

	return Summary{
		Count:  n,
		Mean:   mean,
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: stddev,
		P25:    Percentile(sorted, 25),
		P50:    Percentile(sorted, 50),
		P75:    Percentile(sorted, 75),
		P95:    Percentile(sorted, 95),
	}, nil
}

// Percentile returns the p-th percentile (0-100) of an ascending sample,
// interpolating linearly between the two nearest order statistics.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}

	if n == 1 || p <= 0 {
		return sorted[0]
	}

	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := lo + 1

	if hi >= n {
		return sorted[lo]
	}

	frac := rank - float64(lo)

	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Row converts the summary into a statistics row. A nil instrument marks
// the all-instruments row.
func (s Summary) Row(metric string, instrument *string) assay.StatisticRow {
	return assay.StatisticRow{
		Metric:     metric,
		Instrument: instrument,
		Count:      s.Count,
		Mean:       s.Mean,
		Min:        s.Min,
		Max:        s.Max,
		StdDev:     s.StdDev,
		P25:        s.P25,
		P50:        s.P50,
		P75:        s.P75,
		P95:        s.P95,
	}
}
