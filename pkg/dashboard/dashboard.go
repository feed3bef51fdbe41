// Package dashboard runs the load, filter, classify and aggregate pipeline
// and assembles the result into a View.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/qc"
	"github.com/labqc/dnamonitor/pkg/source"
	"github.com/labqc/dnamonitor/pkg/stats"
	"github.com/sirupsen/logrus"
)

// TrendMetrics are the run metrics plotted over time.
var TrendMetrics = []string{
	assay.FieldStd01RFU,
	assay.FieldStd07RFU,
	assay.FieldBlankRFU,
	assay.FieldSNStd7Blank,
}

// DistributionMetrics are the run metrics shown as distributions.
var DistributionMetrics = []string{
	assay.FieldStd01RFU,
	assay.FieldStd07RFU,
	assay.FieldSNStd7Blank,
}

// PlateDistributionMetrics are the Q-plate metrics shown as distributions.
var PlateDistributionMetrics = []string{
	assay.FieldQHighConc,
	assay.FieldQLowConc,
	assay.FieldSNQPlate,
}

var titles = map[string]string{
	assay.FieldStd01RFU:        "Standard-01 RFU",
	assay.FieldStd07RFU:        "Standard-07 RFU",
	assay.FieldBlankRFU:        "Blank RFU",
	assay.FieldSNStd7Blank:     "S/N Ratio (Std-7/Blank)",
	assay.FieldStdDeltaTimeMin: "Std Read Time (min)",
	assay.FieldQHighConc:       "QHigh Concentration (ng/uL)",
	assay.FieldQLowConc:        "QLow Concentration (ng/uL)",
	assay.FieldSNQPlate:        "Q-Plate S/N",
}

// Title returns the display title of a metric.
func Title(metric string) string {
	if t, ok := titles[metric]; ok {
		return t
	}

	return metric
}

// targetBands are shaded around the target on trends.
var targetBands = map[string]qc.Band{
	assay.FieldStd01RFU: {Min: 39e6, Max: 41e6},
}

// Service builds dashboard views from a source.
type Service struct {
	log        logrus.FieldLogger
	src        source.Source
	thresholds qc.Thresholds
	snCritical float64
	now        func() time.Time
}

// NewService creates a Service. snCritical is the S/N level drawn as the
// critical reference line.
func NewService(
	log logrus.FieldLogger,
	src source.Source,
	thresholds qc.Thresholds,
	snCritical float64,
) *Service {
	return &Service{
		log:        log.WithField("component", "dashboard"),
		src:        src,
		thresholds: thresholds,
		snCritical: snCritical,
		now:        time.Now,
	}
}

// Thresholds returns the classifier thresholds in use.
func (s *Service) Thresholds() qc.Thresholds {
	return s.thresholds
}

// SourceName returns the name of the underlying source.
func (s *Service) SourceName() string {
	return s.src.Name()
}

// Build loads, filters, classifies and aggregates the selection. It never
// fails: load errors surface as View.Diagnostic with an empty view.
func (s *Service) Build(ctx context.Context, c assay.Criteria) *View {
	res := source.Load(ctx, s.src, c)
	if res.Failed() {
		s.log.WithError(res.Err).Warn("Data source load failed")
	}

	v := &View{
		Source:      s.src.Name(),
		Criteria:    c,
		GeneratedAt: s.now().UTC(),
		Diagnostic:  res.Diagnostic(),
	}

	ds := res.Dataset
	v.Instruments = s.instruments(ctx, ds, res.Failed())

	effective := c
	if c.HasDateBounds() && len(ds.Runs) > 0 && !anyCompleted(ds.Runs) {
		effective = c.WithoutDates()
		v.DateBoundsIgnored = true
	}

	runs, plates := assay.Filter(ds.Runs, ds.QPlates, effective)

	v.NoData = len(runs) == 0
	v.RunCount = len(runs)
	v.QPlateCount = len(plates)

	v.Runs = s.runViews(runs, plates)
	v.Trends = s.trends(runs)
	v.Distributions = distributions(DistributionMetrics, func(m string) []float64 {
		return stats.RunValues(runs, m)
	})
	v.SNByInstrument = snByInstrument(runs)

	v.PlateQC = qc.CountPlateQC(plates)
	v.PlateDistributions = distributions(PlateDistributionMetrics, func(m string) []float64 {
		return stats.PlateValues(plates, m)
	})

	if _, ok := s.thresholds[assay.FieldSNStd7Blank]; ok {
		v.SignalToNoise = s.thresholds.CountMetric(runs, assay.FieldSNStd7Blank)
	}

	if len(ds.Statistics) > 0 {
		v.Statistics = ds.Statistics
		v.StatisticsOrigin = OriginPrecomputed
	} else {
		v.Statistics = stats.Compute(runs, plates)
		v.StatisticsOrigin = OriginComputed
	}

	s.log.WithFields(logrus.Fields{
		"runs":       v.RunCount,
		"qplates":    v.QPlateCount,
		"statistics": v.StatisticsOrigin,
	}).Debug("Built dashboard view")

	return v
}

// Instruments lists the instrument selector entries without loading a
// dataset. The first entry is always assay.AllInstruments.
func (s *Service) Instruments(ctx context.Context) ([]string, error) {
	names, err := s.src.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}

	return append([]string{assay.AllInstruments}, names...), nil
}

// instruments lists the selector entries. When the source cannot list
// them, the instruments of the loaded dataset are used.
func (s *Service) instruments(
	ctx context.Context, ds *assay.Dataset, failed bool,
) []string {
	out := []string{assay.AllInstruments}

	if failed {
		return out
	}

	names, err := s.src.Instruments(ctx)
	if err != nil {
		s.log.WithError(err).Debug("Listing instruments failed, deriving from dataset")

		names = assay.Instruments(ds.Runs)
		sort.Strings(names)
	}

	return append(out, names...)
}

func (s *Service) runViews(runs []assay.Run, plates []assay.QPlate) []RunView {
	out := make([]RunView, 0, len(runs))

	for i := range runs {
		r := &runs[i]

		rp := assay.PlatesFor(r.Key, plates)
		pv := make([]PlateView, 0, len(rp))

		for _, p := range rp {
			pv = append(pv, PlateView{Plate: p, Level: qc.PlateQC(p.OverallQC)})
		}

		out = append(out, RunView{
			Label:           assay.Label(r),
			ShortInstrument: assay.ShortInstrumentName(r.Instrument),
			Run:             *r,
			Status:          s.thresholds.ClassifyRun(r),
			QPlates:         pv,
		})
	}

	return out
}

func (s *Service) trends(runs []assay.Run) []Trend {
	ordered := make([]*assay.Run, 0, len(runs))
	for i := range runs {
		if !runs[i].Completed.IsZero() {
			ordered = append(ordered, &runs[i])
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Completed.Before(ordered[j].Completed)
	})

	out := make([]Trend, 0, len(TrendMetrics))

	for _, metric := range TrendMetrics {
		t := Trend{
			Metric: metric,
			Title:  Title(metric) + " Trend",
			Points: make([]Point, 0, len(ordered)),
		}

		for _, r := range ordered {
			v := r.Value(metric)
			if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
				continue
			}

			t.Points = append(t.Points, Point{
				Time:  r.Completed,
				Value: *v,
				Label: assay.Label(r),
			})
		}

		t.Lines, t.Bands = s.references(metric)
		out = append(out, t)
	}

	return out
}

// references derives a trend's reference lines from the thresholds.
func (s *Service) references(metric string) ([]ReferenceLine, []ReferenceBand) {
	var (
		lines []ReferenceLine
		bands []ReferenceBand
	)

	rule, ok := s.thresholds[metric]
	if ok && rule.Target != nil {
		lines = append(lines, ReferenceLine{Kind: LineTarget, Value: *rule.Target})
	}

	if metric == assay.FieldSNStd7Blank {
		if ok && !math.IsInf(rule.Warning.Min, 0) {
			lines = append(lines, ReferenceLine{Kind: LineWarning, Value: rule.Warning.Min})
		}

		if s.snCritical > 0 {
			lines = append(lines, ReferenceLine{Kind: LineCritical, Value: s.snCritical})
		}
	}

	if b, ok := targetBands[metric]; ok {
		bands = append(bands, ReferenceBand{Kind: LineTarget, Min: b.Min, Max: b.Max})
	}

	return lines, bands
}

func distributions(metrics []string, values func(string) []float64) []Distribution {
	out := make([]Distribution, 0, len(metrics))

	for _, m := range metrics {
		out = append(out, distribution(m, values(m)))
	}

	return out
}

func distribution(metric string, values []float64) Distribution {
	d := Distribution{
		Metric: metric,
		Title:  Title(metric) + " Distribution",
		Values: values,
	}

	if s, err := stats.Summarize(values); err == nil {
		d.Summary = &s
	}

	return d
}

func snByInstrument(runs []assay.Run) []InstrumentDistribution {
	instruments := assay.Instruments(runs)
	out := make([]InstrumentDistribution, 0, len(instruments))

	for _, inst := range instruments {
		on := make([]assay.Run, 0, len(runs))

		for i := range runs {
			if runs[i].Instrument == inst {
				on = append(on, runs[i])
			}
		}

		out = append(out, InstrumentDistribution{
			Instrument:   inst,
			Distribution: distribution(assay.FieldSNStd7Blank, stats.RunValues(on, assay.FieldSNStd7Blank)),
		})
	}

	return out
}

func anyCompleted(runs []assay.Run) bool {
	for i := range runs {
		if !runs[i].Completed.IsZero() {
			return true
		}
	}

	return false
}
