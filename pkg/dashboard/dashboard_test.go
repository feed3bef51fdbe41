package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/qc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	ds          *assay.Dataset
	err         error
	instruments []string
	instErr     error
}

func (f *fakeSource) Start(context.Context) error { return nil }
func (f *fakeSource) Stop() error                 { return nil }
func (f *fakeSource) Name() string                { return "fake" }

func (f *fakeSource) Load(context.Context, assay.Criteria) (*assay.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}

	// Hand out a copy so the pipeline cannot alias test fixtures.
	cp := *f.ds
	cp.Runs = append([]assay.Run(nil), f.ds.Runs...)
	cp.QPlates = append([]assay.QPlate(nil), f.ds.QPlates...)
	cp.Statistics = append([]assay.StatisticRow(nil), f.ds.Statistics...)

	return &cp, nil
}

func (f *fakeSource) Instruments(context.Context) ([]string, error) {
	return f.instruments, f.instErr
}

func fp(v float64) *float64 { return &v }

func at(s string) time.Time {
	t, err := assay.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}

	return t
}

const (
	smx1 = "SpectraMax - SMX-01"
	smx2 = "SpectraMax - SMX-02"
)

func fixture() *assay.Dataset {
	r1 := assay.Run{
		Key:         assay.Key{RunID: "R1", LHIID: "LHI-1", Completed: at("2025-11-03 10:00:00")},
		Instrument:  smx1,
		Std01RFU:    fp(41e6),
		Std07RFU:    fp(350000),
		SNStd7Blank: fp(3.5),
	}
	r2 := assay.Run{
		Key:         assay.Key{RunID: "R2", LHIID: "LHI-2", Completed: at("2025-11-01 09:00:00")},
		Instrument:  smx2,
		Std01RFU:    fp(39.5e6),
		SNStd7Blank: fp(2.7),
	}
	r3 := assay.Run{
		Key:         assay.Key{RunID: "R3", LHIID: "LHI-3", Completed: at("2025-12-15 09:00:00")},
		Instrument:  smx1,
		SNStd7Blank: fp(1.5),
	}

	return &assay.Dataset{
		Runs: []assay.Run{r3, r1, r2},
		QPlates: []assay.QPlate{
			{Key: r1.Key, Number: 1, OverallQC: "PASS", QHighConc: fp(10)},
			{Key: r1.Key, Number: 2, OverallQC: "FAIL", QHighConc: fp(12)},
			{Key: r2.Key, Number: 1, OverallQC: "bogus"},
			{Key: r3.Key, Number: 1, OverallQC: "WARNING"},
		},
		Statistics: []assay.StatisticRow{},
	}
}

func newTestService(src *fakeSource) *Service {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	svc := NewService(log, src, qc.DefaultThresholds(), 2.0)
	svc.now = func() time.Time { return time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC) }

	return svc
}

func TestBuild_November(t *testing.T) {
	svc := newTestService(&fakeSource{ds: fixture(), instruments: []string{smx1, smx2}})

	c, err := assay.ParseCriteria("2025-11-01", "2025-11-30", "")
	require.NoError(t, err)

	v := svc.Build(context.Background(), c)

	assert.Empty(t, v.Diagnostic)
	assert.False(t, v.NoData)
	assert.Equal(t, "fake", v.Source)
	assert.Equal(t, []string{assay.AllInstruments, smx1, smx2}, v.Instruments)
	assert.Equal(t, 2, v.RunCount)
	assert.Equal(t, 3, v.QPlateCount)

	// Source order is kept for the run list.
	require.Len(t, v.Runs, 2)
	assert.Equal(t, "R1", v.Runs[0].Run.RunID)
	assert.Equal(t, "LHI-1 | 2025-11-03 10:00:00 | SMX-01", v.Runs[0].Label)
	assert.Equal(t, "SMX-01", v.Runs[0].ShortInstrument)

	st, ok := v.Runs[0].Status.Get(assay.FieldStd01RFU)
	require.True(t, ok)
	assert.Equal(t, qc.Good, st.Level)

	st, ok = v.Runs[1].Status.Get(assay.FieldStd07RFU)
	require.True(t, ok)
	assert.True(t, st.Missing)
	assert.Equal(t, qc.Unknown, st.Level)

	require.Len(t, v.Runs[0].QPlates, 2)
	assert.Equal(t, qc.Good, v.Runs[0].QPlates[0].Level)
	assert.Equal(t, qc.Bad, v.Runs[0].QPlates[1].Level)
	assert.Equal(t, qc.Unknown, v.Runs[1].QPlates[0].Level)

	assert.Equal(t, qc.LevelCounts{Good: 1, Bad: 1, Unknown: 1}, v.PlateQC)
	assert.Equal(t, qc.LevelCounts{Good: 1, Warning: 1}, v.SignalToNoise)

	// No rollup in the source: computed from the selection.
	assert.Equal(t, OriginComputed, v.StatisticsOrigin)
	require.NotEmpty(t, v.Statistics)
	assert.Equal(t, assay.FieldStd01RFU, v.Statistics[0].Metric)
	assert.Equal(t, 2, v.Statistics[0].Count)
}

func TestBuild_Trends(t *testing.T) {
	svc := newTestService(&fakeSource{ds: fixture()})

	v := svc.Build(context.Background(), assay.Criteria{})
	require.Len(t, v.Trends, len(TrendMetrics))

	byMetric := make(map[string]Trend, len(v.Trends))
	for _, tr := range v.Trends {
		byMetric[tr.Metric] = tr
	}

	sn := byMetric[assay.FieldSNStd7Blank]
	require.Len(t, sn.Points, 3)
	// Oldest first regardless of source order.
	assert.InDelta(t, 2.7, sn.Points[0].Value, 1e-9)
	assert.InDelta(t, 3.5, sn.Points[1].Value, 1e-9)
	assert.InDelta(t, 1.5, sn.Points[2].Value, 1e-9)
	assert.Equal(t, []ReferenceLine{
		{Kind: LineTarget, Value: 3.0},
		{Kind: LineWarning, Value: 2.5},
		{Kind: LineCritical, Value: 2.0},
	}, sn.Lines)

	std01 := byMetric[assay.FieldStd01RFU]
	assert.Len(t, std01.Points, 2)
	assert.Equal(t, []ReferenceLine{{Kind: LineTarget, Value: 40e6}}, std01.Lines)
	assert.Equal(t, []ReferenceBand{{Kind: LineTarget, Min: 39e6, Max: 41e6}}, std01.Bands)

	blank := byMetric[assay.FieldBlankRFU]
	assert.Empty(t, blank.Points)
	assert.Empty(t, blank.Lines)

	require.Len(t, v.SNByInstrument, 2)
	assert.Equal(t, smx1, v.SNByInstrument[0].Instrument)
	assert.Len(t, v.SNByInstrument[0].Values, 2)
}

func TestBuild_InstrumentFilter(t *testing.T) {
	svc := newTestService(&fakeSource{ds: fixture()})

	v := svc.Build(context.Background(), assay.Criteria{Instrument: smx2})

	require.Equal(t, 1, v.RunCount)
	assert.Equal(t, "R2", v.Runs[0].Run.RunID)
	assert.Equal(t, 1, v.QPlateCount)
	assert.Equal(t, qc.LevelCounts{Unknown: 1}, v.PlateQC)
}

func TestBuild_EmptySelection(t *testing.T) {
	svc := newTestService(&fakeSource{ds: fixture()})

	c, err := assay.ParseCriteria("2026-01-01", "2026-01-31", "")
	require.NoError(t, err)

	v := svc.Build(context.Background(), c)

	assert.True(t, v.NoData)
	assert.Empty(t, v.Diagnostic, "an empty selection is not an error")
	assert.NotNil(t, v.Runs)
	assert.Empty(t, v.Runs)
	assert.Zero(t, v.PlateQC.Total())
	assert.Empty(t, v.Statistics)
	assert.Equal(t, OriginComputed, v.StatisticsOrigin)

	for _, d := range v.Distributions {
		assert.Nil(t, d.Summary)
	}
}

func TestBuild_LoadFailure(t *testing.T) {
	svc := newTestService(&fakeSource{err: errors.New("network unreachable")})

	v := svc.Build(context.Background(), assay.Criteria{})

	assert.True(t, v.NoData)
	assert.Contains(t, v.Diagnostic, "network unreachable")
	assert.Equal(t, []string{assay.AllInstruments}, v.Instruments)
	assert.Empty(t, v.Runs)
}

func TestBuild_PrecomputedStatistics(t *testing.T) {
	ds := fixture()
	ds.Statistics = []assay.StatisticRow{{Metric: assay.FieldStd01RFU, Count: 99, Mean: 40e6}}

	svc := newTestService(&fakeSource{ds: ds})

	v := svc.Build(context.Background(), assay.Criteria{Instrument: smx2})

	assert.Equal(t, OriginPrecomputed, v.StatisticsOrigin)
	require.Len(t, v.Statistics, 1)
	assert.Equal(t, 99, v.Statistics[0].Count)
}

func TestBuild_NoCompletionTimes(t *testing.T) {
	ds := &assay.Dataset{
		Runs: []assay.Run{
			{Key: assay.Key{LHIID: "LHI-1"}, Instrument: smx1, SNStd7Blank: fp(3.2)},
			{Key: assay.Key{LHIID: "LHI-2"}, Instrument: smx2},
		},
	}

	svc := newTestService(&fakeSource{ds: ds})

	c, err := assay.ParseCriteria("2025-11-01", "2025-11-30", smx1)
	require.NoError(t, err)

	v := svc.Build(context.Background(), c)

	assert.True(t, v.DateBoundsIgnored)
	require.Equal(t, 1, v.RunCount)
	assert.Equal(t, "LHI-1", v.Runs[0].Run.LHIID)
	assert.Empty(t, v.Trends[0].Points, "runs without completion time have no trend position")
}

func TestBuild_InstrumentsFallback(t *testing.T) {
	svc := newTestService(&fakeSource{ds: fixture(), instErr: errors.New("unsupported")})

	v := svc.Build(context.Background(), assay.Criteria{})

	assert.Equal(t, []string{assay.AllInstruments, smx1, smx2}, v.Instruments)
}

func TestService_Instruments(t *testing.T) {
	svc := newTestService(&fakeSource{instruments: []string{smx1}})

	names, err := svc.Instruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{assay.AllInstruments, smx1}, names)

	svc = newTestService(&fakeSource{instErr: errors.New("offline")})

	_, err = svc.Instruments(context.Background())
	require.ErrorContains(t, err, "offline")
}
