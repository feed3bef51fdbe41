package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSheet = config.DefaultSheet

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// workbook builds an xlsx file with the given rows on sheet.
func workbook(t *testing.T, sheet string, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	_, err := f.NewSheet(sheet)
	require.NoError(t, err)

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	return buf.Bytes()
}

var runLogHeader = []any{
	"LHI Completion DateTime",
	"LHI ID",
	"SpectraMax Instrument",
	"Std Read DateTime",
	"Std Δ Time (min)",
	"Std-01 RFU (avg)",
	"Std-07 RFU (avg)",
	"Blank RFU (avg)",
	"Std S/N (Std7/Blank)",
	"Operator",
}

func runLog(t *testing.T) []byte {
	t.Helper()

	completed := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	return workbook(t, testSheet, [][]any{
		runLogHeader,
		{completed, "LHI-1", "SpectraMax - SMX-01", "2025-11-03 10:20:00", 20, 41000000, 350000, 120000, 3.5, "AB"},
		{},
		{"2025-11-05 14:00:00", "LHI-2", "SpectraMax - SMX-02", "", "", "#DIV/0!", 300000, 0, "", ""},
		{"2025-11-06", "LHI-3", "", "", "", 39500000, "", "", 2.7, "CD"},
	})
}

func newTestRemote(t *testing.T, fetcher Fetcher) *remoteSource {
	t.Helper()

	return newRemoteSource(testLogger(), testSheet, fetcher,
		newSnapshotCache(testLogger(), time.Hour, metrics.New()))
}

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot(runLog(t), testSheet)
	require.NoError(t, err)

	assert.Equal(t, []string{
		assay.FieldLHICompletion,
		assay.FieldLHIID,
		assay.FieldInstrument,
		assay.FieldStdRead,
		assay.FieldStdDeltaTimeMin,
		assay.FieldStd01RFU,
		assay.FieldStd07RFU,
		assay.FieldBlankRFU,
		assay.FieldSNStd7Blank,
		"Operator",
	}, snap.Headers)

	runs := snap.Dataset.Runs
	require.Len(t, runs, 3)
	assert.Equal(t, 1, snap.Skipped, "blank row")
	assert.Empty(t, snap.Dataset.QPlates, "no qplate_number column")
	assert.Empty(t, snap.Dataset.Statistics)

	r1 := runs[0]
	assert.Equal(t, "LHI-1", r1.LHIID)
	assert.Equal(t, "SpectraMax - SMX-01", r1.Instrument)
	assert.WithinDuration(t, time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), r1.Completed, time.Second)
	assert.Equal(t, time.Date(2025, 11, 3, 10, 20, 0, 0, time.UTC), r1.StdRead)
	require.NotNil(t, r1.Std01RFU)
	assert.InDelta(t, 41e6, *r1.Std01RFU, 1e-6)
	require.NotNil(t, r1.SNStd7Blank)
	assert.InDelta(t, 3.5, *r1.SNStd7Blank, 1e-9)
	assert.Equal(t, map[string]string{"Operator": "AB"}, r1.Extra)

	r2 := runs[1]
	assert.Equal(t, time.Date(2025, 11, 5, 14, 0, 0, 0, time.UTC), r2.Completed)
	assert.Nil(t, r2.Std01RFU, "unparseable numbers are missing, not zero")
	require.NotNil(t, r2.BlankRFU)
	assert.Zero(t, *r2.BlankRFU)
	assert.Nil(t, r2.SNStd7Blank)
	assert.Nil(t, r2.Extra)

	r3 := runs[2]
	assert.Empty(t, r3.Instrument)
	assert.Equal(t, time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC), r3.Completed)
}

func TestParseSnapshot_CanonicalHeadersPassThrough(t *testing.T) {
	data := workbook(t, testSheet, [][]any{
		{"run_id", "lhi_id", "lhi_completion_datetime", "instrument", "sn_std7_blank"},
		{"R1", "LHI-1", "2025-11-03 10:00:00", "SMX", 3.1},
	})

	snap, err := ParseSnapshot(data, testSheet)
	require.NoError(t, err)
	require.Len(t, snap.Dataset.Runs, 1)

	r := snap.Dataset.Runs[0]
	assert.Equal(t, "R1", r.RunID)
	assert.Equal(t, "SMX", r.Instrument)
	require.NotNil(t, r.SNStd7Blank)
	assert.InDelta(t, 3.1, *r.SNStd7Blank, 1e-9)
}

func TestParseSnapshot_QPlates(t *testing.T) {
	data := workbook(t, testSheet, [][]any{
		{"run_id", "lhi_id", "lhi_completion_datetime", "instrument", "qplate_number", "qhigh_conc_ng_ul", "overall_plate_qc"},
		{"R1", "LHI-1", "2025-11-03 10:00:00", "SMX", 1, 10.5, "PASS"},
		{"R1", "LHI-1", "2025-11-03 10:00:00", "SMX", 2, "", "FAIL"},
		{"R2", "LHI-2", "2025-11-04 10:00:00", "SMX", "", "", ""},
	})

	snap, err := ParseSnapshot(data, testSheet)
	require.NoError(t, err)

	runs := snap.Dataset.Runs
	require.Len(t, runs, 2, "one run per identity")
	assert.Equal(t, 2, runs[0].QPlateCount)
	assert.Equal(t, 0, runs[1].QPlateCount)

	plates := snap.Dataset.QPlates
	require.Len(t, plates, 2)
	assert.True(t, plates[0].Key.Equal(runs[0].Key))
	assert.Equal(t, 1, plates[0].Number)
	require.NotNil(t, plates[0].QHighConc)
	assert.InDelta(t, 10.5, *plates[0].QHighConc, 1e-9)
	assert.Nil(t, plates[1].QHighConc)
	assert.Equal(t, "FAIL", plates[1].OverallQC)
	assert.Equal(t, "SMX", plates[1].Instrument)
}

func TestParseSnapshot_Errors(t *testing.T) {
	t.Run("missing sheet", func(t *testing.T) {
		data := workbook(t, "Other", [][]any{{"LHI ID"}, {"LHI-1"}})

		_, err := ParseSnapshot(data, testSheet)
		require.Error(t, err)
		assert.Contains(t, err.Error(), testSheet)
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := ParseSnapshot([]byte("<html>not found</html>"), testSheet)
		require.Error(t, err)
	})

	t.Run("header only", func(t *testing.T) {
		snap, err := ParseSnapshot(workbook(t, testSheet, [][]any{runLogHeader}), testSheet)
		require.NoError(t, err)
		assert.True(t, snap.Dataset.Empty())
	})
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "LHI Completion DateTime", want: assay.FieldLHICompletion},
		{in: "  LHI ID ", want: assay.FieldLHIID},
		{in: "Std Δ Time (min)", want: assay.FieldStdDeltaTimeMin},
		{in: "Std S/N (Std7/Blank)", want: assay.FieldSNStd7Blank},
		{in: "std_01_rfu", want: assay.FieldStd01RFU},
		{in: "Notes", want: "Notes"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.in))
		})
	}
}

func TestRemoteSource_HTTP(t *testing.T) {
	data := runLog(t)

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	src := newTestRemote(t, newHTTPFetcher(srv.URL, 5*time.Second, 1<<20))
	ctx := context.Background()

	first := Load(ctx, src, assay.Criteria{})
	require.False(t, first.Failed(), first.Diagnostic())
	require.Len(t, first.Dataset.Runs, 3)

	second := Load(ctx, src, assay.Criteria{})
	require.False(t, second.Failed())

	assert.Equal(t, int32(1), hits.Load(), "second load is served from cache")
	assert.Equal(t, first.Dataset, second.Dataset)

	names, err := src.Instruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SpectraMax - SMX-01", "SpectraMax - SMX-02"}, names)
}

func TestRemoteSource_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := newTestRemote(t, newHTTPFetcher(srv.URL, 5*time.Second, 1<<20))

	res := Load(context.Background(), src, assay.Criteria{})
	require.True(t, res.Failed())
	require.NotNil(t, res.Dataset)
	assert.True(t, res.Dataset.Empty())
	assert.Empty(t, res.Dataset.QPlates)
	assert.Equal(t, OpFetch, res.Err.Op)
	assert.Equal(t, config.SourceRemote, res.Err.Source)
	assert.Contains(t, res.Diagnostic(), "404")
}

func TestRemoteSource_FetchTimeout(t *testing.T) {
	data := runLog(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			_, _ = w.Write(data)
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	src, err := NewRemote(testLogger(), &config.RemoteSourceConfig{
		URL:      srv.URL,
		Sheet:    testSheet,
		Timeout:  50 * time.Millisecond,
		CacheTTL: time.Hour,
		MaxSize:  "1MB",
	}, metrics.New())
	require.NoError(t, err)

	res := Load(context.Background(), src, assay.Criteria{})
	require.True(t, res.Failed(), "a slow snapshot server fails the load")
	require.NotNil(t, res.Dataset)
	assert.True(t, res.Dataset.Empty())
	assert.Empty(t, res.Dataset.Runs)
	assert.Equal(t, OpFetch, res.Err.Op)
	assert.NotEmpty(t, res.Diagnostic())
}

func TestRemoteSource_ReusesParsedSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runlog.xlsx")
	require.NoError(t, os.WriteFile(path, runLog(t), 0o644))

	src := newTestRemote(t, newFileFetcher(path, 1<<20))
	ctx := context.Background()

	first, err := src.snapshot(ctx)
	require.NoError(t, err)

	names, err := src.Instruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SpectraMax - SMX-01", "SpectraMax - SMX-02"}, names)

	second, err := src.snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second, "cached bytes are parsed once")

	ds, err := src.Load(ctx, assay.Criteria{})
	require.NoError(t, err)
	assert.NotSame(t, first.Dataset, ds, "loads get their own dataset header")
	assert.Len(t, ds.Runs, 3)

	require.NoError(t, src.Stop())

	third, err := src.snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "a refetch is parsed again")
}

func TestRemoteSource_FailuresNotCached(t *testing.T) {
	data := runLog(t)

	var fail atomic.Bool
	fail.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write(data)
	}))
	defer srv.Close()

	src := newTestRemote(t, newHTTPFetcher(srv.URL, 5*time.Second, 1<<20))
	ctx := context.Background()

	require.True(t, Load(ctx, src, assay.Criteria{}).Failed())

	fail.Store(false)

	res := Load(ctx, src, assay.Criteria{})
	require.False(t, res.Failed(), res.Diagnostic())
	assert.Len(t, res.Dataset.Runs, 3)
}

func TestRemoteSource_MissingSheet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runlog.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, "Other", [][]any{{"LHI ID"}}), 0o644))

	src := newTestRemote(t, newFileFetcher(path, 1<<20))

	res := Load(context.Background(), src, assay.Criteria{})
	require.True(t, res.Failed())
	assert.Equal(t, OpParse, res.Err.Op)
	assert.True(t, res.Dataset.Empty())
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runlog.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	t.Run("reads file", func(t *testing.T) {
		data, err := newFileFetcher(path, 64).Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte("0123456789"), data)
	})

	t.Run("enforces max size", func(t *testing.T) {
		_, err := newFileFetcher(path, 4).Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max size")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := newFileFetcher(filepath.Join(dir, "nope.xlsx"), 64).Fetch(context.Background())
		require.Error(t, err)
	})
}

type countingFetcher struct {
	calls atomic.Int32
	delay time.Duration
	data  []byte
	err   error
}

func (f *countingFetcher) Key() string { return "test://snapshot" }

func (f *countingFetcher) Fetch(context.Context) ([]byte, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)

	return f.data, f.err
}

func TestSnapshotCache_CoalescesConcurrentMisses(t *testing.T) {
	f := &countingFetcher{delay: 50 * time.Millisecond, data: []byte("snapshot")}
	c := newSnapshotCache(testLogger(), time.Hour, nil)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			data, err := c.Get(context.Background(), f)
			assert.NoError(t, err)
			assert.Equal(t, []byte("snapshot"), data)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

// blockingFetcher waits for release and fails if its context was
// cancelled meanwhile.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Key() string { return "test://blocking" }

func (f *blockingFetcher) Fetch(ctx context.Context) ([]byte, error) {
	close(f.started)
	<-f.release

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []byte("snapshot"), nil
}

func TestSnapshotCache_CallerCancelDoesNotFailWaiters(t *testing.T) {
	f := &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newSnapshotCache(testLogger(), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())

	firstErr := make(chan error, 1)

	go func() {
		_, err := c.Get(ctx, f)
		firstErr <- err
	}()

	<-f.started

	waiter := make(chan []byte, 1)

	go func() {
		data, err := c.Get(context.Background(), f)
		assert.NoError(t, err)
		waiter <- data
	}()

	// Let the second caller join the in-flight fetch before it finishes.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(f.release)

	require.NoError(t, <-firstErr)
	assert.Equal(t, []byte("snapshot"), <-waiter)
}

func TestSnapshotCache_Expiry(t *testing.T) {
	f := &countingFetcher{data: []byte("snapshot")}
	c := newSnapshotCache(testLogger(), 20*time.Millisecond, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, f)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = c.Get(ctx, f)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
}

func TestSnapshotCache_Error(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	c := newSnapshotCache(testLogger(), time.Hour, nil)

	_, err := c.Get(context.Background(), f)
	require.Error(t, err)

	_, err = c.Get(context.Background(), f)
	require.Error(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
}
