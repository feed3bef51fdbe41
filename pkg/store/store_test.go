package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver:      config.DatabaseSQLite,
		AutoMigrate: true,
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "dna_monitoring.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func ts(s string) time.Time {
	t, err := assay.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}

	return t
}

func f(v float64) *float64 { return &v }

func seed(t *testing.T, s store.Store) ([]assay.Run, []assay.QPlate) {
	t.Helper()

	runs := []assay.Run{
		{
			Key:         assay.Key{RunID: "R1", LHIID: "LHI-1", Completed: ts("2025-11-01 09:00:00")},
			Instrument:  "SpectraMax - SMX-01",
			StdRead:     ts("2025-11-01 09:30:00"),
			Std01RFU:    f(41e6),
			Std07RFU:    f(350000),
			SNStd7Blank: f(3.5),
		},
		{
			Key:        assay.Key{RunID: "R2", LHIID: "LHI-2", Completed: ts("2025-11-05 14:00:00")},
			Instrument: "SpectraMax - SMX-02",
			Std01RFU:   f(39.5e6),
		},
		{
			Key:        assay.Key{RunID: "R3", LHIID: "LHI-3", Completed: ts("2025-11-10 08:15:00")},
			Instrument: "SpectraMax - SMX-01",
		},
	}

	plates := []assay.QPlate{
		{Key: runs[0].Key, Number: 1, QHighConc: f(10.5), OverallQC: "PASS", Instrument: runs[0].Instrument},
		{Key: runs[0].Key, Number: 2, QHighConc: f(11.0), OverallQC: "FAIL", Instrument: runs[0].Instrument},
		{Key: runs[1].Key, Number: 1, OverallQC: "WARNING", Instrument: runs[1].Instrument},
	}

	ctx := context.Background()
	require.NoError(t, s.UpsertRuns(ctx, runs))
	require.NoError(t, s.UpsertQPlates(ctx, plates))

	return runs, plates
}

func TestStore_ListRuns(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)

	got, err := s.ListRuns(context.Background(), assay.Criteria{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest completion first.
	assert.Equal(t, "R3", got[0].RunID)
	assert.Equal(t, "R2", got[1].RunID)
	assert.Equal(t, "R1", got[2].RunID)

	// Correlated plate count, zero for runs without plates.
	assert.Equal(t, 0, got[0].QPlateCount)
	assert.Equal(t, 1, got[1].QPlateCount)
	assert.Equal(t, 2, got[2].QPlateCount)

	r1 := got[2]
	assert.True(t, r1.Completed.Equal(ts("2025-11-01 09:00:00")))
	assert.True(t, r1.StdRead.Equal(ts("2025-11-01 09:30:00")))
	require.NotNil(t, r1.SNStd7Blank)
	assert.InDelta(t, 3.5, *r1.SNStd7Blank, 1e-9)
	assert.Nil(t, r1.BlankRFU, "missing readings stay missing")
}

func TestStore_ListRunsCriteria(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)

	tests := []struct {
		name       string
		from, to   string
		instrument string
		want       []string
	}{
		{
			name: "unbounded",
			want: []string{"R3", "R2", "R1"},
		},
		{
			name: "inclusive date-only range",
			from: "2025-11-01",
			to:   "2025-11-05",
			want: []string{"R2", "R1"},
		},
		{
			name: "single day",
			from: "2025-11-10",
			to:   "2025-11-10",
			want: []string{"R3"},
		},
		{
			name:       "instrument",
			instrument: "SpectraMax - SMX-01",
			want:       []string{"R3", "R1"},
		},
		{
			name:       "all instruments sentinel",
			instrument: assay.AllInstruments,
			want:       []string{"R3", "R2", "R1"},
		},
		{
			name:       "instrument and range",
			from:       "2025-11-02",
			instrument: "SpectraMax - SMX-01",
			want:       []string{"R3"},
		},
		{
			name: "no match",
			from: "2026-01-01",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := assay.ParseCriteria(tt.from, tt.to, tt.instrument)
			require.NoError(t, err)

			got, err := s.ListRuns(context.Background(), c)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.RunID)
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_ListQPlates(t *testing.T) {
	s := setupTestStore(t)
	runs, _ := seed(t, s)
	ctx := context.Background()

	all, err := s.ListQPlates(ctx, assay.Criteria{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "R2", all[0].RunID)
	assert.Equal(t, 1, all[1].Number)
	assert.Equal(t, 2, all[2].Number)

	c, err := assay.ParseCriteria("", "", "SpectraMax - SMX-01")
	require.NoError(t, err)

	onSMX01, err := s.ListQPlates(ctx, c)
	require.NoError(t, err)
	require.Len(t, onSMX01, 2)

	for _, p := range onSMX01 {
		assert.True(t, p.Key.Equal(runs[0].Key))
	}

	assert.Equal(t, "FAIL", onSMX01[1].OverallQC)
}

func TestStore_UpsertRunsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	runs, _ := seed(t, s)
	ctx := context.Background()

	runs[1].Std01RFU = f(40.5e6)
	require.NoError(t, s.UpsertRuns(ctx, runs))

	got, err := s.ListRuns(ctx, assay.Criteria{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.NotNil(t, got[1].Std01RFU)
	assert.InDelta(t, 40.5e6, *got[1].Std01RFU, 1e-3)
}

func TestStore_ListInstruments(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)

	got, err := s.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SpectraMax - SMX-01", "SpectraMax - SMX-02"}, got)
}

func TestStore_ReplaceStatistics(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inst := "SpectraMax - SMX-01"
	first := []assay.StatisticRow{
		{Metric: assay.FieldStd01RFU, Count: 2, Mean: 40e6, P50: 40e6},
		{Metric: assay.FieldStd01RFU, Instrument: &inst, Count: 1, Mean: 41e6},
	}

	require.NoError(t, s.ReplaceStatistics(ctx, first))

	got, err := s.ListStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "All Instruments", got[0].InstrumentName())
	assert.Equal(t, inst, got[1].InstrumentName())
	assert.Equal(t, 2, got[0].Count)

	second := []assay.StatisticRow{
		{Metric: assay.FieldSNStd7Blank, Count: 3, Mean: 3.2},
	}

	require.NoError(t, s.ReplaceStatistics(ctx, second))

	got, err = s.ListStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, assay.FieldSNStd7Blank, got[0].Metric)
	assert.InDelta(t, 3.2, got[0].Mean, 1e-9)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

// ingestionSchema is the layout written by the external ingestion job. Its
// statistics table has neither an id nor a sample_count column.
var ingestionSchema = []string{
	`CREATE TABLE runs (
		run_id TEXT, lhi_id TEXT, lhi_completion_datetime TEXT,
		instrument TEXT, std_read_datetime TEXT, std_delta_time_min REAL,
		std_01_rfu REAL, std_07_rfu REAL, blank_rfu REAL, sn_std7_blank REAL,
		PRIMARY KEY (run_id, lhi_id, lhi_completion_datetime))`,
	`CREATE TABLE qplates (
		run_id TEXT, lhi_id TEXT, lhi_completion_datetime TEXT,
		qplate_number INTEGER, qhigh_conc_ng_ul REAL, qlow_conc_ng_ul REAL,
		qblank_conc_ng_ul REAL, sn_qplate REAL, overall_plate_qc TEXT,
		read_datetime TEXT, delta_time_min REAL, instrument TEXT,
		PRIMARY KEY (run_id, lhi_id, lhi_completion_datetime, qplate_number))`,
	`CREATE TABLE statistics (
		metric_name TEXT, instrument TEXT, mean_value REAL, min_value REAL,
		max_value REAL, std_value REAL, p25_value REAL, p50_value REAL,
		p75_value REAL, p95_value REAL)`,
	`INSERT INTO runs VALUES ('R1', 'LHI-1', '2025-11-03 10:00:00',
		'SpectraMax - SMX-01', NULL, NULL, 40500000, 350000, 100000, 3.4)`,
	`INSERT INTO statistics VALUES ('std_01_rfu', NULL,
		40500000, 40500000, 40500000, 0, 40500000, 40500000, 40500000, 40500000)`,
}

type schemaEntry struct {
	Type string
	Name string
	SQL  *string
}

func schemaOf(t *testing.T, db *gorm.DB) []schemaEntry {
	t.Helper()

	var entries []schemaEntry
	require.NoError(t, db.Raw(
		"SELECT type, name, sql FROM sqlite_master ORDER BY type, name",
	).Scan(&entries).Error)

	return entries
}

func TestStore_DefaultConfigLeavesIngestionSchemaAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dna_monitoring.db")

	raw, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	for _, stmt := range ingestionSchema {
		require.NoError(t, raw.Exec(stmt).Error)
	}

	before := schemaOf(t, raw)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.False(t, cfg.Source.Local.Database.AutoMigrate)

	dbCfg := cfg.Source.Local.Database
	dbCfg.SQLite.Path = path

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, &dbCfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	runs, err := s.ListRuns(context.Background(), assay.Criteria{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "R1", runs[0].RunID)
	assert.Equal(t, 0, runs[0].QPlateCount)

	rows, err := s.ListStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, assay.FieldStd01RFU, rows[0].Metric)
	assert.Equal(t, 0, rows[0].Count, "no sample_count column")

	assert.Equal(t, before, schemaOf(t, raw))

	sqlDB, err := raw.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
