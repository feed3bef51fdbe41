// Package store provides access to the monitoring database written by the
// ingestion job: runs, Q-plates and the statistics rollup.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store reads and, for sync, writes the monitoring database.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ListRuns returns runs matching the criteria, newest first, each with
	// its Q-plate count.
	ListRuns(ctx context.Context, c assay.Criteria) ([]assay.Run, error)
	// ListQPlates returns the plates of runs matching the criteria.
	ListQPlates(ctx context.Context, c assay.Criteria) ([]assay.QPlate, error)
	ListStatistics(ctx context.Context) ([]assay.StatisticRow, error)
	ListInstruments(ctx context.Context) ([]string, error)

	UpsertRuns(ctx context.Context, runs []assay.Run) error
	UpsertQPlates(ctx context.Context, plates []assay.QPlate) error
	ReplaceStatistics(ctx context.Context, rows []assay.StatisticRow) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

const batchSize = 100

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and, when enabled, runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.DatabaseSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DatabasePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening monitoring database: %w", err)
	}

	s.db = db

	if s.cfg.AutoMigrate {
		if err := s.db.WithContext(ctx).AutoMigrate(
			&Run{},
			&QPlate{},
			&Statistic{},
		); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"driver":       s.cfg.Driver,
		"auto_migrate": s.cfg.AutoMigrate,
	}).Info("Monitoring database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// plateCountSQL counts the plates sharing a run's identity triple.
const plateCountSQL = `(SELECT COUNT(*) FROM qplates q
	WHERE q.run_id = r.run_id
	AND q.lhi_id = r.lhi_id
	AND q.lhi_completion_datetime = r.lhi_completion_datetime) AS qplate_count`

func (s *store) ListRuns(ctx context.Context, c assay.Criteria) ([]assay.Run, error) {
	var rows []runRow

	q := s.db.WithContext(ctx).
		Table("runs AS r").
		Select("r.*, " + plateCountSQL)
	q = whereCriteria(q, "r", c)

	if err := q.Order("r.lhi_completion_datetime DESC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	out := make([]assay.Run, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAssay())
	}

	return out, nil
}

func (s *store) ListQPlates(
	ctx context.Context, c assay.Criteria,
) ([]assay.QPlate, error) {
	var rows []QPlate

	q := s.db.WithContext(ctx).Table("qplates AS q").Select("q.*")

	if c.HasDateBounds() || c.InstrumentFilter() != "" {
		runs := s.db.Table("runs AS r").
			Select("1").
			Where("r.run_id = q.run_id AND r.lhi_id = q.lhi_id" +
				" AND r.lhi_completion_datetime = q.lhi_completion_datetime")
		runs = whereCriteria(runs, "r", c)

		q = q.Where("EXISTS (?)", runs)
	}

	if err := q.Order("q.lhi_completion_datetime DESC, q.qplate_number").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing qplates: %w", err)
	}

	out := make([]assay.QPlate, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAssay())
	}

	return out, nil
}

func (s *store) ListStatistics(ctx context.Context) ([]assay.StatisticRow, error) {
	var rows []Statistic
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing statistics: %w", err)
	}

	out := make([]assay.StatisticRow, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAssay())
	}

	return out, nil
}

func (s *store) ListInstruments(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("instrument IS NOT NULL AND instrument <> ''").
		Distinct().
		Order("instrument").
		Pluck("instrument", &names).Error; err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}

	return names, nil
}

// UpsertRuns inserts runs or updates them in place keyed by identity.
func (s *store) UpsertRuns(ctx context.Context, runs []assay.Run) error {
	if len(runs) == 0 {
		return nil
	}

	rows := make([]Run, 0, len(runs))
	for i := range runs {
		rows = append(rows, runFromAssay(&runs[i]))
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error; err != nil {
		return fmt.Errorf("upserting runs: %w", err)
	}

	return nil
}

// UpsertQPlates inserts plates or updates them in place keyed by identity.
func (s *store) UpsertQPlates(ctx context.Context, plates []assay.QPlate) error {
	if len(plates) == 0 {
		return nil
	}

	rows := make([]QPlate, 0, len(plates))
	for i := range plates {
		rows = append(rows, qplateFromAssay(&plates[i]))
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error; err != nil {
		return fmt.Errorf("upserting qplates: %w", err)
	}

	return nil
}

// ReplaceStatistics swaps the whole rollup in one transaction.
func (s *store) ReplaceStatistics(
	ctx context.Context, rows []assay.StatisticRow,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Statistic{}).Error; err != nil {
			return fmt.Errorf("clearing statistics: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}

		models := make([]Statistic, 0, len(rows))
		for i := range rows {
			models = append(models, statisticFromAssay(&rows[i]))
		}

		if err := tx.CreateInBatches(models, batchSize).Error; err != nil {
			return fmt.Errorf("inserting statistics: %w", err)
		}

		return nil
	})
}

// whereCriteria adds the date range and instrument conditions on the runs
// table aliased as alias. Values are always bound as parameters.
func whereCriteria(q *gorm.DB, alias string, c assay.Criteria) *gorm.DB {
	col := func(name string) string { return alias + "." + name }

	if !c.From.IsZero() {
		q = q.Where(col("lhi_completion_datetime")+" >= ?", assay.FormatTimestamp(c.From))
	}

	if !c.To.IsZero() {
		q = q.Where(col("lhi_completion_datetime")+" <= ?", assay.FormatTimestamp(c.To))
	}

	if inst := c.InstrumentFilter(); inst != "" {
		q = q.Where(col("instrument")+" = ?", inst)
	}

	return q
}

func key(runID, lhiID, completed string) assay.Key {
	return assay.Key{
		RunID:     runID,
		LHIID:     lhiID,
		Completed: parseTime(&completed),
	}
}

// parseTime parses a stored timestamp. Missing or unreadable text yields the
// zero time, which downstream treats as "no timestamp".
func parseTime(s *string) time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return time.Time{}
	}

	t, err := assay.ParseTimestamp(*s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
