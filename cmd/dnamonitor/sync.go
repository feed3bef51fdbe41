package main

import (
	"context"
	"fmt"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/labqc/dnamonitor/pkg/source"
	"github.com/labqc/dnamonitor/pkg/stats"
	"github.com/labqc/dnamonitor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	syncDryRun  bool
	syncMigrate bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest the run log snapshot into the monitoring database",
	Long: `Download the configured spreadsheet snapshot, upsert its runs and Q-plates
into the local monitoring database and recompute the statistics rollup that
the dashboard reads.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false,
		"parse the snapshot and report counts without writing")
	syncCmd.Flags().BoolVar(&syncMigrate, "migrate", true,
		"create or update the monitoring tables before writing")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Source.Remote.Validate(); err != nil {
		return fmt.Errorf("validating remote source: %w", err)
	}

	if err := cfg.Source.Local.Database.Validate(); err != nil {
		return fmt.Errorf("validating local database: %w", err)
	}

	remote, err := source.NewRemote(log, &cfg.Source.Remote, metrics.New())
	if err != nil {
		return fmt.Errorf("creating remote source: %w", err)
	}

	// Readers never migrate by default; sync owns the schema it writes.
	cfg.Source.Local.Database.AutoMigrate = syncMigrate

	st := store.NewStore(log, &cfg.Source.Local.Database)

	start := time.Now()

	// Download the snapshot and open the database concurrently.
	var ds *assay.Dataset

	g, gctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		res := source.Load(gctx, remote, assay.Criteria{})
		if res.Failed() {
			return res.Err
		}

		ds = res.Dataset

		return nil
	})

	if !syncDryRun {
		g.Go(func() error {
			return st.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		_ = st.Stop()

		return fmt.Errorf("preparing sync: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close monitoring database")
		}
	}()

	rollup := stats.Compute(ds.Runs, ds.QPlates)

	fields := logrus.Fields{
		"runs":       len(ds.Runs),
		"qplates":    len(ds.QPlates),
		"statistics": len(rollup),
	}

	if syncDryRun {
		log.WithFields(fields).Info("Dry run, nothing written")

		return nil
	}

	if err := write(cmd.Context(), st, ds, rollup); err != nil {
		return err
	}

	fields["duration"] = time.Since(start).String()
	log.WithFields(fields).Info("Sync complete")

	return nil
}

// write stores runs before plates so every plate's run exists, then
// replaces the rollup.
func write(
	ctx context.Context, st store.Store, ds *assay.Dataset, rollup []assay.StatisticRow,
) error {
	if err := st.UpsertRuns(ctx, ds.Runs); err != nil {
		return fmt.Errorf("writing runs: %w", err)
	}

	if err := st.UpsertQPlates(ctx, ds.QPlates); err != nil {
		return fmt.Errorf("writing q-plates: %w", err)
	}

	if err := st.ReplaceStatistics(ctx, rollup); err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}

	return nil
}
