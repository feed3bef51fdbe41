package main

import (
	"fmt"
	"io"
	"os"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/dashboard"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/labqc/dnamonitor/pkg/report"
	"github.com/labqc/dnamonitor/pkg/source"
	"github.com/spf13/cobra"
)

var (
	reportFrom       string
	reportTo         string
	reportInstrument string
	reportFormat     string
	reportOutput     string
	reportMaxChars   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the QC dashboard for a date range",
	Long: `Build the dashboard for the selected date range and instrument and print
it as Markdown, JSON or YAML. Without --from the dashboard.default_from date
is used; pass --from "" for an unbounded range.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportFrom, "from", "",
		"first completion date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportTo, "to", "",
		"last completion date (YYYY-MM-DD, inclusive)")
	reportCmd.Flags().StringVar(&reportInstrument, "instrument", "",
		"restrict to one instrument")
	reportCmd.Flags().StringVar(&reportFormat, "format", string(report.FormatMarkdown),
		"output format (markdown, json, yaml)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"write to file instead of stdout")
	reportCmd.Flags().IntVar(&reportMaxChars, "max-chars", 0,
		"cap markdown output at this many characters (0 = unlimited)")
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	from := cfg.Dashboard.DefaultFrom
	if cmd.Flags().Changed("from") {
		from = reportFrom
	}

	criteria, err := assay.ParseCriteria(from, reportTo, reportInstrument)
	if err != nil {
		return fmt.Errorf("parsing selection: %w", err)
	}

	ctx := cmd.Context()

	src, err := source.New(log, &cfg.Source, metrics.New())
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("starting %s source: %w", src.Name(), err)
	}

	defer func() {
		if err := src.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop source")
		}
	}()

	view := dashboard.NewService(log, src, cfg.Thresholds(), cfg.QC.SNCritical).
		Build(ctx, criteria)

	var w io.Writer = os.Stdout

	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", reportOutput, err)
		}
		defer f.Close()

		w = f
	}

	if err := report.Render(w, view, format, report.Options{MaxChars: reportMaxChars}); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	if reportOutput != "" {
		log.WithField("path", reportOutput).Info("Report written")
	}

	return nil
}
