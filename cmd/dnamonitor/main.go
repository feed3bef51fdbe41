package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "dnamonitor",
	Short: "DNA quantitation assay QC monitor",
	Long: `dnamonitor reads the DNA quantitation run log from a local database or a
spreadsheet snapshot, classifies calibration readings against QC thresholds
and serves the resulting dashboard over HTTP or as a report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}

		return setLogLevel(logLevel)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dnamonitor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&cfgFiles, "config", nil,
		"config file path (repeat to merge several files in order)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level ("+strings.Join(logLevels(), ", ")+"); overrides global.log_level")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the configuration. The config log level
// applies unless --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if logLevel == "" {
		if err := setLogLevel(cfg.Global.LogLevel); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setLogLevel(s string) error {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", s, err)
	}

	log.SetLevel(level)

	return nil
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
