package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labqc/dnamonitor/pkg/api"
	"github.com/labqc/dnamonitor/pkg/dashboard"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/labqc/dnamonitor/pkg/source"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	Long:  `Serve the QC dashboard, run list and statistics as JSON over HTTP.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	src, err := source.New(log, &cfg.Source, m)
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

	svc := dashboard.NewService(log, src, cfg.Thresholds(), cfg.QC.SNCritical)
	srv := api.NewServer(log, cfg, svc, m)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
