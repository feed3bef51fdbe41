package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/dashboard"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	svc        *dashboard.Service
	metrics    *metrics.Metrics
	limiter    *rateLimiterMap
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server serving dashboard views from svc.
// m may be nil, in which case /metrics is not mounted.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	svc *dashboard.Service,
	m *metrics.Metrics,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Start binds the listener and serves HTTP in the background.
func (s *server) Start(_ context.Context) error {
	if s.cfg.Server.RateLimit.Enabled {
		s.limiter = newRateLimiterMap(s.cfg.Server.RateLimit.RequestsPerMinute, s.done)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen": ln.Addr().String(),
			"source": s.svc.SourceName(),
		}).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}

func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}
