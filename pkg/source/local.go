package source

import (
	"context"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Source = (*localSource)(nil)

type localSource struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewLocal creates a Source reading the monitoring database.
func NewLocal(log logrus.FieldLogger, st store.Store) Source {
	return &localSource{
		log:   log.WithField("component", "local-source"),
		store: st,
	}
}

func (s *localSource) Name() string { return config.SourceLocal }

func (s *localSource) Start(ctx context.Context) error {
	if err := s.store.Start(ctx); err != nil {
		return sourceError(s.Name(), OpConnect, err)
	}

	return nil
}

func (s *localSource) Stop() error {
	return s.store.Stop()
}

// Load queries runs and plates bounded by the criteria, and the whole
// statistics rollup.
func (s *localSource) Load(
	ctx context.Context, c assay.Criteria,
) (*assay.Dataset, error) {
	runs, err := s.store.ListRuns(ctx, c)
	if err != nil {
		return nil, sourceError(s.Name(), OpQuery, err)
	}

	plates, err := s.store.ListQPlates(ctx, c)
	if err != nil {
		return nil, sourceError(s.Name(), OpQuery, err)
	}

	statistics, err := s.store.ListStatistics(ctx)
	if err != nil {
		return nil, sourceError(s.Name(), OpQuery, err)
	}

	s.log.WithFields(logrus.Fields{
		"runs":       len(runs),
		"qplates":    len(plates),
		"statistics": len(statistics),
	}).Debug("Loaded dataset")

	return &assay.Dataset{
		Runs:       runs,
		QPlates:    plates,
		Statistics: statistics,
	}, nil
}

func (s *localSource) Instruments(ctx context.Context) ([]string, error) {
	names, err := s.store.ListInstruments(ctx)
	if err != nil {
		return nil, sourceError(s.Name(), OpQuery, err)
	}

	return names, nil
}
