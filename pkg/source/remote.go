package source

import (
	"context"
	"sort"
	"sync"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Source = (*remoteSource)(nil)

type remoteSource struct {
	log     logrus.FieldLogger
	sheet   string
	fetcher Fetcher
	cache   *snapshotCache

	// parsed is the snapshot decoded from parsedFrom, the cached bytes it
	// was read from. It is reused while the cache returns the same bytes.
	mu         sync.Mutex
	parsedFrom []byte
	parsed     *Snapshot
}

// NewRemote creates a Source reading a spreadsheet snapshot of the run log.
func NewRemote(
	log logrus.FieldLogger,
	cfg *config.RemoteSourceConfig,
	m *metrics.Metrics,
) (Source, error) {
	fetcher, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}

	return newRemoteSource(log, cfg.Sheet, fetcher, newSnapshotCache(
		log.WithField("component", "snapshot-cache"), cfg.CacheTTL, m,
	)), nil
}

func newRemoteSource(
	log logrus.FieldLogger, sheet string, fetcher Fetcher, cache *snapshotCache,
) *remoteSource {
	return &remoteSource{
		log:     log.WithField("component", "remote-source"),
		sheet:   sheet,
		fetcher: fetcher,
		cache:   cache,
	}
}

func (s *remoteSource) Name() string { return config.SourceRemote }

func (s *remoteSource) Start(_ context.Context) error {
	s.log.WithFields(logrus.Fields{
		"resource": s.fetcher.Key(),
		"sheet":    s.sheet,
	}).Info("Remote snapshot source configured")

	return nil
}

func (s *remoteSource) Stop() error {
	s.cache.Flush()

	s.mu.Lock()
	s.parsedFrom, s.parsed = nil, nil
	s.mu.Unlock()

	return nil
}

// Load returns every run of the snapshot; the filter stage applies the
// criteria. The snapshot carries no statistics rollup.
func (s *remoteSource) Load(
	ctx context.Context, _ assay.Criteria,
) (*assay.Dataset, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// The snapshot is shared between loads; hand out a copy of the header.
	ds := *snap.Dataset

	return &ds, nil
}

func (s *remoteSource) Instruments(ctx context.Context) ([]string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	names := assay.Instruments(snap.Dataset.Runs)
	sort.Strings(names)

	return names, nil
}

func (s *remoteSource) snapshot(ctx context.Context) (*Snapshot, error) {
	data, err := s.cache.Get(ctx, s.fetcher)
	if err != nil {
		return nil, sourceError(s.Name(), OpFetch, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parsed != nil && sameBytes(s.parsedFrom, data) {
		return s.parsed, nil
	}

	snap, err := ParseSnapshot(data, s.sheet)
	if err != nil {
		return nil, sourceError(s.Name(), OpParse, err)
	}

	s.parsedFrom, s.parsed = data, snap

	s.log.WithFields(logrus.Fields{
		"runs":    len(snap.Dataset.Runs),
		"qplates": len(snap.Dataset.QPlates),
		"skipped": snap.Skipped,
	}).Debug("Parsed snapshot")

	return snap, nil
}

// sameBytes reports whether a and b are the same backing array, which is
// how the cache hands out one entry to every reader.
func sameBytes(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}
