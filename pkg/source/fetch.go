package source

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/labqc/dnamonitor/pkg/config"
)

// Fetcher retrieves the raw bytes of the snapshot workbook.
type Fetcher interface {
	// Key identifies the resource; it keys the snapshot cache.
	Key() string
	Fetch(ctx context.Context) ([]byte, error)
}

// NewFetcher returns the fetcher for the configured snapshot location.
func NewFetcher(cfg *config.RemoteSourceConfig) (Fetcher, error) {
	maxSize, err := cfg.MaxSizeBytes()
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.S3.Enabled:
		return newS3Fetcher(&cfg.S3, cfg.Timeout, maxSize), nil
	case cfg.File != "":
		return newFileFetcher(cfg.File, maxSize), nil
	case cfg.URL != "":
		return newHTTPFetcher(cfg.URL, cfg.Timeout, maxSize), nil
	default:
		return nil, fmt.Errorf("no snapshot location configured")
	}
}

// readLimited reads r fully, failing once more than limit bytes arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("snapshot exceeds max size of %s",
			units.BytesSize(float64(limit)))
	}

	return data, nil
}
