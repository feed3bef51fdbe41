package source

import (
	"context"
	"fmt"
	"os"
)

// Compile-time interface check.
var _ Fetcher = (*fileFetcher)(nil)

type fileFetcher struct {
	path    string
	maxSize int64
}

func newFileFetcher(path string, maxSize int64) *fileFetcher {
	return &fileFetcher{path: path, maxSize: maxSize}
}

func (f *fileFetcher) Key() string { return "file://" + f.path }

func (f *fileFetcher) Fetch(_ context.Context) ([]byte, error) {
	file, err := os.Open(f.path) //nolint:gosec // trusted path from config
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.path, err)
	}

	defer func() { _ = file.Close() }()

	data, err := readLimited(file, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	return data, nil
}
