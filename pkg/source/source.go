// Package source loads runs, Q-plates and statistics from the monitoring
// database or from a spreadsheet snapshot of the run log.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/config"
	"github.com/labqc/dnamonitor/pkg/metrics"
	"github.com/labqc/dnamonitor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Source produces datasets for the dashboard pipeline.
type Source interface {
	Start(ctx context.Context) error
	Stop() error

	// Name identifies the source kind ("local" or "remote").
	Name() string
	// Load returns runs, plates and statistics. Sources may apply the
	// criteria themselves; callers still run the filter stage.
	Load(ctx context.Context, c assay.Criteria) (*assay.Dataset, error)
	// Instruments lists the known instrument names, sorted.
	Instruments(ctx context.Context) ([]string, error)
}

// Operations reported in a DataSourceError.
const (
	OpConnect = "connect"
	OpQuery   = "query"
	OpFetch   = "fetch"
	OpParse   = "parse"
	OpLoad    = "load"
)

// DataSourceError is a load failure. It never escapes Load as a fault;
// callers receive it as a diagnostic next to an empty dataset.
type DataSourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s source: %s: %v", e.Source, e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

func sourceError(source, op string, err error) *DataSourceError {
	return &DataSourceError{Source: source, Op: op, Err: err}
}

// Result is the outcome of a guarded load. Dataset is never nil.
type Result struct {
	Dataset *assay.Dataset
	Err     *DataSourceError
}

// Failed reports whether the load failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Diagnostic is a human-readable description of a load failure, or "".
func (r Result) Diagnostic() string {
	if r.Err == nil {
		return ""
	}

	switch r.Err.Op {
	case OpFetch:
		return fmt.Sprintf("Could not download the run log snapshot: %v", r.Err.Err)
	case OpParse:
		return fmt.Sprintf("Could not read the run log snapshot: %v", r.Err.Err)
	case OpConnect, OpQuery:
		return fmt.Sprintf("Could not read the monitoring database: %v", r.Err.Err)
	default:
		return fmt.Sprintf("Could not load data from the %s source: %v", r.Err.Source, r.Err.Err)
	}
}

// Load runs src.Load and converts every failure, including a panic in a
// parser, into a Result with an empty dataset and a DataSourceError.
func Load(ctx context.Context, src Source, c assay.Criteria) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Dataset: assay.NewDataset(),
				Err:     sourceError(src.Name(), OpLoad, fmt.Errorf("panic: %v", r)),
			}
		}
	}()

	ds, err := src.Load(ctx, c)
	if err != nil {
		var dse *DataSourceError
		if !errors.As(err, &dse) {
			dse = sourceError(src.Name(), OpLoad, err)
		}

		return Result{Dataset: assay.NewDataset(), Err: dse}
	}

	if ds == nil {
		ds = assay.NewDataset()
	}

	return Result{Dataset: normalize(ds)}
}

// normalize replaces nil sequences with empty ones.
func normalize(ds *assay.Dataset) *assay.Dataset {
	if ds.Runs == nil {
		ds.Runs = []assay.Run{}
	}

	if ds.QPlates == nil {
		ds.QPlates = []assay.QPlate{}
	}

	if ds.Statistics == nil {
		ds.Statistics = []assay.StatisticRow{}
	}

	return ds
}

// New builds the source selected by cfg.Driver.
func New(
	log logrus.FieldLogger,
	cfg *config.SourceConfig,
	m *metrics.Metrics,
) (Source, error) {
	var src Source

	switch cfg.Driver {
	case config.SourceLocal:
		src = NewLocal(log, store.NewStore(log, &cfg.Local.Database))
	case config.SourceRemote:
		remote, err := NewRemote(log, &cfg.Remote, m)
		if err != nil {
			return nil, err
		}

		src = remote
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Driver)
	}

	return &instrumented{Source: src, metrics: m}, nil
}

// instrumented records load metrics around a Source.
type instrumented struct {
	Source
	metrics *metrics.Metrics
}

func (i *instrumented) Load(
	ctx context.Context, c assay.Criteria,
) (*assay.Dataset, error) {
	start := time.Now()

	ds, err := i.Source.Load(ctx, c)

	runs := 0
	if ds != nil {
		runs = len(ds.Runs)
	}

	i.metrics.ObserveLoad(i.Name(), time.Since(start), runs, err)

	return ds, err
}
