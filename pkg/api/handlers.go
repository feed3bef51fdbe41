package api

import (
	"encoding/json"
	"net/http"

	"github.com/labqc/dnamonitor/pkg/assay"
	"github.com/labqc/dnamonitor/pkg/dashboard"
	"github.com/labqc/dnamonitor/pkg/qc"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Dashboard handlers ---

type configResponse struct {
	Source      string        `json:"source"`
	DefaultFrom string        `json:"default_from"`
	SNCritical  float64       `json:"sn_critical"`
	Thresholds  qc.Thresholds `json:"thresholds"`
}

// handleConfig returns the settings a client needs to render the dashboard.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		Source:      s.svc.SourceName(),
		DefaultFrom: s.cfg.Dashboard.DefaultFrom,
		SNCritical:  s.cfg.QC.SNCritical,
		Thresholds:  s.svc.Thresholds(),
	})
}

type instrumentsResponse struct {
	Instruments []string `json:"instruments"`
	Diagnostic  string   `json:"diagnostic,omitempty"`
}

// handleInstruments lists the instrument selector entries.
func (s *server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.Instruments(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("Listing instruments failed")

		writeJSON(w, http.StatusOK, instrumentsResponse{
			Instruments: []string{assay.AllInstruments},
			Diagnostic:  err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, instrumentsResponse{Instruments: names})
}

// handleDashboard returns the full view for the requested selection.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	c, ok := s.criteria(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, s.svc.Build(r.Context(), c))
}

type runsResponse struct {
	Criteria    assay.Criteria      `json:"criteria"`
	Diagnostic  string              `json:"diagnostic,omitempty"`
	NoData      bool                `json:"no_data"`
	RunCount    int                 `json:"run_count"`
	QPlateCount int                 `json:"qplate_count"`
	Runs        []dashboard.RunView `json:"runs"`
}

// handleRuns returns the classified run list for the selection.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	c, ok := s.criteria(w, r)
	if !ok {
		return
	}

	v := s.svc.Build(r.Context(), c)

	writeJSON(w, http.StatusOK, runsResponse{
		Criteria:    v.Criteria,
		Diagnostic:  v.Diagnostic,
		NoData:      v.NoData,
		RunCount:    v.RunCount,
		QPlateCount: v.QPlateCount,
		Runs:        v.Runs,
	})
}

type statisticsResponse struct {
	Criteria   assay.Criteria             `json:"criteria"`
	Diagnostic string                     `json:"diagnostic,omitempty"`
	Origin     dashboard.StatisticsOrigin `json:"origin"`
	Statistics []assay.StatisticRow       `json:"statistics"`
}

// handleStatistics returns the summary statistics for the selection.
func (s *server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	c, ok := s.criteria(w, r)
	if !ok {
		return
	}

	v := s.svc.Build(r.Context(), c)

	writeJSON(w, http.StatusOK, statisticsResponse{
		Criteria:   v.Criteria,
		Diagnostic: v.Diagnostic,
		Origin:     v.StatisticsOrigin,
		Statistics: v.Statistics,
	})
}

// criteria parses the from, to and instrument query parameters. An absent
// from falls back to the configured default; an empty one is unbounded.
// On failure a 400 has already been written.
func (s *server) criteria(w http.ResponseWriter, r *http.Request) (assay.Criteria, bool) {
	q := r.URL.Query()

	from := s.cfg.Dashboard.DefaultFrom
	if q.Has("from") {
		from = q.Get("from")
	}

	c, err := assay.ParseCriteria(from, q.Get("to"), q.Get("instrument"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return assay.Criteria{}, false
	}

	return c, true
}
