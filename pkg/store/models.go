package store

import (
	"github.com/labqc/dnamonitor/pkg/assay"
)

// Run is a row of the runs table. Column names match the ingestion job's
// schema; timestamps are text in assay.TimestampLayout.
type Run struct {
	RunID           string   `gorm:"column:run_id;primaryKey"`
	LHIID           string   `gorm:"column:lhi_id;primaryKey"`
	LHICompletion   string   `gorm:"column:lhi_completion_datetime;primaryKey"`
	Instrument      *string  `gorm:"column:instrument;index"`
	StdReadDatetime *string  `gorm:"column:std_read_datetime"`
	StdDeltaTimeMin *float64 `gorm:"column:std_delta_time_min"`
	Std01RFU        *float64 `gorm:"column:std_01_rfu"`
	Std07RFU        *float64 `gorm:"column:std_07_rfu"`
	BlankRFU        *float64 `gorm:"column:blank_rfu"`
	SNStd7Blank     *float64 `gorm:"column:sn_std7_blank"`
}

// TableName overrides the gorm default.
func (Run) TableName() string { return "runs" }

// QPlate is a row of the qplates table.
type QPlate struct {
	RunID          string   `gorm:"column:run_id;primaryKey"`
	LHIID          string   `gorm:"column:lhi_id;primaryKey"`
	LHICompletion  string   `gorm:"column:lhi_completion_datetime;primaryKey"`
	QPlateNumber   int      `gorm:"column:qplate_number;primaryKey;autoIncrement:false"`
	QHighConcNgUL  *float64 `gorm:"column:qhigh_conc_ng_ul"`
	QLowConcNgUL   *float64 `gorm:"column:qlow_conc_ng_ul"`
	QBlankConcNgUL *float64 `gorm:"column:qblank_conc_ng_ul"`
	SNQPlate       *float64 `gorm:"column:sn_qplate"`
	OverallPlateQC *string  `gorm:"column:overall_plate_qc"`
	ReadDatetime   *string  `gorm:"column:read_datetime"`
	DeltaTimeMin   *float64 `gorm:"column:delta_time_min"`
	Instrument     *string  `gorm:"column:instrument"`
}

// TableName overrides the gorm default.
func (QPlate) TableName() string { return "qplates" }

// Statistic is a row of the statistics rollup table.
type Statistic struct {
	ID         uint    `gorm:"column:id;primaryKey"`
	MetricName string  `gorm:"column:metric_name;not null;index"`
	Instrument *string `gorm:"column:instrument"`
	Count      int     `gorm:"column:sample_count"`
	MeanValue  float64 `gorm:"column:mean_value"`
	MinValue   float64 `gorm:"column:min_value"`
	MaxValue   float64 `gorm:"column:max_value"`
	StdValue   float64 `gorm:"column:std_value"`
	P25Value   float64 `gorm:"column:p25_value"`
	P50Value   float64 `gorm:"column:p50_value"`
	P75Value   float64 `gorm:"column:p75_value"`
	P95Value   float64 `gorm:"column:p95_value"`
}

// TableName overrides the gorm default.
func (Statistic) TableName() string { return "statistics" }

// runRow is a runs row with its correlated plate count.
type runRow struct {
	Run         `gorm:"embedded"`
	QPlateCount *int64 `gorm:"column:qplate_count"`
}

func (r *runRow) toAssay() assay.Run {
	out := assay.Run{
		Key:             key(r.RunID, r.LHIID, r.LHICompletion),
		Instrument:      deref(r.Instrument),
		StdRead:         parseTime(r.StdReadDatetime),
		StdDeltaTimeMin: r.StdDeltaTimeMin,
		Std01RFU:        r.Std01RFU,
		Std07RFU:        r.Std07RFU,
		BlankRFU:        r.BlankRFU,
		SNStd7Blank:     r.SNStd7Blank,
	}

	if r.QPlateCount != nil {
		out.QPlateCount = int(*r.QPlateCount)
	}

	return out
}

func runFromAssay(r *assay.Run) Run {
	return Run{
		RunID:           r.RunID,
		LHIID:           r.LHIID,
		LHICompletion:   assay.FormatTimestamp(r.Completed),
		Instrument:      nullable(r.Instrument),
		StdReadDatetime: nullable(assay.FormatTimestamp(r.StdRead)),
		StdDeltaTimeMin: r.StdDeltaTimeMin,
		Std01RFU:        r.Std01RFU,
		Std07RFU:        r.Std07RFU,
		BlankRFU:        r.BlankRFU,
		SNStd7Blank:     r.SNStd7Blank,
	}
}

func (p *QPlate) toAssay() assay.QPlate {
	return assay.QPlate{
		Key:          key(p.RunID, p.LHIID, p.LHICompletion),
		Number:       p.QPlateNumber,
		QHighConc:    p.QHighConcNgUL,
		QLowConc:     p.QLowConcNgUL,
		QBlankConc:   p.QBlankConcNgUL,
		SNQPlate:     p.SNQPlate,
		OverallQC:    deref(p.OverallPlateQC),
		Read:         parseTime(p.ReadDatetime),
		DeltaTimeMin: p.DeltaTimeMin,
		Instrument:   deref(p.Instrument),
	}
}

func qplateFromAssay(p *assay.QPlate) QPlate {
	return QPlate{
		RunID:          p.RunID,
		LHIID:          p.LHIID,
		LHICompletion:  assay.FormatTimestamp(p.Completed),
		QPlateNumber:   p.Number,
		QHighConcNgUL:  p.QHighConc,
		QLowConcNgUL:   p.QLowConc,
		QBlankConcNgUL: p.QBlankConc,
		SNQPlate:       p.SNQPlate,
		OverallPlateQC: nullable(p.OverallQC),
		ReadDatetime:   nullable(assay.FormatTimestamp(p.Read)),
		DeltaTimeMin:   p.DeltaTimeMin,
		Instrument:     nullable(p.Instrument),
	}
}

func (s *Statistic) toAssay() assay.StatisticRow {
	return assay.StatisticRow{
		Metric:     s.MetricName,
		Instrument: s.Instrument,
		Count:      s.Count,
		Mean:       s.MeanValue,
		Min:        s.MinValue,
		Max:        s.MaxValue,
		StdDev:     s.StdValue,
		P25:        s.P25Value,
		P50:        s.P50Value,
		P75:        s.P75Value,
		P95:        s.P95Value,
	}
}

func statisticFromAssay(r *assay.StatisticRow) Statistic {
	return Statistic{
		MetricName: r.Metric,
		Instrument: r.Instrument,
		Count:      r.Count,
		MeanValue:  r.Mean,
		MinValue:   r.Min,
		MaxValue:   r.Max,
		StdValue:   r.StdDev,
		P25Value:   r.P25,
		P50Value:   r.P50,
		P75Value:   r.P75,
		P95Value:   r.P95,
	}
}
