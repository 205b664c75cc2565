package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmail_verdicts_total",
			Help: "Classification verdicts by applied label",
		},
		[]string{"label"},
	)

	VerdictConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmail_verdict_confidence",
			Help:    "Top-class probability of each verdict",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99, 1.0},
		},
	)

	RecordErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmail_record_errors_total",
			Help: "Per-record failures isolated during batch runs",
		},
		[]string{"stage"},
	)

	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmail_training_runs_total",
			Help: "Delta training runs by outcome",
		},
		[]string{"outcome"},
	)

	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmail_training_duration_seconds",
			Help:    "Wall time of delta training runs that trained",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	TrainedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobmail_trained_rows",
			Help: "Training cursor after the last successful run",
		},
	)

	SyncedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmail_synced_records_total",
			Help: "Labelled records appended to the record store by mailbox sync",
		},
	)
)

var registerOnce sync.Once

// Init registers collectors with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			VerdictsTotal,
			VerdictConfidence,
			RecordErrorsTotal,
			TrainingRunsTotal,
			TrainingDuration,
			TrainedRows,
			SyncedRecordsTotal,
		)
	})
}

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
