// Package telemetry exposes scoring and recalibration activity as
// Prometheus metrics. A Metrics value satisfies both scoring.Observer and
// recalibration.Observer.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	scores         *prometheus.CounterVec
	scoreDuration  prometheus.Histogram
	totalScore     *prometheus.HistogramVec
	coverage       prometheus.Histogram
	ignored        *prometheus.CounterVec
	profileActions *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// scores counts scored repositories by stack and data quality
		scores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readyscore_scores_total",
			Help: "Repositories scored, by stack profile and data quality status",
		}, []string{"stack", "status"}),

		scoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "readyscore_score_duration_seconds",
			Help:    "Time spent scoring one repository",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}),

		totalScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "readyscore_total_score",
			Help:    "Distribution of total readiness scores",
			Buckets: prometheus.LinearBuckets(5, 5, 10),
		}, []string{"stack"}),

		coverage: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "readyscore_data_coverage_percent",
			Help:    "Distribution of evidence coverage",
			Buckets: []float64{20, 40, 60, 80, 95, 100},
		}),

		ignored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readyscore_ignored_evidence_total",
			Help: "Evidence records ignored by the engine, by reason",
		}, []string{"reason"}),

		profileActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readyscore_profile_actions_total",
			Help: "Recalibration profile operations, by action",
		}, []string{"action"}),
	}
}

// ObserveScore records one scored repository.
func (m *Metrics) ObserveScore(res *scoring.ScoreResult, elapsed time.Duration) {
	st := string(res.StackProfile)
	m.scores.WithLabelValues(st, res.DataQualityStatus).Inc()
	m.scoreDuration.Observe(elapsed.Seconds())
	m.totalScore.WithLabelValues(st).Observe(res.TotalScore)
	m.coverage.Observe(res.DataCoveragePercent)
}

// ObserveIgnored records an ignored evidence record. The criterion id is
// not used as a label to keep cardinality bounded.
func (m *Metrics) ObserveIgnored(_, reason string) {
	m.ignored.WithLabelValues(reason).Inc()
}

// ObserveProfileAction records a completed profile operation.
func (m *Metrics) ObserveProfileAction(action string) {
	m.profileActions.WithLabelValues(action).Inc()
}
