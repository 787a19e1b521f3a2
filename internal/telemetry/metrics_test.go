package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readyscore/readyscore/internal/recalibration"
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

var (
	_ scoring.Observer       = (*Metrics)(nil)
	_ recalibration.Observer = (*Metrics)(nil)
)

func TestEngineReportsToMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	eng, err := scoring.NewEngine(scoring.DefaultConfig(), scoring.WithObserver(m))
	require.NoError(t, err)

	_, err = eng.Score("org/api", stack.PythonBackend, []evidence.Record{
		evidence.Known("test_coverage", evidence.Number(0.7), evidence.MethodMeasured, 0.9),
		evidence.Known("not_a_criterion", evidence.Number(1), evidence.MethodMeasured, 0.9),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m.scores))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ignored.WithLabelValues("criterion not in rubric")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.totalScore))
}

func TestObserveScoreLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())
	res := &scoring.ScoreResult{
		StackProfile:        stack.NodeFrontend,
		DataQualityStatus:   scoring.QualityWarning,
		TotalScore:          22,
		DataCoveragePercent: 55,
	}
	m.ObserveScore(res, 3*time.Millisecond)
	m.ObserveScore(res, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scores.WithLabelValues("node_frontend", "warning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scores.WithLabelValues("node_frontend", "ok")))
}

func TestProfileActions(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveProfileAction(recalibration.ActionPromote)
	m.ObserveProfileAction(recalibration.ActionPromote)
	m.ObserveProfileAction(recalibration.ActionRollback)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.profileActions.WithLabelValues("promote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profileActions.WithLabelValues("rollback")))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must fail loudly")
}
