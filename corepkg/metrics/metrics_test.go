package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestRecordAdvance_IncrementsOutcomeCounter(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordAdvance(10*time.Millisecond, "advanced", "intentional_fork")
	m.RecordAdvance(5*time.Millisecond, "advanced", "intentional_fork")
	m.RecordAdvance(5*time.Millisecond, "blocked", "non_tip_advance")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.advanceOutcomes.WithLabelValues("advanced", "intentional_fork")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.advanceOutcomes.WithLabelValues("blocked", "non_tip_advance")))
}

func TestRecordGap_LabelsByReasonAndSeverity(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordGap("missing_context_key", "info")
	m.RecordGap("missing_context_key", "info")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.gapsRecorded.WithLabelValues("missing_context_key", "info")))
}

func TestSetSessionsActive_ReflectsLatestValue(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetSessionsActive(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.sessionsActive))
	m.SetSessionsActive(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsActive))
}

func TestRecordBundleImport_TracksOutcomeCode(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordBundleImport("BUNDLE_INTEGRITY_FAILED")
	m.RecordBundleImport("ok")
	m.RecordBundleImport("ok")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.bundleImports.WithLabelValues("BUNDLE_INTEGRITY_FAILED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.bundleImports.WithLabelValues("ok")))
}

func TestDisabledMetrics_NoopWithoutPanicking(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.enabled = false
	require.NotPanics(t, func() {
		m.RecordAdvance(time.Millisecond, "advanced", "intentional_fork")
		m.RecordGap("missing_context_key", "info")
		m.RecordValidation(time.Millisecond, "ok")
		m.RecordLockWait(time.Millisecond)
		m.SetSessionsActive(0)
		m.RecordBundleExport()
		m.RecordBundleImport("ok")
	})
}
