package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordExecution("javascript", "primary", "COMPLETED", time.Second)
		m.RecordSecurityViolation("static-scan", "banned-import")
		m.RecordSSRFBlocked("loopback")
		m.SetPoolContexts("python", 1, 2)
		NewTimer(m, "javascript", "primary").Stop("FAILED")
	})
	assert.Equal(t, int64(0), m.GetSnapshot().Executions)
}

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordExecution("javascript", "primary", "COMPLETED", 20*time.Millisecond)
	a.RecordExecution("javascript", "primary", "TIMED_OUT", 40*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Executions.WithLabelValues("javascript", "primary", "TIMED_OUT")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Executions.WithLabelValues("javascript", "primary", "TIMED_OUT")))

	snap := a.GetSnapshot()
	assert.Equal(t, int64(2), snap.Executions)
	assert.Equal(t, int64(1), snap.ByState["COMPLETED"])
	assert.Equal(t, int64(60), snap.TotalMillis)

	summary := a.Summary()
	assert.Equal(t, float64(30), summary["avg_execution_ms"])
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordSSRFBlocked("metadata")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sandbox_ssrf_blocked_total{reason="metadata"} 1`)
}
