package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAttempt(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordAttempt("shazam", "no_match", time.Second)
	m.RecordAttempt("acrcloud", "matched", 2*time.Second)
	m.RecordAttempt("acrcloud", "matched", time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.providerAttemptsTotal.WithLabelValues("shazam", "no_match")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.providerAttemptsTotal.WithLabelValues("acrcloud", "matched")), 0)
}

func TestRecordSegmentAndRun(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.RecordSegment(true, time.Second)
	m.RecordSegment(false, time.Second)
	m.RecordRun(RunMatched)
	m.RecordCacheHit()

	assert.InDelta(t, 1, testutil.ToFloat64(m.segmentsTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.segmentsTotal.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues(RunMatched)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheHitsTotal), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAttempt("shazam", "error", time.Second)
		m.RecordSegment(true, time.Second)
		m.RecordRun(RunNoMatch)
		m.RecordCacheHit()
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.RecordRun(RunNoMatch)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `trackid_runs_total{result="no_match"} 1`))
}
