package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsRuns(t *testing.T) {
	r := New()

	r.ObserveRun("rmt", "ok", 20*time.Millisecond, 2)
	r.ObserveRun("rmt", "ok", 10*time.Millisecond, 1)
	r.ObserveRun("spiked", "fit", time.Millisecond, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("rmt", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("spiked", "fit")))

	r.ObserveCache("rmt", true)
	r.ObserveCache("rmt", false)
	r.ObserveCache("rmt", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookup.WithLabelValues("rmt", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookup.WithLabelValues("rmt", "miss")))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveRun("rmt", "ok", time.Millisecond, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsTotal.WithLabelValues("rmt", "ok")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveRun("spiked", "ok", 5*time.Millisecond, 15)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `eigenrisk_estimator_runs_total{operation="spiked",outcome="ok"} 1`)
	assert.Contains(t, string(body), "eigenrisk_signal_eigenvalues_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
