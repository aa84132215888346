package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Symbol("processed")
	m.Symbol("processed")
	m.Symbol("skipped")
	m.RowsWritten("AAPL", 30)
	m.FeatureRun("ok")
	m.RunDuration(3 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.symbols.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.symbols.WithLabelValues("skipped")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.rowsWritten.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.featureRuns.WithLabelValues("ok")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Symbol("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `barflow_symbols_total{status="failed"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
