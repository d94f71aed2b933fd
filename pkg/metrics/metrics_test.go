package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	mc := NewMetricsCollector()

	mc.ObserveOperation("document.create", time.Now(), nil)
	mc.ObserveOperation("document.create", time.Now(), nil)
	mc.ObserveOperation("document.create", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.operationsTotal.WithLabelValues("document.create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationsTotal.WithLabelValues("document.create", "error")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var mc *MetricsCollector
	assert.NotPanics(t, func() {
		mc.ObserveOperation("risk.create", time.Now(), nil)
		mc.ObserveSize(10)
		mc.IncrementBlobDeleteErrors()
		mc.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func TestHandler_ExposesMetrics(t *testing.T) {
	mc := NewMetricsCollector()
	mc.ObserveHTTP("GET", "/api/documents", 200, 5*time.Millisecond)
	mc.IncrementBlobDeleteErrors()

	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `hms_http_requests_total{method="GET",route="/api/documents",status="200"} 1`))
	assert.True(t, strings.Contains(body, "hms_blob_delete_errors_total 1"))
}
