package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ObserveImport("done", "ok", 150*time.Millisecond)
	m.ObserveImport("fetching", "transient", time.Second)
	m.ObserveImport("done", "ok", 10*time.Millisecond)
	m.SkippedRows("sell_history", 3)
	m.SkippedRows("sell_history", 0)
	m.SetRecommended(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.imports.WithLabelValues("done", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports.WithLabelValues("fetching", "transient")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.skipped.WithLabelValues("sell_history")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recommended))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveImport("done", "ok", time.Second)
		m.SkippedRows("order_book", 2)
		m.SetRecommended(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetRecommended(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "steambot_recommended_items 2")
}
