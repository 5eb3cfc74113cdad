package observability

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.Inc(ReadingsTotal)
	m.Inc(ReadingsTotal)
	m.IncLabel(UploadsTotal, "delivered")
	m.Set(LastPPM, 12.5)
	m.Observe(CycleSeconds, 3)
	m.Inc("unknown_metric")

	if v := testutil.ToFloat64(m.counters[ReadingsTotal]); v != 2 {
		t.Error("expected 2 readings, got", v)
	}
	if v := testutil.ToFloat64(m.vecs[UploadsTotal].WithLabelValues("delivered")); v != 1 {
		t.Error("expected 1 delivered upload, got", v)
	}
	if v := testutil.ToFloat64(m.gauges[LastPPM]); v != 12.5 {
		t.Error("unexpected last ppm:", v)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatal("metrics handler returned", w.Code)
	}
	if !strings.Contains(w.Body.String(), LastPPM+" 12.5") {
		t.Error("metrics output missing last ppm")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Inc(ReadingsTotal)
	m.IncLabel(UploadsTotal, "failed")
	m.Set(LastPPM, 1)
	m.Observe(CycleSeconds, 1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}
