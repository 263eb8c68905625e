package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	m := New()
	m.SessionsStarted.Inc()
	m.UsageTicks.Add(3)
	m.Subscribers.Set(2)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.Counter != nil:
				got[mf.GetName()] = metric.Counter.GetValue()
			case metric.Gauge != nil:
				got[mf.GetName()] = metric.Gauge.GetValue()
			}
		}
	}

	if got["flowstream_sessions_started_total"] != 1 {
		t.Errorf("sessions_started = %v, want 1", got["flowstream_sessions_started_total"])
	}
	if got["flowstream_usage_ticks_total"] != 3 {
		t.Errorf("usage_ticks = %v, want 3", got["flowstream_usage_ticks_total"])
	}
	if got["flowstream_subscribers"] != 2 {
		t.Errorf("subscribers = %v, want 2", got["flowstream_subscribers"])
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.Settlements.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flowstream_settlements_total 1") {
		t.Error("metrics output missing flowstream_settlements_total")
	}
}
