package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(SharingApproved)
	m.Add(SignalForwarded, 2)
	m.Inc(`quote"back\slash`)
	m.GaugeAdd("device", 3)
	m.GaugeAdd("device", -1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE shopscreen_rendezvous_events_total counter",
		`shopscreen_rendezvous_events_total{event="signal_forwarded"} 2`,
		`shopscreen_rendezvous_events_total{event="sharing_approved"} 1`,
		`shopscreen_rendezvous_events_total{event="quote\"back\\slash"} 1`,
		"# TYPE shopscreen_rendezvous_connections gauge",
		`shopscreen_rendezvous_connections{role="device"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(SignalDropped)
	m.GaugeAdd("admin", 1)
	if m.Get(SignalDropped) != 0 || m.Gauge("admin") != 0 {
		t.Fatalf("nil metrics should read as zero")
	}
}
