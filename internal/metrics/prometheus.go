package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetric      = "shopscreen_rendezvous_events_total"
	connectionsMetric = "shopscreen_rendezvous_connections"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format:
// every counter as one series of a single events metric keyed by an `event`
// label, and every gauge as a connections series keyed by `role`.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		_, _ = fmt.Fprintf(w, "# HELP %s Relay event counters.\n", eventsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetric)
		counters := m.Snapshot()
		for _, k := range sortedKeys(counters) {
			writeSeries(w, eventsMetric, "event", k, fmt.Sprint(counters[k]))
		}

		_, _ = fmt.Fprintf(w, "# HELP %s Open signaling connections by role.\n", connectionsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", connectionsMetric)
		gauges := m.GaugeSnapshot()
		for _, k := range sortedKeys(gauges) {
			writeSeries(w, connectionsMetric, "role", k, fmt.Sprint(gauges[k]))
		}
	})
}

func writeSeries(w io.Writer, metric, label, value, sample string) {
	_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %s\n", metric, label, labelEscaper.Replace(value), sample)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
