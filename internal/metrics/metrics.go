// Package metrics exposes Aegis's ambient Prometheus counters and
// histograms: verdicts issued, classifier tier latency, and proxy
// connection counts, in the style of wisbric-nightowl's
// internal/telemetry/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var VerdictsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "verdicts",
		Name:      "total",
		Help:      "Total number of verdicts issued, by action and category.",
	},
	[]string{"action", "category"},
)

var TierLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "aegis",
		Subsystem: "classify",
		Name:      "tier_latency_seconds",
		Help:      "Classifier tier evaluation latency in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	},
	[]string{"tier"},
)

var ProxyConnectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "proxy",
		Name:      "connections_total",
		Help:      "Total number of CONNECT tunnels accepted, by whether the host matched the Site Registry.",
	},
	[]string{"matched"},
)

// All returns every Aegis metric for registration against a Prometheus
// registerer.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		VerdictsTotal,
		TierLatencySeconds,
		ProxyConnectionsTotal,
	}
}

// RecordVerdict increments the verdict counter for one evaluated prompt.
// category is "" when the action carries no category (a plain Allow).
func RecordVerdict(action, category string) {
	VerdictsTotal.WithLabelValues(action, category).Inc()
}

// ObserveTierLatency records a latency under a tier label. The proxy
// passes a whole classification's latency, labelled with the tier that
// produced its final result.
func ObserveTierLatency(tier string, seconds float64) {
	TierLatencySeconds.WithLabelValues(tier).Observe(seconds)
}

// RecordConnection increments the proxy connection counter.
func RecordConnection(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	ProxyConnectionsTotal.WithLabelValues(label).Inc()
}
