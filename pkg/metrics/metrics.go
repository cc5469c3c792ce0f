package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fabric metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_peers_total",
			Help: "Total number of formnet peers by disabled state",
		},
		[]string{"disabled"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_instances_total",
			Help: "Total number of workload instances by status",
		},
		[]string{"status"},
	)

	AgentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formation_agents_total",
			Help: "Total number of registered agents",
		},
	)

	AccountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formation_accounts_total",
			Help: "Total number of billing accounts",
		},
	)

	DNSRecordsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formation_dns_records_total",
			Help: "Total number of authoritative DNS records",
		},
	)

	// Queue metrics
	QueueWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_queue_writes_total",
			Help: "Total number of entries appended to the intent queue by subtopic",
		},
		[]string{"subtopic"},
	)

	QueuePollLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_queue_poll_lag",
			Help: "Entries a poller's cursor trails the topic head by",
		},
		[]string{"topic"},
	)

	// Build metrics
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formation_build_duration_seconds",
			Help:    "Time taken to build and place a workload instance in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_builds_total",
			Help: "Total number of build attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DNS metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_dns_queries_total",
			Help: "Total number of DNS queries by result",
		},
		[]string{"result"},
	)

	DNSQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formation_dns_query_duration_seconds",
			Help:    "DNS query resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Proxy metrics
	ProxyConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_proxy_connections_total",
			Help: "Total number of proxy connections by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)

	ProxyConnectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formation_proxy_connection_duration_seconds",
			Help:    "Proxied connection duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formation_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		PeersTotal,
		InstancesTotal,
		AgentsTotal,
		AccountsTotal,
		DNSRecordsTotal,
		QueueWritesTotal,
		QueuePollLag,
		BuildDuration,
		BuildsTotal,
		DNSQueriesTotal,
		DNSQueryDuration,
		ProxyConnectionsTotal,
		ProxyConnectionDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
