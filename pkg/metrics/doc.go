/*
Package metrics provides Prometheus metrics collection and exposition
for the Formation node process: fabric size (peers, instances,
agents, accounts, DNS records), queue throughput, build duration and
outcome, DNS query volume, proxy connection counts, and API request
latency.

Metrics live as package-level prometheus.Collector values registered
at init; Collector polls a state.DataStore on an interval and sets the
fabric-size gauges. pkg/proxy updates its connection counter and
duration histogram inline as it splices; the queue, build, DNS and API
counters and histograms are registered, but no package in this module
updates them.

	metrics.BuildsTotal.WithLabelValues("success").Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BuildDuration)

Handler returns the standard promhttp.Handler for mounting under
/metrics. HealthHandler, ReadyHandler, and LivenessHandler expose a
small component-registry-backed health surface independent of
Prometheus: RegisterComponent/UpdateComponent let any subsystem report
in, and GetReadiness treats state, queue, and dns as the components
that gate readiness.
*/
package metrics
