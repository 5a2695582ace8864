package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring scan health and throughput
var (
	ScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watrack_scans_total",
			Help: "Total number of completed scans (targeted and bulk)",
		},
	)

	ScanErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watrack_scan_errors_total",
			Help: "Total number of scans that failed",
		},
	)

	ExecutionsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watrack_executions_fetched_total",
			Help: "Total number of workflow executions fetched from the API",
		},
	)

	StatusEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watrack_status_events_total",
			Help: "Total number of status events extracted from execution payloads",
		},
	)

	HTTPRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watrack_http_retries_total",
			Help: "Total number of retried API requests",
		},
	)

	StoreUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watrack_store_upserts_total",
			Help: "Total number of store upserts by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(ScanErrorsTotal)
	prometheus.MustRegister(ExecutionsFetchedTotal)
	prometheus.MustRegister(StatusEventsTotal)
	prometheus.MustRegister(HTTPRetriesTotal)
	prometheus.MustRegister(StoreUpsertsTotal)
}
