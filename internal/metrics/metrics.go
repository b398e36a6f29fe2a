package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for both processes
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolverRuns counts finished optimizer runs by status
	SolverRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimizer_runs_total", Help: "Optimizer runs by final status."},
		[]string{"status"},
	)
	SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimizer_run_duration_seconds", Help: "Tabu search wall time.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}},
	)
	SolverIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimizer_run_iterations", Help: "Tabu search iterations per run.", Buckets: []float64{1, 10, 50, 100, 250, 500, 1000}},
	)
	SolverQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimizer_queue_depth", Help: "Runs waiting for an in-process worker."},
	)

	// PlanningTransitions counts job status changes by target status
	PlanningTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planning_transitions_total", Help: "Planning job transitions by target status."},
		[]string{"status"},
	)
	// PollOutcomes counts per-job poll results: applied, pending, not_found, error
	PollOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planning_poll_outcomes_total", Help: "Result poller outcomes per job."},
		[]string{"outcome"},
	)
	PollSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "planning_poll_skipped_total", Help: "Poll ticks skipped because the previous one was still running."},
	)
	// WebhookDeliveries counts webhook attempts: delivered, retry, dropped
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(SolverRuns, SolverDuration, SolverIterations, SolverQueueDepth)
		Registry.MustRegister(PlanningTransitions, PollOutcomes, PollSkipped, WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
