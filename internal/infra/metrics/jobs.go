package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		jobDurationSeconds,
		pollAttemptsTotal,
		vendorCallLatencyMs,
		submitRejectedTotal,
	)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Generation jobs accepted by the orchestrator.",
		},
		[]string{"provider", "model"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_finished_total",
			Help: "Generation jobs reaching a terminal state, labeled by status.",
		},
		[]string{"provider", "model", "status"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_job_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1500, 2400},
		},
		[]string{"provider"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_poll_attempts_total",
			Help: "Vendor status polls, labeled by normalized state.",
		},
		[]string{"provider", "state"},
	)

	vendorCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_call_latency_ms",
			Help:    "Vendor call latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "call", "success"},
	)

	submitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_submit_rejected_total",
			Help: "Submissions refused before a job was created, labeled by reason.",
		},
		[]string{"reason"},
	)
)

func IncJobSubmitted(provider, model string) {
	jobsSubmittedTotal.WithLabelValues(norm(provider), norm(model)).Inc()
}

func ObserveJobFinished(provider, model, status string, elapsed time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(provider), norm(model), norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(provider)).Observe(elapsed.Seconds())
}

func IncPollAttempt(provider, state string) {
	pollAttemptsTotal.WithLabelValues(norm(provider), norm(state)).Inc()
}

func ObserveVendorCall(provider, call string, latency time.Duration, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	vendorCallLatencyMs.WithLabelValues(norm(provider), norm(call), s).Observe(float64(latency.Milliseconds()))
}

func IncSubmitRejected(reason string) {
	submitRejectedTotal.WithLabelValues(norm(reason)).Inc()
}
