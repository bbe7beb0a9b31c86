package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(transfersTotal, compensationTotal, compensationQueueDepth) }

var (
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_transfers_total",
			Help: "Asset transfer outcomes: owned, cache_hit, transferred, queued.",
		},
		[]string{"outcome"},
	)

	compensationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compensation_tasks_total",
			Help: "Compensation queue task outcomes: succeeded, requeued, abandoned, expired.",
		},
		[]string{"outcome"},
	)

	compensationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compensation_queue_depth",
			Help: "Ready tasks waiting in the compensation queue.",
		},
	)
)

func IncTransfer(outcome string) {
	transfersTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCompensation(outcome string) {
	compensationTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetCompensationDepth(n int64) {
	compensationQueueDepth.Set(float64(n))
}
