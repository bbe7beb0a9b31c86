package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerOpsTotal, creditsMovedTotal) }

var (
	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_operations_total",
			Help: "Ledger operations labeled by type and result.",
		},
		[]string{"type", "result"},
	)

	creditsMovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_credits_total",
			Help: "Sum of credits moved through the ledger, labeled by type.",
		},
		[]string{"type"},
	)
)

func IncLedgerOp(txType, result string) {
	ledgerOpsTotal.WithLabelValues(norm(txType), norm(result)).Inc()
}

func AddCreditsMoved(txType string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	creditsMovedTotal.WithLabelValues(norm(txType)).Add(float64(amount))
}
