package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RoundsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rounds_settled_total",
			Help: "Rounds settled by game and result",
		},
		[]string{"game", "result"},
	)

	SeedCommitments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seed_commitments_total",
			Help: "Seed commitments by lifecycle event",
		},
		[]string{"event"},
	)

	SettlementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Rejected settlements by error code",
		},
		[]string{"code"},
	)

	WalletBalanceChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_balance_updates_total",
			Help: "Total wallet balance updates",
		},
	)
)

func Init() {
	prometheus.MustRegister(HttpRequests)
	prometheus.MustRegister(RoundsSettled)
	prometheus.MustRegister(SeedCommitments)
	prometheus.MustRegister(SettlementFailures)
	prometheus.MustRegister(WalletBalanceChanges)
}
