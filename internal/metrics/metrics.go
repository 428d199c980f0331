// Package metrics holds the Prometheus instruments shared by the executor
// and the dashboard. The dashboard exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapdrift_orders_submitted_total",
			Help: "Total number of brokerage orders submitted (by intent).",
		},
		[]string{"intent"},
	)

	OrderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gapdrift_order_errors_total",
			Help: "Total number of brokerage order placements that failed.",
		},
	)

	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gapdrift_runs_total",
			Help: "Executor and poll runs by kind and final status.",
		},
		[]string{"kind", "status"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gapdrift_positions_open",
			Help: "Current number of open execution positions.",
		},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gapdrift_realized_pnl",
			Help: "Total realized profit and loss across closed positions.",
		},
	)

	KillSwitchEngaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gapdrift_kill_switch_engaged",
			Help: "1 while the kill switch blocks trading, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrderErrors,
		RunsCompleted,
		PositionsOpen,
		RealizedPnL,
		KillSwitchEngaged,
	)
}
