// Prometheus metrics updated from the event stream and served at
// /metrics in text exposition format.
//
//   - bot_orders_total{symbol,side}      – orders placed
//   - bot_decisions_total{symbol,action} – signal evaluations by outcome
//   - bot_trades_total{symbol,result}    – closed trades (win|loss|flat)
//   - bot_exit_reasons_total{reason}     – closes split by reason
//   - bot_open_positions{symbol}         – currently tracked positions
//   - bot_win_rate{symbol}              – rolling win rate
//   - bot_profit_total{symbol}          – cumulative realized profit
package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "side"},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Signal evaluations by outcome",
		},
		[]string{"symbol", "action"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by result",
		},
		[]string{"symbol", "result"},
	)

	// Reasons are age, hard_loss, reversal, shutdown, invalid.
	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position closes split by reason",
		},
		[]string{"reason"},
	)

	mtxOpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Positions currently tracked per symbol",
		},
		[]string{"symbol"},
	)

	mtxWinRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_win_rate",
			Help: "Rolling win rate per symbol",
		},
		[]string{"symbol"},
	)

	mtxProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_profit_total",
			Help: "Cumulative realized profit per symbol",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxDecisions, mtxTrades)
	prometheus.MustRegister(mtxExitReasons, mtxOpenPositions)
	prometheus.MustRegister(mtxWinRate, mtxProfit)
}
