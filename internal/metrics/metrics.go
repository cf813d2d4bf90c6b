// Package metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simulator_ticks_total",
		Help: "Total number of price ticks processed while the market was open",
	})

	EventScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_event_scans_total",
		Help: "Event scheduling ticks by outcome",
	}, []string{"outcome"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_orders_placed_total",
		Help: "Accepted orders by side and kind",
	}, []string{"side", "kind"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_orders_rejected_total",
		Help: "Rejected orders by reason",
	}, []string{"reason"})

	OrdersClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_orders_closed_total",
		Help: "Orders reaching a terminal status",
	}, []string{"status"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_fills_total",
		Help: "Executed orders by symbol",
	}, []string{"symbol"})

	Halts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simulator_halts_total",
		Help: "Circuit breaker halts",
	})

	MarketIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_market_index",
		Help: "Equal-weighted price index",
	})

	SessionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simulator_session_status",
		Help: "1 for the current session status, 0 otherwise",
	}, []string{"status"})

	ControlSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_control_signals_total",
		Help: "Cross-actor control signals by kind and result",
	}, []string{"kind", "result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_ws_connections",
		Help: "Active websocket connections",
	})

	LedgerSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_ledger_saves_total",
		Help: "Ledger snapshot saves by result",
	}, []string{"result"})
)

var statuses = []string{"PRE_MARKET", "OPEN", "CLOSED", "HALTED"}

// SetStatus flips the status gauge so exactly one label is 1.
func SetStatus(current string) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		SessionStatus.WithLabelValues(s).Set(v)
	}
}
