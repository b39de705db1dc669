// Package metrics exposes the engine's prometheus instrumentation, wired
// into the scheduler, risk manager, and options lifecycle the same way the
// teacher repo wires execution metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_trader_bars_processed_total",
			Help: "Bars processed by the scheduler, by symbol.",
		},
		[]string{"symbol"},
	)

	IntentsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_trader_intents_emitted_total",
			Help: "Trade intents emitted by agents, by agent name.",
		},
		[]string{"agent"},
	)

	RiskVetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_trader_risk_vetoes_total",
			Help: "Risk gate vetoes, by reason.",
		},
		[]string{"reason"},
	)

	HedgeTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_trader_hedge_trades_total",
			Help: "Delta hedge trades executed, by symbol.",
		},
		[]string{"symbol"},
	)

	CheckpointWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptive_trader_checkpoint_writes_total",
			Help: "Checkpoint persistence operations.",
		},
	)

	RegimeFlips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_trader_regime_flips_total",
			Help: "Regime transitions observed, by symbol.",
		},
		[]string{"symbol"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptive_trader_equity",
			Help: "Current total equity (cash + market value of open positions).",
		},
	)

	Drawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptive_trader_drawdown_pct",
			Help: "Current drawdown percentage from peak equity.",
		},
	)
)

// Registry bundles all collectors for registration against a
// prometheus.Registerer at startup.
func Registry() []prometheus.Collector {
	return []prometheus.Collector{
		BarsProcessed, IntentsEmitted, RiskVetoes, HedgeTrades,
		CheckpointWrites, RegimeFlips, Equity, Drawdown,
	}
}

// MustRegister registers every collector against reg, panicking (at startup
// only, never mid-run) on a duplicate registration bug.
func MustRegister(reg prometheus.Registerer) {
	for _, c := range Registry() {
		reg.MustRegister(c)
	}
}
