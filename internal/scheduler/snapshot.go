package scheduler

import (
	"time"

	"github.com/atlas-desktop/adaptive-trader/internal/portfolio"
	"github.com/atlas-desktop/adaptive-trader/internal/risk"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Snapshot is the sole read path for the control surface (spec 6): rebuilt
// once per full round-robin pass and published via an atomic pointer so
// readers never block the bar pipeline and never see a torn write.
type Snapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	BarCount      int64            `json:"barCount"`
	LastBarTime   time.Time        `json:"lastBarTime"`
	BarsPerSymbol map[string]int64 `json:"barsPerSymbol"`
	State         string           `json:"state"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`

	Portfolio portfolio.Summary             `json:"portfolio"`
	Regimes   map[string]types.RegimeSignal `json:"regimes"`
	Risk      risk.Status                   `json:"risk"`

	AgentFitness []types.AgentFitness     `json:"agentFitness"`
	MultiLegs    []types.MultiLegPosition `json:"multiLegs"`
	Hedges       []types.HedgePosition    `json:"hedges"`
	RecentTrades []types.Trade            `json:"recentTrades"`
}

// Status is the scheduler lifecycle view the control surface's live_status
// query returns (spec 4.1's status contract).
type Status struct {
	Mode          string           `json:"mode"` // "live" | "offline"
	Running       bool             `json:"running"`
	Paused        bool             `json:"paused"`
	BarCount      int64            `json:"barCount"`
	LastBarTime   time.Time        `json:"lastBarTime"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	BarsPerSymbol map[string]int64 `json:"barsPerSymbol"`
}

// Status reports the scheduler's lifecycle state.
func (s *Scheduler) Status() Status {
	snap := s.current()
	return Status{
		Mode:          s.cfg.Mode,
		Running:       s.running.Load(),
		Paused:        s.paused.Load(),
		BarCount:      snap.BarCount,
		LastBarTime:   snap.LastBarTime,
		ErrorMessage:  snap.ErrorMessage,
		BarsPerSymbol: snap.BarsPerSymbol,
	}
}

const recentTradesLimit = 50

// rebuildSnapshot recomputes and publishes the Snapshot. Called once per
// full pass over every symbol, never mid-bar.
func (s *Scheduler) rebuildSnapshot() {
	riskStatus := s.risk.Status()

	state := "running"
	switch {
	case s.errMsg != "":
		state = "error"
	case riskStatus.KillSwitchEngaged:
		state = "kill_switch"
	case riskStatus.CircuitBarsLeft > 0:
		state = "circuit_breaker"
	}

	regimes := make(map[string]types.RegimeSignal, len(s.lastRegime))
	for sym, sig := range s.lastRegime {
		regimes[sym] = sig
	}

	perSymbol := make(map[string]int64, len(s.barsPerSymbol))
	for sym, n := range s.barsPerSymbol {
		perSymbol[sym] = n
	}

	var mlPositions []types.MultiLegPosition
	for _, ml := range s.multiLegs {
		mlPositions = append(mlPositions, *ml.pos)
	}

	trades := s.stocks.Trades()
	if len(trades) > recentTradesLimit {
		trades = trades[len(trades)-recentTradesLimit:]
	}

	snap := &Snapshot{
		Timestamp:     time.Now().UTC(),
		BarCount:      s.barCount,
		LastBarTime:   s.lastBarTime,
		BarsPerSymbol: perSymbol,
		State:         state,
		ErrorMessage:  s.errMsg,
		Portfolio:     s.stocks.Summary(),
		Regimes:       regimes,
		Risk:          riskStatus,
		AgentFitness:  s.mem.All(),
		MultiLegs:     mlPositions,
		Hedges:        s.hedgeMgr.AllPositions(),
		RecentTrades:  trades,
	}
	s.snapshot.Store(snap)
}

// current returns the most recently published snapshot, or a zero-value one
// before the first full pass completes.
func (s *Scheduler) current() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{State: "starting"}
}

// Health reports whether the engine is up and its current lifecycle state.
func (s *Scheduler) Health() (string, int64) {
	snap := s.current()
	return snap.State, snap.BarCount
}

// RegimeSnapshot returns the most recent classifier output per symbol.
func (s *Scheduler) RegimeSnapshot() map[string]types.RegimeSignal {
	return s.current().Regimes
}

// PortfolioStats returns the headline stock-portfolio performance summary.
func (s *Scheduler) PortfolioStats() portfolio.Summary {
	return s.current().Portfolio
}

// AgentFitnessSnapshot returns the rolling per-agent fitness table.
func (s *Scheduler) AgentFitnessSnapshot() []types.AgentFitness {
	return s.current().AgentFitness
}

// TradeLog returns the most recent closed stock trades.
func (s *Scheduler) TradeLog() []types.Trade {
	return s.current().RecentTrades
}

// RiskStatus returns the layered risk gate's current state.
func (s *Scheduler) RiskStatus() risk.Status {
	return s.current().Risk
}

// MultiLegPositions returns every open multi-leg structure.
func (s *Scheduler) MultiLegPositions() []types.MultiLegPosition {
	return s.current().MultiLegs
}

// HedgePositions returns every tracked delta-hedge position.
func (s *Scheduler) HedgePositions() []types.HedgePosition {
	return s.current().Hedges
}

// Pause suspends bar processing at the next loop iteration; Run keeps
// polling ctx.Done() (persisting once on cancellation) but stops pulling
// new bars, and writes no cadence checkpoints, until Resume.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
}

// Resume un-suspends a paused scheduler.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
}

// Paused reports whether bar processing is currently suspended.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// SetKillSwitch engages or disengages the risk manager's kill switch,
// which vetoes every new intent (spec 4.7) without pausing the feed loop
// itself — bars still process, positions still mark-to-market and hedge,
// only new entries are blocked.
func (s *Scheduler) SetKillSwitch(engaged bool) {
	s.risk.SetKillSwitch(engaged)
}

// KillSwitchEngaged reports the risk manager's current kill-switch state.
func (s *Scheduler) KillSwitchEngaged() bool {
	return s.risk.IsKillSwitchEngaged()
}
