// Package risk implements the layered risk manager (spec 4.5): kill switch,
// confidence floor, drawdown limits, circuit breaker, daily loss limit, and
// a position-sizing chain, applied in strict order to every final intent.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Config holds the gate's tunables, grounded on the original engine's
// advanced risk manager defaults.
type Config struct {
	MinConfidence decimal.Decimal

	HardDrawdownPct decimal.Decimal
	SoftDrawdownPct decimal.Decimal

	LossWindowSize    int
	MaxLossesInWindow int
	CircuitCooldown   int // bars

	DailyLossLimitPct decimal.Decimal

	RegimeCaps    map[types.RegimeType]decimal.Decimal
	VolScalingPct decimal.Decimal
	BaseVolLevel  int // 0=low,1=medium,2=high

	MaxVarExposurePct    decimal.Decimal
	MaxSymbolExposurePct decimal.Decimal
	VarPriceMovePct      decimal.Decimal
}

// DefaultConfig matches core/risk/advanced.py's AdvancedRiskConfig defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     decimal.NewFromFloat(0.3),
		HardDrawdownPct:   decimal.NewFromFloat(0.15),
		SoftDrawdownPct:   decimal.NewFromFloat(0.10),
		LossWindowSize:    20,
		MaxLossesInWindow: 5,
		CircuitCooldown:   50,
		DailyLossLimitPct: decimal.NewFromFloat(0.03),
		RegimeCaps: map[types.RegimeType]decimal.Decimal{
			types.RegimeTrend:         decimal.NewFromFloat(0.15),
			types.RegimeMeanReversion: decimal.NewFromFloat(0.10),
			types.RegimeCompression:   decimal.NewFromFloat(0.05),
			types.RegimeExpansion:     decimal.NewFromFloat(0.12),
			types.RegimeNeutral:       decimal.NewFromFloat(0.10),
		},
		VolScalingPct:        decimal.NewFromFloat(0.5),
		BaseVolLevel:         1,
		MaxVarExposurePct:    decimal.NewFromFloat(0.02),
		MaxSymbolExposurePct: decimal.NewFromFloat(0.20),
		VarPriceMovePct:      decimal.NewFromFloat(0.01),
	}
}

// VetoReason names which layer rejected an intent, for logging/metrics.
type VetoReason string

const (
	VetoNone            VetoReason = ""
	VetoKillSwitch      VetoReason = "kill-switch"
	VetoConfidenceFloor VetoReason = "confidence-floor"
	VetoHardDrawdown    VetoReason = "hard-drawdown"
	VetoCircuitBreaker  VetoReason = "circuit-breaker"
	VetoDailyLossLimit  VetoReason = "daily-loss-limit"
)

// Manager is the layered risk gate. One Manager covers the whole engine;
// per-symbol exposure is tracked internally.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu sync.Mutex

	killSwitch bool

	peakEquity    decimal.Decimal
	currentEquity decimal.Decimal
	initialEquity decimal.Decimal

	lossWindow      []bool // true = losing trade, oldest first
	circuitBarsLeft int

	tradingDay       string
	dailyRealizedPnL decimal.Decimal

	symbolExposure map[string]decimal.Decimal
}

// NewManager constructs a Manager seeded with starting capital.
func NewManager(cfg Config, log *zap.Logger, initialEquity decimal.Decimal) *Manager {
	return &Manager{
		cfg:            cfg,
		log:            log.Named("risk"),
		peakEquity:     initialEquity,
		currentEquity:  initialEquity,
		initialEquity:  initialEquity,
		symbolExposure: make(map[string]decimal.Decimal),
	}
}

// Gate implements spec 4.5's contract:
// gate(final_intent, regime, vol, current_bar) -> (allowed, sized_delta, reason).
func (m *Manager) Gate(intent types.FinalTradeIntent, regime types.RegimeSignal, price decimal.Decimal, currentBar int64) (bool, decimal.Decimal, VetoReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch {
		return false, decimal.Zero, VetoKillSwitch
	}
	if !intent.IsValid {
		return false, decimal.Zero, VetoConfidenceFloor
	}
	if intent.Confidence.LessThan(m.cfg.MinConfidence) {
		return false, decimal.Zero, VetoConfidenceFloor
	}

	dd := m.drawdown()
	sizeMultiplier := decimal.NewFromInt(1)
	if dd.GreaterThanOrEqual(m.cfg.HardDrawdownPct) {
		return false, decimal.Zero, VetoHardDrawdown
	}
	if dd.GreaterThanOrEqual(m.cfg.SoftDrawdownPct) {
		sizeMultiplier = decimal.NewFromFloat(0.5)
	}

	if m.circuitBarsLeft > 0 {
		return false, decimal.Zero, VetoCircuitBreaker
	}

	if !m.initialEquity.IsZero() {
		dailyLossRatio := m.dailyRealizedPnL.Div(m.initialEquity).Abs()
		if m.dailyRealizedPnL.LessThan(decimal.Zero) && dailyLossRatio.GreaterThanOrEqual(m.cfg.DailyLossLimitPct) {
			return false, decimal.Zero, VetoDailyLossLimit
		}
	}

	size := intent.PositionDelta.Abs()
	size = m.sizePosition(size, intent, regime, price, sizeMultiplier)

	if size.IsZero() {
		return false, decimal.Zero, VetoConfidenceFloor
	}

	signed := size
	if intent.PositionDelta.LessThan(decimal.Zero) {
		signed = size.Neg()
	}
	return true, signed, VetoNone
}

// sizePosition applies spec 4.5 step 6's chain in order.
func (m *Manager) sizePosition(base decimal.Decimal, intent types.FinalTradeIntent, regime types.RegimeSignal, price decimal.Decimal, drawdownMultiplier decimal.Decimal) decimal.Decimal {
	if price.IsZero() || m.currentEquity.IsZero() {
		return decimal.Zero
	}

	size := base

	regimeCap, ok := m.cfg.RegimeCaps[regime.RegimeType]
	if !ok {
		regimeCap = decimal.NewFromFloat(0.10)
	}
	maxByRegime := m.currentEquity.Mul(regimeCap).Div(price)
	if size.GreaterThan(maxByRegime) {
		size = maxByRegime
	}

	volLevel := volLevelIndex(regime.VolatilityLvl)
	if volLevel > m.cfg.BaseVolLevel {
		steps := volLevel - m.cfg.BaseVolLevel
		factor := decimal.NewFromInt(1).Sub(m.cfg.VolScalingPct)
		for i := 0; i < steps; i++ {
			size = size.Mul(factor)
		}
	}

	size = size.Mul(intent.Confidence)

	size = size.Mul(drawdownMultiplier)

	varExposure := size.Mul(price).Mul(m.cfg.VarPriceMovePct)
	maxVar := m.cfg.MaxVarExposurePct.Mul(m.currentEquity)
	if varExposure.GreaterThan(maxVar) && !m.cfg.VarPriceMovePct.IsZero() {
		maxSizeByVar := maxVar.Div(price.Mul(m.cfg.VarPriceMovePct))
		if size.GreaterThan(maxSizeByVar) {
			size = maxSizeByVar
		}
	}

	maxBySymbol := m.currentEquity.Mul(m.cfg.MaxSymbolExposurePct).Div(price)
	// symbolExposure holds dollar notional; convert it to shares at this price.
	existing := m.symbolExposure[intent.Symbol].Div(price)
	remaining := maxBySymbol.Sub(existing)
	if remaining.LessThan(decimal.Zero) {
		remaining = decimal.Zero
	}
	if size.GreaterThan(remaining) {
		size = remaining
	}

	if size.LessThan(decimal.Zero) {
		size = decimal.Zero
	}
	return size
}

func volLevelIndex(v types.VolatilityLevel) int {
	switch v {
	case types.VolLow:
		return 0
	case types.VolHigh:
		return 2
	default:
		return 1
	}
}

func (m *Manager) drawdown() decimal.Decimal {
	if m.peakEquity.IsZero() {
		return decimal.Zero
	}
	dd := m.peakEquity.Sub(m.currentEquity).Div(m.peakEquity)
	if dd.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return dd
}

// UpdateEquity records the current mark-to-market equity, advancing the
// never-decreasing peak (spec 4.5 invariant).
func (m *Manager) UpdateEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentEquity = equity
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}
}

// RecordSymbolExposure sets the tracked notional exposure for a symbol,
// used by the symbol-exposure cap.
func (m *Manager) RecordSymbolExposure(symbol string, notional decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolExposure[symbol] = notional
}

// RecordTradeClosed feeds one closed trade's outcome into the circuit
// breaker's rolling loss window and the daily P&L tracker.
func (m *Manager) RecordTradeClosed(pnl decimal.Decimal, tradingDay string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tradingDay != m.tradingDay {
		m.tradingDay = tradingDay
		m.dailyRealizedPnL = decimal.Zero
	}
	m.dailyRealizedPnL = m.dailyRealizedPnL.Add(pnl)

	isLoss := pnl.LessThan(decimal.Zero)
	m.lossWindow = append(m.lossWindow, isLoss)
	if len(m.lossWindow) > m.cfg.LossWindowSize {
		m.lossWindow = m.lossWindow[len(m.lossWindow)-m.cfg.LossWindowSize:]
	}

	losses := 0
	for _, l := range m.lossWindow {
		if l {
			losses++
		}
	}
	if losses >= m.cfg.MaxLossesInWindow && m.circuitBarsLeft == 0 {
		m.circuitBarsLeft = m.cfg.CircuitCooldown
		m.log.Warn("circuit breaker engaged",
			zap.Int("losses_in_window", losses),
			zap.Int("cooldown_bars", m.cfg.CircuitCooldown),
		)
	}
}

// Tick decrements the circuit-breaker cooldown counter once per bar
// (spec 4.5 invariant: strictly decreasing while engaged).
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.circuitBarsLeft > 0 {
		m.circuitBarsLeft--
	}
}

// ResetDaily clears the daily realized P&L counter on a trading-day boundary.
func (m *Manager) ResetDaily(tradingDay string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingDay = tradingDay
	m.dailyRealizedPnL = decimal.Zero
}

// SetKillSwitch manually toggles the kill switch.
func (m *Manager) SetKillSwitch(engaged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = engaged
	m.log.Info("kill switch toggled", zap.Bool("engaged", engaged))
}

// IsKillSwitchEngaged reports the current kill-switch state.
func (m *Manager) IsKillSwitchEngaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// Restore replaces the gate's drawdown/circuit-breaker/daily-loss state from
// a loaded checkpoint, used once at startup before the scheduler's first bar.
func (m *Manager) Restore(peakEquity, currentEquity decimal.Decimal, circuitBarsLeft int, dailyRealizedPnL decimal.Decimal, tradingDay string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peakEquity = peakEquity
	m.currentEquity = currentEquity
	m.circuitBarsLeft = circuitBarsLeft
	m.dailyRealizedPnL = dailyRealizedPnL
	m.tradingDay = tradingDay
}

// Status is a point-in-time read of the risk gate's internal state, for the
// control surface's risk_status query.
type Status struct {
	KillSwitchEngaged bool            `json:"killSwitchEngaged"`
	Drawdown          decimal.Decimal `json:"drawdown"`
	PeakEquity        decimal.Decimal `json:"peakEquity"`
	CurrentEquity     decimal.Decimal `json:"currentEquity"`
	CircuitBarsLeft   int             `json:"circuitBarsLeft"`
	DailyRealizedPnL  decimal.Decimal `json:"dailyRealizedPnL"`
	LossesInWindow    int             `json:"lossesInWindow"`
}

// Status returns a snapshot for reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	losses := 0
	for _, l := range m.lossWindow {
		if l {
			losses++
		}
	}
	return Status{
		KillSwitchEngaged: m.killSwitch,
		Drawdown:          m.drawdown(),
		PeakEquity:        m.peakEquity,
		CurrentEquity:     m.currentEquity,
		CircuitBarsLeft:   m.circuitBarsLeft,
		DailyRealizedPnL:  m.dailyRealizedPnL,
		LossesInWindow:    losses,
	}
}
