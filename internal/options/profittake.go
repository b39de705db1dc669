package options

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// ProfitTakeConfig holds the per-strategy exit thresholds, grounded on
// core/live/multi_leg_profit_manager.py's MultiLegProfitConfig defaults.
type ProfitTakeConfig struct {
	ThetaTakeProfitPct       decimal.Decimal
	ThetaStopLossPct         decimal.Decimal
	ThetaIVCollapseThreshold decimal.Decimal

	GammaTakeProfitPct        decimal.Decimal
	GammaStopLossPct          decimal.Decimal
	GammaGEXReversalThreshold decimal.Decimal

	MinHoldBars int64
	MaxHoldBars int64
}

// DefaultProfitTakeConfig matches the original engine's MultiLegProfitConfig.
func DefaultProfitTakeConfig() ProfitTakeConfig {
	return ProfitTakeConfig{
		ThetaTakeProfitPct:        decimal.NewFromFloat(50.0),
		ThetaStopLossPct:          decimal.NewFromFloat(200.0),
		ThetaIVCollapseThreshold:  decimal.NewFromFloat(0.3),
		GammaTakeProfitPct:        decimal.NewFromFloat(150.0),
		GammaStopLossPct:          decimal.NewFromFloat(50.0),
		GammaGEXReversalThreshold: decimal.NewFromFloat(1.0),
		MinHoldBars:               5,
		MaxHoldBars:               390,
	}
}

// tracker is the per-position bookkeeping the profit manager needs to
// evaluate exit rules without re-reading the full position each bar.
type tracker struct {
	multiLegID       string
	strategy         string
	direction        types.Bias
	entryTime        time.Time
	entryBar         int64
	netPremium       decimal.Decimal
	entryIV          decimal.Decimal
	entryGEXStrength decimal.Decimal
	peakProfitPct    decimal.Decimal
}

// ProfitManager tracks open multi-leg positions and decides when each
// should be closed (spec 4.6's profit-take/stop-loss/IV-collapse/GEX-
// reversal rules).
type ProfitManager struct {
	cfg ProfitTakeConfig
	log *zap.Logger

	mu        sync.Mutex
	positions map[string]*tracker
}

// NewProfitManager constructs a ProfitManager.
func NewProfitManager(cfg ProfitTakeConfig, log *zap.Logger) *ProfitManager {
	return &ProfitManager{
		cfg:       cfg,
		log:       log.Named("profittake"),
		positions: make(map[string]*tracker),
	}
}

// TrackPosition begins tracking a newly-opened multi-leg position.
func (p *ProfitManager) TrackPosition(multiLegID, strategy string, direction types.Bias, netPremium decimal.Decimal, entryTime time.Time, entryBar int64, entryIV, entryGEXStrength decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[multiLegID] = &tracker{
		multiLegID:       multiLegID,
		strategy:         strategy,
		direction:        direction,
		entryTime:        entryTime,
		entryBar:         entryBar,
		netPremium:       netPremium,
		entryIV:          entryIV,
		entryGEXStrength: entryGEXStrength,
	}
}

// RemovePosition stops tracking a closed position.
func (p *ProfitManager) RemovePosition(multiLegID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, multiLegID)
}

// ShouldTakeProfit implements spec 4.6's exit decision: minimum/maximum hold
// time, then strategy-specific rules.
func (p *ProfitManager) ShouldTakeProfit(multiLegID string, currentPnLPct decimal.Decimal, currentBar int64, regime types.RegimeSignal, currentIV decimal.Decimal) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.positions[multiLegID]
	if !ok {
		return false, ""
	}

	barsHeld := currentBar - t.entryBar
	if barsHeld < p.cfg.MinHoldBars {
		return false, ""
	}
	if barsHeld >= p.cfg.MaxHoldBars {
		return true, "maximum hold time reached"
	}

	if currentPnLPct.GreaterThan(t.peakProfitPct) {
		t.peakProfitPct = currentPnLPct
	}

	switch t.strategy {
	case "theta_harvester":
		return p.checkThetaExit(t, currentPnLPct, regime, currentIV)
	case "gamma_scalper":
		return p.checkGammaExit(t, currentPnLPct, regime)
	default:
		return false, ""
	}
}

func (p *ProfitManager) checkThetaExit(t *tracker, pnlPct decimal.Decimal, regime types.RegimeSignal, currentIV decimal.Decimal) (bool, string) {
	if pnlPct.GreaterThanOrEqual(p.cfg.ThetaTakeProfitPct) {
		return true, "theta harvester take-profit"
	}
	if pnlPct.LessThanOrEqual(p.cfg.ThetaStopLossPct.Neg()) {
		return true, "theta harvester stop-loss"
	}
	if t.entryIV.GreaterThan(decimal.Zero) && currentIV.GreaterThan(decimal.Zero) {
		ivChangePct := currentIV.Sub(t.entryIV).Div(t.entryIV).Mul(decimal.NewFromInt(100))
		if ivChangePct.LessThanOrEqual(p.cfg.ThetaIVCollapseThreshold.Mul(decimal.NewFromInt(-100))) {
			return true, "theta harvester IV collapse"
		}
	}
	if regime.RegimeType != types.RegimeCompression {
		return true, "theta harvester regime exit: compression ended"
	}
	return false, ""
}

func (p *ProfitManager) checkGammaExit(t *tracker, pnlPct decimal.Decimal, regime types.RegimeSignal) (bool, string) {
	if pnlPct.GreaterThanOrEqual(p.cfg.GammaTakeProfitPct) {
		return true, "gamma scalper take-profit"
	}
	if pnlPct.LessThanOrEqual(p.cfg.GammaStopLossPct.Neg()) {
		return true, "gamma scalper stop-loss"
	}
	if t.entryGEXStrength.LessThan(decimal.Zero) &&
		regime.GEX.Regime == types.GEXPositive &&
		regime.GEX.StrengthBn.GreaterThanOrEqual(p.cfg.GammaGEXReversalThreshold) {
		return true, "gamma scalper GEX reversal"
	}
	return false, ""
}

// PeakProfitPct reports the best profit percentage achieved for a tracked
// position, used when recording a closed OptionTrade.
func (p *ProfitManager) PeakProfitPct(multiLegID string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.positions[multiLegID]; ok {
		return t.peakProfitPct
	}
	return decimal.Zero
}
