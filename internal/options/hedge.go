package options

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// HedgeConfig holds the delta-hedge manager's tunables, grounded on the
// original engine's DeltaHedgeConfig defaults.
type HedgeConfig struct {
	Enabled                bool
	DeltaThreshold         decimal.Decimal
	MinDeltaChange         decimal.Decimal
	HedgeFrequencyBars     int64
	MaxHedgeTradesPerDay   int
	MaxHedgeNotionalPerDay decimal.Decimal
	MinHedgeShares         decimal.Decimal
	MaxOrphanHedgeBars     int64
}

// DefaultHedgeConfig matches core/live/delta_hedge_manager.py's defaults.
func DefaultHedgeConfig() HedgeConfig {
	return HedgeConfig{
		Enabled:                true,
		DeltaThreshold:         decimal.NewFromFloat(0.10),
		MinDeltaChange:         decimal.NewFromFloat(0.05),
		HedgeFrequencyBars:     5,
		MaxHedgeTradesPerDay:   50,
		MaxHedgeNotionalPerDay: decimal.NewFromInt(100000),
		MinHedgeShares:         decimal.NewFromFloat(5.0),
		MaxOrphanHedgeBars:     60,
	}
}

// HedgeManager keeps underlying-share hedges delta-neutral against long
// strangle (gamma scalper) positions (spec 4.6).
type HedgeManager struct {
	cfg HedgeConfig
	log *zap.Logger

	mu sync.Mutex

	positions map[string]*types.HedgePosition // keyed by multi_leg_id

	currentDay         string
	dailyHedgeTrades   map[string]int
	dailyHedgeNotional map[string]decimal.Decimal

	orphanBars map[string]int64 // multi_leg_id -> bars since options closed
}

// NewHedgeManager constructs a HedgeManager.
func NewHedgeManager(cfg HedgeConfig, log *zap.Logger) *HedgeManager {
	return &HedgeManager{
		cfg:                cfg,
		log:                log.Named("hedge"),
		positions:          make(map[string]*types.HedgePosition),
		dailyHedgeTrades:   make(map[string]int),
		dailyHedgeNotional: make(map[string]decimal.Decimal),
		orphanBars:         make(map[string]int64),
	}
}

// NetDelta implements the original's restriction: only long strangles
// (gamma scalper positions) are hedged.
func NetDelta(pos types.MultiLegPosition) decimal.Decimal {
	if pos.Direction != types.BiasLong {
		return decimal.Zero
	}
	return pos.NetDelta()
}

// ShouldHedge decides whether a re-hedge is warranted for a position,
// applying the frequency limit, threshold, and minimum-change guards.
func (h *HedgeManager) ShouldHedge(multiLegID string, netDelta decimal.Decimal, currentBar int64) (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Enabled {
		return false, "hedging disabled"
	}

	pos, exists := h.positions[multiLegID]
	if !exists {
		if netDelta.Abs().GreaterThan(h.cfg.DeltaThreshold) {
			return true, "initial hedge: delta exceeds threshold"
		}
		return false, "delta within threshold"
	}

	if currentBar-pos.LastHedgeBar < h.cfg.HedgeFrequencyBars {
		return false, "frequency limit not yet elapsed"
	}
	if netDelta.Abs().LessThanOrEqual(h.cfg.DeltaThreshold) {
		return false, "delta within threshold"
	}
	deltaChange := netDelta.Sub(pos.LastNetDelta).Abs()
	if deltaChange.LessThan(h.cfg.MinDeltaChange) {
		return false, "delta change too small to re-hedge"
	}
	return true, "re-hedge: delta exceeds threshold with sufficient change"
}

// HedgeQuantity computes the signed share adjustment needed to neutralize
// net delta, applying the contract multiplier and minimum-size floor.
func (h *HedgeManager) HedgeQuantity(netDelta decimal.Decimal, currentHedgeShares decimal.Decimal) decimal.Decimal {
	targetShares := netDelta.Neg().Mul(decimal.NewFromInt(100))
	adjustment := targetShares.Sub(currentHedgeShares).Round(0)
	if adjustment.Abs().LessThan(h.cfg.MinHedgeShares) {
		return decimal.Zero
	}
	return adjustment
}

// ExecuteHedge records a filled hedge trade against the position's running
// weighted-average cost and realizes P&L on any reversal, applying the
// daily trade-count and notional guardrails first.
func (h *HedgeManager) ExecuteHedge(multiLegID, symbol string, netDelta, currentPrice decimal.Decimal, currentBar int64, tradingDay string, now time.Time) (bool, string, decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Enabled {
		return false, "hedging disabled", decimal.Zero
	}

	if tradingDay != h.currentDay {
		h.currentDay = tradingDay
		h.dailyHedgeTrades = make(map[string]int)
		h.dailyHedgeNotional = make(map[string]decimal.Decimal)
	}

	if h.dailyHedgeTrades[symbol] >= h.cfg.MaxHedgeTradesPerDay {
		return false, "daily hedge trade limit reached", decimal.Zero
	}

	currentShares := decimal.Zero
	pos, exists := h.positions[multiLegID]
	if exists {
		currentShares = pos.HedgeShares
	}

	hedgeShares := h.HedgeQuantity(netDelta, currentShares)
	if hedgeShares.Abs().LessThan(h.cfg.MinHedgeShares) {
		return false, "hedge quantity below minimum", decimal.Zero
	}

	if !exists {
		pos = &types.HedgePosition{MultiLegID: multiLegID, Symbol: symbol}
		h.positions[multiLegID] = pos
	}

	hedgeNotional := hedgeShares.Abs().Mul(currentPrice)
	if h.dailyHedgeNotional[symbol].Add(hedgeNotional).GreaterThan(h.cfg.MaxHedgeNotionalPerDay) {
		return false, "daily hedge notional limit would be exceeded", decimal.Zero
	}

	oldShares := pos.HedgeShares
	oldAvgPrice := pos.AvgPrice

	if !oldShares.IsZero() {
		reversing := (oldShares.GreaterThan(decimal.Zero) && hedgeShares.LessThan(decimal.Zero)) ||
			(oldShares.LessThan(decimal.Zero) && hedgeShares.GreaterThan(decimal.Zero))
		if reversing {
			sharesClosed := decimal.Min(oldShares.Abs(), hedgeShares.Abs())
			sign := decimal.NewFromInt(1)
			if oldShares.LessThan(decimal.Zero) {
				sign = decimal.NewFromInt(-1)
			}
			realized := currentPrice.Sub(oldAvgPrice).Mul(sharesClosed).Mul(sign)
			pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		}
	}

	newTotal := oldShares.Add(hedgeShares)
	switch {
	case oldShares.IsZero():
		pos.AvgPrice = currentPrice
	case oldShares.Sign() == hedgeShares.Sign():
		totalCost := oldShares.Abs().Mul(oldAvgPrice).Add(hedgeShares.Abs().Mul(currentPrice))
		pos.AvgPrice = totalCost.Div(newTotal.Abs())
	case newTotal.Abs().LessThanOrEqual(decimal.NewFromFloat(0.01)):
		// Flat; keep the last average price for reference.
	case newTotal.Sign() != oldShares.Sign():
		// Flipped through zero: every remaining share was acquired at this fill.
		pos.AvgPrice = currentPrice
	default:
		// Partial close; basis of the remaining shares is unchanged.
	}

	pos.HedgeShares = newTotal
	pos.LastHedgePrice = currentPrice
	pos.LastHedgeTime = now
	pos.LastHedgeBar = currentBar
	pos.LastNetDelta = netDelta
	pos.TotalCost = pos.TotalCost.Add(hedgeShares.Abs().Mul(currentPrice))
	pos.HedgeCount++
	pos.TotalSharesMove = pos.TotalSharesMove.Add(hedgeShares.Abs())

	h.dailyHedgeTrades[symbol]++
	h.dailyHedgeNotional[symbol] = h.dailyHedgeNotional[symbol].Add(hedgeNotional)

	h.log.Info("hedge executed",
		zap.String("multi_leg_id", multiLegID),
		zap.String("symbol", symbol),
		zap.String("shares", hedgeShares.String()),
		zap.String("price", currentPrice.String()),
	)

	return true, "hedge executed", hedgeShares
}

// Flatten closes out a hedge position entirely at the given price,
// realizing P&L on every remaining share. Unlike ExecuteHedge it ignores the
// minimum-share floor: a position being dismantled must reach zero exactly.
// Returns the signed share quantity that was closed (zero if none).
func (h *HedgeManager) Flatten(multiLegID string, price decimal.Decimal, currentBar int64, now time.Time) decimal.Decimal {
	h.mu.Lock()
	defer h.mu.Unlock()

	pos, ok := h.positions[multiLegID]
	if !ok || pos.HedgeShares.IsZero() {
		return decimal.Zero
	}

	closed := pos.HedgeShares
	sign := decimal.NewFromInt(1)
	if closed.LessThan(decimal.Zero) {
		sign = decimal.NewFromInt(-1)
	}
	realized := price.Sub(pos.AvgPrice).Mul(closed.Abs()).Mul(sign)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.HedgeShares = decimal.Zero
	pos.UnrealizedPnL = decimal.Zero
	pos.LastHedgePrice = price
	pos.LastHedgeTime = now
	pos.LastHedgeBar = currentBar
	pos.HedgeCount++
	pos.TotalSharesMove = pos.TotalSharesMove.Add(closed.Abs())

	h.log.Info("hedge flattened",
		zap.String("multi_leg_id", multiLegID),
		zap.String("shares_closed", closed.String()),
		zap.String("realized_pnl", realized.String()),
	)
	return closed.Neg()
}

// Remove drops a hedge position from the table once its residual shares have
// been flattened, so a closed multi-leg's hedge does not linger in the
// checkpoint or the orphan scan. No-op for unknown ids.
func (h *HedgeManager) Remove(multiLegID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pos, ok := h.positions[multiLegID]; ok {
		h.log.Info("hedge position removed",
			zap.String("multi_leg_id", multiLegID),
			zap.String("realized_pnl", pos.RealizedPnL.String()),
			zap.Int("hedge_count", pos.HedgeCount),
		)
		delete(h.positions, multiLegID)
	}
	delete(h.orphanBars, multiLegID)
}

// TickOrphan advances the orphan-hedge counter for a position whose options
// legs have already closed; returns true once the max orphan window elapses,
// signaling the scheduler should force-flatten the residual hedge.
func (h *HedgeManager) TickOrphan(multiLegID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orphanBars[multiLegID]++
	return h.orphanBars[multiLegID] >= h.cfg.MaxOrphanHedgeBars
}

// Position returns a copy of the current hedge position for reporting.
func (h *HedgeManager) Position(multiLegID string) (types.HedgePosition, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, ok := h.positions[multiLegID]
	if !ok {
		return types.HedgePosition{}, false
	}
	return *pos, true
}

// AllPositions returns copies of every tracked hedge position, for the
// control surface's hedge_positions query.
func (h *HedgeManager) AllPositions() []types.HedgePosition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.HedgePosition, 0, len(h.positions))
	for _, p := range h.positions {
		out = append(out, *p)
	}
	return out
}

// Restore rebuilds the hedge-position table from a checkpoint, so each
// position's TotalCost and other running totals continue across a restart
// instead of resetting. The daily trade/notional counters and orphan
// counters are not persisted and start fresh on resume.
func (h *HedgeManager) Restore(positions []types.HedgePosition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = make(map[string]*types.HedgePosition, len(positions))
	for _, p := range positions {
		cp := p
		h.positions[cp.MultiLegID] = &cp
	}
	h.orphanBars = make(map[string]int64)
}
