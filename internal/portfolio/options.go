package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// OptionsPortfolio manages single-leg synthetic or vendor-quoted options
// positions separately from stock positions and multi-leg structures
// (spec 4.7), grounded on the original engine's OptionsPortfolioManager.
type OptionsPortfolio struct {
	mu sync.RWMutex

	positions map[string]*types.OptionPosition // keyed by contract symbol
	trades    []types.OptionTrade
}

// NewOptionsPortfolio constructs an empty OptionsPortfolio.
func NewOptionsPortfolio() *OptionsPortfolio {
	return &OptionsPortfolio{
		positions: make(map[string]*types.OptionPosition),
	}
}

// AddPosition opens a new position or averages into an existing one at the
// same contract symbol, keeping the original entry regime/vol context.
func (o *OptionsPortfolio) AddPosition(pos types.OptionPosition) *types.OptionPosition {
	o.mu.Lock()
	defer o.mu.Unlock()

	existing, ok := o.positions[pos.ContractSymbol]
	if !ok {
		cp := pos
		o.positions[pos.ContractSymbol] = &cp
		return &cp
	}

	totalCost := existing.Quantity.Mul(existing.EntryPrice).Add(pos.Quantity.Mul(pos.EntryPrice))
	totalQty := existing.Quantity.Add(pos.Quantity)
	if !totalQty.IsZero() {
		existing.EntryPrice = totalCost.Div(totalQty)
	} else {
		existing.EntryPrice = pos.EntryPrice
	}
	existing.Quantity = totalQty
	o.updatePriceLocked(existing, pos.UnderlyingPx, pos.EntryPrice, pos.Greeks)
	return existing
}

// UpdatePosition refreshes a position's mark price and Greeks, recomputing
// unrealized P&L (contract multiplier 100).
func (o *OptionsPortfolio) UpdatePosition(contractSymbol string, underlyingPx, optionPrice decimal.Decimal, greeks types.Greeks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pos, ok := o.positions[contractSymbol]
	if !ok {
		return
	}
	o.updatePriceLocked(pos, underlyingPx, optionPrice, greeks)
}

func (o *OptionsPortfolio) updatePriceLocked(pos *types.OptionPosition, underlyingPx, optionPrice decimal.Decimal, greeks types.Greeks) {
	pos.UnderlyingPx = underlyingPx
	pos.CurrentPrice = optionPrice
	pos.Greeks = greeks

	multiplier := decimal.NewFromInt(100)
	if pos.Quantity.GreaterThan(decimal.Zero) {
		pos.UnrealizedPnL = optionPrice.Sub(pos.EntryPrice).Mul(pos.Quantity.Abs()).Mul(multiplier)
	} else {
		pos.UnrealizedPnL = pos.EntryPrice.Sub(optionPrice).Mul(pos.Quantity.Abs()).Mul(multiplier)
	}
}

// ClosePosition closes a position entirely and records the round-trip trade.
func (o *OptionsPortfolio) ClosePosition(contractSymbol string, exitPrice decimal.Decimal, exitTime time.Time, reason, agent string) *types.OptionTrade {
	o.mu.Lock()
	defer o.mu.Unlock()

	pos, ok := o.positions[contractSymbol]
	if !ok || pos.Quantity.IsZero() {
		return nil
	}

	multiplier := decimal.NewFromInt(100)
	var pnl decimal.Decimal
	if pos.Quantity.GreaterThan(decimal.Zero) {
		pnl = exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity.Abs()).Mul(multiplier)
	} else {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Quantity.Abs()).Mul(multiplier)
	}

	pnlPct := decimal.Zero
	if pos.EntryPrice.GreaterThan(decimal.Zero) {
		pnlPct = exitPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))
	}

	trade := types.OptionTrade{
		Symbol:        pos.Symbol,
		ContractOrML:  contractSymbol,
		OptionType:    pos.OptionType,
		Strike:        pos.Strike,
		Expiration:    pos.Expiration,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		EntryTime:     pos.EntryAt,
		ExitTime:      exitTime,
		PnL:           pnl,
		PnLPct:        pnlPct,
		Reason:        reason,
		Agent:         agent,
		DeltaAtEntry:  pos.Greeks.Delta,
		IVAtEntry:     pos.Greeks.IV,
		RegimeAtEntry: pos.RegimeAtEntry,
		VolAtEntry:    pos.VolAtEntry,
	}

	o.trades = append(o.trades, trade)
	delete(o.positions, contractSymbol)
	return &trade
}

// Restore replaces the portfolio's state wholesale from a loaded checkpoint.
func (o *OptionsPortfolio) Restore(positions []types.OptionPosition, trades []types.OptionTrade) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.positions = make(map[string]*types.OptionPosition, len(positions))
	for _, p := range positions {
		cp := p
		o.positions[cp.ContractSymbol] = &cp
	}
	o.trades = append([]types.OptionTrade(nil), trades...)
}

// Position returns a copy of an open position.
func (o *OptionsPortfolio) Position(contractSymbol string) (types.OptionPosition, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	pos, ok := o.positions[contractSymbol]
	if !ok {
		return types.OptionPosition{}, false
	}
	return *pos, true
}

// AllPositions returns copies of every open position.
func (o *OptionsPortfolio) AllPositions() []types.OptionPosition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.OptionPosition, 0, len(o.positions))
	for _, p := range o.positions {
		out = append(out, *p)
	}
	return out
}

// RoundTripTrades returns completed trades, optionally filtered by symbol
// and bounded to the most recent `limit` entries by exit time.
func (o *OptionsPortfolio) RoundTripTrades(symbol string, limit int) []types.OptionTrade {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var filtered []types.OptionTrade
	for _, t := range o.trades {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ExitTime.After(filtered[j].ExitTime)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// TotalUnrealizedPnL sums unrealized P&L across all open positions.
func (o *OptionsPortfolio) TotalUnrealizedPnL() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	total := decimal.Zero
	for _, p := range o.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}
