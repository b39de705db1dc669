// Package portfolio tracks equity, stock positions, and options positions
// across the engine's lifetime (spec 4.7), persisting trade history and the
// equity curve for the control surface and checkpoint writer.
package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
	"github.com/atlas-desktop/adaptive-trader/pkg/utils"
)

// StockPortfolio tracks cash, open equity positions, and closed trade
// history. Mutated only through Buy/Sell/MarkPrice/RecordEquityPoint/
// Restore; safe for concurrent
// reads via RWMutex.
type StockPortfolio struct {
	mu sync.RWMutex

	cash          decimal.Decimal
	initialCash   decimal.Decimal
	positions     map[string]*types.StockPosition
	peakEquity    decimal.Decimal
	currentEquity decimal.Decimal

	trades      []types.Trade
	equityCurve []types.EquityCurvePoint
}

// NewStockPortfolio constructs a StockPortfolio seeded with starting cash.
func NewStockPortfolio(initialCash decimal.Decimal) *StockPortfolio {
	return &StockPortfolio{
		cash:          initialCash,
		initialCash:   initialCash,
		positions:     make(map[string]*types.StockPosition),
		peakEquity:    initialCash,
		currentEquity: initialCash,
	}
}

// Cash returns available cash.
func (p *StockPortfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity returns cash plus mark-to-market position value.
func (p *StockPortfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calculateEquity()
}

// Drawdown returns the fractional drop from peak equity.
func (p *StockPortfolio) Drawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	equity := p.calculateEquity()
	dd := p.peakEquity.Sub(equity).Div(p.peakEquity)
	if dd.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return dd
}

// Position returns a copy of an open position, or nil if none.
func (p *StockPortfolio) Position(symbol string) *types.StockPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns copies of all open positions.
func (p *StockPortfolio) Positions() map[string]types.StockPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]types.StockPosition, len(p.positions))
	for k, v := range p.positions {
		out[k] = *v
	}
	return out
}

// MarkPrice updates the mark price for an open position and recomputes
// equity/peak.
func (p *StockPortfolio) MarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = pos.Quantity.Mul(price.Sub(pos.AvgEntryPrice))
	}
	p.refreshEquity()
}

// Buy opens or adds to a long position, deducting cash.
func (p *StockPortfolio) Buy(symbol string, quantity, price, commission decimal.Decimal, regime types.RegimeType, vol types.VolatilityLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := quantity.Mul(price).Add(commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.Quantity.Mul(pos.AvgEntryPrice).Add(quantity.Mul(price))
		if !totalQty.IsZero() {
			pos.AvgEntryPrice = totalCost.Div(totalQty)
		}
		pos.Quantity = totalQty
		pos.CurrentPrice = price
	} else {
		p.positions[symbol] = &types.StockPosition{
			Symbol:        symbol,
			Quantity:      quantity,
			AvgEntryPrice: price,
			EntryAt:       time.Now(),
			CurrentPrice:  price,
			RegimeAtEntry: regime,
			VolAtEntry:    vol,
		}
	}
	p.refreshEquity()
}

// Sell reduces or closes a position, recording a Trade for the sold
// quantity on every call, partial or full; the position is removed once
// its quantity reaches zero.
func (p *StockPortfolio) Sell(symbol string, quantity, price, commission decimal.Decimal, agent, reason string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}

	sellValue := quantity.Mul(price)
	costBasis := quantity.Mul(pos.AvgEntryPrice)
	pnl := sellValue.Sub(costBasis).Sub(commission)

	p.cash = p.cash.Add(sellValue).Sub(commission)
	pos.Quantity = pos.Quantity.Sub(quantity)

	pnlPct := decimal.Zero
	if !costBasis.IsZero() {
		pnlPct = pnl.Div(costBasis).Mul(decimal.NewFromInt(100))
	}

	p.trades = append(p.trades, types.Trade{
		ID:            utils.GenerateTradeID(),
		Symbol:        symbol,
		Side:          types.OrderSideSell,
		Quantity:      quantity,
		Price:         price,
		EntryPrice:    pos.AvgEntryPrice,
		ExitPrice:     price,
		Commission:    commission,
		PnL:           pnl,
		PnLPct:        pnlPct,
		Reason:        reason,
		Agent:         agent,
		RegimeAtEntry: string(pos.RegimeAtEntry),
		VolAtEntry:    string(pos.VolAtEntry),
		EntryAt:       pos.EntryAt,
		ExecutedAt:    time.Now(),
	})

	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}

	p.refreshEquity()
	return pnl
}

// RecordEquityPoint appends a sample to the equity curve; called once per
// bar by the scheduler.
func (p *StockPortfolio) RecordEquityPoint(ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.calculateEquity()
	dd := decimal.Zero
	if !p.peakEquity.IsZero() {
		dd = p.peakEquity.Sub(equity).Div(p.peakEquity)
		if dd.LessThan(decimal.Zero) {
			dd = decimal.Zero
		}
	}
	p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
		Timestamp: ts,
		Equity:    equity,
		Cash:      p.cash,
		Drawdown:  dd,
	})
}

// EquityCurve returns a copy of the recorded equity curve.
func (p *StockPortfolio) EquityCurve() []types.EquityCurvePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// Trades returns a copy of the closed-trade history.
func (p *StockPortfolio) Trades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Restore replaces the portfolio's state wholesale from a loaded checkpoint,
// used once at startup before the scheduler's first bar.
func (p *StockPortfolio) Restore(cash decimal.Decimal, positions map[string]types.StockPosition, trades []types.Trade, equityCurve []types.EquityCurvePoint, peakEquity decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = cash
	p.positions = make(map[string]*types.StockPosition, len(positions))
	for k, v := range positions {
		cp := v
		p.positions[k] = &cp
	}
	p.trades = append([]types.Trade(nil), trades...)
	p.equityCurve = append([]types.EquityCurvePoint(nil), equityCurve...)
	p.peakEquity = peakEquity
	p.refreshEquity()
}

// Summary reports headline performance stats for the control surface's
// portfolio_stats query.
type Summary struct {
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	InitialCash    decimal.Decimal `json:"initialCash"`
	TotalPnL       decimal.Decimal `json:"totalPnl"`
	TotalReturnPct decimal.Decimal `json:"totalReturnPct"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	MaxDrawdown    decimal.Decimal `json:"maxDrawdown"`
	OpenPositions  int             `json:"openPositions"`
	ClosedTrades   int             `json:"closedTrades"`
	WinRate        decimal.Decimal `json:"winRate"`
	ProfitFactor   decimal.Decimal `json:"profitFactor"`
	Sharpe         decimal.Decimal `json:"sharpe"`
}

// Summary computes the current portfolio summary.
func (p *StockPortfolio) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.calculateEquity()

	pnls := make([]decimal.Decimal, 0, len(p.trades))
	for _, t := range p.trades {
		pnls = append(pnls, t.PnL)
	}

	curve := make([]decimal.Decimal, 0, len(p.equityCurve))
	for _, pt := range p.equityCurve {
		curve = append(curve, pt.Equity)
	}

	dd := decimal.Zero
	if !p.peakEquity.IsZero() {
		dd = p.peakEquity.Sub(equity).Div(p.peakEquity)
		if dd.LessThan(decimal.Zero) {
			dd = decimal.Zero
		}
	}

	return Summary{
		Cash:           p.cash,
		Equity:         equity,
		InitialCash:    p.initialCash,
		TotalPnL:       equity.Sub(p.initialCash),
		TotalReturnPct: utils.CalculatePercentageChange(p.initialCash, equity),
		Drawdown:       dd,
		MaxDrawdown:    utils.CalculateMaxDrawdown(curve),
		OpenPositions:  len(p.positions),
		ClosedTrades:   len(p.trades),
		WinRate:        utils.CalculateWinRate(pnls),
		ProfitFactor:   utils.CalculateProfitFactor(pnls),
		Sharpe:         utils.CalculateSharpeRatio(utils.CalculateReturns(curve), decimal.Zero),
	}
}

func (p *StockPortfolio) calculateEquity() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

func (p *StockPortfolio) refreshEquity() {
	p.currentEquity = p.calculateEquity()
	if p.currentEquity.GreaterThan(p.peakEquity) {
		p.peakEquity = p.currentEquity
	}
}
