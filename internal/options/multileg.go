package options

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// QuoteFeed is the narrow read capability the lifecycle manager needs from
// the options-chain external capability (spec 6); OK is false when no
// vendor quote is available and the synthetic pricer should be used.
type QuoteFeed interface {
	Quote(contractSymbol string) (bid, ask decimal.Decimal, greeks types.Greeks, ok bool)
}

// LegOrderer is the narrow write capability for submitting independent leg
// orders; the options executor implements this against the broker.
type LegOrderer interface {
	SubmitLegOrder(contractSymbol string, side types.OrderSide, quantity, limitPrice decimal.Decimal) (orderID string, err error)
}

// LifecycleConfig bounds the credit/debit verification tolerance spec 4.6
// names explicitly.
type LifecycleConfig struct {
	CreditDebitTolerancePct decimal.Decimal
	DefaultIV               decimal.Decimal
}

// DefaultLifecycleConfig matches spec 4.6's stated 10% tolerance and the
// synthetic pricer's 20% default IV.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		CreditDebitTolerancePct: decimal.NewFromFloat(0.10),
		DefaultIV:               decimal.NewFromFloat(0.20),
	}
}

// Lifecycle manages multi-leg position entry, per-bar marking, and exit
// order submission (spec 4.6).
type Lifecycle struct {
	cfg    LifecycleConfig
	pricer SyntheticPricer
	quotes QuoteFeed
	orders LegOrderer
	log    *zap.Logger
}

// NewLifecycle constructs a Lifecycle manager.
func NewLifecycle(cfg LifecycleConfig, quotes QuoteFeed, orders LegOrderer, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:    cfg,
		pricer: NewSyntheticPricer(),
		quotes: quotes,
		orders: orders,
		log:    log.Named("multileg"),
	}
}

// EntryPlan is the resolved call/put pair a strategy wants to open,
// parsed from the final intent's metadata (spec 4.6 step 1).
type EntryPlan struct {
	MultiLegID     string
	Symbol         string
	TradeType      types.OptionType // straddle or strangle
	Direction      types.Bias       // long or short
	Strategy       string
	CallSymbol     string // feed-assigned contract symbols; resolved from the
	PutSymbol      string // chain by the scheduler before Open is called
	CallStrike     decimal.Decimal
	PutStrike      decimal.Decimal
	Contracts      decimal.Decimal // per leg; defaults to 1 when zero
	Expiration     time.Time
	DTE            int
	UnderlyingPx   decimal.Decimal
	ExpectedCredit decimal.Decimal // expected net credit (short) or debit (long)
}

// Open submits the two independent leg orders and returns a MultiLegPosition
// with both legs pending (spec 4.6 steps 2-4).
func (l *Lifecycle) Open(plan EntryPlan) (*types.MultiLegPosition, error) {
	callSymbol := plan.CallSymbol
	putSymbol := plan.PutSymbol
	if callSymbol == "" {
		callSymbol = fmt.Sprintf("%s_C_%s", plan.Symbol, plan.CallStrike.String())
	}
	if putSymbol == "" {
		putSymbol = fmt.Sprintf("%s_P_%s", plan.Symbol, plan.PutStrike.String())
	}

	contracts := plan.Contracts
	if contracts.LessThanOrEqual(decimal.Zero) {
		contracts = decimal.NewFromInt(1)
	}

	callPrice, callGreeks := l.priceLeg(callSymbol, plan.UnderlyingPx, plan.CallStrike, plan.DTE, types.OptionCall, plan.Direction)
	putPrice, putGreeks := l.priceLeg(putSymbol, plan.UnderlyingPx, plan.PutStrike, plan.DTE, types.OptionPut, plan.Direction)

	side := types.OrderSideSell
	if plan.Direction == types.BiasLong {
		side = types.OrderSideBuy
	}

	callOrderID, err := l.orders.SubmitLegOrder(callSymbol, side, contracts, callPrice)
	if err != nil {
		return nil, fmt.Errorf("submit call leg: %w", err)
	}
	putOrderID, err := l.orders.SubmitLegOrder(putSymbol, side, contracts, putPrice)
	if err != nil {
		return nil, fmt.Errorf("submit put leg: %w", err)
	}

	now := time.Now()
	pos := &types.MultiLegPosition{
		MultiLegID:   plan.MultiLegID,
		Symbol:       plan.Symbol,
		TradeType:    plan.TradeType,
		Direction:    plan.Direction,
		Strategy:     plan.Strategy,
		Expiration:   plan.Expiration,
		EntryTime:    now,
		UnderlyingPx: plan.UnderlyingPx,
		Call: types.OptionLeg{
			ContractSymbol: callSymbol,
			Strike:         plan.CallStrike,
			Quantity:       contracts,
			EntryPrice:     callPrice,
			CurrentPrice:   callPrice,
			Greeks:         callGreeks,
			Fill: types.LegFill{
				LegType: types.OptionCall, ContractSymbol: callSymbol, Strike: plan.CallStrike,
				Quantity: contracts, OrderID: callOrderID, Status: types.FillPending,
			},
		},
		Put: types.OptionLeg{
			ContractSymbol: putSymbol,
			Strike:         plan.PutStrike,
			Quantity:       contracts,
			EntryPrice:     putPrice,
			CurrentPrice:   putPrice,
			Greeks:         putGreeks,
			Fill: types.LegFill{
				LegType: types.OptionPut, ContractSymbol: putSymbol, Strike: plan.PutStrike,
				Quantity: contracts, OrderID: putOrderID, Status: types.FillPending,
			},
		},
	}

	perLeg := callPrice.Add(putPrice).Mul(contracts).Mul(decimal.NewFromInt(100))
	if plan.Direction == types.BiasShort {
		pos.TotalCredit = perLeg
	} else {
		pos.TotalDebit = perLeg
	}

	return pos, nil
}

// RecordFill updates one leg's fill status and verifies realized credit/debit
// against the expected value once both legs have filled (spec 4.6 steps 5-6).
func (l *Lifecycle) RecordFill(pos *types.MultiLegPosition, legType types.OptionType, fill types.LegFill, expectedCredit decimal.Decimal) {
	switch legType {
	case types.OptionCall:
		pos.Call.Fill = fill
	case types.OptionPut:
		pos.Put.Fill = fill
	}

	if !pos.BothLegsFilled() {
		return
	}

	actual := pos.Call.Fill.TotalCost().Add(pos.Put.Fill.TotalCost()).Abs()
	if expectedCredit.IsZero() {
		return
	}
	deviation := actual.Sub(expectedCredit).Abs().Div(expectedCredit)
	if deviation.GreaterThan(l.cfg.CreditDebitTolerancePct) {
		l.log.Warn("realized credit/debit outside tolerance",
			zap.String("multi_leg_id", pos.MultiLegID),
			zap.String("expected", expectedCredit.String()),
			zap.String("actual", actual.String()),
		)
	}
}

// MarkToMarket re-prices both legs and recomputes combined P&L and net
// delta (spec 4.6 per-bar update).
func (l *Lifecycle) MarkToMarket(pos *types.MultiLegPosition, underlyingPx decimal.Decimal, dte int) {
	pos.UnderlyingPx = underlyingPx

	callPrice, callGreeks := l.priceLeg(pos.Call.ContractSymbol, underlyingPx, pos.Call.Strike, dte, types.OptionCall, pos.Direction)
	putPrice, putGreeks := l.priceLeg(pos.Put.ContractSymbol, underlyingPx, pos.Put.Strike, dte, types.OptionPut, pos.Direction)

	pos.Call.CurrentPrice = callPrice
	pos.Call.Greeks = callGreeks
	pos.Put.CurrentPrice = putPrice
	pos.Put.Greeks = putGreeks

	sign := decimal.NewFromInt(1)
	if pos.Direction == types.BiasShort {
		sign = decimal.NewFromInt(-1)
	}

	callPnL := pos.Call.EntryPrice.Sub(pos.Call.CurrentPrice).Mul(sign.Neg()).Mul(pos.Call.Quantity).Mul(decimal.NewFromInt(100))
	putPnL := pos.Put.EntryPrice.Sub(pos.Put.CurrentPrice).Mul(sign.Neg()).Mul(pos.Put.Quantity).Mul(decimal.NewFromInt(100))
	pos.CombinedPnL = callPnL.Add(putPnL)
}

// CombinedPnLPct expresses combined P&L as a percentage of the position's
// initial credit or debit, the unit every exit-rule threshold is stated in.
func CombinedPnLPct(pos types.MultiLegPosition) decimal.Decimal {
	base := pos.TotalCredit
	if pos.Direction == types.BiasLong {
		base = pos.TotalDebit
	}
	if base.IsZero() {
		return decimal.Zero
	}
	return pos.CombinedPnL.Div(base).Mul(decimal.NewFromInt(100))
}

// CloseLegOrders submits the two closing orders for a position being exited
// (spec 4.6 exit execution: buy-to-close for short, sell-to-close for long).
func (l *Lifecycle) CloseLegOrders(pos *types.MultiLegPosition) error {
	side := types.OrderSideBuy
	if pos.Direction == types.BiasLong {
		side = types.OrderSideSell
	}
	if _, err := l.orders.SubmitLegOrder(pos.Call.ContractSymbol, side, pos.Call.Quantity, pos.Call.CurrentPrice); err != nil {
		return fmt.Errorf("close call leg: %w", err)
	}
	if _, err := l.orders.SubmitLegOrder(pos.Put.ContractSymbol, side, pos.Put.Quantity, pos.Put.CurrentPrice); err != nil {
		return fmt.Errorf("close put leg: %w", err)
	}
	return nil
}

// priceLeg fetches a vendor quote if available, otherwise falls back to the
// synthetic pricer (spec 4.6's synthetic pricing fallback).
func (l *Lifecycle) priceLeg(contractSymbol string, underlying, strike decimal.Decimal, dte int, optType types.OptionType, direction types.Bias) (decimal.Decimal, types.Greeks) {
	if l.quotes != nil {
		if bid, ask, greeks, ok := l.quotes.Quote(contractSymbol); ok {
			if direction == types.BiasShort {
				return bid, greeks
			}
			return ask, greeks
		}
	}

	tte := TimeToExpiryYears(dte)
	price := l.pricer.Price(underlying, strike, tte, l.cfg.DefaultIV, optType)
	greeks := l.pricer.Greeks(underlying, strike, tte, l.cfg.DefaultIV, price, optType)
	return price, greeks
}
