package options_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// fakeOrderer records leg submissions and fills everything at the limit.
type fakeOrderer struct {
	submissions []struct {
		symbol string
		side   types.OrderSide
		qty    decimal.Decimal
		limit  decimal.Decimal
	}
	failNext bool
}

func (f *fakeOrderer) SubmitLegOrder(contractSymbol string, side types.OrderSide, quantity, limitPrice decimal.Decimal) (string, error) {
	if f.failNext {
		f.failNext = false
		return "", fmt.Errorf("simulated rejection")
	}
	f.submissions = append(f.submissions, struct {
		symbol string
		side   types.OrderSide
		qty    decimal.Decimal
		limit  decimal.Decimal
	}{contractSymbol, side, quantity, limitPrice})
	return fmt.Sprintf("ord-%d", len(f.submissions)), nil
}

func shortStraddlePlan(contracts int64) options.EntryPlan {
	return options.EntryPlan{
		MultiLegID:   "ml-test",
		Symbol:       "SPY",
		TradeType:    types.OptionStraddle,
		Direction:    types.BiasShort,
		Strategy:     "theta_harvester",
		CallSymbol:   "SPY|call|7|673.00",
		PutSymbol:    "SPY|put|7|673.00",
		CallStrike:   decimal.NewFromInt(673),
		PutStrike:    decimal.NewFromInt(673),
		Contracts:    decimal.NewFromInt(contracts),
		Expiration:   time.Now().AddDate(0, 0, 7),
		DTE:          7,
		UnderlyingPx: decimal.NewFromInt(673),
	}
}

func TestOpenSubmitsBothLegsWithContracts(t *testing.T) {
	orderer := &fakeOrderer{}
	l := options.NewLifecycle(options.DefaultLifecycleConfig(), nil, orderer, zap.NewNop())

	pos, err := l.Open(shortStraddlePlan(5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if len(orderer.submissions) != 2 {
		t.Fatalf("expected 2 leg orders, got %d", len(orderer.submissions))
	}
	for _, sub := range orderer.submissions {
		if sub.side != types.OrderSideSell {
			t.Errorf("expected sell-to-open legs for a short straddle, got %s", sub.side)
		}
		if !sub.qty.Equal(decimal.NewFromInt(5)) {
			t.Errorf("expected 5 contracts per leg, got %s", sub.qty)
		}
	}

	if pos.BothLegsFilled() {
		t.Error("legs must be pending until fills are recorded")
	}
	if pos.TotalCredit.IsZero() {
		t.Error("expected a non-zero expected credit for a short straddle")
	}

	// credit = (callPx + putPx) * contracts * 100
	expected := pos.Call.EntryPrice.Add(pos.Put.EntryPrice).Mul(decimal.NewFromInt(500))
	if !pos.TotalCredit.Equal(expected) {
		t.Errorf("expected credit %s, got %s", expected, pos.TotalCredit)
	}
}

func TestOpenPropagatesLegRejection(t *testing.T) {
	orderer := &fakeOrderer{failNext: true}
	l := options.NewLifecycle(options.DefaultLifecycleConfig(), nil, orderer, zap.NewNop())

	if _, err := l.Open(shortStraddlePlan(1)); err == nil {
		t.Fatal("expected Open to fail when the call leg is rejected")
	}
}

func TestRecordFillDerivesBothLegsFilled(t *testing.T) {
	orderer := &fakeOrderer{}
	l := options.NewLifecycle(options.DefaultLifecycleConfig(), nil, orderer, zap.NewNop())

	pos, err := l.Open(shortStraddlePlan(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fill := func(leg types.OptionType, symbol string, price decimal.Decimal) types.LegFill {
		return types.LegFill{
			LegType: leg, ContractSymbol: symbol,
			Quantity: decimal.NewFromInt(1), FillPrice: price,
			FillTime: time.Now(), Status: types.FillFilled,
		}
	}

	l.RecordFill(pos, types.OptionCall, fill(types.OptionCall, pos.Call.ContractSymbol, pos.Call.EntryPrice), pos.TotalCredit)
	if pos.BothLegsFilled() {
		t.Error("one filled leg must not report both_legs_filled")
	}
	l.RecordFill(pos, types.OptionPut, fill(types.OptionPut, pos.Put.ContractSymbol, pos.Put.EntryPrice), pos.TotalCredit)
	if !pos.BothLegsFilled() {
		t.Error("expected both_legs_filled once both fills recorded")
	}
}

func TestMarkToMarketShortStraddleGainsAsPremiumDecays(t *testing.T) {
	orderer := &fakeOrderer{}
	l := options.NewLifecycle(options.DefaultLifecycleConfig(), nil, orderer, zap.NewNop())

	pos, err := l.Open(shortStraddlePlan(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Re-mark with the underlying pinned at the strike but far less time
	// left: both legs lose extrinsic value, which a short position collects.
	l.MarkToMarket(pos, decimal.NewFromInt(673), 1)

	if pos.CombinedPnL.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive combined P&L from premium decay, got %s", pos.CombinedPnL)
	}

	pct := options.CombinedPnLPct(*pos)
	if pct.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive P&L percent of credit, got %s", pct)
	}
}

func TestCombinedPnLPctUsesDebitForLongPositions(t *testing.T) {
	pos := types.MultiLegPosition{
		Direction:   types.BiasLong,
		TotalDebit:  decimal.NewFromInt(2000),
		CombinedPnL: decimal.NewFromInt(500),
	}
	if got := options.CombinedPnLPct(pos); !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected 25%% of debit, got %s", got)
	}
}

func TestCloseLegOrdersBuysBackShortLegs(t *testing.T) {
	orderer := &fakeOrderer{}
	l := options.NewLifecycle(options.DefaultLifecycleConfig(), nil, orderer, zap.NewNop())

	pos, err := l.Open(shortStraddlePlan(2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	orderer.submissions = nil

	if err := l.CloseLegOrders(pos); err != nil {
		t.Fatalf("CloseLegOrders: %v", err)
	}
	if len(orderer.submissions) != 2 {
		t.Fatalf("expected 2 closing orders, got %d", len(orderer.submissions))
	}
	for _, sub := range orderer.submissions {
		if sub.side != types.OrderSideBuy {
			t.Errorf("expected buy-to-close for a short structure, got %s", sub.side)
		}
		if !sub.qty.Equal(decimal.NewFromInt(2)) {
			t.Errorf("expected closing quantity 2, got %s", sub.qty)
		}
	}
}
