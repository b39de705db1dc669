package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/internal/execution"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func newExchange(t *testing.T) *execution.ReplayExchange {
	t.Helper()
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("data.NewStore: %v", err)
	}

	cfg := config.ExecutionConfig{
		BarTimeframe:       "1h",
		InitialCash:        100000,
		ChainStrikeStepPct: 2.5,
		ChainBaseIV:        0.25,
		ChainDTEList:       []int{7, 14, 30},
		MaxOrderNotional:   250000,
		MaxPositionQty:     100000,
	}
	return execution.NewReplayExchange(logger, store, data.NewStockDataQualityValidator(logger), cfg)
}

func subscribeAndPull(t *testing.T, e *execution.ReplayExchange, symbol string, bars int) types.Bar {
	t.Helper()
	ctx := context.Background()
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := e.Subscribe(ctx, []string{symbol}, 10); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var last types.Bar
	for i := 0; i < bars; i++ {
		bar, ok, err := e.NextBar(ctx, symbol, time.Second)
		if err != nil {
			t.Fatalf("NextBar: %v", err)
		}
		if !ok {
			t.Fatalf("replay queue exhausted after %d bars", i)
		}
		last = bar
	}
	return last
}

func TestSubmitOrderFillsSynchronously(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 5)

	order, err := e.SubmitOrder(context.Background(), "SPY", types.OrderSideBuy,
		decimal.NewFromInt(10), types.OrderTypeMarket, decimal.Zero)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Errorf("expected synchronous fill, got status %s", order.Status)
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected 10 shares filled, got %s", order.FilledQty)
	}
	if order.AvgFillPrice.IsZero() {
		t.Error("expected a non-zero fill price")
	}

	positions, err := e.Positions(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected one 10-share position, got %+v", positions)
	}

	open, _ := e.OpenOrders(context.Background(), "SPY")
	if len(open) != 0 {
		t.Errorf("expected no resting orders, got %d", len(open))
	}
}

func TestSubmitOrderWithoutMarketDataRejected(t *testing.T) {
	e := newExchange(t)
	if _, err := e.SubmitOrder(context.Background(), "GHOST", types.OrderSideBuy,
		decimal.NewFromInt(1), types.OrderTypeMarket, decimal.Zero); err == nil {
		t.Fatal("expected rejection without a market price")
	}
}

func TestPretradeGateRejectsOversizedNotional(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 5)

	if _, err := e.SubmitOrder(context.Background(), "SPY", types.OrderSideBuy,
		decimal.NewFromInt(100000000), types.OrderTypeMarket, decimal.Zero); err == nil {
		t.Fatal("expected the pretrade gate to reject the order")
	}
}

func TestChainCoversBothTypesAndAllDTEs(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 5)

	chain, err := e.Chain(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	// 3 DTEs x 7 strikes x call+put.
	if len(chain) != 42 {
		t.Fatalf("expected 42 contracts, got %d", len(chain))
	}

	calls, puts := 0, 0
	for _, c := range chain {
		switch c.OptionType {
		case types.OptionCall:
			calls++
			if c.Greeks.Delta.LessThanOrEqual(decimal.Zero) {
				t.Errorf("call delta must be positive, got %s", c.Greeks.Delta)
			}
		case types.OptionPut:
			puts++
			if c.Greeks.Delta.GreaterThanOrEqual(decimal.Zero) {
				t.Errorf("put delta must be negative, got %s", c.Greeks.Delta)
			}
		}
		if c.Bid.GreaterThanOrEqual(c.Ask) {
			t.Errorf("bid %s must be below ask %s", c.Bid, c.Ask)
		}
	}
	if calls != puts {
		t.Errorf("expected symmetric chain, got %d calls / %d puts", calls, puts)
	}
}

func TestOptionsOrderRoundTripsThroughChainSymbol(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 5)

	chain, err := e.Chain(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}

	order, err := e.SubmitOptionsOrder(context.Background(), chain[0].ContractSymbol,
		types.OrderSideBuy, decimal.NewFromInt(2), types.OrderTypeLimit, chain[0].Ask)
	if err != nil {
		t.Fatalf("SubmitOptionsOrder: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Errorf("expected filled options order, got %s", order.Status)
	}
	if !order.FilledQty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2 contracts filled, got %s", order.FilledQty)
	}
}

func TestOptionsOrderRejectsMalformedSymbol(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 5)

	if _, err := e.SubmitOptionsOrder(context.Background(), "SPY_C_500",
		types.OrderSideBuy, decimal.NewFromInt(1), types.OrderTypeLimit, decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected rejection of a symbol the chain never issued")
	}
}

func TestIVPercentileWarmsUpWithBars(t *testing.T) {
	e := newExchange(t)
	subscribeAndPull(t, e, "SPY", 40)

	// Not enough samples against a 252-day lookback.
	if _, ok := e.IVPercentile(context.Background(), "SPY", decimal.Zero, 252); ok {
		t.Error("expected percentile unavailable before the lookback fills")
	}

	// With a lookback the accumulated 40 samples satisfy, it reports.
	pct, ok := e.IVPercentile(context.Background(), "SPY", decimal.Zero, 30)
	if !ok {
		t.Fatal("expected percentile once enough samples accumulated")
	}
	if pct.LessThan(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(100)) {
		t.Errorf("percentile out of range: %s", pct)
	}
}

func TestGEXProxyReportsCoverage(t *testing.T) {
	e := newExchange(t)
	last := subscribeAndPull(t, e, "SPY", 5)

	snap, err := e.GEXProxy(context.Background(), "SPY", last.Close)
	if err != nil {
		t.Fatalf("GEXProxy: %v", err)
	}
	if snap.Coverage == 0 {
		t.Error("expected some contracts to contribute to the GEX proxy")
	}
}
