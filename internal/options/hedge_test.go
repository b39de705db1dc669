package options_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func newHedgeManager() *options.HedgeManager {
	return options.NewHedgeManager(options.DefaultHedgeConfig(), zap.NewNop())
}

func TestShouldHedgeRequiresThresholdBreach(t *testing.T) {
	h := newHedgeManager()

	should, _ := h.ShouldHedge("ml-1", decimal.NewFromFloat(0.05), 10)
	if should {
		t.Error("expected no hedge when net delta is within the threshold")
	}

	should, _ = h.ShouldHedge("ml-1", decimal.NewFromFloat(1.25), 10)
	if !should {
		t.Error("expected an initial hedge when net delta exceeds the threshold")
	}
}

func TestShouldHedgeEnforcesFrequencyLimit(t *testing.T) {
	h := newHedgeManager()

	ok, _, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(1.25), decimal.NewFromInt(500), 10, "2026-02-02", time.Now())
	if !ok {
		t.Fatal("expected the initial hedge to execute")
	}

	// Two bars later the frequency gate (5 bars) must still hold, even with
	// a large delta move.
	should, reason := h.ShouldHedge("ml-1", decimal.NewFromFloat(-2.0), 12)
	if should {
		t.Errorf("expected frequency limit to block a re-hedge, got %q", reason)
	}

	should, _ = h.ShouldHedge("ml-1", decimal.NewFromFloat(-2.0), 16)
	if !should {
		t.Error("expected a re-hedge once the frequency window elapsed")
	}
}

func TestExecuteHedgeTargetsNegatedDelta(t *testing.T) {
	h := newHedgeManager()

	// net delta +1.25 -> target -125 shares.
	ok, _, shares := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(1.25), decimal.NewFromInt(500), 10, "2026-02-02", time.Now())
	if !ok {
		t.Fatal("expected hedge to execute")
	}
	if !shares.Equal(decimal.NewFromInt(-125)) {
		t.Errorf("expected -125 hedge shares, got %s", shares)
	}

	pos, found := h.Position("ml-1")
	if !found {
		t.Fatal("expected a tracked hedge position")
	}
	if !pos.HedgeShares.Equal(decimal.NewFromInt(-125)) {
		t.Errorf("expected position at -125 shares, got %s", pos.HedgeShares)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected avg price 500, got %s", pos.AvgPrice)
	}
}

func TestExecuteHedgeRealizesPnLOnReversal(t *testing.T) {
	h := newHedgeManager()

	// Short 125 at 100.
	if ok, reason, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(1.25), decimal.NewFromInt(100), 10, "2026-02-02", time.Now()); !ok {
		t.Fatalf("initial hedge failed: %s", reason)
	}
	// Delta swings to -1.65 -> target +165, adjustment +290 at 90: the 125
	// short shares close at a 10-point gain.
	if ok, reason, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(-1.65), decimal.NewFromInt(90), 20, "2026-02-02", time.Now()); !ok {
		t.Fatalf("reversal hedge failed: %s", reason)
	}

	pos, _ := h.Position("ml-1")
	expected := decimal.NewFromInt(1250) // short 125 at 100, bought back at 90
	if !pos.RealizedPnL.Equal(expected) {
		t.Errorf("expected realized pnl %s, got %s", expected, pos.RealizedPnL)
	}
	if !pos.HedgeShares.Equal(decimal.NewFromInt(165)) {
		t.Errorf("expected 165 remaining shares, got %s", pos.HedgeShares)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(90)) {
		t.Errorf("expected flipped position's basis at the fill price 90, got %s", pos.AvgPrice)
	}
}

func TestExecuteHedgeBelowMinimumCreatesNoPosition(t *testing.T) {
	h := newHedgeManager()

	// net delta 0.02 -> target -2 shares, below the 5-share floor.
	ok, _, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(0.02), decimal.NewFromInt(500), 10, "2026-02-02", time.Now())
	if ok {
		t.Fatal("expected hedge below the minimum share floor to be skipped")
	}
	if _, found := h.Position("ml-1"); found {
		t.Error("expected no position entry for a skipped hedge")
	}
}

func TestFlattenClosesEverythingAndRealizes(t *testing.T) {
	h := newHedgeManager()

	if ok, reason, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(1.25), decimal.NewFromInt(500), 10, "2026-02-02", time.Now()); !ok {
		t.Fatalf("hedge failed: %s", reason)
	}

	closed := h.Flatten("ml-1", decimal.NewFromInt(495), 20, time.Now())
	if !closed.Equal(decimal.NewFromInt(125)) {
		t.Errorf("expected +125 shares closed (buying back the short), got %s", closed)
	}

	pos, _ := h.Position("ml-1")
	if !pos.HedgeShares.IsZero() {
		t.Errorf("expected zero shares after flatten, got %s", pos.HedgeShares)
	}
	// Short 125 at 500, closed at 495: +625.
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(625)) {
		t.Errorf("expected realized pnl 625, got %s", pos.RealizedPnL)
	}

	h.Remove("ml-1")
	if _, found := h.Position("ml-1"); found {
		t.Error("expected position removed")
	}
}

func TestDailyTradeLimitBlocksFurtherHedges(t *testing.T) {
	cfg := options.DefaultHedgeConfig()
	cfg.MaxHedgeTradesPerDay = 1
	cfg.HedgeFrequencyBars = 0
	h := options.NewHedgeManager(cfg, zap.NewNop())

	if ok, _, _ := h.ExecuteHedge("ml-1", "SPY", decimal.NewFromFloat(1.0), decimal.NewFromInt(500), 10, "2026-02-02", time.Now()); !ok {
		t.Fatal("expected first hedge to execute")
	}
	if ok, reason, _ := h.ExecuteHedge("ml-2", "SPY", decimal.NewFromFloat(1.0), decimal.NewFromInt(500), 11, "2026-02-02", time.Now()); ok {
		t.Error("expected the daily trade limit to block the second hedge")
	} else if reason != "daily hedge trade limit reached" {
		t.Errorf("unexpected reason: %s", reason)
	}

	// A new trading day resets the counters.
	if ok, _, _ := h.ExecuteHedge("ml-2", "SPY", decimal.NewFromFloat(1.0), decimal.NewFromInt(500), 400, "2026-02-03", time.Now()); !ok {
		t.Error("expected the limit to reset on a new trading day")
	}
}

func TestOrphanCounterTriggersAfterMaxBars(t *testing.T) {
	cfg := options.DefaultHedgeConfig()
	cfg.MaxOrphanHedgeBars = 3
	h := options.NewHedgeManager(cfg, zap.NewNop())

	for i := 0; i < 2; i++ {
		if h.TickOrphan("ml-1") {
			t.Fatalf("orphan guard fired early at tick %d", i+1)
		}
	}
	if !h.TickOrphan("ml-1") {
		t.Error("expected orphan guard to fire on the third tick")
	}
}

func TestRestoreRebuildsPositions(t *testing.T) {
	h := newHedgeManager()
	h.Restore([]types.HedgePosition{{
		MultiLegID:  "ml-9",
		Symbol:      "SPY",
		HedgeShares: decimal.NewFromInt(-50),
		AvgPrice:    decimal.NewFromInt(480),
		TotalCost:   decimal.NewFromInt(24000),
	}})

	pos, ok := h.Position("ml-9")
	if !ok {
		t.Fatal("expected restored position")
	}
	if !pos.TotalCost.Equal(decimal.NewFromInt(24000)) {
		t.Errorf("expected total cost carried through restore, got %s", pos.TotalCost)
	}
}
