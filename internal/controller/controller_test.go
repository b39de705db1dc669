package controller_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/controller"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func baseSignal() types.RegimeSignal {
	return types.RegimeSignal{
		Symbol:        "SPY",
		RegimeType:    types.RegimeTrend,
		VolatilityLvl: types.VolMedium,
	}
}

func TestReconcilePicksHigherScoringBucket(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"trend-rider", "mean-reverter"})

	intents := []types.TradeIntent{
		{AgentName: "trend-rider", Direction: types.BiasLong, Size: decimal.NewFromInt(100), Confidence: decimal.NewFromFloat(0.9), InstrumentType: types.InstrumentStock},
		{AgentName: "mean-reverter", Direction: types.BiasShort, Size: decimal.NewFromInt(10), Confidence: decimal.NewFromFloat(0.2), InstrumentType: types.InstrumentStock},
	}

	final := c.Reconcile(intents, baseSignal())
	if !final.IsValid {
		t.Fatal("expected a valid final intent")
	}
	if final.PrimaryAgent != "trend-rider" {
		t.Errorf("expected trend-rider to win, got %s", final.PrimaryAgent)
	}
	if !final.PositionDelta.GreaterThan(decimal.Zero) {
		t.Errorf("expected a positive (long) position delta, got %s", final.PositionDelta)
	}
}

func TestReconcileInvalidWhenNoBucketClearsMinimum(t *testing.T) {
	cfg := controller.DefaultConfig()
	cfg.MinBucketScore = decimal.NewFromInt(1000)
	c := controller.New(cfg, zap.NewNop(), []string{"trend-rider"})

	intents := []types.TradeIntent{
		{AgentName: "trend-rider", Direction: types.BiasLong, Size: decimal.NewFromInt(1), Confidence: decimal.NewFromFloat(0.1), InstrumentType: types.InstrumentStock},
	}

	final := c.Reconcile(intents, baseSignal())
	if final.IsValid {
		t.Fatal("expected invalid final intent when no bucket clears the minimum score")
	}
}

func TestReconcileIgnoresNeutralIntents(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"flat-agent"})

	intents := []types.TradeIntent{
		{AgentName: "flat-agent", Direction: types.BiasNeutral, Size: decimal.NewFromInt(100), Confidence: decimal.NewFromFloat(0.9)},
	}

	final := c.Reconcile(intents, baseSignal())
	if final.IsValid {
		t.Fatal("expected invalid final intent when all intents are neutral")
	}
}

func TestApplyRewardIncreasesWinningAgentWeight(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"winner", "loser"})

	c.ApplyReward(controller.RewardUpdate{
		AgentName:      "winner",
		RegimeType:     types.RegimeTrend,
		VolatilityLvl:  types.VolMedium,
		InstrumentType: types.InstrumentStock,
		Reward:         decimal.NewFromFloat(1.0),
	})

	agents, _, _, _ := c.Snapshot()
	if !agents["winner"].GreaterThan(agents["loser"]) {
		t.Errorf("expected winner weight %s to exceed loser weight %s", agents["winner"], agents["loser"])
	}
}

func TestApplyRewardNegativeDecreasesWeight(t *testing.T) {
	// A second agent is needed: renormalization holds each table's mean at
	// 1.0, so a lone agent's weight can never move.
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"agent", "peer"})
	before, _, _, _ := c.Snapshot()

	c.ApplyReward(controller.RewardUpdate{
		AgentName:      "agent",
		RegimeType:     types.RegimeTrend,
		VolatilityLvl:  types.VolMedium,
		InstrumentType: types.InstrumentStock,
		Reward:         decimal.NewFromFloat(-1.0),
	})

	after, _, _, _ := c.Snapshot()
	if !after["agent"].LessThan(before["agent"]) {
		t.Errorf("expected weight to decrease after negative reward: before=%s after=%s", before["agent"], after["agent"])
	}
	if !after["peer"].GreaterThan(after["agent"]) {
		t.Errorf("expected untouched peer to outrank the penalized agent: peer=%s agent=%s", after["peer"], after["agent"])
	}
}

func TestWeightTablesRenormalizeToUnitMean(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"a", "b", "c"})

	for i := 0; i < 5; i++ {
		c.ApplyReward(controller.RewardUpdate{
			AgentName:      "a",
			RegimeType:     types.RegimeTrend,
			VolatilityLvl:  types.VolMedium,
			InstrumentType: types.InstrumentStock,
			Reward:         decimal.NewFromFloat(1.0),
		})
	}

	agents, _, _, _ := c.Snapshot()
	sum := decimal.Zero
	for _, w := range agents {
		sum = sum.Add(w)
	}
	diff := sum.Sub(decimal.NewFromInt(int64(len(agents)))).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Errorf("expected table to sum to count after renormalization, got %s", sum)
	}
}

func TestHighConvictionOptionIntentOutscoresEqualStockIntent(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"stock-agent", "options-agent"})

	intents := []types.TradeIntent{
		{AgentName: "stock-agent", Direction: types.BiasLong, Size: decimal.NewFromInt(10), Confidence: decimal.NewFromFloat(0.85), InstrumentType: types.InstrumentStock},
		{AgentName: "options-agent", Direction: types.BiasShort, Size: decimal.NewFromInt(10), Confidence: decimal.NewFromFloat(0.85), InstrumentType: types.InstrumentOption, OptionType: types.OptionStraddle},
	}

	final := c.Reconcile(intents, baseSignal())
	if !final.IsValid {
		t.Fatal("expected a valid final intent")
	}
	// Same size and confidence, but the options intent carries the 1.5x
	// high-conviction multiplier and should win the bucket contest.
	if final.PrimaryAgent != "options-agent" {
		t.Errorf("expected the high-conviction options intent to win, got %s", final.PrimaryAgent)
	}
	if final.OptionType != types.OptionStraddle {
		t.Errorf("expected option fields propagated, got %s", final.OptionType)
	}
}

func TestRestoreReplacesWeightTables(t *testing.T) {
	c := controller.New(controller.DefaultConfig(), zap.NewNop(), []string{"agent"})

	restoredAgents := map[string]decimal.Decimal{"agent": decimal.NewFromFloat(2.5)}
	c.Restore(restoredAgents, nil, nil, nil)

	agents, _, _, _ := c.Snapshot()
	if agents["agent"].Cmp(decimal.NewFromFloat(2.5)) != 0 {
		t.Errorf("expected restored weight 2.5, got %s", agents["agent"])
	}
}
