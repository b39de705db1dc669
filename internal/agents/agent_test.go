package agents_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/agents"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func TestTrendAgentEmitsOnlyOnTrendingRegime(t *testing.T) {
	agent := agents.TrendAgent{MinConfidence: decimal.NewFromFloat(0.3)}
	state := agents.MarketState{BaseSize: decimal.NewFromInt(10)}

	signal := types.RegimeSignal{
		Symbol: "SPY", RegimeType: types.RegimeMeanReversion,
		Bias: types.BiasLong, Confidence: decimal.NewFromFloat(0.9),
	}
	if intents := agent.Evaluate(signal, state); len(intents) != 0 {
		t.Errorf("expected no intents for a non-trending regime, got %d", len(intents))
	}

	signal.RegimeType = types.RegimeTrend
	intents := agent.Evaluate(signal, state)
	if len(intents) != 1 {
		t.Fatalf("expected one intent for a trending regime, got %d", len(intents))
	}
	if intents[0].Direction != types.BiasLong {
		t.Errorf("expected long direction, got %s", intents[0].Direction)
	}
}

func TestTrendAgentSkipsBelowConfidenceFloor(t *testing.T) {
	agent := agents.TrendAgent{MinConfidence: decimal.NewFromFloat(0.5)}
	signal := types.RegimeSignal{
		Symbol: "SPY", RegimeType: types.RegimeTrend,
		Bias: types.BiasLong, Confidence: decimal.NewFromFloat(0.2),
	}
	if intents := agent.Evaluate(signal, agents.MarketState{}); len(intents) != 0 {
		t.Errorf("expected no intents below the confidence floor, got %d", len(intents))
	}
}

func TestTrendAgentSkipsNeutralBias(t *testing.T) {
	agent := agents.TrendAgent{MinConfidence: decimal.NewFromFloat(0.3)}
	signal := types.RegimeSignal{
		Symbol: "SPY", RegimeType: types.RegimeTrend,
		Bias: types.BiasNeutral, Confidence: decimal.NewFromFloat(0.9),
	}
	if intents := agent.Evaluate(signal, agents.MarketState{}); len(intents) != 0 {
		t.Errorf("expected no intents on neutral bias, got %d", len(intents))
	}
}

type panicAgent struct{}

func (panicAgent) Name() string { return "panics" }
func (panicAgent) Evaluate(types.RegimeSignal, agents.MarketState) []types.TradeIntent {
	panic("boom")
}

func TestRegistryRecoversPanickingAgent(t *testing.T) {
	registry := agents.NewRegistry(zap.NewNop(), panicAgent{}, agents.TrendAgent{MinConfidence: decimal.NewFromFloat(0.1)})

	signal := types.RegimeSignal{
		Symbol: "SPY", RegimeType: types.RegimeTrend,
		Bias: types.BiasLong, Confidence: decimal.NewFromFloat(0.9), IsValid: true,
	}
	intents := registry.EvaluateAll(signal, agents.MarketState{BaseSize: decimal.NewFromInt(5)})
	if len(intents) != 1 {
		t.Fatalf("expected the panicking agent to contribute nothing and the other agent's intent to survive, got %d intents", len(intents))
	}
}

func TestRegistrySkipsInvalidSignal(t *testing.T) {
	registry := agents.NewRegistry(zap.NewNop(), agents.TrendAgent{MinConfidence: decimal.NewFromFloat(0.1)})

	signal := types.RegimeSignal{
		Symbol: "SPY", RegimeType: types.RegimeTrend,
		Bias: types.BiasLong, Confidence: decimal.NewFromFloat(0.9), IsValid: false,
	}
	intents := registry.EvaluateAll(signal, agents.MarketState{BaseSize: decimal.NewFromInt(5)})
	if len(intents) != 0 {
		t.Errorf("expected no intents for an invalid regime signal, got %d", len(intents))
	}
}
