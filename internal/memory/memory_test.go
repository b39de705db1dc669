package memory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/memory"
)

func TestRecordTradeClipsRewardToConfiguredBound(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig(), zap.NewNop(), "")

	reward := store.RecordTrade("agent-a", decimal.NewFromInt(50000), decimal.NewFromInt(100000))
	if reward.Cmp(decimal.NewFromFloat(0.1)) != 0 {
		t.Errorf("expected reward clipped to 0.1, got %s", reward)
	}

	reward = store.RecordTrade("agent-a", decimal.NewFromInt(-50000), decimal.NewFromInt(100000))
	if reward.Cmp(decimal.NewFromFloat(-0.1)) != 0 {
		t.Errorf("expected reward clipped to -0.1, got %s", reward)
	}
}

func TestFitnessTracksTradeCount(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig(), zap.NewNop(), "")

	store.RecordTrade("agent-a", decimal.NewFromInt(100), decimal.NewFromInt(100000))
	store.RecordTrade("agent-a", decimal.NewFromInt(200), decimal.NewFromInt(100000))

	fitness, ok := store.Fitness("agent-a")
	if !ok {
		t.Fatal("expected a fitness record for agent-a")
	}
	if fitness.TradeCnt != 2 {
		t.Errorf("expected trade count 2, got %d", fitness.TradeCnt)
	}
}

func TestFitnessUnknownAgentNotFound(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig(), zap.NewNop(), "")
	if _, ok := store.Fitness("ghost"); ok {
		t.Fatal("expected no fitness record for an agent that never traded")
	}
}

func TestSaveAndReloadPersistsFitness(t *testing.T) {
	dir := t.TempDir()
	cfg := memory.DefaultConfig()
	cfg.SaveEveryN = 1

	store := memory.NewStore(cfg, zap.NewNop(), dir)
	store.RecordTrade("agent-a", decimal.NewFromInt(1000), decimal.NewFromInt(100000))

	reloaded := memory.NewStore(cfg, zap.NewNop(), dir)
	fitness, ok := reloaded.Fitness("agent-a")
	if !ok {
		t.Fatal("expected reloaded store to have agent-a's persisted fitness")
	}
	if fitness.TradeCnt != 1 {
		t.Errorf("expected reloaded trade count 1, got %d", fitness.TradeCnt)
	}
}

func TestAllReturnsEveryTrackedAgent(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig(), zap.NewNop(), "")
	store.RecordTrade("agent-a", decimal.NewFromInt(100), decimal.NewFromInt(100000))
	store.RecordTrade("agent-b", decimal.NewFromInt(-100), decimal.NewFromInt(100000))

	all := store.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked agents, got %d", len(all))
	}
}
