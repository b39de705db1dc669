package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/risk"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func validIntent(symbol string, delta float64) types.FinalTradeIntent {
	return types.FinalTradeIntent{
		Symbol:        symbol,
		PositionDelta: decimal.NewFromFloat(delta),
		Confidence:    decimal.NewFromFloat(0.8),
		IsValid:       true,
	}
}

func trendRegime() types.RegimeSignal {
	return types.RegimeSignal{
		RegimeType:    types.RegimeTrend,
		VolatilityLvl: types.VolMedium,
	}
}

func TestGateAllowsIntentWithinLimits(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))

	allowed, size, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if !allowed {
		t.Fatalf("expected allow, got veto %q", reason)
	}
	if size.IsZero() {
		t.Error("expected non-zero sized delta")
	}
	if reason != risk.VetoNone {
		t.Errorf("expected VetoNone, got %q", reason)
	}
}

func TestGateVetoesKillSwitch(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))
	mgr.SetKillSwitch(true)

	allowed, _, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if allowed {
		t.Fatal("expected veto with kill switch engaged")
	}
	if reason != risk.VetoKillSwitch {
		t.Errorf("expected VetoKillSwitch, got %q", reason)
	}
}

func TestGateVetoesBelowConfidenceFloor(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))

	intent := validIntent("SPY", 100)
	intent.Confidence = decimal.NewFromFloat(0.1)

	allowed, _, reason := mgr.Gate(intent, trendRegime(), decimal.NewFromInt(100), 1)
	if allowed {
		t.Fatal("expected veto below confidence floor")
	}
	if reason != risk.VetoConfidenceFloor {
		t.Errorf("expected VetoConfidenceFloor, got %q", reason)
	}
}

func TestGateVetoesHardDrawdown(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))
	mgr.UpdateEquity(decimal.NewFromInt(80000)) // 20% drawdown, exceeds 15% hard limit

	allowed, _, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if allowed {
		t.Fatal("expected veto on hard drawdown")
	}
	if reason != risk.VetoHardDrawdown {
		t.Errorf("expected VetoHardDrawdown, got %q", reason)
	}
}

func TestGateSoftDrawdownHalvesSize(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))

	_, fullSize, _ := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(10), 1)

	mgr.UpdateEquity(decimal.NewFromInt(89000)) // 11% drawdown, soft but not hard
	allowed, halvedSize, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(10), 2)
	if !allowed {
		t.Fatalf("expected allow under soft drawdown, got veto %q", reason)
	}
	if !halvedSize.Abs().LessThan(fullSize.Abs()) {
		t.Errorf("expected soft-drawdown size %s to be smaller than full size %s", halvedSize, fullSize)
	}
}

func TestCircuitBreakerEngagesAfterLossStreak(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.LossWindowSize = 5
	cfg.MaxLossesInWindow = 3
	cfg.CircuitCooldown = 10
	mgr := risk.NewManager(cfg, zap.NewNop(), decimal.NewFromInt(100000))

	for i := 0; i < 3; i++ {
		mgr.RecordTradeClosed(decimal.NewFromInt(-100), "2026-07-30")
	}

	allowed, _, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if allowed {
		t.Fatal("expected circuit breaker veto after loss streak")
	}
	if reason != risk.VetoCircuitBreaker {
		t.Errorf("expected VetoCircuitBreaker, got %q", reason)
	}

	status := mgr.Status()
	if status.CircuitBarsLeft != cfg.CircuitCooldown {
		t.Errorf("expected %d cooldown bars, got %d", cfg.CircuitCooldown, status.CircuitBarsLeft)
	}

	for i := 0; i < cfg.CircuitCooldown; i++ {
		mgr.Tick()
	}
	allowed, _, reason = mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if !allowed {
		t.Fatalf("expected circuit breaker to have lifted, got veto %q", reason)
	}
}

func TestDailyLossLimitVetoesFurtherEntries(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.DailyLossLimitPct = decimal.NewFromFloat(0.02)
	mgr := risk.NewManager(cfg, zap.NewNop(), decimal.NewFromInt(100000))

	mgr.RecordTradeClosed(decimal.NewFromInt(-3000), "2026-07-30")

	allowed, _, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if allowed {
		t.Fatal("expected veto on daily loss limit breach")
	}
	if reason != risk.VetoDailyLossLimit {
		t.Errorf("expected VetoDailyLossLimit, got %q", reason)
	}
}

func TestResetDailyClearsLossLimitOnNewTradingDay(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.DailyLossLimitPct = decimal.NewFromFloat(0.02)
	mgr := risk.NewManager(cfg, zap.NewNop(), decimal.NewFromInt(100000))

	mgr.RecordTradeClosed(decimal.NewFromInt(-3000), "2026-07-30")
	mgr.ResetDaily("2026-07-31")

	allowed, _, reason := mgr.Gate(validIntent("SPY", 100), trendRegime(), decimal.NewFromInt(100), 1)
	if !allowed {
		t.Fatalf("expected allow after daily reset, got veto %q", reason)
	}
}

func TestSymbolExposureCapLimitsSize(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.MaxSymbolExposurePct = decimal.NewFromFloat(0.05)
	mgr := risk.NewManager(cfg, zap.NewNop(), decimal.NewFromInt(100000))

	// Already holding exposure near the cap (5% of 100k = 5000 at price 100 -> 50 shares).
	mgr.RecordSymbolExposure("SPY", decimal.NewFromInt(4900))

	allowed, size, reason := mgr.Gate(validIntent("SPY", 1000), trendRegime(), decimal.NewFromInt(100), 1)
	if !allowed {
		t.Fatalf("expected partial allow, got veto %q", reason)
	}
	if size.Abs().GreaterThan(decimal.NewFromInt(10)) {
		t.Errorf("expected size capped near remaining symbol headroom, got %s", size)
	}
}

func TestRestoreReplaysCheckpointState(t *testing.T) {
	mgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop(), decimal.NewFromInt(100000))
	mgr.Restore(decimal.NewFromInt(120000), decimal.NewFromInt(100000), 7, decimal.NewFromInt(-500), "2026-07-30")

	status := mgr.Status()
	if status.PeakEquity.Cmp(decimal.NewFromInt(120000)) != 0 {
		t.Errorf("expected restored peak equity 120000, got %s", status.PeakEquity)
	}
	if status.CircuitBarsLeft != 7 {
		t.Errorf("expected restored circuit bars 7, got %d", status.CircuitBarsLeft)
	}
}
