package options_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func trackTheta(p *options.ProfitManager, entryBar int64, entryIV decimal.Decimal) {
	p.TrackPosition("ml-theta", "theta_harvester", types.BiasShort,
		decimal.NewFromInt(2400), time.Now(), entryBar, entryIV, decimal.Zero)
}

func compressionSignal() types.RegimeSignal {
	return types.RegimeSignal{RegimeType: types.RegimeCompression, IsValid: true}
}

func TestMinHoldBarsBlocksEarlyExit(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.3))

	// +60% would trigger take-profit, but only 3 bars have elapsed.
	should, _ := p.ShouldTakeProfit("ml-theta", decimal.NewFromInt(60), 103, compressionSignal(), decimal.NewFromFloat(0.3))
	if should {
		t.Error("expected min-hold window to block the exit")
	}
}

func TestThetaTakeProfitAtThreshold(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.3))

	should, reason := p.ShouldTakeProfit("ml-theta", decimal.NewFromInt(50), 110, compressionSignal(), decimal.NewFromFloat(0.3))
	if !should {
		t.Fatal("expected take-profit at exactly 50%")
	}
	if reason != "theta harvester take-profit" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestThetaStopLoss(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.3))

	should, reason := p.ShouldTakeProfit("ml-theta", decimal.NewFromInt(-200), 110, compressionSignal(), decimal.NewFromFloat(0.3))
	if !should || reason != "theta harvester stop-loss" {
		t.Errorf("expected stop-loss at -200%%, got should=%v reason=%q", should, reason)
	}
}

func TestThetaIVCollapseExit(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.40))

	// IV dropped from 0.40 to 0.25: a 37.5% collapse, beyond the 30% threshold.
	should, reason := p.ShouldTakeProfit("ml-theta", decimal.NewFromInt(10), 110, compressionSignal(), decimal.NewFromFloat(0.25))
	if !should || reason != "theta harvester IV collapse" {
		t.Errorf("expected IV-collapse exit, got should=%v reason=%q", should, reason)
	}
}

func TestThetaExitsWhenCompressionEnds(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.3))

	signal := types.RegimeSignal{RegimeType: types.RegimeTrend, IsValid: true}
	should, reason := p.ShouldTakeProfit("ml-theta", decimal.NewFromInt(10), 110, signal, decimal.NewFromFloat(0.3))
	if !should || reason != "theta harvester regime exit: compression ended" {
		t.Errorf("expected regime exit, got should=%v reason=%q", should, reason)
	}
}

func TestMaxHoldBarsForcesExit(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	trackTheta(p, 100, decimal.NewFromFloat(0.3))

	should, reason := p.ShouldTakeProfit("ml-theta", decimal.Zero, 490, compressionSignal(), decimal.NewFromFloat(0.3))
	if !should || reason != "maximum hold time reached" {
		t.Errorf("expected max-hold exit, got should=%v reason=%q", should, reason)
	}
}

func TestGammaGEXReversalExit(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	p.TrackPosition("ml-gamma", "gamma_scalper", types.BiasLong,
		decimal.NewFromInt(3500), time.Now(), 100, decimal.NewFromFloat(0.2), decimal.NewFromFloat(-2.5))

	signal := types.RegimeSignal{
		RegimeType: types.RegimeExpansion,
		IsValid:    true,
		GEX: types.GEXSnapshot{
			Regime:     types.GEXPositive,
			StrengthBn: decimal.NewFromFloat(1.2),
		},
	}
	should, reason := p.ShouldTakeProfit("ml-gamma", decimal.NewFromInt(20), 110, signal, decimal.NewFromFloat(0.2))
	if !should || reason != "gamma scalper GEX reversal" {
		t.Errorf("expected GEX-reversal exit, got should=%v reason=%q", should, reason)
	}
}

func TestGammaHoldsThroughNeutralGEX(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	p.TrackPosition("ml-gamma", "gamma_scalper", types.BiasLong,
		decimal.NewFromInt(3500), time.Now(), 100, decimal.NewFromFloat(0.2), decimal.NewFromFloat(-2.5))

	signal := types.RegimeSignal{
		RegimeType: types.RegimeExpansion,
		IsValid:    true,
		GEX:        types.GEXSnapshot{Regime: types.GEXNeutral},
	}
	should, _ := p.ShouldTakeProfit("ml-gamma", decimal.NewFromInt(20), 110, signal, decimal.NewFromFloat(0.2))
	if should {
		t.Error("expected the position to hold while GEX is merely neutral")
	}
}

func TestUntrackedPositionNeverExits(t *testing.T) {
	p := options.NewProfitManager(options.DefaultProfitTakeConfig(), zap.NewNop())
	should, _ := p.ShouldTakeProfit("ghost", decimal.NewFromInt(500), 110, compressionSignal(), decimal.Zero)
	if should {
		t.Error("expected no exit signal for an untracked position")
	}
}
