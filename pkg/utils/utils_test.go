package utils_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/utils"
)

func decs(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestGenerateIDPrefixes(t *testing.T) {
	id := utils.GenerateTradeID()
	if !strings.HasPrefix(id, "trd_") {
		t.Errorf("expected trd_ prefix, got %s", id)
	}
	if utils.GenerateOrderID() == utils.GenerateOrderID() {
		t.Error("expected unique order IDs")
	}
}

func TestCalculateReturns(t *testing.T) {
	returns := utils.CalculateReturns(decs(100, 110, 99))
	if len(returns) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(returns))
	}
	if !returns[0].Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected first return 0.1, got %s", returns[0])
	}
	if !returns[1].Equal(decimal.NewFromFloat(-0.1)) {
		t.Errorf("expected second return -0.1, got %s", returns[1])
	}
}

func TestCalculateMaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown 0.25.
	dd := utils.CalculateMaxDrawdown(decs(100, 120, 90, 110))
	if !dd.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected max drawdown 0.25, got %s", dd)
	}

	if !utils.CalculateMaxDrawdown(nil).IsZero() {
		t.Error("expected zero drawdown on an empty series")
	}
}

func TestCalculateWinRateAndProfitFactor(t *testing.T) {
	pnls := decs(100, -50, 200, -50)
	if wr := utils.CalculateWinRate(pnls); !wr.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected win rate 0.5, got %s", wr)
	}
	if pf := utils.CalculateProfitFactor(pnls); !pf.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected profit factor 3, got %s", pf)
	}
	if pf := utils.CalculateProfitFactor(decs(100, 200)); !pf.IsZero() {
		t.Errorf("expected zero profit factor with no losses, got %s", pf)
	}
}

func TestCalculateSharpeRatioZeroVariance(t *testing.T) {
	if s := utils.CalculateSharpeRatio(decs(0.01, 0.01, 0.01), decimal.Zero); !s.IsZero() {
		t.Errorf("expected zero Sharpe on a constant series, got %s", s)
	}
}

func TestClampDecimal(t *testing.T) {
	min, max := decimal.NewFromInt(0), decimal.NewFromInt(10)
	if got := utils.ClampDecimal(decimal.NewFromInt(-5), min, max); !got.Equal(min) {
		t.Errorf("expected clamp to 0, got %s", got)
	}
	if got := utils.ClampDecimal(decimal.NewFromInt(15), min, max); !got.Equal(max) {
		t.Errorf("expected clamp to 10, got %s", got)
	}
	if got := utils.ClampDecimal(decimal.NewFromInt(5), min, max); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected passthrough 5, got %s", got)
	}
}

func TestCalculateStdDevConstantSeries(t *testing.T) {
	if sd := utils.CalculateStdDev(decs(5, 5, 5, 5)); !sd.IsZero() {
		t.Errorf("expected zero stddev, got %s", sd)
	}
}
