package regime_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/regime"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func newClassifier() *regime.Classifier {
	cfg := regime.DefaultClassifierConfig()
	cfg.MinWindow = 50
	cfg.ConfidenceFloor = decimal.NewFromFloat(0.1)
	return regime.NewClassifier(cfg, regime.NewMicrostructure(), zap.NewNop())
}

func baseFeatures() types.FeatureSet {
	return types.FeatureSet{
		Symbol:          "SPY",
		BarIndex:        100,
		Close:           decimal.NewFromInt(500),
		VWAP:            decimal.NewFromInt(500),
		ATR:             decimal.NewFromInt(2),
		RealizedVol:     decimal.NewFromFloat(0.01),
		RealizedVolLong: decimal.NewFromFloat(0.01),
		SampleSize:      100,
	}
}

func TestInsufficientWindowProducesInvalidSignal(t *testing.T) {
	c := newClassifier()
	f := baseFeatures()
	f.SampleSize = 10

	sig := c.Classify(f)
	if sig.IsValid {
		t.Error("expected invalid signal below the minimum window")
	}
	if sig.RegimeType != types.RegimeNeutral {
		t.Errorf("expected neutral regime, got %s", sig.RegimeType)
	}
}

func TestStrongSlopeClassifiesTrend(t *testing.T) {
	c := newClassifier()
	f := baseFeatures()
	f.TrendSlope = decimal.NewFromFloat(0.3)

	sig := c.Classify(f)
	if sig.RegimeType != types.RegimeTrend {
		t.Fatalf("expected trend regime, got %s", sig.RegimeType)
	}
	if sig.TrendDirection != types.TrendUp {
		t.Errorf("expected upward trend direction, got %s", sig.TrendDirection)
	}
	if sig.Bias != types.BiasLong {
		t.Errorf("expected long bias in an uptrend, got %s", sig.Bias)
	}
}

func TestLowVolRatioClassifiesCompressionWithNeutralBias(t *testing.T) {
	c := newClassifier()
	f := baseFeatures()
	f.RealizedVol = decimal.NewFromFloat(0.005)
	f.RealizedVolLong = decimal.NewFromFloat(0.010) // ratio 0.5 < 0.7

	sig := c.Classify(f)
	if sig.RegimeType != types.RegimeCompression {
		t.Fatalf("expected compression, got %s", sig.RegimeType)
	}
	if sig.Bias != types.BiasNeutral {
		t.Errorf("expected neutral bias in compression, got %s", sig.Bias)
	}
}

func TestHighVolRatioClassifiesExpansion(t *testing.T) {
	c := newClassifier()
	f := baseFeatures()
	f.RealizedVol = decimal.NewFromFloat(0.020)
	f.RealizedVolLong = decimal.NewFromFloat(0.010) // ratio 2.0 > 1.3

	sig := c.Classify(f)
	if sig.RegimeType != types.RegimeExpansion {
		t.Errorf("expected expansion, got %s", sig.RegimeType)
	}
}

func TestExtendedPriceWithFlatSlopeClassifiesMeanReversionWithReversedBias(t *testing.T) {
	c := newClassifier()
	f := baseFeatures()
	// Close well above VWAP (z-score +3 in ATR units) with no slope.
	f.Close = decimal.NewFromInt(506)
	f.VWAP = decimal.NewFromInt(500)

	sig := c.Classify(f)
	if sig.RegimeType != types.RegimeMeanReversion {
		t.Fatalf("expected mean reversion, got %s", sig.RegimeType)
	}
	if sig.Bias != types.BiasShort {
		t.Errorf("expected short bias when extended above VWAP, got %s", sig.Bias)
	}
}

func TestHysteresisPrefersPreviousRegimeOnTie(t *testing.T) {
	c := newClassifier()

	// Establish a trend regime first.
	f := baseFeatures()
	f.TrendSlope = decimal.NewFromFloat(0.3)
	if sig := c.Classify(f); sig.RegimeType != types.RegimeTrend {
		t.Fatalf("setup: expected trend, got %s", sig.RegimeType)
	}

	// Now both trend and expansion are plausible; the previous bar's regime
	// should win the tie.
	f.RealizedVol = decimal.NewFromFloat(0.020)
	f.RealizedVolLong = decimal.NewFromFloat(0.010)
	if sig := c.Classify(f); sig.RegimeType != types.RegimeTrend {
		t.Errorf("expected hysteresis to keep trend, got %s", sig.RegimeType)
	}
}

func TestGEXSnapshotFlowsFromMicrostructure(t *testing.T) {
	micro := regime.NewMicrostructure()
	cfg := regime.DefaultClassifierConfig()
	cfg.ConfidenceFloor = decimal.NewFromFloat(0.1)
	c := regime.NewClassifier(cfg, micro, zap.NewNop())

	micro.Update("SPY", types.GEXSnapshot{
		Regime:     types.GEXNegative,
		StrengthBn: decimal.NewFromFloat(-2.4),
	})

	f := baseFeatures()
	sig := c.Classify(f)
	if sig.GEX.Regime != types.GEXNegative {
		t.Errorf("expected negative GEX regime from the store, got %s", sig.GEX.Regime)
	}
}

func TestComputeGEXProxySignsAndFilters(t *testing.T) {
	contracts := []regime.GammaContract{
		// Counted: call, positive contribution.
		{Gamma: decimal.NewFromFloat(0.01), Delta: decimal.NewFromFloat(0.5), OpenInterest: decimal.NewFromInt(1000), IsPut: false},
		// Counted: put, negative contribution.
		{Gamma: decimal.NewFromFloat(0.01), Delta: decimal.NewFromFloat(-0.5), OpenInterest: decimal.NewFromInt(500), IsPut: true},
		// Filtered: OI below 50.
		{Gamma: decimal.NewFromFloat(0.01), Delta: decimal.NewFromFloat(0.5), OpenInterest: decimal.NewFromInt(10), IsPut: false},
		// Filtered: delta out of the 0.2..0.8 band.
		{Gamma: decimal.NewFromFloat(0.01), Delta: decimal.NewFromFloat(0.05), OpenInterest: decimal.NewFromInt(1000), IsPut: false},
	}

	snap := regime.ComputeGEXProxy(contracts, decimal.NewFromInt(500))
	if snap.Coverage != 2 {
		t.Errorf("expected 2 contracts counted, got %d", snap.Coverage)
	}
	// 0.01*1000*100*500 - 0.01*500*100*500 = 500000 - 250000 = 250000.
	if !snap.TotalGEXDolla.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("expected total GEX $250000, got %s", snap.TotalGEXDolla)
	}
}
