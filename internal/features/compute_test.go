package features_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/internal/features"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func barAt(i int, open, high, low, close float64) types.Bar {
	base := time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)
	return types.Bar{
		Symbol:    "SPY",
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestComputeEmptyWindow(t *testing.T) {
	w := features.NewWindow("SPY", 100)
	fs := features.Compute(w)
	if fs.SampleSize != 0 {
		t.Errorf("expected sample size 0, got %d", fs.SampleSize)
	}
	if !fs.Close.IsZero() {
		t.Errorf("expected zero close on empty window, got %s", fs.Close)
	}
}

func TestComputeTrendSlopePositiveOnRisingCloses(t *testing.T) {
	w := features.NewWindow("SPY", 100)
	for i := 0; i < 60; i++ {
		px := 100.0 + float64(i)*0.5
		w.Append(barAt(i, px, px+0.3, px-0.3, px))
	}

	fs := features.Compute(w)
	if fs.SampleSize != 60 {
		t.Fatalf("expected 60 samples, got %d", fs.SampleSize)
	}
	if !fs.TrendSlope.GreaterThan(decimal.Zero) {
		t.Errorf("expected positive trend slope, got %s", fs.TrendSlope)
	}
	if fs.ATR.IsZero() {
		t.Error("expected non-zero ATR")
	}
	if fs.EMA9.IsZero() || fs.VWAP.IsZero() {
		t.Error("expected EMA9 and VWAP populated")
	}
}

func TestComputeShortVolDropsBelowLongVolAfterQuietStretch(t *testing.T) {
	w := features.NewWindow("SPY", 200)
	// 40 noisy bars, then 20 dead-flat bars: the short window should read
	// quieter than the long baseline.
	for i := 0; i < 40; i++ {
		px := 100.0
		if i%2 == 0 {
			px = 102.0
		}
		w.Append(barAt(i, px, px+0.5, px-0.5, px))
	}
	for i := 40; i < 60; i++ {
		w.Append(barAt(i, 101.0, 101.05, 100.95, 101.0))
	}

	fs := features.Compute(w)
	if !fs.RealizedVol.LessThan(fs.RealizedVolLong) {
		t.Errorf("expected short vol %s below long vol %s after a quiet stretch",
			fs.RealizedVol, fs.RealizedVolLong)
	}
}

func TestWindowEvictsBeyondCapacity(t *testing.T) {
	w := features.NewWindow("SPY", 10)
	for i := 0; i < 25; i++ {
		w.Append(barAt(i, 100, 101, 99, 100))
	}
	if w.Len() != 10 {
		t.Errorf("expected window capped at 10 bars, got %d", w.Len())
	}
	if w.BarIndex() != 25 {
		t.Errorf("expected monotonic bar index 25, got %d", w.BarIndex())
	}
}

func TestBullishFVGDetectedAndRetired(t *testing.T) {
	w := features.NewWindow("SPY", 100)
	// Three-candle bullish imbalance: bar0 high 101 < bar2 low 104.
	w.Append(barAt(0, 100, 101, 99, 100))
	w.Append(barAt(1, 101, 103, 100, 103))
	w.Append(barAt(2, 104, 106, 104, 105))

	gap := w.ActiveFVG(decimal.NewFromInt(105), decimal.NewFromInt(10))
	if gap == nil {
		t.Fatal("expected an active bullish FVG")
	}
	if gap.GapType != types.BiasLong {
		t.Errorf("expected bullish gap, got %s", gap.GapType)
	}

	// Price trading back through the midpoint retires the gap.
	w.Append(barAt(3, 102, 102.5, 101.5, 102))
	if g := w.ActiveFVG(decimal.NewFromInt(102), decimal.NewFromInt(10)); g != nil {
		t.Error("expected the gap retired once price traversed its midpoint")
	}
}

func TestActiveFVGRespectsATRDistance(t *testing.T) {
	w := features.NewWindow("SPY", 100)
	w.Append(barAt(0, 100, 101, 99, 100))
	w.Append(barAt(1, 101, 103, 100, 103))
	w.Append(barAt(2, 104, 106, 104, 105))

	// Midpoint ~102.5; with price 120 and ATR 1 the gap is out of range.
	if g := w.ActiveFVG(decimal.NewFromInt(120), decimal.NewFromInt(1)); g != nil {
		t.Error("expected no active gap beyond one ATR of price")
	}
}
