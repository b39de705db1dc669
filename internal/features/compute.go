package features

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Compute derives a FeatureSet from the window's current contents (spec 4.1
// step 4). Returns SampleSize=0 with zero-valued fields when the window is
// empty; the scheduler is responsible for the minimum_bars_required gate.
func Compute(w *Window) types.FeatureSet {
	bars := w.Bars()
	n := len(bars)
	if n == 0 {
		return types.FeatureSet{Symbol: w.symbol, BarIndex: w.barIndex}
	}

	closes := make([]decimal.Decimal, n)
	highs := make([]decimal.Decimal, n)
	lows := make([]decimal.Decimal, n)
	volumes := make([]decimal.Decimal, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	atr := atrFromHLC(highs, lows, closes, 14)
	vw := vwap(closes, volumes)
	slope := trendSlope(lastN(closes, 20), atr)
	ema9 := ema(closes, 9)
	close := closes[n-1]

	// Short window reacts to the current session; the long window is the
	// baseline the classifier's compression/expansion ratio divides by.
	vol := realizedVol(lastN(closes, 20))
	longVol := realizedVol(lastN(closes, 60))

	return types.FeatureSet{
		Symbol:          w.symbol,
		BarIndex:        w.barIndex,
		Close:           close,
		VWAP:            vw,
		ATR:             atr,
		RealizedVol:     vol,
		RealizedVolLong: longVol,
		TrendSlope:      slope,
		EMA9:            ema9,
		ActiveFVG:       w.ActiveFVG(close, atr),
		SampleSize:      n,
	}
}

func lastN(s []decimal.Decimal, n int) []decimal.Decimal {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
