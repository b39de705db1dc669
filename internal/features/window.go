// Package features computes the rolling-window feature set the regime
// classifier consumes (spec 3, 4.2): VWAP, ATR, realized volatility, trend
// slope, EMA(9), and fair-value-gap detection.
package features

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Window is a fixed-capacity ring buffer of bars for one symbol, the
// scheduler's per-symbol rolling window (spec 4.1 step 2, capacity ~500).
type Window struct {
	symbol   string
	capacity int
	bars     []types.Bar
	fvgs     []types.FVG
	barIndex int64
}

// NewWindow constructs an empty window with the given ring-buffer capacity.
func NewWindow(symbol string, capacity int) *Window {
	if capacity <= 0 {
		capacity = 500
	}
	return &Window{symbol: symbol, capacity: capacity, bars: make([]types.Bar, 0, capacity)}
}

// Append adds a bar, evicting the oldest when capacity is exceeded, and
// detects any new fair-value gap formed by the three most recent bars.
func (w *Window) Append(b types.Bar) {
	w.bars = append(w.bars, b)
	if len(w.bars) > w.capacity {
		w.bars = w.bars[len(w.bars)-w.capacity:]
	}
	w.barIndex++
	w.detectFVG()
	w.retireFilledFVGs(b.Close)
}

// Len reports the number of bars currently held.
func (w *Window) Len() int { return len(w.bars) }

// BarIndex is the count of bars ever appended (monotonic, not reset on evict).
func (w *Window) BarIndex() int64 { return w.barIndex }

// Bars returns the current window contents, oldest first. Callers must not
// mutate the returned slice.
func (w *Window) Bars() []types.Bar { return w.bars }

// detectFVG looks for a three-candle imbalance: bar[n-2].high < bar[n].low
// (bullish gap) or bar[n-2].low > bar[n].high (bearish gap).
func (w *Window) detectFVG() {
	n := len(w.bars)
	if n < 3 {
		return
	}
	a, c := w.bars[n-3], w.bars[n-1]
	if a.High.LessThan(c.Low) {
		w.fvgs = append(w.fvgs, types.FVG{
			GapType: types.BiasLong, Upper: c.Low, Lower: a.High, CreatedBar: w.barIndex,
		})
	} else if a.Low.GreaterThan(c.High) {
		w.fvgs = append(w.fvgs, types.FVG{
			GapType: types.BiasShort, Upper: a.Low, Lower: c.High, CreatedBar: w.barIndex,
		})
	}
}

// retireFilledFVGs marks a gap filled once price has traversed its midpoint.
func (w *Window) retireFilledFVGs(close decimal.Decimal) {
	for i := range w.fvgs {
		g := &w.fvgs[i]
		if g.Filled {
			continue
		}
		mid := g.Midpoint()
		if g.GapType == types.BiasLong && close.LessThanOrEqual(mid) {
			g.Filled = true
		} else if g.GapType == types.BiasShort && close.GreaterThanOrEqual(mid) {
			g.Filled = true
		}
	}
}

// ActiveFVG returns the most recent unfilled gap whose midpoint is within
// one ATR of the current price (spec 4.2), or nil.
func (w *Window) ActiveFVG(currentPrice, atr decimal.Decimal) *types.FVG {
	for i := len(w.fvgs) - 1; i >= 0; i-- {
		g := w.fvgs[i]
		if g.Filled {
			continue
		}
		dist := g.Midpoint().Sub(currentPrice).Abs()
		if atr.IsZero() || dist.LessThanOrEqual(atr) {
			out := g
			return &out
		}
	}
	return nil
}
