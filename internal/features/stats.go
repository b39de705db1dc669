package features

import (
	"github.com/shopspring/decimal"
)

// sqrtDecimal approximates a square root via Newton's method, since
// shopspring/decimal has no native Sqrt. Thirty iterations comfortably
// converges for the magnitudes (prices, variances) this engine handles.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.IsZero() {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 30; i++ {
		if x.IsZero() {
			break
		}
		next := x.Add(d.Div(x)).Div(two)
		if next.Sub(x).Abs().LessThan(decimal.NewFromFloat(1e-10)) {
			x = next
			break
		}
		x = next
	}
	return x
}

// ema computes a single-pass exponential moving average over closes with
// the given period, returning the final value (zero for no data; fewer
// closes than the period use their own count as the period).
func ema(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) == 0 {
		return decimal.Zero
	}
	if len(closes) < period {
		period = len(closes)
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	oneMinusK := decimal.NewFromInt(1).Sub(k)

	avg := closes[0]
	for _, c := range closes[1:] {
		avg = c.Mul(k).Add(avg.Mul(oneMinusK))
	}
	return avg
}

// atrFromHLC computes the average true range over the given bars' high/low/close.
func atrFromHLC(highs, lows, closes []decimal.Decimal, period int) decimal.Decimal {
	n := len(closes)
	if n < 2 {
		return decimal.Zero
	}
	if period > n-1 {
		period = n - 1
	}
	if period < 1 {
		return decimal.Zero
	}

	trueRanges := make([]decimal.Decimal, 0, n-1)
	for i := 1; i < n; i++ {
		hl := highs[i].Sub(lows[i]).Abs()
		hc := highs[i].Sub(closes[i-1]).Abs()
		lc := lows[i].Sub(closes[i-1]).Abs()
		tr := hl
		if hc.GreaterThan(tr) {
			tr = hc
		}
		if lc.GreaterThan(tr) {
			tr = lc
		}
		trueRanges = append(trueRanges, tr)
	}

	window := trueRanges[len(trueRanges)-period:]
	sum := decimal.Zero
	for _, tr := range window {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// vwap computes the volume-weighted average close across the given bars.
func vwap(closes, volumes []decimal.Decimal) decimal.Decimal {
	sumPV := decimal.Zero
	sumV := decimal.Zero
	for i := range closes {
		sumPV = sumPV.Add(closes[i].Mul(volumes[i]))
		sumV = sumV.Add(volumes[i])
	}
	if sumV.IsZero() {
		if len(closes) == 0 {
			return decimal.Zero
		}
		return closes[len(closes)-1]
	}
	return sumPV.Div(sumV)
}

// realizedVol computes the standard deviation of simple returns over the
// trailing window, an annualization-free realized-volatility proxy.
func realizedVol(closes []decimal.Decimal) decimal.Decimal {
	n := len(closes)
	if n < 2 {
		return decimal.Zero
	}
	returns := make([]decimal.Decimal, 0, n-1)
	for i := 1; i < n; i++ {
		if closes[i-1].IsZero() {
			continue
		}
		r := closes[i].Sub(closes[i-1]).Div(closes[i-1])
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return decimal.Zero
	}

	mean := decimal.Zero
	for _, r := range returns {
		mean = mean.Add(r)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(returns))))

	variance := decimal.Zero
	for _, r := range returns {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(returns))))
	return sqrtDecimal(variance)
}

// trendSlope fits a simple linear regression over the closes (x = bar
// index) and returns the slope per bar, normalized by ATR so it is
// comparable across symbols/price levels.
func trendSlope(closes []decimal.Decimal, atr decimal.Decimal) decimal.Decimal {
	n := len(closes)
	if n < 2 {
		return decimal.Zero
	}

	var sumX, sumY, sumXY, sumXX decimal.Decimal
	for i, c := range closes {
		x := decimal.NewFromInt(int64(i))
		sumX = sumX.Add(x)
		sumY = sumY.Add(c)
		sumXY = sumXY.Add(x.Mul(c))
		sumXX = sumXX.Add(x.Mul(x))
	}
	nd := decimal.NewFromInt(int64(n))
	denom := nd.Mul(sumXX).Sub(sumX.Mul(sumX))
	if denom.IsZero() {
		return decimal.Zero
	}
	slope := nd.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(denom)

	if atr.IsZero() {
		return slope
	}
	return slope.Div(atr)
}

// percentileRank returns the fraction (0..1) of values in the slice that are
// <= the last element, i.e. where the most recent value ranks in its own
// trailing history.
func percentileRank(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n == 0 {
		return decimal.Zero
	}
	last := values[n-1]
	count := 0
	for _, v := range values {
		if v.LessThanOrEqual(last) {
			count++
		}
	}
	return decimal.NewFromInt(int64(count)).Div(decimal.NewFromInt(int64(n)))
}
