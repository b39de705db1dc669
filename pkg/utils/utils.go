// Package utils provides ID generation and decimal statistics helpers shared
// across the engine's portfolio and reporting layers.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique hex ID with an optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string {
	return GenerateID("ord")
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// RoundToDecimalPlaces rounds a decimal to the given number of places.
func RoundToDecimalPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// CalculatePercentageChange returns (new-old)/old as a percentage.
func CalculatePercentageChange(oldVal, newVal decimal.Decimal) decimal.Decimal {
	if oldVal.IsZero() {
		return decimal.Zero
	}
	return newVal.Sub(oldVal).Div(oldVal).Mul(decimal.NewFromInt(100))
}

// CalculateReturns computes simple per-period returns from a price series.
func CalculateReturns(prices []decimal.Decimal) []decimal.Decimal {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]decimal.Decimal, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1].IsZero() {
			returns = append(returns, decimal.Zero)
			continue
		}
		returns = append(returns, prices[i].Sub(prices[i-1]).Div(prices[i-1]))
	}
	return returns
}

// CalculateMean returns the arithmetic mean of values, zero when empty.
func CalculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// CalculateStdDev returns the population standard deviation of values.
func CalculateStdDev(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n < 2 {
		return decimal.Zero
	}
	mean := CalculateMean(values)
	variance := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))
	return sqrtDecimal(variance)
}

// CalculateSharpeRatio computes the per-period Sharpe ratio of a return
// series against a per-period risk-free rate. Returns zero when the series
// has no variance.
func CalculateSharpeRatio(returns []decimal.Decimal, riskFreeRate decimal.Decimal) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}
	mean := CalculateMean(returns)
	std := CalculateStdDev(returns)
	if std.IsZero() {
		return decimal.Zero
	}
	return mean.Sub(riskFreeRate).Div(std)
}

// CalculateMaxDrawdown returns the largest peak-to-trough fractional decline
// across an equity series. Zero-length series have zero drawdown.
func CalculateMaxDrawdown(equity []decimal.Decimal) decimal.Decimal {
	if len(equity) == 0 {
		return decimal.Zero
	}
	peak := equity[0]
	maxDD := decimal.Zero
	for _, e := range equity {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(e).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// CalculateWinRate returns the fraction of positive P&L entries.
func CalculateWinRate(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, p := range pnls {
		if p.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(pnls))))
}

// CalculateProfitFactor returns gross profit over gross loss. A series with
// no losses reports zero rather than an unbounded factor.
func CalculateProfitFactor(pnls []decimal.Decimal) decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, p := range pnls {
		if p.GreaterThan(decimal.Zero) {
			grossProfit = grossProfit.Add(p)
		} else {
			grossLoss = grossLoss.Add(p.Abs())
		}
	}
	if grossLoss.IsZero() {
		return decimal.Zero
	}
	return grossProfit.Div(grossLoss)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal bounds value to [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// sqrtDecimal approximates a square root via Newton's method; shopspring's
// decimal type has no native Sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	guess := d
	two := decimal.NewFromInt(2)
	tolerance := decimal.NewFromFloat(1e-10)
	for i := 0; i < 30; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(tolerance) {
			return next
		}
		guess = next
	}
	return guess
}
