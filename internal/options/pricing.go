// Package options implements the multi-leg options lifecycle (spec 4.6):
// synthetic pricing, delta hedging, and profit-take/stop-loss management.
package options

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

var (
	half         = decimal.NewFromFloat(0.5)
	pointFour    = decimal.NewFromFloat(0.4)
	pointZeroTwo = decimal.NewFromFloat(0.02)
	one          = decimal.NewFromInt(1)
	daysPerYear  = decimal.NewFromInt(365)
	riskFreeDflt = decimal.NewFromFloat(0.05)
)

// SyntheticPricer approximates Black-Scholes pricing and Greeks without a
// live options feed, used when the configured broker has no chain data for
// a contract (spec 6: options-chain external capability fallback).
type SyntheticPricer struct {
	RiskFreeRate decimal.Decimal
}

// NewSyntheticPricer builds a pricer with the standard risk-free-rate default.
func NewSyntheticPricer() SyntheticPricer {
	return SyntheticPricer{RiskFreeRate: riskFreeDflt}
}

// Price computes a synthetic option premium. timeToExpiryYears <= 0 returns
// intrinsic value only.
func (p SyntheticPricer) Price(underlying, strike, timeToExpiryYears, iv decimal.Decimal, optType types.OptionType) decimal.Decimal {
	if timeToExpiryYears.LessThanOrEqual(decimal.Zero) {
		if optType == types.OptionCall {
			return decimal.Max(decimal.Zero, underlying.Sub(strike))
		}
		return decimal.Max(decimal.Zero, strike.Sub(underlying))
	}

	moneyness := decimal.NewFromInt(1)
	if strike.GreaterThan(decimal.Zero) {
		moneyness = underlying.Div(strike)
	}

	timeFactor := sqrtDecimal(timeToExpiryYears)
	baseExtrinsic := underlying.Mul(timeFactor).Mul(iv).Mul(pointFour)

	if optType == types.OptionCall {
		intrinsic := decimal.Max(decimal.Zero, underlying.Sub(strike))
		var extrinsic decimal.Decimal
		switch {
		case moneyness.GreaterThan(one):
			extrinsic = baseExtrinsic.Mul(one.Add(moneyness.Sub(one).Mul(half)))
		case moneyness.LessThan(one):
			extrinsic = baseExtrinsic.Mul(moneyness)
		default:
			extrinsic = baseExtrinsic
		}
		return intrinsic.Add(extrinsic)
	}

	intrinsic := decimal.Max(decimal.Zero, strike.Sub(underlying))
	var extrinsic decimal.Decimal
	switch {
	case moneyness.LessThan(one):
		extrinsic = baseExtrinsic.Mul(one.Add(one.Sub(moneyness).Mul(half)))
	case moneyness.GreaterThan(one):
		extrinsic = baseExtrinsic.Div(moneyness)
	default:
		extrinsic = baseExtrinsic
	}
	return intrinsic.Add(extrinsic)
}

// Greeks computes simplified per-contract sensitivities consistent with
// the Price approximation above.
func (p SyntheticPricer) Greeks(underlying, strike, timeToExpiryYears, iv, currentPrice decimal.Decimal, optType types.OptionType) types.Greeks {
	moneyness := decimal.NewFromInt(1)
	if strike.GreaterThan(decimal.Zero) {
		moneyness = underlying.Div(strike)
	}

	var delta decimal.Decimal
	atm := moneyness.Sub(one).Abs().LessThan(pointZeroTwo)
	switch {
	case optType == types.OptionCall && atm:
		delta = half
	case optType == types.OptionCall && moneyness.GreaterThan(one):
		delta = decimal.Min(decimal.NewFromFloat(0.95), half.Add(moneyness.Sub(one).Mul(decimal.NewFromInt(2))))
	case optType == types.OptionCall:
		delta = decimal.Max(decimal.NewFromFloat(0.05), half.Mul(moneyness))
	case atm:
		delta = half.Neg()
	case moneyness.LessThan(one):
		delta = decimal.Max(decimal.NewFromFloat(-0.95), half.Neg().Sub(one.Sub(moneyness).Mul(decimal.NewFromInt(2))))
	default:
		delta = decimal.Min(decimal.NewFromFloat(-0.05), half.Neg().Div(moneyness))
	}

	var theta decimal.Decimal
	if timeToExpiryYears.GreaterThan(decimal.Zero) {
		dte := timeToExpiryYears.Mul(daysPerYear)
		dailyDecayPct := decimal.NewFromFloat(0.01).Add(decimal.NewFromFloat(0.04).Div(one.Add(dte)))
		theta = currentPrice.Neg().Mul(dailyDecayPct)
	}

	gamma := decimal.NewFromFloat(0.005)
	if moneyness.Sub(one).Abs().LessThan(decimal.NewFromFloat(0.05)) {
		gamma = decimal.NewFromFloat(0.01)
	}

	vega := currentPrice.Mul(decimal.NewFromFloat(0.1))

	return types.Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, IV: iv}
}

// StrikeFromMoneyness resolves a target strike from a coarse moneyness tag,
// used when an agent requests "sell an ATM straddle" without a live chain.
func StrikeFromMoneyness(underlying decimal.Decimal, moneyness types.Moneyness, optType types.OptionType) decimal.Decimal {
	switch moneyness {
	case types.MoneynessOTM:
		if optType == types.OptionCall {
			return underlying.Mul(decimal.NewFromFloat(1.02))
		}
		return underlying.Mul(decimal.NewFromFloat(0.98))
	case types.MoneynessITM:
		if optType == types.OptionCall {
			return underlying.Mul(decimal.NewFromFloat(0.98))
		}
		return underlying.Mul(decimal.NewFromFloat(1.02))
	default:
		return underlying
	}
}

// TimeToExpiryYears converts a days-to-expiration count into the fractional
// year unit the pricer expects.
func TimeToExpiryYears(dte int) decimal.Decimal {
	return decimal.NewFromInt(int64(dte)).Div(daysPerYear)
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
