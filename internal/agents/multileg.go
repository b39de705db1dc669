package agents

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// ThetaHarvesterAgent sells an ATM straddle when the regime is compression
// with high IV percentile and high confidence (spec 4.3 row 7).
type ThetaHarvesterAgent struct {
	MinConfidence   decimal.Decimal
	MinIVPercentile decimal.Decimal
	MaxContracts    decimal.Decimal
}

func (a ThetaHarvesterAgent) Name() string { return "theta_harvester" }

func (a ThetaHarvesterAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if signal.RegimeType != types.RegimeCompression {
		return nil
	}
	if signal.Confidence.LessThan(a.MinConfidence) {
		return nil
	}
	if state.Chain == nil {
		return nil
	}
	ivPct, ok := state.Chain.IVPercentile(signal.Symbol, decimal.Zero)
	if !ok || ivPct.LessThan(a.MinIVPercentile) {
		return nil
	}

	intent := types.TradeIntent{
		Symbol:           signal.Symbol,
		AgentName:        a.Name(),
		Reason:           "compression regime, high IV percentile: sell ATM straddle",
		Direction:        types.BiasShort,
		Size:             a.MaxContracts,
		Confidence:       signal.Confidence,
		InstrumentType:   types.InstrumentOption,
		OptionType:       types.OptionStraddle,
		Moneyness:        types.MoneynessATM,
		TimeToExpiryDays: 0,
		Metadata: map[string]decimal.Decimal{
			"iv_percentile": ivPct,
		},
	}
	return []types.TradeIntent{intent}
}

// GammaScalperAgent buys a 25-delta strangle when GEX is strongly negative
// and IV percentile is low (spec 4.3 row 8).
type GammaScalperAgent struct {
	MinGEXStrengthBn decimal.Decimal
	MaxIVPercentile  decimal.Decimal
	MaxContracts     decimal.Decimal
	TargetDelta      decimal.Decimal
}

func (a GammaScalperAgent) Name() string { return "gamma_scalper" }

func (a GammaScalperAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if signal.GEX.Regime != types.GEXNegative {
		return nil
	}
	if signal.GEX.StrengthBn.Abs().LessThan(a.MinGEXStrengthBn) {
		return nil
	}
	if state.Chain == nil {
		return nil
	}
	ivPct, ok := state.Chain.IVPercentile(signal.Symbol, decimal.Zero)
	if !ok || ivPct.GreaterThan(a.MaxIVPercentile) {
		return nil
	}

	targetDelta := a.TargetDelta
	if targetDelta.IsZero() {
		targetDelta = decimal.NewFromFloat(0.25)
	}

	intent := types.TradeIntent{
		Symbol:           signal.Symbol,
		AgentName:        a.Name(),
		Reason:           "negative GEX, low IV percentile: buy 25-delta strangle",
		Direction:        types.BiasLong,
		Size:             a.MaxContracts,
		Confidence:       decimal.NewFromFloat(0.6),
		InstrumentType:   types.InstrumentOption,
		OptionType:       types.OptionStrangle,
		Moneyness:        types.MoneynessOTM,
		TimeToExpiryDays: 0,
		Metadata: map[string]decimal.Decimal{
			"iv_percentile":   ivPct,
			"target_delta":    targetDelta,
			"gex_strength_bn": signal.GEX.StrengthBn,
		},
	}
	return []types.TradeIntent{intent}
}
