package agents

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// TrendAgent emits when the classifier reports a trending regime with
// adequate confidence and a non-neutral bias (spec 4.3 table row 1).
type TrendAgent struct {
	MinConfidence decimal.Decimal
}

func (a TrendAgent) Name() string { return "trend" }

func (a TrendAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if signal.RegimeType != types.RegimeTrend {
		return nil
	}
	if signal.Confidence.LessThan(a.MinConfidence) || signal.Bias == types.BiasNeutral {
		return nil
	}
	return []types.TradeIntent{baseIntent(
		a.Name(), signal.Symbol, signal.Bias, state.BaseSize, signal.Confidence,
		"trending regime with directional bias",
	)}
}

// MeanReversionAgent emits when the regime is mean_reversion with adequate
// confidence (spec 4.3 row 2).
type MeanReversionAgent struct {
	MinConfidence decimal.Decimal
}

func (a MeanReversionAgent) Name() string { return "mean_reversion" }

func (a MeanReversionAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if signal.RegimeType != types.RegimeMeanReversion {
		return nil
	}
	if signal.Confidence.LessThan(a.MinConfidence) {
		return nil
	}
	return []types.TradeIntent{baseIntent(
		a.Name(), signal.Symbol, signal.Bias, state.BaseSize, signal.Confidence,
		"mean-reversion regime",
	)}
}

// VolatilityAgent emits on high-volatility regimes, defaulting to long bias
// when the classifier reports neutral (spec 4.3 row 3).
type VolatilityAgent struct {
	MinConfidence decimal.Decimal
}

func (a VolatilityAgent) Name() string { return "volatility" }

func (a VolatilityAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if signal.VolatilityLvl != types.VolHigh {
		return nil
	}
	if signal.Confidence.LessThan(a.MinConfidence) {
		return nil
	}
	direction := signal.Bias
	if direction == types.BiasNeutral {
		direction = types.BiasLong
	}
	return []types.TradeIntent{baseIntent(
		a.Name(), signal.Symbol, direction, state.BaseSize, signal.Confidence,
		"high-volatility regime",
	)}
}

// FVGAgent emits off an active fair-value gap: long when price sits at or
// below a bullish gap's midpoint, short when at/above a bearish gap's
// midpoint (spec 4.3 row 4).
type FVGAgent struct{}

func (a FVGAgent) Name() string { return "fvg" }

func (a FVGAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	gap := signal.ActiveFVG
	if gap == nil {
		return nil
	}
	mid := gap.Midpoint()
	switch gap.GapType {
	case types.BiasLong:
		if state.Price.LessThanOrEqual(mid) {
			return []types.TradeIntent{baseIntent(
				a.Name(), signal.Symbol, types.BiasLong, state.BaseSize, signal.Confidence,
				"bullish FVG unfilled, price at or below midpoint",
			)}
		}
	case types.BiasShort:
		if state.Price.GreaterThanOrEqual(mid) {
			return []types.TradeIntent{baseIntent(
				a.Name(), signal.Symbol, types.BiasShort, state.BaseSize, signal.Confidence,
				"bearish FVG unfilled, price at or above midpoint",
			)}
		}
	}
	return nil
}

// EMAAgent emits when price crosses the 9-period EMA by more than the
// configured minimum distance, in the direction matching the crossing bias
// (spec 4.3 row 5).
type EMAAgent struct {
	MinDistancePct decimal.Decimal
}

func (a EMAAgent) Name() string { return "ema9" }

func (a EMAAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	ema9 := signal.Features.EMA9
	if ema9.IsZero() {
		return nil
	}
	dist := pctDistance(state.Price, ema9)
	if dist.LessThanOrEqual(a.MinDistancePct) {
		return nil
	}

	var direction types.Bias
	if state.Price.GreaterThan(ema9) {
		direction = types.BiasLong
	} else {
		direction = types.BiasShort
	}
	if direction != signal.Bias && signal.Bias != types.BiasNeutral {
		return nil
	}
	return []types.TradeIntent{baseIntent(
		a.Name(), signal.Symbol, direction, state.BaseSize, signal.Confidence,
		"price crossed EMA9 beyond minimum distance",
	)}
}
