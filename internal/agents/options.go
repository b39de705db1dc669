package agents

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// OptionsFilterConfig carries the validation filters spec 4.3 requires as
// hard rejects before any contract is scored.
type OptionsFilterConfig struct {
	MaxSpreadPct     decimal.Decimal
	MinOpenInterest  decimal.Decimal
	MinVolume        decimal.Decimal
	MinDTE           int
	MaxDTE           int
	MinDelta         decimal.Decimal
	MaxDelta         decimal.Decimal
	MaxPremium       decimal.Decimal
	MaxThetaDecayPct decimal.Decimal
}

// DefaultOptionsFilterConfig matches the ranges spec 4.3 implies for a
// directional single-leg options agent.
func DefaultOptionsFilterConfig() OptionsFilterConfig {
	return OptionsFilterConfig{
		MaxSpreadPct:     decimal.NewFromFloat(10),
		MinOpenInterest:  decimal.NewFromInt(50),
		MinVolume:        decimal.NewFromInt(10),
		MinDTE:           0,
		MaxDTE:           45,
		MinDelta:         decimal.NewFromFloat(0.2),
		MaxDelta:         decimal.NewFromFloat(0.8),
		MaxPremium:       decimal.NewFromInt(5000),
		MaxThetaDecayPct: decimal.NewFromFloat(5),
	}
}

// OptionsAgent scans the options chain for a directional contract matching
// the regime's bias, scores survivors with spec 4.3's weighted formula, and
// emits an intent for the top-scoring contract (spec 4.3 row 6).
type OptionsAgent struct {
	MinConfidence decimal.Decimal
	Filter        OptionsFilterConfig
	TargetDelta   decimal.Decimal
}

func (a OptionsAgent) Name() string { return "options_directional" }

func (a OptionsAgent) Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	if !signal.IsValid || signal.Confidence.LessThan(a.MinConfidence) {
		return nil
	}
	if signal.VolatilityLvl == types.VolLow {
		return nil
	}
	if signal.Bias == types.BiasNeutral || state.Chain == nil {
		return nil
	}

	wantType := types.OptionCall
	if signal.Bias == types.BiasShort {
		wantType = types.OptionPut
	}

	contracts := state.Chain.Chain(signal.Symbol)
	targetDelta := a.TargetDelta
	if wantType == types.OptionPut {
		targetDelta = targetDelta.Neg()
	}

	best, bestScore, found := selectBestContract(contracts, wantType, targetDelta, a.Filter)
	if !found {
		return nil
	}

	intent := baseIntent(a.Name(), signal.Symbol, signal.Bias, decimal.NewFromInt(1), signal.Confidence,
		"options chain scan selected best-scoring directional contract")
	intent.InstrumentType = types.InstrumentOption
	intent.OptionType = wantType
	intent.Moneyness = moneynessOf(best, targetDelta)
	intent.TimeToExpiryDays = best.Expiration
	intent.Metadata["strike"] = best.Strike
	intent.Metadata["score"] = bestScore
	intent.Metadata["bid"] = best.Bid
	intent.Metadata["ask"] = best.Ask
	return []types.TradeIntent{intent}
}

// selectBestContract applies the hard-reject filters then spec 4.3's scoring
// formula, returning the highest-scoring survivor (ties broken by lower
// spread).
func selectBestContract(contracts []Contract, wantType types.OptionType, targetDelta decimal.Decimal, f OptionsFilterConfig) (Contract, decimal.Decimal, bool) {
	type scored struct {
		c      Contract
		score  decimal.Decimal
		spread decimal.Decimal
	}
	var survivors []scored

	for _, c := range contracts {
		if c.OptionType != wantType {
			continue
		}
		if c.Ask.IsZero() {
			continue
		}
		mid := c.Bid.Add(c.Ask).Div(decimal.NewFromInt(2))
		if mid.IsZero() {
			continue
		}
		spreadPct := c.Ask.Sub(c.Bid).Div(mid).Mul(decimal.NewFromInt(100))
		if spreadPct.GreaterThan(f.MaxSpreadPct) {
			continue
		}
		if c.OpenInterest.LessThan(f.MinOpenInterest) {
			continue
		}
		if c.Volume.LessThan(f.MinVolume) {
			continue
		}
		if c.Expiration < f.MinDTE || c.Expiration > f.MaxDTE {
			continue
		}
		absDelta := c.Delta.Abs()
		if absDelta.LessThan(f.MinDelta) || absDelta.GreaterThan(f.MaxDelta) {
			continue
		}
		if mid.Mul(decimal.NewFromInt(100)).GreaterThan(f.MaxPremium) {
			continue
		}
		thetaDecayPct := c.Theta.Abs().Div(mid).Mul(decimal.NewFromInt(100))
		if thetaDecayPct.GreaterThan(f.MaxThetaDecayPct) {
			continue
		}

		score := scoreContract(c, targetDelta)
		survivors = append(survivors, scored{c: c, score: score, spread: spreadPct})
	}

	if len(survivors) == 0 {
		return Contract{}, decimal.Zero, false
	}

	sort.Slice(survivors, func(i, j int) bool {
		if !survivors[i].score.Equal(survivors[j].score) {
			return survivors[i].score.GreaterThan(survivors[j].score)
		}
		return survivors[i].spread.LessThan(survivors[j].spread)
	})

	return survivors[0].c, survivors[0].score, true
}

// scoreContract implements spec 4.3's contract selection scoring: delta
// alignment 30%, expiration alignment 20%, liquidity 15%, spread 15%,
// reward/risk 20%.
func scoreContract(c Contract, targetDelta decimal.Decimal) decimal.Decimal {
	deltaDiff := c.Delta.Sub(targetDelta).Abs()
	deltaScore := decimal.Max(decimal.Zero, decimal.NewFromInt(1).Sub(deltaDiff.Div(decimal.NewFromFloat(0.20)))).Mul(decimal.NewFromInt(30))

	var expScore decimal.Decimal
	switch {
	case c.Expiration >= 14 && c.Expiration <= 30:
		expScore = decimal.NewFromInt(20)
	case (c.Expiration >= 7 && c.Expiration < 14) || (c.Expiration > 30 && c.Expiration <= 45):
		expScore = decimal.NewFromInt(10)
	}

	oiScore := decimal.Min(decimal.NewFromInt(1), c.OpenInterest.Div(decimal.NewFromInt(1000)))
	volScore := decimal.Min(decimal.NewFromInt(1), c.Volume.Div(decimal.NewFromInt(100)))
	liquidityScore := oiScore.Add(volScore).Div(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(15))

	mid := c.Bid.Add(c.Ask).Div(decimal.NewFromInt(2))
	spreadScore := decimal.Zero
	if !mid.IsZero() {
		spreadPct := c.Ask.Sub(c.Bid).Div(mid)
		spreadScore = decimal.Max(decimal.Zero, decimal.NewFromInt(1).Sub(spreadPct.Div(decimal.NewFromFloat(0.10)))).Mul(decimal.NewFromInt(15))
	}

	// Reward/risk approximated as the ratio of intrinsic upside (1/|delta|)
	// to premium risk, capped via the scoring formula's min(1, x/2.0).
	rewardRisk := decimal.NewFromInt(1)
	if !c.Delta.IsZero() {
		rewardRisk = decimal.NewFromInt(1).Div(c.Delta.Abs())
	}
	rrScore := decimal.Min(decimal.NewFromInt(1), rewardRisk.Div(decimal.NewFromInt(2))).Mul(decimal.NewFromInt(20))

	return deltaScore.Add(expScore).Add(liquidityScore).Add(spreadScore).Add(rrScore)
}

func moneynessOf(c Contract, targetDelta decimal.Decimal) types.Moneyness {
	absDelta := c.Delta.Abs()
	switch {
	case absDelta.GreaterThan(decimal.NewFromFloat(0.55)):
		return types.MoneynessITM
	case absDelta.LessThan(decimal.NewFromFloat(0.45)):
		return types.MoneynessOTM
	default:
		return types.MoneynessATM
	}
}
