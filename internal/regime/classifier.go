package regime

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// ClassifierConfig holds the tunable thresholds behind Classify (spec 4.2).
type ClassifierConfig struct {
	MinWindow           int
	ConfidenceFloor     decimal.Decimal
	TrendSlopeThreshold decimal.Decimal
	CompressionRatio    decimal.Decimal
	ExpansionRatio      decimal.Decimal
	MeanReversionZScore decimal.Decimal
	HysteresisEpsilon   decimal.Decimal
}

// DefaultClassifierConfig matches the thresholds implied by spec 4.2's
// design-level algorithm description.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MinWindow:           50,
		ConfidenceFloor:     decimal.NewFromFloat(0.3),
		TrendSlopeThreshold: decimal.NewFromFloat(0.05),
		CompressionRatio:    decimal.NewFromFloat(0.7),
		ExpansionRatio:      decimal.NewFromFloat(1.3),
		MeanReversionZScore: decimal.NewFromFloat(1.5),
		HysteresisEpsilon:   decimal.NewFromFloat(0.05),
	}
}

// Classifier maps a FeatureSet to a RegimeSignal deterministically
// (spec 4.2's classify contract: a pure function of its inputs, aside from
// the previous-regime hysteresis tie-break it is explicitly permitted to
// consult).
type Classifier struct {
	cfg   ClassifierConfig
	micro *Microstructure
	log   *zap.Logger

	// prevRegime is per-symbol state used only for the hysteresis tie-break;
	// it never influences anything but which of two near-tied regimes wins.
	prevRegime map[string]types.RegimeType
}

// NewClassifier constructs a Classifier bound to a shared Microstructure
// store (injected, not a language-level singleton).
func NewClassifier(cfg ClassifierConfig, micro *Microstructure, log *zap.Logger) *Classifier {
	return &Classifier{
		cfg:        cfg,
		micro:      micro,
		log:        log.Named("regime"),
		prevRegime: make(map[string]types.RegimeType),
	}
}

// Classify implements spec 4.2's algorithm end to end.
func (c *Classifier) Classify(f types.FeatureSet) types.RegimeSignal {
	if f.SampleSize < c.cfg.MinWindow {
		return types.RegimeSignal{
			Symbol: f.Symbol, BarIndex: f.BarIndex, Features: f,
			RegimeType: types.RegimeNeutral, Bias: types.BiasNeutral,
			Confidence: decimal.Zero, IsValid: false,
			GEX: c.micro.Get(f.Symbol),
		}
	}

	slopeAbs := f.TrendSlope.Abs()
	isTrending := slopeAbs.GreaterThan(c.cfg.TrendSlopeThreshold)

	volRatio := decimal.NewFromFloat(1.0)
	if !f.RealizedVolLong.IsZero() {
		volRatio = f.RealizedVol.Div(f.RealizedVolLong)
	}
	isCompression := volRatio.LessThan(c.cfg.CompressionRatio)
	isExpansion := volRatio.GreaterThan(c.cfg.ExpansionRatio)

	zScore := decimal.Zero
	if !f.ATR.IsZero() {
		zScore = f.Close.Sub(f.VWAP).Div(f.ATR)
	}
	isMeanReversion := zScore.Abs().GreaterThan(c.cfg.MeanReversionZScore) && !isTrending

	regimeType := c.resolveRegimeType(f.Symbol, isTrending, isCompression, isExpansion, isMeanReversion)

	trendDir := types.TrendSideway
	switch {
	case f.TrendSlope.GreaterThan(decimal.Zero):
		trendDir = types.TrendUp
	case f.TrendSlope.LessThan(decimal.Zero):
		trendDir = types.TrendDown
	}

	bias := resolveBias(regimeType, trendDir, zScore)

	volLevel := bucketVolatility(f, c)

	confidence := c.computeConfidence(slopeAbs, volRatio, f.SampleSize)
	isValid := f.SampleSize >= c.cfg.MinWindow && confidence.GreaterThanOrEqual(c.cfg.ConfidenceFloor)

	c.prevRegime[f.Symbol] = regimeType

	return types.RegimeSignal{
		Symbol:         f.Symbol,
		BarIndex:       f.BarIndex,
		RegimeType:     regimeType,
		TrendDirection: trendDir,
		VolatilityLvl:  volLevel,
		Bias:           bias,
		Confidence:     confidence,
		IsValid:        isValid,
		ActiveFVG:      f.ActiveFVG,
		GEX:            c.micro.Get(f.Symbol),
		Features:       f,
	}
}

// resolveRegimeType applies spec 4.2's tag priority (trend, mean reversion,
// compression, expansion). When more than one tag qualifies, the symbol's
// previous regime wins if it is among them, otherwise the first in priority
// order; tags are not compared by confidence and HysteresisEpsilon is not
// consulted.
func (c *Classifier) resolveRegimeType(symbol string, trending, compression, expansion, meanReversion bool) types.RegimeType {
	candidates := make([]types.RegimeType, 0, 2)
	if trending {
		candidates = append(candidates, types.RegimeTrend)
	}
	if meanReversion {
		candidates = append(candidates, types.RegimeMeanReversion)
	}
	if compression {
		candidates = append(candidates, types.RegimeCompression)
	}
	if expansion {
		candidates = append(candidates, types.RegimeExpansion)
	}

	if len(candidates) == 0 {
		return types.RegimeNeutral
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	prev, ok := c.prevRegime[symbol]
	if ok {
		for _, cand := range candidates {
			if cand == prev {
				return cand
			}
		}
	}
	return candidates[0]
}

func resolveBias(regimeType types.RegimeType, trendDir types.TrendDirection, zScore decimal.Decimal) types.Bias {
	switch regimeType {
	case types.RegimeCompression:
		return types.BiasNeutral
	case types.RegimeMeanReversion:
		// Reversed: price extended above VWAP implies a short bias (reversion down).
		if zScore.GreaterThan(decimal.Zero) {
			return types.BiasShort
		} else if zScore.LessThan(decimal.Zero) {
			return types.BiasLong
		}
		return types.BiasNeutral
	default:
		switch trendDir {
		case types.TrendUp:
			return types.BiasLong
		case types.TrendDown:
			return types.BiasShort
		default:
			return types.BiasNeutral
		}
	}
}

func bucketVolatility(f types.FeatureSet, c *Classifier) types.VolatilityLevel {
	// Percentile bucketing needs history; approximate using the ratio of
	// short to long realized vol as a proxy for where today's vol sits in
	// its own recent distribution, per spec 4.2's tercile description.
	if f.RealizedVolLong.IsZero() {
		return types.VolMedium
	}
	ratio := f.RealizedVol.Div(f.RealizedVolLong)
	switch {
	case ratio.LessThan(decimal.NewFromFloat(0.85)):
		return types.VolLow
	case ratio.GreaterThan(decimal.NewFromFloat(1.15)):
		return types.VolHigh
	default:
		return types.VolMedium
	}
}

// computeConfidence blends slope strength, vol-ratio separation from 1.0,
// and sample-size adequacy into a single [0,1] score (spec 4.2).
func (c *Classifier) computeConfidence(slopeAbs, volRatio decimal.Decimal, sampleSize int) decimal.Decimal {
	slopeScore := clip01(slopeAbs.Div(c.cfg.TrendSlopeThreshold.Mul(decimal.NewFromInt(3))))
	volSeparation := clip01(volRatio.Sub(decimal.NewFromInt(1)).Abs())
	sampleScore := clip01(decimal.NewFromInt(int64(sampleSize)).Div(decimal.NewFromInt(int64(c.cfg.MinWindow * 2))))

	blend := slopeScore.Mul(decimal.NewFromFloat(0.5)).
		Add(volSeparation.Mul(decimal.NewFromFloat(0.3))).
		Add(sampleScore.Mul(decimal.NewFromFloat(0.2)))
	return clip01(blend)
}

func clip01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}
