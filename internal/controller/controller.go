// Package controller implements the meta-policy controller (spec 4.4): it
// reduces a bar's TradeIntents into a single FinalTradeIntent using adaptive
// weight tables, and updates those tables from realized trade rewards.
package controller

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Config holds the controller's tunables. The two conviction multipliers are
// applied here, and only here, so the same intent always scores the same way
// no matter which agent produced it: options intents carrying confidence at
// or above HighConvictionFloor score 1.5x, and options intents entered into
// a sub-30 IV-percentile environment score 1.3x.
type Config struct {
	MinBucketScore decimal.Decimal
	LearningRate   decimal.Decimal // eta

	HighConvictionMult  decimal.Decimal
	HighConvictionFloor decimal.Decimal
	LowIVMult           decimal.Decimal
	LowIVPercentileMax  decimal.Decimal
}

// DefaultConfig matches spec 4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinBucketScore:      decimal.NewFromFloat(0.05),
		LearningRate:        decimal.NewFromFloat(0.01),
		HighConvictionMult:  decimal.NewFromFloat(1.5),
		HighConvictionFloor: decimal.NewFromFloat(0.8),
		LowIVMult:           decimal.NewFromFloat(1.3),
		LowIVPercentileMax:  decimal.NewFromInt(30),
	}
}

// Controller holds the four adaptive weight tables and reconciles intents
// into a single FinalTradeIntent per bar. Not safe for concurrent reconcile
// calls against the same symbol; the scheduler serializes per symbol.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu               sync.RWMutex
	agentWeights     map[string]decimal.Decimal
	regimeWeights    map[types.RegimeType]decimal.Decimal
	volatilityWeight map[types.VolatilityLevel]decimal.Decimal
	structureWeights map[types.InstrumentType]decimal.Decimal
}

// New constructs a Controller. agentNames seeds agent_weights at 1.0 so
// renormalization has a stable denominator from the first trade on.
func New(cfg Config, log *zap.Logger, agentNames []string) *Controller {
	c := &Controller{
		cfg:              cfg,
		log:              log.Named("controller"),
		agentWeights:     make(map[string]decimal.Decimal),
		regimeWeights:    make(map[types.RegimeType]decimal.Decimal),
		volatilityWeight: make(map[types.VolatilityLevel]decimal.Decimal),
		structureWeights: make(map[types.InstrumentType]decimal.Decimal),
	}
	for _, n := range agentNames {
		c.agentWeights[n] = decimal.NewFromInt(1)
	}
	for _, r := range []types.RegimeType{types.RegimeTrend, types.RegimeMeanReversion, types.RegimeCompression, types.RegimeExpansion, types.RegimeNeutral} {
		c.regimeWeights[r] = decimal.NewFromInt(1)
	}
	for _, v := range []types.VolatilityLevel{types.VolLow, types.VolMedium, types.VolHigh} {
		c.volatilityWeight[v] = decimal.NewFromInt(1)
	}
	for _, s := range []types.InstrumentType{types.InstrumentStock, types.InstrumentOption} {
		c.structureWeights[s] = decimal.NewFromInt(1)
	}
	return c
}

type bucket struct {
	direction types.Bias
	score     decimal.Decimal
	best      types.TradeIntent
	bestScore decimal.Decimal
	members   []types.TradeIntent
	sizeWSum  decimal.Decimal // sum(size * per-intent weight) for weighted avg size
	confWSum  decimal.Decimal
	weightSum decimal.Decimal
}

// Reconcile implements spec 4.4's algorithm: bucket by direction, score each
// bucket, pick the winner, and derive position size/confidence as weighted
// averages of the winning bucket's contributors.
func (c *Controller) Reconcile(intents []types.TradeIntent, signal types.RegimeSignal) types.FinalTradeIntent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buckets := map[types.Bias]*bucket{}
	for _, intent := range intents {
		if intent.Direction == types.BiasNeutral {
			continue
		}
		b, ok := buckets[intent.Direction]
		if !ok {
			b = &bucket{direction: intent.Direction}
			buckets[intent.Direction] = b
		}

		w := c.intentWeight(intent, signal)
		score := intent.Confidence.Mul(intent.Size).Mul(w)
		b.score = b.score.Add(score)
		b.members = append(b.members, intent)
		b.sizeWSum = b.sizeWSum.Add(intent.Size.Mul(w))
		b.confWSum = b.confWSum.Add(intent.Confidence.Mul(w))
		b.weightSum = b.weightSum.Add(w)
		if len(b.members) == 1 || score.GreaterThan(b.bestScore) {
			b.best = intent
			b.bestScore = score
		}
	}

	var winner *bucket
	for _, b := range buckets {
		if winner == nil || b.score.GreaterThan(winner.score) {
			winner = b
		}
	}

	if winner == nil || winner.score.LessThan(c.cfg.MinBucketScore) {
		return types.FinalTradeIntent{Symbol: signal.Symbol, IsValid: false, Reason: "no bucket cleared minimum score"}
	}

	avgSize := decimal.Zero
	avgConf := decimal.Zero
	if !winner.weightSum.IsZero() {
		avgSize = winner.sizeWSum.Div(winner.weightSum)
		avgConf = clip01(winner.confWSum.Div(winner.weightSum))
	}

	signedDelta := avgSize
	if winner.direction == types.BiasShort {
		signedDelta = avgSize.Neg()
	}

	contributing := make([]string, 0, len(winner.members))
	for _, m := range winner.members {
		contributing = append(contributing, m.AgentName)
	}

	final := types.FinalTradeIntent{
		Symbol:             signal.Symbol,
		PositionDelta:      signedDelta,
		Confidence:         avgConf,
		PrimaryAgent:       winner.best.AgentName,
		ContributingAgents: contributing,
		Reason:             winner.best.Reason,
		IsValid:            true,
		InstrumentType:     winner.best.InstrumentType,
		OptionType:         winner.best.OptionType,
		Moneyness:          winner.best.Moneyness,
		TimeToExpiryDays:   winner.best.TimeToExpiryDays,
		Metadata:           winner.best.Metadata,
	}
	return final
}

func (c *Controller) intentWeight(intent types.TradeIntent, signal types.RegimeSignal) decimal.Decimal {
	aw := c.agentWeights[intent.AgentName]
	if aw.IsZero() {
		aw = decimal.NewFromInt(1)
	}
	rw := c.regimeWeights[signal.RegimeType]
	if rw.IsZero() {
		rw = decimal.NewFromInt(1)
	}
	vw := c.volatilityWeight[signal.VolatilityLvl]
	if vw.IsZero() {
		vw = decimal.NewFromInt(1)
	}
	sw := c.structureWeights[intent.InstrumentType]
	if sw.IsZero() {
		sw = decimal.NewFromInt(1)
	}
	w := aw.Mul(rw).Mul(vw).Mul(sw)

	if intent.InstrumentType == types.InstrumentOption {
		if !c.cfg.HighConvictionMult.IsZero() && intent.Confidence.GreaterThanOrEqual(c.cfg.HighConvictionFloor) {
			w = w.Mul(c.cfg.HighConvictionMult)
		}
		if ivPct, ok := intent.Metadata["iv_percentile"]; ok && !c.cfg.LowIVMult.IsZero() && ivPct.LessThan(c.cfg.LowIVPercentileMax) {
			w = w.Mul(c.cfg.LowIVMult)
		}
	}
	return w
}

// RewardUpdate is the information the memory store emits for one closed
// trade: the reward (P&L / initial capital, clipped) and the context that
// trade closed under, used to update the four weight tables (spec 4.4).
type RewardUpdate struct {
	AgentName      string
	RegimeType     types.RegimeType
	VolatilityLvl  types.VolatilityLevel
	InstrumentType types.InstrumentType
	Reward         decimal.Decimal // clipped to +/-memory.Config.RewardClip (0.1 by default)
}

// ApplyReward multiplies the relevant weight in each table by
// (1 + eta*reward) then renormalizes that table to average 1.0.
func (c *Controller) ApplyReward(u RewardUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	factor := decimal.NewFromInt(1).Add(c.cfg.LearningRate.Mul(u.Reward))

	if w, ok := c.agentWeights[u.AgentName]; ok {
		c.agentWeights[u.AgentName] = w.Mul(factor)
		renormalize(c.agentWeights)
	}
	if w, ok := c.regimeWeights[u.RegimeType]; ok {
		c.regimeWeights[u.RegimeType] = w.Mul(factor)
		renormalize(c.regimeWeights)
	}
	if w, ok := c.volatilityWeight[u.VolatilityLvl]; ok {
		c.volatilityWeight[u.VolatilityLvl] = w.Mul(factor)
		renormalize(c.volatilityWeight)
	}
	if w, ok := c.structureWeights[u.InstrumentType]; ok {
		c.structureWeights[u.InstrumentType] = w.Mul(factor)
		renormalize(c.structureWeights)
	}
}

// Snapshot returns copies of the four weight tables for persistence/API use.
func (c *Controller) Snapshot() (agents map[string]decimal.Decimal, regimes map[types.RegimeType]decimal.Decimal, vols map[types.VolatilityLevel]decimal.Decimal, structures map[types.InstrumentType]decimal.Decimal) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agents = clone(c.agentWeights)
	regimes = clone(c.regimeWeights)
	vols = clone(c.volatilityWeight)
	structures = clone(c.structureWeights)
	return
}

// Restore replaces the four weight tables wholesale, used when loading a
// checkpoint at startup.
func (c *Controller) Restore(agents map[string]decimal.Decimal, regimes map[types.RegimeType]decimal.Decimal, vols map[types.VolatilityLevel]decimal.Decimal, structures map[types.InstrumentType]decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agents != nil {
		c.agentWeights = clone(agents)
	}
	if regimes != nil {
		c.regimeWeights = clone(regimes)
	}
	if vols != nil {
		c.volatilityWeight = clone(vols)
	}
	if structures != nil {
		c.structureWeights = clone(structures)
	}
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

// renormalize rescales a weight table so its entries average 1.0, keeping
// relative ordering intact (spec 4.4's invariant: each table sums to count).
func renormalize[K comparable](m map[K]decimal.Decimal) {
	if len(m) == 0 {
		return
	}
	sum := decimal.Zero
	for _, v := range m {
		sum = sum.Add(v)
	}
	if sum.IsZero() {
		return
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(m))))
	if mean.IsZero() {
		return
	}
	for k, v := range m {
		m[k] = v.Div(mean)
	}
}

func clone[K comparable](m map[K]decimal.Decimal) map[K]decimal.Decimal {
	out := make(map[K]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
