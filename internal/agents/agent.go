// Package agents implements the strategy federation (spec 4.3): a small
// closed set of variants, each a pure function of (RegimeSignal, MarketState)
// to zero or more TradeIntents. Agents share no state with each other.
package agents

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Contract is the subset of an options-chain contract the Options/Theta/Gamma
// agents need to score and select from.
type Contract struct {
	Symbol       string
	Strike       decimal.Decimal
	Expiration   int // days to expiration
	OptionType   types.OptionType
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Volume       decimal.Decimal
	OpenInterest decimal.Decimal
	Delta        decimal.Decimal
	Theta        decimal.Decimal
	IV           decimal.Decimal
}

// OptionsChain is the narrow read capability agents use to scan available
// contracts; backed by the options-chain external capability (spec 6).
type OptionsChain interface {
	Chain(underlying string) []Contract
	IVPercentile(underlying string, currentIV decimal.Decimal) (decimal.Decimal, bool)
}

// MarketState is the per-symbol, per-bar view an agent evaluates against.
// Agents never mutate it and never retain a reference across bars.
type MarketState struct {
	CurrentBar  int64
	Price       decimal.Decimal
	ATR         decimal.Decimal
	BaseSize    decimal.Decimal
	HasPosition bool
	Chain       OptionsChain
}

// Agent is the capability set every federation member implements.
type Agent interface {
	Name() string
	Evaluate(signal types.RegimeSignal, state MarketState) []types.TradeIntent
}

// Registry holds the federation's fixed member set and dispatches Evaluate
// uniformly, recovering panics at the boundary per spec 4.1/7: a panicking
// agent contributes no intents for that bar and the loop continues.
type Registry struct {
	agents []Agent
	log    *zap.Logger
}

// NewRegistry builds a registry over the given agents.
func NewRegistry(log *zap.Logger, agents ...Agent) *Registry {
	return &Registry{agents: agents, log: log.Named("agents")}
}

// EvaluateAll runs every agent and concatenates their intents. A panicking
// agent is recovered, logged, and simply contributes nothing for this bar.
func (r *Registry) EvaluateAll(signal types.RegimeSignal, state MarketState) []types.TradeIntent {
	var out []types.TradeIntent
	for _, a := range r.agents {
		out = append(out, r.evaluateOne(a, signal, state)...)
	}
	return out
}

func (r *Registry) evaluateOne(a Agent, signal types.RegimeSignal, state MarketState) (intents []types.TradeIntent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("agent panic recovered",
				zap.String("agent", a.Name()),
				zap.Any("recover", rec),
			)
			intents = nil
		}
	}()
	if !signal.IsValid {
		return nil
	}
	return a.Evaluate(signal, state)
}

func baseIntent(name, symbol string, direction types.Bias, size, confidence decimal.Decimal, reason string) types.TradeIntent {
	return types.TradeIntent{
		Symbol:         symbol,
		AgentName:      name,
		Reason:         reason,
		Direction:      direction,
		Size:           size,
		Confidence:     confidence,
		InstrumentType: types.InstrumentStock,
		Metadata:       map[string]decimal.Decimal{},
	}
}

func pctDistance(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Div(b).Abs().Mul(decimal.NewFromInt(100))
}
