package scheduler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/internal/agents"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// chainAdapter bridges the context-taking ChainFeed capability to the
// context-free, narrow read interfaces agents.OptionsChain and
// options.QuoteFeed expect. Safe to reuse across bars because the pipeline
// is strictly serial (spec 5): ctx is refreshed once per bar before any
// agent or lifecycle call that might use it.
type chainAdapter struct {
	feed ChainFeed
	ctx  context.Context
}

func (a *chainAdapter) withContext(ctx context.Context) { a.ctx = ctx }

// Chain implements agents.OptionsChain.
func (a *chainAdapter) Chain(underlying string) []agents.Contract {
	contracts, err := a.feed.Chain(a.ctx, underlying)
	if err != nil {
		return nil
	}
	out := make([]agents.Contract, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, agents.Contract{
			Symbol:       c.ContractSymbol,
			Strike:       c.Strike,
			Expiration:   c.Expiration,
			OptionType:   c.OptionType,
			Bid:          c.Bid,
			Ask:          c.Ask,
			Volume:       c.Volume,
			OpenInterest: c.OpenInterest,
			Delta:        c.Greeks.Delta,
			Theta:        c.Greeks.Theta,
			IV:           c.Greeks.IV,
		})
	}
	return out
}

// IVPercentile implements agents.OptionsChain, using a 252-trading-day
// lookback as the classifier's implicit default window.
func (a *chainAdapter) IVPercentile(underlying string, currentIV decimal.Decimal) (decimal.Decimal, bool) {
	return a.feed.IVPercentile(a.ctx, underlying, currentIV, 252)
}

// Quote implements options.QuoteFeed.
func (a *chainAdapter) Quote(contractSymbol string) (decimal.Decimal, decimal.Decimal, types.Greeks, bool) {
	return a.feed.Quote(a.ctx, contractSymbol)
}
