package execution

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/internal/errs"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// PretradeGate is the broker adapter's own last-line sanity check, distinct
// from and upstream of the portfolio-level risk manager (spec 4.7): it never
// sees regime state or drawdown, only the raw order about to hit the
// simulated book. A tripped kill switch rejects every order until Reset.
type PretradeGate struct {
	mu sync.Mutex

	maxOrderNotional decimal.Decimal
	maxPositionQty   decimal.Decimal
	killed           bool
}

// NewPretradeGate builds a gate from operator-facing notional/quantity caps.
func NewPretradeGate(maxOrderNotional, maxPositionQty decimal.Decimal) *PretradeGate {
	return &PretradeGate{
		maxOrderNotional: maxOrderNotional,
		maxPositionQty:   maxPositionQty,
	}
}

// Check rejects an order that would exceed the notional or resulting
// position-size caps, or any order at all once the kill switch is tripped.
func (g *PretradeGate) Check(symbol string, side types.OrderSide, quantity, price, existingQty decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.killed {
		return errs.Newf(errs.KindBrokerRejection, "pretradegate.Check", "kill switch engaged, rejecting order for %s", symbol)
	}

	if quantity.LessThanOrEqual(decimal.Zero) {
		return errs.Newf(errs.KindBrokerRejection, "pretradegate.Check", "non-positive order quantity for %s", symbol)
	}

	notional := quantity.Mul(price).Abs()
	if g.maxOrderNotional.GreaterThan(decimal.Zero) && notional.GreaterThan(g.maxOrderNotional) {
		return errs.Newf(errs.KindBrokerRejection, "pretradegate.Check",
			"order notional %s exceeds cap %s for %s", notional.StringFixed(2), g.maxOrderNotional.StringFixed(2), symbol)
	}

	resultingQty := existingQty
	if side == types.OrderSideBuy {
		resultingQty = resultingQty.Add(quantity)
	} else {
		resultingQty = resultingQty.Sub(quantity)
	}
	if g.maxPositionQty.GreaterThan(decimal.Zero) && resultingQty.Abs().GreaterThan(g.maxPositionQty) {
		return errs.Newf(errs.KindBrokerRejection, "pretradegate.Check",
			"resulting position %s exceeds quantity cap %s for %s", resultingQty.Abs().StringFixed(4), g.maxPositionQty.StringFixed(4), symbol)
	}

	return nil
}

// Trip engages the kill switch; every subsequent Check fails until Reset.
func (g *PretradeGate) Trip() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = true
}

// Reset disengages the kill switch.
func (g *PretradeGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
}

// Tripped reports whether the kill switch is currently engaged.
func (g *PretradeGate) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killed
}
