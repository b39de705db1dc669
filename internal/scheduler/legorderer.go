package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// legOrderer bridges the context-taking OptionsBroker to the context-free
// options.LegOrderer the multi-leg lifecycle expects, and records each
// submission's reported fill so the scheduler can pull it back out right
// after Open/CloseLegOrders returns. This assumes the configured broker
// fills synchronously (true of the paper broker the replay clock drives;
// a live broker adapter would need to poll RecentFills instead).
type legOrderer struct {
	broker OptionsBroker
	ctx    context.Context

	mu    sync.Mutex
	fills map[string]types.LegFill // keyed by contract symbol
}

func newLegOrderer(broker OptionsBroker) *legOrderer {
	return &legOrderer{broker: broker, fills: make(map[string]types.LegFill)}
}

func (l *legOrderer) withContext(ctx context.Context) { l.ctx = ctx }

// SubmitLegOrder implements options.LegOrderer.
func (l *legOrderer) SubmitLegOrder(contractSymbol string, side types.OrderSide, quantity, limitPrice decimal.Decimal) (string, error) {
	order, err := l.broker.SubmitOptionsOrder(l.ctx, contractSymbol, side, quantity, types.OrderTypeLimit, limitPrice)
	if err != nil {
		return "", err
	}

	status := types.FillPending
	switch order.Status {
	case types.OrderStatusFilled:
		status = types.FillFilled
	case types.OrderStatusPartiallyFilled, types.OrderStatusPartial:
		status = types.FillPartiallyFilled
	case types.OrderStatusRejected, types.OrderStatusCancelled, types.OrderStatusExpired:
		status = types.FillRejected
	}

	l.mu.Lock()
	l.fills[contractSymbol] = types.LegFill{
		ContractSymbol: contractSymbol,
		Quantity:       order.FilledQty,
		FillPrice:      order.AvgFillPrice,
		FillTime:       time.Now().UTC(),
		OrderID:        order.ID,
		Status:         status,
	}
	l.mu.Unlock()

	return order.ID, nil
}

// fill returns the last recorded fill for a contract symbol.
func (l *legOrderer) fill(contractSymbol string) (types.LegFill, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.fills[contractSymbol]
	return f, ok
}
