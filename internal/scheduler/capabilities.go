// Package scheduler drives the bar-by-bar pipeline (spec 4.1): feed -> window
// -> features -> regime -> agents -> controller -> risk -> execution ->
// portfolio reconciliation -> hedging/profit-take -> weight update ->
// checkpoint. It is the single cooperative loop task the concurrency model
// (spec 5) describes: one logical timeline, round-robined across symbols,
// with suspension only at feed polls, the replay sleep, broker calls, and
// checkpoint I/O.
package scheduler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// DataFeed is the data-feed capability of spec 6.
type DataFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string, preloadBars int) ([]types.Bar, error)
	NextBar(ctx context.Context, symbol string, timeout time.Duration) (types.Bar, bool, error)
	HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
	Close() error
}

// Account is the broker capability's account snapshot.
type Account struct {
	Cash           decimal.Decimal
	Equity         decimal.Decimal
	BuyingPower    decimal.Decimal
	PortfolioValue decimal.Decimal
}

// Fill is one broker execution report.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       types.OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	FilledAt   time.Time
}

// Broker is the stock broker capability of spec 6.
type Broker interface {
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context, symbol string) ([]types.Position, error)
	SubmitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal, orderType types.OrderType, limitPrice decimal.Decimal) (types.Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	RecentFills(ctx context.Context, symbol string, limit int) ([]Fill, error)
}

// OptionsBroker is the broker capability superset for options orders (spec 6).
type OptionsBroker interface {
	Broker
	SubmitOptionsOrder(ctx context.Context, contractSymbol string, side types.OrderSide, quantity decimal.Decimal, orderType types.OrderType, limitPrice decimal.Decimal) (types.Order, error)
}

// ChainFeed is the options-chain capability of spec 6: contract scanning for
// the agent federation, GEX proxy computation for the regime classifier, and
// vendor quotes/Greeks for the multi-leg lifecycle's per-bar marking.
type ChainFeed interface {
	Chain(ctx context.Context, underlying string) ([]ChainContract, error)
	Quote(ctx context.Context, contractSymbol string) (bid, ask decimal.Decimal, greeks types.Greeks, ok bool)
	IVPercentile(ctx context.Context, underlying string, currentIV decimal.Decimal, lookbackDays int) (decimal.Decimal, bool)
	GEXProxy(ctx context.Context, underlying string, underlyingPrice decimal.Decimal) (types.GEXSnapshot, error)
}

// ChainContract is one options-chain entry as the feed reports it.
type ChainContract struct {
	ContractSymbol string
	Strike         decimal.Decimal
	Expiration     int // DTE
	OptionType     types.OptionType
	Bid, Ask       decimal.Decimal
	Volume         decimal.Decimal
	OpenInterest   decimal.Decimal
	Greeks         types.Greeks
}
