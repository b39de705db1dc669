package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/internal/errs"
	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/internal/scheduler"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
	"github.com/atlas-desktop/adaptive-trader/pkg/utils"
)

// ReplayExchange is the single simulated broker/feed adapter that backs the
// scheduler's DataFeed, Broker, OptionsBroker, and ChainFeed capabilities
// (spec 6) in offline replay. It owns one cash/position book per run and
// fills orders synchronously against the Almgren-Chriss ExecutionModel, so
// the scheduler never observes an order sitting open — a simplification
// noted in DESIGN.md that lets the portfolio reconciliation step (spec 4.1)
// assume every SubmitOrder/SubmitOptionsOrder call is already settled when
// it returns.
type ReplayExchange struct {
	logger    *zap.Logger
	store     *data.Store
	validator *data.DataQualityValidator
	execModel *ExecutionModel
	pricer    options.SyntheticPricer
	gate      *PretradeGate

	timeframe     types.Timeframe
	strikeStepPct decimal.Decimal
	baseIV        decimal.Decimal
	dteList       []int

	mu              sync.Mutex
	cash            decimal.Decimal
	stockPositions  map[string]*types.Position
	optionPositions map[string]*optionBook
	fills           map[string][]scheduler.Fill
	lastPrice       map[string]decimal.Decimal
	closeHistory    map[string][]decimal.Decimal
	ivHistory       map[string][]decimal.Decimal

	replayQueue  map[string][]types.Bar
	replayCursor map[string]int
}

// optionBook is the per-contract position the exchange carries internally;
// it never leaves the package, since OptionsBroker has no Positions method
// of its own — the options package's portfolio manager is the system of
// record for open multi-leg state (spec 4.6).
type optionBook struct {
	quantity    decimal.Decimal // signed contracts
	avgPremium  decimal.Decimal
	lastPremium decimal.Decimal
}

// NewReplayExchange builds the adapter from its configured data directory,
// starting cash, and synthetic-chain parameters (SPEC_FULL.md execution
// section).
func NewReplayExchange(logger *zap.Logger, store *data.Store, validator *data.DataQualityValidator, cfg config.ExecutionConfig) *ReplayExchange {
	tf := types.Timeframe(cfg.BarTimeframe)
	if tf == "" {
		tf = types.Timeframe1h
	}

	return &ReplayExchange{
		logger:    logger,
		store:     store,
		validator: validator,
		execModel: NewExecutionModel(logger, StockExecutionModelConfig()),
		pricer:    options.NewSyntheticPricer(),
		gate:      NewPretradeGate(config.Dec(cfg.MaxOrderNotional), config.Dec(cfg.MaxPositionQty)),

		timeframe:     tf,
		strikeStepPct: config.Dec(cfg.ChainStrikeStepPct),
		baseIV:        config.Dec(cfg.ChainBaseIV),
		dteList:       cfg.ChainDTEList,

		cash:            config.Dec(cfg.InitialCash),
		stockPositions:  make(map[string]*types.Position),
		optionPositions: make(map[string]*optionBook),
		fills:           make(map[string][]scheduler.Fill),
		lastPrice:       make(map[string]decimal.Decimal),
		closeHistory:    make(map[string][]decimal.Decimal),
		ivHistory:       make(map[string][]decimal.Decimal),
		replayQueue:     make(map[string][]types.Bar),
		replayCursor:    make(map[string]int),
	}
}

// --- DataFeed ---

// Connect is a no-op: the replay exchange has no network handshake, its
// "connection" is the historical store already opened at construction.
func (e *ReplayExchange) Connect(ctx context.Context) error {
	return nil
}

// Subscribe loads and quality-checks enough history per symbol to both warm
// the feature window and drive the rest of the replay, then primes
// lastPrice from each symbol's earliest bar so the first SubmitOrder call
// has a mark to trade against.
func (e *ReplayExchange) Subscribe(ctx context.Context, symbols []string, preloadBars int) ([]types.Bar, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	interval := timeframeDuration(e.timeframe)
	span := interval * time.Duration(preloadBars+2000)
	end := time.Now()
	start := end.Add(-span)

	var preload []types.Bar
	for _, symbol := range symbols {
		bars, err := e.store.LoadBars(ctx, symbol, e.timeframe, start, end)
		if err != nil {
			return nil, errs.New(errs.KindDataIntegrity, "paperexchange.Subscribe", err)
		}

		bars = e.validator.CleanData(bars)
		report := e.validator.Validate(bars, symbol)
		if !report.IsUsable {
			e.logger.Warn("historical data marginal for replay",
				zap.String("symbol", symbol), zap.Int("quality_score", report.QualityScore))
		}

		e.replayQueue[symbol] = bars
		e.replayCursor[symbol] = 0

		if len(bars) > 0 {
			e.lastPrice[symbol] = bars[0].Close
		}

		n := preloadBars
		if n > len(bars) {
			n = len(bars)
		}
		preload = append(preload, bars[:n]...)
	}

	return preload, nil
}

// NextBar pops the next bar off the symbol's replay queue, or reports
// ok=false once it is exhausted — the scheduler's offline end-of-replay
// signal (spec 4.1).
func (e *ReplayExchange) NextBar(ctx context.Context, symbol string, timeout time.Duration) (types.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Bar{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	queue := e.replayQueue[symbol]
	cursor := e.replayCursor[symbol]
	if cursor >= len(queue) {
		return types.Bar{}, false, nil
	}

	bar := queue[cursor]
	e.replayCursor[symbol] = cursor + 1
	e.lastPrice[symbol] = bar.Close
	e.recordClose(symbol, bar.Close)
	e.markOptionPositions(symbol, bar.Close)

	return bar, true, nil
}

// recordClose advances the symbol's close history and appends the resulting
// synthetic IV observation, exactly once per bar, so IVPercentile ranks a
// stable one-sample-per-bar series no matter how many agents query it.
func (e *ReplayExchange) recordClose(symbol string, close decimal.Decimal) {
	hist := append(e.closeHistory[symbol], close)
	if len(hist) > 120 {
		hist = hist[len(hist)-120:]
	}
	e.closeHistory[symbol] = hist

	iv := e.syntheticIV(symbol)
	ivHist := append(e.ivHistory[symbol], iv)
	if len(ivHist) > 504 {
		ivHist = ivHist[len(ivHist)-504:]
	}
	e.ivHistory[symbol] = ivHist
}

// syntheticIV scales the configured base IV by the ratio of short-window to
// long-window realized volatility, clamped to [0.5x, 2x], so the synthetic
// chain's IV expands and collapses with the underlying's actual behavior
// instead of sitting at a constant that would make every IV percentile
// degenerate.
func (e *ReplayExchange) syntheticIV(symbol string) decimal.Decimal {
	hist := e.closeHistory[symbol]
	if len(hist) < 25 {
		return e.baseIV
	}

	short := utils.CalculateStdDev(utils.CalculateReturns(hist[len(hist)-20:]))
	longWindow := hist
	if len(longWindow) > 60 {
		longWindow = longWindow[len(longWindow)-60:]
	}
	long := utils.CalculateStdDev(utils.CalculateReturns(longWindow))
	if long.IsZero() {
		return e.baseIV
	}

	ratio := utils.ClampDecimal(short.Div(long), decimal.NewFromFloat(0.5), decimal.NewFromInt(2))
	return e.baseIV.Mul(ratio)
}

// currentIV is the chain-wide IV mark for the underlying right now.
func (e *ReplayExchange) currentIV(symbol string) decimal.Decimal {
	if hist := e.ivHistory[symbol]; len(hist) > 0 {
		return hist[len(hist)-1]
	}
	return e.baseIV
}

// HistoricalBars serves the agent federation's own lookback requests
// (e.g. IV-percentile or regime warmup) straight from the backing store.
func (e *ReplayExchange) HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	bars, err := e.store.LoadBars(ctx, symbol, e.timeframe, start, end)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "paperexchange.HistoricalBars", err)
	}
	return bars, nil
}

// Close is a no-op; nothing to tear down for a file-backed replay feed.
func (e *ReplayExchange) Close() error {
	return nil
}

// --- Broker ---

// Account reports cash plus the mark-to-market value of every open stock
// and option position.
func (e *ReplayExchange) Account(ctx context.Context) (scheduler.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.cash
	for _, pos := range e.stockPositions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	for _, book := range e.optionPositions {
		equity = equity.Add(book.quantity.Mul(book.lastPremium).Mul(decimal.NewFromInt(100)))
	}

	return scheduler.Account{
		Cash:           e.cash,
		Equity:         equity,
		BuyingPower:    e.cash,
		PortfolioValue: equity,
	}, nil
}

// Positions reports the single open stock position for symbol, if any.
func (e *ReplayExchange) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.stockPositions[symbol]
	if !ok || pos.Quantity.IsZero() {
		return nil, nil
	}
	return []types.Position{*pos}, nil
}

// SubmitOrder runs the pretrade gate, simulates the fill through the
// Almgren-Chriss execution model, and settles cash/position bookkeeping
// synchronously.
func (e *ReplayExchange) SubmitOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal, orderType types.OrderType, limitPrice decimal.Decimal) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.lastPrice[symbol]
	if !ok {
		return types.Order{}, errs.Newf(errs.KindBrokerRejection, "paperexchange.SubmitOrder", "no market data for %s", symbol)
	}

	existingQty := decimal.Zero
	if pos, ok := e.stockPositions[symbol]; ok {
		existingQty = pos.Quantity
	}
	if err := e.gate.Check(symbol, side, quantity, price, existingQty); err != nil {
		return types.Order{}, err
	}

	now := time.Now()
	order := &types.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Price:     limitPrice,
		Status:    types.OrderStatusFilled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	market := e.marketContext(symbol, price)
	result := e.execModel.SimulateExecution(order, market)

	order.FilledQty = quantity
	order.AvgFillPrice = result.FillPrice
	order.Commission = result.Commission
	order.FilledAt = &now

	e.applyStockFill(symbol, side, quantity, result.FillPrice, result.Commission)
	e.recordFill(symbol, order.ID, side, quantity, result.FillPrice, result.Commission, now)

	return *order, nil
}

// OpenOrders is always empty: every order fills synchronously in
// SubmitOrder, so nothing is ever left resting.
func (e *ReplayExchange) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}

// CancelOrder is a no-op for the same reason OpenOrders is always empty.
func (e *ReplayExchange) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

// RecentFills returns up to limit of the most recent fills for symbol.
func (e *ReplayExchange) RecentFills(ctx context.Context, symbol string, limit int) ([]scheduler.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.fills[symbol]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]scheduler.Fill, len(list))
	copy(out, list)
	return out, nil
}

// --- OptionsBroker ---

// SubmitOptionsOrder prices the contract synthetically off the underlying's
// last mark, runs it through the same execution model as a stock order
// scaled by the standard 100-share multiplier, and settles the option book.
func (e *ReplayExchange) SubmitOptionsOrder(ctx context.Context, contractSymbol string, side types.OrderSide, quantity decimal.Decimal, orderType types.OrderType, limitPrice decimal.Decimal) (types.Order, error) {
	underlying, optType, dte, strike, err := parseContractSymbol(contractSymbol)
	if err != nil {
		return types.Order{}, errs.New(errs.KindBrokerRejection, "paperexchange.SubmitOptionsOrder", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	underlyingPrice, ok := e.lastPrice[underlying]
	if !ok {
		return types.Order{}, errs.Newf(errs.KindBrokerRejection, "paperexchange.SubmitOptionsOrder", "no market data for underlying %s", underlying)
	}

	premium := e.pricer.Price(underlyingPrice, strike, options.TimeToExpiryYears(dte), e.currentIV(underlying), optType)
	contractPrice := premium.Mul(decimal.NewFromInt(100))

	existingQty := decimal.Zero
	if book, ok := e.optionPositions[contractSymbol]; ok {
		existingQty = book.quantity
	}
	if err := e.gate.Check(contractSymbol, side, quantity, contractPrice, existingQty); err != nil {
		return types.Order{}, err
	}

	now := time.Now()
	order := &types.Order{
		ID:        uuid.NewString(),
		Symbol:    contractSymbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Price:     limitPrice,
		Status:    types.OrderStatusFilled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	market := e.marketContext(contractSymbol, contractPrice)
	result := e.execModel.SimulateExecution(order, market)
	fillPremium := result.FillPrice.Div(decimal.NewFromInt(100))

	order.FilledQty = quantity
	order.AvgFillPrice = fillPremium
	order.Commission = result.Commission
	order.FilledAt = &now

	e.applyOptionFill(contractSymbol, side, quantity, fillPremium, result.Commission)
	e.recordFill(underlying, order.ID, side, quantity, fillPremium, result.Commission, now)

	return *order, nil
}

// --- ChainFeed ---

// Chain synthesizes a contract grid around the underlying's last mark:
// every configured DTE, seven strikes spaced by ChainStrikeStepPct, both
// call and put (spec 6's options-chain external capability fallback).
func (e *ReplayExchange) Chain(ctx context.Context, underlying string) ([]scheduler.ChainContract, error) {
	e.mu.Lock()
	price, ok := e.lastPrice[underlying]
	iv := e.currentIV(underlying)
	e.mu.Unlock()
	if !ok {
		return nil, errs.Newf(errs.KindTransient, "paperexchange.Chain", "no market data for %s", underlying)
	}

	return e.buildChain(underlying, price, iv), nil
}

// Quote prices a single contract symbol on demand.
func (e *ReplayExchange) Quote(ctx context.Context, contractSymbol string) (decimal.Decimal, decimal.Decimal, types.Greeks, bool) {
	underlying, optType, dte, strike, err := parseContractSymbol(contractSymbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, types.Greeks{}, false
	}

	e.mu.Lock()
	price, ok := e.lastPrice[underlying]
	iv := e.currentIV(underlying)
	e.mu.Unlock()
	if !ok {
		return decimal.Zero, decimal.Zero, types.Greeks{}, false
	}

	tte := options.TimeToExpiryYears(dte)
	premium := e.pricer.Price(price, strike, tte, iv, optType)
	greeks := e.pricer.Greeks(price, strike, tte, iv, premium, optType)

	bid := premium.Mul(decimal.NewFromFloat(0.97))
	ask := premium.Mul(decimal.NewFromFloat(1.03))
	return bid, ask, greeks, true
}

// IVPercentile ranks an IV observation against the rolling per-bar sample
// NextBar has accumulated for the underlying; a zero currentIV means "rank
// the chain's own current mark". Returns ok=false until lookbackDays samples
// exist, the same warm-up semantics a vendor's historical-IV endpoint has.
func (e *ReplayExchange) IVPercentile(ctx context.Context, underlying string, currentIV decimal.Decimal, lookbackDays int) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := e.ivHistory[underlying]
	if lookbackDays > 0 && len(hist) < lookbackDays {
		return decimal.Zero, false
	}
	if len(hist) == 0 {
		return decimal.Zero, false
	}

	if currentIV.IsZero() {
		currentIV = hist[len(hist)-1]
	}

	below := 0
	for _, v := range hist {
		if v.LessThanOrEqual(currentIV) {
			below++
		}
	}
	percentile := decimal.NewFromInt(int64(below)).Div(decimal.NewFromInt(int64(len(hist)))).Mul(decimal.NewFromInt(100))
	return percentile, true
}

// GEXProxy derives a dealer-gamma proxy from the synthetic chain: call
// gamma exposure counts positive, put gamma exposure counts negative,
// weighted by each contract's synthetic open interest (spec 4.3's GEX
// classifier input, in the absence of a vendor feed).
func (e *ReplayExchange) GEXProxy(ctx context.Context, underlying string, underlyingPrice decimal.Decimal) (types.GEXSnapshot, error) {
	e.mu.Lock()
	iv := e.currentIV(underlying)
	e.mu.Unlock()
	chain := e.buildChain(underlying, underlyingPrice, iv)

	total := decimal.Zero
	for _, c := range chain {
		contrib := c.Greeks.Gamma.Mul(c.OpenInterest).Mul(decimal.NewFromInt(100)).Mul(underlyingPrice)
		if c.OptionType == types.OptionPut {
			contrib = contrib.Neg()
		}
		total = total.Add(contrib)
	}

	strengthBn := total.Div(decimal.NewFromFloat(1e9))
	regime := types.GEXNeutral
	switch {
	case strengthBn.GreaterThan(decimal.NewFromFloat(0.5)):
		regime = types.GEXPositive
	case strengthBn.LessThan(decimal.NewFromFloat(-0.5)):
		regime = types.GEXNegative
	}

	return types.GEXSnapshot{
		Regime:        regime,
		StrengthBn:    strengthBn,
		TotalGEXDolla: total,
		Coverage:      len(chain),
		UpdatedAt:     time.Now(),
	}, nil
}

// --- internal helpers ---

func (e *ReplayExchange) buildChain(underlying string, price, iv decimal.Decimal) []scheduler.ChainContract {
	var out []scheduler.ChainContract

	for _, dte := range e.dteList {
		tte := options.TimeToExpiryYears(dte)
		for offset := -3; offset <= 3; offset++ {
			stepFrac := e.strikeStepPct.Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(offset)))
			strike := price.Mul(decimal.NewFromInt(1).Add(stepFrac))
			if strike.LessThanOrEqual(decimal.Zero) {
				continue
			}

			// Open interest peaks near the money and near-dated, tapering off
			// with distance in either dimension - a deterministic stand-in
			// for a vendor feed's real positioning data.
			oi := decimal.NewFromInt(5000).
				Div(decimal.NewFromInt(int64(1 + abs(offset)))).
				Div(decimal.NewFromInt(1 + int64(dte)/7))

			for _, optType := range []types.OptionType{types.OptionCall, types.OptionPut} {
				premium := e.pricer.Price(price, strike, tte, iv, optType)
				greeks := e.pricer.Greeks(price, strike, tte, iv, premium, optType)

				out = append(out, scheduler.ChainContract{
					ContractSymbol: formatContractSymbol(underlying, optType, dte, strike),
					Strike:         strike,
					Expiration:     dte,
					OptionType:     optType,
					Bid:            premium.Mul(decimal.NewFromFloat(0.97)),
					Ask:            premium.Mul(decimal.NewFromFloat(1.03)),
					Volume:         oi.Div(decimal.NewFromInt(10)),
					OpenInterest:   oi,
					Greeks:         greeks,
				})
			}
		}
	}

	return out
}

func (e *ReplayExchange) marketContext(symbol string, price decimal.Decimal) *MarketContext {
	return &MarketContext{
		Symbol:     symbol,
		Price:      price,
		BidPrice:   price.Mul(decimal.NewFromFloat(0.999)),
		AskPrice:   price.Mul(decimal.NewFromFloat(1.001)),
		Volume:     decimal.NewFromInt(1_000_000),
		Volatility: decimal.NewFromFloat(0.20),
	}
}

// applyStockFill updates cash and the weighted-average stock position for
// a settled fill; realizes PnL on the portion of any fill that reduces or
// flips an existing position.
func (e *ReplayExchange) applyStockFill(symbol string, side types.OrderSide, quantity, fillPrice, commission decimal.Decimal) {
	e.cash = e.cash.Sub(commission)

	signedQty := quantity
	if side == types.OrderSideSell {
		signedQty = quantity.Neg()
	}
	e.cash = e.cash.Sub(signedQty.Mul(fillPrice))

	pos, ok := e.stockPositions[symbol]
	if !ok {
		e.stockPositions[symbol] = &types.Position{
			Symbol:       symbol,
			Side:         positionSideOf(signedQty),
			Quantity:     signedQty,
			EntryPrice:   fillPrice,
			CurrentPrice: fillPrice,
			OpenedAt:     time.Now(),
		}
		return
	}

	sameDirection := pos.Quantity.IsZero() || (pos.Quantity.Sign() == signedQty.Sign())
	newQty := pos.Quantity.Add(signedQty)

	if sameDirection {
		totalCost := pos.EntryPrice.Mul(pos.Quantity).Add(fillPrice.Mul(signedQty))
		pos.Quantity = newQty
		if !newQty.IsZero() {
			pos.EntryPrice = totalCost.Div(newQty)
		}
	} else {
		closingQty := decimal.Min(pos.Quantity.Abs(), signedQty.Abs())
		direction := decimal.NewFromInt(1)
		if pos.Quantity.IsNegative() {
			direction = decimal.NewFromInt(-1)
		}
		realized := closingQty.Mul(fillPrice.Sub(pos.EntryPrice)).Mul(direction)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.Quantity = newQty
		if newQty.IsZero() {
			pos.EntryPrice = decimal.Zero
		} else if newQty.Sign() != 0 && pos.Quantity.Sign() == signedQty.Sign() {
			pos.EntryPrice = fillPrice
		}
	}

	pos.Side = positionSideOf(pos.Quantity)
	pos.CurrentPrice = fillPrice
	pos.UnrealizedPnL = pos.Quantity.Mul(fillPrice.Sub(pos.EntryPrice))
}

func (e *ReplayExchange) applyOptionFill(contractSymbol string, side types.OrderSide, quantity, fillPremium, commission decimal.Decimal) {
	e.cash = e.cash.Sub(commission)

	signedQty := quantity
	if side == types.OrderSideSell {
		signedQty = quantity.Neg()
	}
	e.cash = e.cash.Sub(signedQty.Mul(fillPremium).Mul(decimal.NewFromInt(100)))

	book, ok := e.optionPositions[contractSymbol]
	if !ok {
		e.optionPositions[contractSymbol] = &optionBook{
			quantity:    signedQty,
			avgPremium:  fillPremium,
			lastPremium: fillPremium,
		}
		return
	}

	sameDirection := book.quantity.IsZero() || book.quantity.Sign() == signedQty.Sign()
	newQty := book.quantity.Add(signedQty)

	if sameDirection {
		totalCost := book.avgPremium.Mul(book.quantity).Add(fillPremium.Mul(signedQty))
		book.quantity = newQty
		if !newQty.IsZero() {
			book.avgPremium = totalCost.Div(newQty)
		}
	} else {
		book.quantity = newQty
		if newQty.IsZero() {
			book.avgPremium = decimal.Zero
		} else if book.quantity.Sign() == signedQty.Sign() {
			book.avgPremium = fillPremium
		}
	}
	book.lastPremium = fillPremium
}

// markOptionPositions refreshes every open contract's last mark when its
// underlying prints a new bar, so Account's equity stays current between
// option order submissions.
func (e *ReplayExchange) markOptionPositions(underlying string, underlyingPrice decimal.Decimal) {
	for contractSymbol, book := range e.optionPositions {
		if book.quantity.IsZero() {
			continue
		}
		u, optType, dte, strike, err := parseContractSymbol(contractSymbol)
		if err != nil || u != underlying {
			continue
		}
		book.lastPremium = e.pricer.Price(underlyingPrice, strike, options.TimeToExpiryYears(dte), e.currentIV(underlying), optType)
	}
}

func (e *ReplayExchange) recordFill(symbol, orderID string, side types.OrderSide, quantity, price, commission decimal.Decimal, at time.Time) {
	e.fills[symbol] = append(e.fills[symbol], scheduler.Fill{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		FilledAt:   at,
	})
	if len(e.fills[symbol]) > 10000 {
		e.fills[symbol] = e.fills[symbol][5000:]
	}
}

func positionSideOf(signedQty decimal.Decimal) types.PositionSide {
	if signedQty.IsNegative() {
		return types.PositionSideShort
	}
	return types.PositionSideLong
}

func timeframeDuration(tf types.Timeframe) time.Duration {
	switch tf {
	case types.Timeframe1m:
		return time.Minute
	case types.Timeframe5m:
		return 5 * time.Minute
	case types.Timeframe15m:
		return 15 * time.Minute
	case types.Timeframe1h:
		return time.Hour
	case types.Timeframe4h:
		return 4 * time.Hour
	case types.Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// formatContractSymbol and parseContractSymbol define the replay
// exchange's own contract-symbol encoding; no vendor feed is involved, so
// the format only has to round-trip through Chain/Quote/SubmitOptionsOrder.
func formatContractSymbol(underlying string, optType types.OptionType, dte int, strike decimal.Decimal) string {
	return fmt.Sprintf("%s|%s|%d|%s", underlying, optType, dte, strike.StringFixed(2))
}

func parseContractSymbol(contractSymbol string) (underlying string, optType types.OptionType, dte int, strike decimal.Decimal, err error) {
	parts := strings.Split(contractSymbol, "|")
	if len(parts) != 4 {
		return "", "", 0, decimal.Zero, fmt.Errorf("malformed contract symbol %q", contractSymbol)
	}

	underlying = parts[0]
	optType = types.OptionType(parts[1])

	dte, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, decimal.Zero, fmt.Errorf("malformed contract symbol %q: %w", contractSymbol, err)
	}

	strike, err = decimal.NewFromString(parts[3])
	if err != nil {
		return "", "", 0, decimal.Zero, fmt.Errorf("malformed contract symbol %q: %w", contractSymbol, err)
	}

	return underlying, optType, dte, strike, nil
}
