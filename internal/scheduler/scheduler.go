package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/agents"
	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/controller"
	"github.com/atlas-desktop/adaptive-trader/internal/errs"
	"github.com/atlas-desktop/adaptive-trader/internal/eventlog"
	"github.com/atlas-desktop/adaptive-trader/internal/features"
	"github.com/atlas-desktop/adaptive-trader/internal/memory"
	"github.com/atlas-desktop/adaptive-trader/internal/metrics"
	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/internal/portfolio"
	"github.com/atlas-desktop/adaptive-trader/internal/regime"
	"github.com/atlas-desktop/adaptive-trader/internal/risk"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// defaultMultiLegDTE is used whenever an agent's intent carries no explicit
// expiry (both ThetaHarvesterAgent and GammaScalperAgent always emit
// TimeToExpiryDays: 0); a week of theta is a reasonable default for either
// strategy's holding period (spec 4.6's MinHoldBars/MaxHoldBars window).
const defaultMultiLegDTE = 7

// Dependencies bundles the external capabilities spec 6 names. OptionsBroker
// and ChainFeed are nil when the engine runs in a stock-only configuration;
// multi-leg and single-leg options features are then simply never exercised.
type Dependencies struct {
	Feed          DataFeed
	Broker        Broker
	OptionsBroker OptionsBroker
	ChainFeed     ChainFeed
	Log           *zap.Logger
}

// multiLeg bundles a position with the strategy-specific parameters needed
// to evaluate its exit each bar without re-deriving them from Metadata.
type multiLeg struct {
	pos        *types.MultiLegPosition
	entryIV    decimal.Decimal
	entryGEXBn decimal.Decimal
}

// Scheduler drives the bar-by-bar pipeline described in the package doc. One
// Scheduler instance owns every mutable component for the run; nothing here
// is read concurrently except through the published Snapshot.
type Scheduler struct {
	cfg  *config.EngineConfig
	deps Dependencies
	log  *zap.Logger

	symbols []string
	windows map[string]*features.Window

	micro      *regime.Microstructure
	classifier *regime.Classifier
	registry   *agents.Registry
	ctrl       *controller.Controller

	stocks  *portfolio.StockPortfolio
	options *portfolio.OptionsPortfolio
	risk    *risk.Manager

	chain   *chainAdapter
	orderer *legOrderer

	lifecycle *options.Lifecycle
	hedgeMgr  *options.HedgeManager
	profitMgr *options.ProfitManager

	mem *memory.Store
	evt *eventlog.Logger

	multiLegs map[string]*multiLeg // keyed by multi_leg_id
	mlTrades  []types.OptionTrade  // closed multi-leg round-trips, merged into the checkpoint's option trade log

	lastRegime map[string]types.RegimeSignal // most recent Classify output per symbol, for the published snapshot

	barCount      int64
	lastBarTime   time.Time
	barsPerSymbol map[string]int64
	tradingDay    string
	errMsg        string // last fatal error, surfaced through Status

	checkpointPath string
	snapshot       atomic.Pointer[Snapshot]
	paused         atomic.Bool
	running        atomic.Bool
}

// New wires every sub-component from cfg and deps, attempting to resume from
// a previously persisted checkpoint before the first bar is processed.
func New(cfg *config.EngineConfig, deps Dependencies) (*Scheduler, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scheduler")

	s := &Scheduler{
		cfg:            cfg,
		deps:           deps,
		log:            log,
		symbols:        cfg.Symbols,
		windows:        make(map[string]*features.Window),
		micro:          regime.NewMicrostructure(),
		multiLegs:      make(map[string]*multiLeg),
		lastRegime:     make(map[string]types.RegimeSignal),
		barsPerSymbol:  make(map[string]int64),
		checkpointPath: cfg.Persistence.CheckpointPath,
	}

	classifierCfg := regime.DefaultClassifierConfig()
	classifierCfg.MinWindow = cfg.Scheduler.MinimumBarsRequired
	classifierCfg.ConfidenceFloor = config.Dec(cfg.Risk.MinConfidence)
	s.classifier = regime.NewClassifier(classifierCfg, s.micro, log)

	for _, sym := range s.symbols {
		s.windows[sym] = features.NewWindow(sym, 500)
	}

	agentList := buildAgents(cfg.Agents)
	names := make([]string, 0, len(agentList))
	for _, a := range agentList {
		names = append(names, a.Name())
	}
	s.registry = agents.NewRegistry(log, agentList...)

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.MinBucketScore = config.Dec(cfg.Controller.MinBucketScore)
	ctrlCfg.LearningRate = config.Dec(cfg.Controller.LearningRate)
	s.ctrl = controller.New(ctrlCfg, log, names)

	initialCapital := config.Dec(cfg.Risk.InitialCapital)
	if cfg.Challenge.Enabled {
		initialCapital = config.Dec(cfg.Challenge.InitialCapital)
	}
	s.stocks = portfolio.NewStockPortfolio(initialCapital)
	s.options = portfolio.NewOptionsPortfolio()

	riskMgr := riskManagerFromConfig(cfg, log, initialCapital)

	if deps.ChainFeed != nil {
		s.chain = &chainAdapter{feed: deps.ChainFeed}
	}
	if deps.OptionsBroker != nil {
		s.orderer = newLegOrderer(deps.OptionsBroker)
		var quotes options.QuoteFeed
		if s.chain != nil {
			quotes = s.chain
		}
		s.lifecycle = options.NewLifecycle(options.DefaultLifecycleConfig(), quotes, s.orderer, log)
	}
	s.hedgeMgr = options.NewHedgeManager(hedgeConfigFromEngine(cfg.Hedge), log)
	s.profitMgr = options.NewProfitManager(profitConfigFromEngine(cfg.ProfitTake), log)

	s.risk = riskMgr

	dataDir := filepath.Dir(s.checkpointPath)
	s.mem = memory.NewStore(memory.Config{
		ShortWindow: cfg.Controller.ShortTermTau,
		LongWindow:  cfg.Controller.LongTermTau,
		RewardClip:  decimal.NewFromFloat(0.1),
		SaveEveryN:  10,
	}, log, dataDir)

	evt, err := eventlog.New(cfg.Persistence.EventLogPath, log)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "scheduler.New", err)
	}
	s.evt = evt

	if cp, ok := LoadCheckpoint(s.checkpointPath); ok {
		s.resume(cp)
		log.Info("resumed from checkpoint", zap.Int64("bar_count", cp.BarCount))
	}

	return s, nil
}

func (s *Scheduler) resume(cp Checkpoint) {
	s.barCount = cp.BarCount
	s.lastBarTime = cp.LastBarTime
	lastCash := decimal.Zero
	if n := len(cp.EquityCurve); n > 0 {
		lastCash = cp.EquityCurve[n-1].Cash
	}
	s.stocks.Restore(lastCash, cp.Positions, cp.TradeLog, cp.EquityCurve, cp.PeakEquity)
	s.options.Restore(cp.OptionsPositions, singleLegTrades(cp.OptionTradeLog))
	s.risk.Restore(cp.PeakEquity, cp.PeakEquity, cp.CircuitBreakerState, cp.DailyPnL, "")
	s.ctrl.Restore(cp.AgentWeights, cp.RegimeWeights, cp.VolatilityWeights, cp.StructureWeights)
	s.hedgeMgr.Restore(cp.HedgePositions)
	s.mlTrades = multiLegTrades(cp.OptionTradeLog)
	for i := range cp.MultiLegPositions {
		pos := cp.MultiLegPositions[i]
		s.multiLegs[pos.MultiLegID] = &multiLeg{pos: &pos, entryIV: pos.EntryIV, entryGEXBn: pos.EntryGEXStrBn}
	}
}

// multi-leg trades carry their multi_leg_id (a UUID) in ContractOrML rather
// than a contract symbol; singleLegTrades/multiLegTrades split persist's
// concatenated option_trade_log back into its two source slices on resume.
func singleLegTrades(log []types.OptionTrade) []types.OptionTrade {
	out := make([]types.OptionTrade, 0, len(log))
	for _, t := range log {
		if !isMultiLegID(t.ContractOrML) {
			out = append(out, t)
		}
	}
	return out
}

func multiLegTrades(log []types.OptionTrade) []types.OptionTrade {
	var out []types.OptionTrade
	for _, t := range log {
		if isMultiLegID(t.ContractOrML) {
			out = append(out, t)
		}
	}
	return out
}

func isMultiLegID(contractOrML string) bool {
	_, err := uuid.Parse(contractOrML)
	return err == nil
}

// Run drives the scheduler until ctx is cancelled, round-robining across
// symbols and suspending only at the four points spec 5 names: the feed
// poll, the replay sleep, broker calls (inside the pipeline steps below),
// and checkpoint persistence.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	if err := s.deps.Feed.Connect(ctx); err != nil {
		return s.fail(errs.New(errs.KindTransient, "scheduler.Run.Connect", err))
	}
	defer s.deps.Feed.Close()

	if _, err := s.deps.Feed.Subscribe(ctx, s.symbols, s.cfg.Scheduler.MinimumBarsRequired); err != nil {
		return s.fail(errs.New(errs.KindTransient, "scheduler.Run.Subscribe", err))
	}

	consecutiveFailures := 0
	replaySleep := s.replayInterval()

	for {
		select {
		case <-ctx.Done():
			s.persist()
			return nil
		default:
		}

		if s.paused.Load() {
			select {
			case <-ctx.Done():
				s.persist()
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		gotAnyBar := false
		for _, sym := range s.symbols {
			bar, ok, err := s.safePullBar(ctx, sym)
			if err != nil {
				consecutiveFailures++
				s.log.Warn("feed poll failed", zap.String("symbol", sym), zap.Error(err))
				_ = s.evt.Append(eventlog.Entry{
					EventType: eventlog.EventRiskEvent,
					Severity:  eventlog.SeverityWarning,
					Payload:   map[string]any{"kind": "feed_timeout", "symbol": sym, "error": err.Error()},
				})
				if consecutiveFailures >= s.cfg.Scheduler.MaxConsecutiveFeedFail {
					return s.fail(errs.New(errs.KindDataIntegrity, "scheduler.Run", fmt.Errorf("too many consecutive feed failures")))
				}
				continue
			}
			if !ok {
				continue
			}
			consecutiveFailures = 0
			gotAnyBar = true

			if err := s.safeCall("scheduler.processBar", func() error {
				return s.processBar(ctx, sym, bar)
			}); err != nil {
				s.log.Error("bar processing failed", zap.String("symbol", sym), zap.Error(err))
				if errs.Fatal(kindOf(err)) {
					return s.fail(err)
				}
			}
		}

		s.tickOrphanHedges()

		s.rebuildSnapshot()

		if every := int64(s.cfg.Scheduler.CheckpointEveryBars); every > 0 && s.barCount > 0 && s.barCount%every == 0 {
			s.persist()
		}

		if !gotAnyBar {
			if s.cfg.Mode == "offline" {
				s.persist()
				return nil
			}
		}

		if s.cfg.Mode == "offline" && replaySleep > 0 {
			select {
			case <-ctx.Done():
				s.persist()
				return nil
			case <-time.After(replaySleep):
			}
		}
	}
}

func (s *Scheduler) replayInterval() time.Duration {
	if s.cfg.Scheduler.ReplaySpeed <= 0 {
		return 0
	}
	return time.Duration(float64(s.cfg.Scheduler.BarPeriod) / s.cfg.Scheduler.ReplaySpeed)
}

func (s *Scheduler) safePullBar(ctx context.Context, symbol string) (types.Bar, bool, error) {
	var bar types.Bar
	var ok bool
	err := s.safeCall("scheduler.NextBar", func() error {
		var innerErr error
		bar, ok, innerErr = s.deps.Feed.NextBar(ctx, symbol, s.cfg.Scheduler.FeedPollTimeout)
		return innerErr
	})
	return bar, ok, err
}

// fail records a fatal error so Status exposes it, persists a final
// checkpoint, and republishes the snapshot before the loop returns.
func (s *Scheduler) fail(err error) error {
	s.errMsg = err.Error()
	s.persist()
	s.rebuildSnapshot()
	return err
}

// safeCall wraps the four suspension points in a panics.Catcher so a bad
// feed/broker/persistence adapter can never take the whole loop down
// (spec 4.1/7).
func (s *Scheduler) safeCall(op string, fn func() error) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		s.log.Error("recovered panic", zap.String("op", op), zap.Any("value", r.Value))
		return errs.New(errs.KindPanic, op, r.AsError())
	}
	return err
}

func kindOf(err error) errs.Kind {
	var e *errs.Error
	if ok := asErrsError(err, &e); ok {
		return e.Kind
	}
	return errs.KindTransient
}

func asErrsError(err error, target **errs.Error) bool {
	for err != nil {
		if e, ok := err.(*errs.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// processBar implements spec 4.1's 15-step pipeline for one symbol's bar.
func (s *Scheduler) processBar(ctx context.Context, symbol string, bar types.Bar) error {
	w := s.windows[symbol]
	if err := s.checkBarIntegrity(w, bar); err != nil {
		return err
	}

	s.barCount++
	s.barsPerSymbol[symbol]++
	s.lastBarTime = bar.Timestamp
	day := bar.Timestamp.Format("2006-01-02")
	if day != s.tradingDay {
		s.tradingDay = day
		s.risk.ResetDaily(day)
	}

	// 2: append window
	w.Append(bar)

	// 4: compute features
	fs := features.Compute(w)

	// GEX microstructure refresh, must happen before Classify (spec 9).
	if s.deps.ChainFeed != nil {
		if snap, err := s.deps.ChainFeed.GEXProxy(ctx, symbol, bar.Close); err == nil {
			s.micro.Update(symbol, snap)
		}
	}

	// 5: classify regime
	signal := s.classifier.Classify(fs)
	if prev, ok := s.lastRegime[symbol]; ok && prev.IsValid && signal.IsValid && prev.RegimeType != signal.RegimeType {
		metrics.RegimeFlips.WithLabelValues(symbol).Inc()
		_ = s.evt.Append(eventlog.Entry{
			EventType: eventlog.EventRegimeFlip,
			Severity:  eventlog.SeverityInfo,
			Payload: map[string]any{
				"symbol": symbol,
				"from":   string(prev.RegimeType),
				"to":     string(signal.RegimeType),
				"bar":    s.barCount,
			},
		})
	}
	s.lastRegime[symbol] = signal
	metrics.BarsProcessed.WithLabelValues(symbol).Inc()

	// 6: evaluate agents
	state := agents.MarketState{
		CurrentBar:  s.barCount,
		Price:       bar.Close,
		ATR:         fs.ATR,
		BaseSize:    config.Dec(s.cfg.Agents.BaseSize),
		HasPosition: s.stocks.Position(symbol) != nil,
		Chain:       s.chainForSymbol(ctx),
	}
	intents := s.registry.EvaluateAll(signal, state)
	for _, in := range intents {
		metrics.IntentsEmitted.WithLabelValues(in.AgentName).Inc()
	}

	// 7: controller reconcile
	final := s.ctrl.Reconcile(intents, signal)
	if len(intents) > 0 && !final.IsValid {
		_ = s.evt.Append(eventlog.Entry{
			EventType: eventlog.EventNoTrade,
			Severity:  eventlog.SeverityInfo,
			Payload:   map[string]any{"symbol": symbol, "intents": len(intents), "reason": final.Reason},
		})
	}

	// 8: risk gate
	s.risk.UpdateEquity(s.stocks.Equity().Add(s.options.TotalUnrealizedPnL()))
	allowed, sizedDelta, veto := s.risk.Gate(final, signal, bar.Close, s.barCount)
	if veto != "" {
		metrics.RiskVetoes.WithLabelValues(string(veto)).Inc()
		if final.IsValid {
			_ = s.evt.Append(eventlog.Entry{
				EventType: eventlog.EventRiskEvent,
				Severity:  eventlog.SeverityWarning,
				Payload:   map[string]any{"symbol": symbol, "veto": string(veto), "agent": final.PrimaryAgent},
			})
		}
	}

	if allowed {
		// 9-10: route to executor, reconcile fills with the portfolio.
		if err := s.execute(ctx, symbol, bar, signal, final, sizedDelta); err != nil {
			s.log.Warn("execution step failed", zap.String("symbol", symbol), zap.Error(err))
		}
	} else {
		s.log.Debug("bar vetoed", zap.String("symbol", symbol), zap.String("reason", string(veto)))
	}

	// 11-12: a veto blocks new entries, never the maintenance of what is
	// already open: existing positions still mark-to-market, hedge, and
	// check their exit rules every bar.
	s.stocks.MarkPrice(symbol, bar.Close)
	s.maintainSingleLegOptions(ctx, symbol, bar, signal)
	s.maintainMultiLegs(ctx, symbol, bar, signal)

	// 13: tick risk circuit breaker, record equity curve point.
	s.risk.Tick()
	s.stocks.RecordEquityPoint(bar.Timestamp)
	metrics.Equity.Set(mustFloat(s.stocks.Equity()))
	metrics.Drawdown.Set(mustFloat(s.stocks.Drawdown()))

	return nil
}

// checkBarIntegrity enforces spec 7's data-integrity taxonomy: a corrupted
// bar (non-positive price, inverted high/low) or a timestamp that moves
// backwards for its symbol halts the loop rather than silently corrupting
// the window.
func (s *Scheduler) checkBarIntegrity(w *features.Window, bar types.Bar) error {
	if bar.Open.LessThanOrEqual(decimal.Zero) || bar.High.LessThanOrEqual(decimal.Zero) ||
		bar.Low.LessThanOrEqual(decimal.Zero) || bar.Close.LessThanOrEqual(decimal.Zero) {
		return errs.Newf(errs.KindDataIntegrity, "scheduler.processBar", "non-positive price in bar for %s at %s", bar.Symbol, bar.Timestamp)
	}
	if bar.High.LessThan(bar.Low) {
		return errs.Newf(errs.KindDataIntegrity, "scheduler.processBar", "high below low in bar for %s at %s", bar.Symbol, bar.Timestamp)
	}
	if bars := w.Bars(); len(bars) > 0 {
		if last := bars[len(bars)-1]; bar.Timestamp.Before(last.Timestamp) {
			return errs.Newf(errs.KindDataIntegrity, "scheduler.processBar", "non-monotonic timestamp for %s: %s after %s", bar.Symbol, bar.Timestamp, last.Timestamp)
		}
	}
	return nil
}

func (s *Scheduler) chainForSymbol(ctx context.Context) agents.OptionsChain {
	if s.chain == nil {
		return nil
	}
	s.chain.withContext(ctx)
	return s.chain
}

// execute implements spec 4.1 steps 9-10 for an allowed final intent:
// routing the sized trade to the right executor and reconciling the fill
// with the portfolio. Per-bar position maintenance (steps 11-12) runs in
// processBar regardless of whether this bar executed anything.
func (s *Scheduler) execute(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal, final types.FinalTradeIntent, sizedDelta decimal.Decimal) error {
	if s.orderer != nil {
		s.orderer.withContext(ctx)
	}

	switch final.InstrumentType {
	case types.InstrumentOption:
		switch final.OptionType {
		case types.OptionStraddle, types.OptionStrangle:
			if err := s.openMultiLeg(ctx, symbol, bar, signal, final, sizedDelta); err != nil {
				s.log.Warn("multi-leg open failed", zap.String("symbol", symbol), zap.Error(err))
			}
		default:
			if err := s.executeSingleLegOption(ctx, symbol, bar, signal, final); err != nil {
				s.log.Warn("option order failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	default:
		if err := s.executeStock(ctx, symbol, bar, signal, final, sizedDelta); err != nil {
			s.log.Warn("stock order failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) executeStock(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal, final types.FinalTradeIntent, sizedDelta decimal.Decimal) error {
	qty := sizedDelta.Abs()
	if qty.IsZero() {
		return nil
	}
	side := types.OrderSideBuy
	if sizedDelta.LessThan(decimal.Zero) {
		side = types.OrderSideSell
	}

	order, err := s.deps.Broker.SubmitOrder(ctx, symbol, side, qty, types.OrderTypeMarket, decimal.Zero)
	if err != nil {
		return errs.New(errs.KindBrokerRejection, "scheduler.executeStock", err)
	}
	if order.FilledQty.IsZero() {
		return nil
	}

	s.risk.RecordSymbolExposure(symbol, order.FilledQty.Mul(order.AvgFillPrice))

	if side == types.OrderSideBuy {
		s.stocks.Buy(symbol, order.FilledQty, order.AvgFillPrice, order.Commission, signal.RegimeType, signal.VolatilityLvl)
		return nil
	}

	pos := s.stocks.Position(symbol)
	if pos == nil {
		return nil
	}
	pnl := s.stocks.Sell(symbol, decimal.Min(order.FilledQty, pos.Quantity), order.AvgFillPrice, order.Commission, final.PrimaryAgent, final.Reason)
	if remaining := s.stocks.Position(symbol); remaining == nil {
		s.recordClosedTrade(final.PrimaryAgent, pnl, signal, types.InstrumentStock)
	}
	return nil
}

func (s *Scheduler) executeSingleLegOption(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal, final types.FinalTradeIntent) error {
	if s.deps.OptionsBroker == nil {
		return errs.Newf(errs.KindConfig, "scheduler.executeSingleLegOption", "no options broker configured")
	}
	strike := final.Metadata["strike"]
	if strike.IsZero() {
		strike = options.StrikeFromMoneyness(bar.Close, final.Moneyness, final.OptionType)
	}

	dte := final.TimeToExpiryDays
	if dte <= 0 {
		dte = defaultMultiLegDTE
	}

	contract, ok := s.resolveChainContract(ctx, symbol, final.OptionType, strike, dte)
	if !ok {
		return errs.Newf(errs.KindTransient, "scheduler.executeSingleLegOption", "no chain contract near strike %s for %s", strike.String(), symbol)
	}

	side := types.OrderSideBuy
	limit := contract.Ask
	if final.PositionDelta.LessThan(decimal.Zero) {
		side = types.OrderSideSell
		limit = contract.Bid
	}
	qty := decimal.NewFromInt(1)

	order, err := s.deps.OptionsBroker.SubmitOptionsOrder(ctx, contract.ContractSymbol, side, qty, types.OrderTypeLimit, limit)
	if err != nil {
		return errs.New(errs.KindBrokerRejection, "scheduler.executeSingleLegOption", err)
	}
	if order.FilledQty.IsZero() {
		return nil
	}

	signedQty := order.FilledQty
	if side == types.OrderSideSell {
		signedQty = signedQty.Neg()
	}

	s.options.AddPosition(types.OptionPosition{
		Symbol:         symbol,
		ContractSymbol: contract.ContractSymbol,
		OptionType:     final.OptionType,
		Strike:         contract.Strike,
		Expiration:     bar.Timestamp.AddDate(0, 0, contract.Expiration),
		Quantity:       signedQty,
		EntryPrice:     order.AvgFillPrice,
		EntryAt:        bar.Timestamp,
		CurrentPrice:   order.AvgFillPrice,
		UnderlyingPx:   bar.Close,
		Greeks:         contract.Greeks,
		RegimeAtEntry:  signal.RegimeType,
		VolAtEntry:     signal.VolatilityLvl,
	})
	return nil
}

// resolveChainContract scans the options chain for the listed contract
// nearest the requested strike and expiry. Contract symbols are
// feed-assigned identifiers (spec 6), so the engine never fabricates one.
func (s *Scheduler) resolveChainContract(ctx context.Context, symbol string, optType types.OptionType, targetStrike decimal.Decimal, targetDTE int) (ChainContract, bool) {
	if s.deps.ChainFeed == nil {
		return ChainContract{}, false
	}
	chain, err := s.deps.ChainFeed.Chain(ctx, symbol)
	if err != nil || len(chain) == 0 {
		return ChainContract{}, false
	}

	var best ChainContract
	found := false
	var bestStrikeDiff decimal.Decimal
	bestDTEDiff := 0
	for _, c := range chain {
		if c.OptionType != optType {
			continue
		}
		strikeDiff := c.Strike.Sub(targetStrike).Abs()
		dteDiff := c.Expiration - targetDTE
		if dteDiff < 0 {
			dteDiff = -dteDiff
		}
		better := !found ||
			dteDiff < bestDTEDiff ||
			(dteDiff == bestDTEDiff && strikeDiff.LessThan(bestStrikeDiff))
		if better {
			best = c
			bestStrikeDiff = strikeDiff
			bestDTEDiff = dteDiff
			found = true
		}
	}
	return best, found
}

func (s *Scheduler) openMultiLeg(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal, final types.FinalTradeIntent, sizedDelta decimal.Decimal) error {
	if s.lifecycle == nil {
		return errs.Newf(errs.KindConfig, "scheduler.openMultiLeg", "no options broker configured")
	}

	dte := final.TimeToExpiryDays
	if dte <= 0 {
		dte = defaultMultiLegDTE
	}

	moneyness := types.MoneynessATM
	if final.OptionType == types.OptionStrangle {
		moneyness = types.MoneynessOTM
	}
	wantCallStrike := options.StrikeFromMoneyness(bar.Close, moneyness, types.OptionCall)
	wantPutStrike := options.StrikeFromMoneyness(bar.Close, moneyness, types.OptionPut)

	direction := types.BiasLong
	if final.PositionDelta.LessThan(decimal.Zero) {
		direction = types.BiasShort
	}

	// Contracts: the agent's requested size, bounded by the risk gate's
	// sized output, at least one contract.
	contracts := decimal.Min(final.PositionDelta.Abs(), sizedDelta.Abs()).Round(0)
	if contracts.LessThan(decimal.NewFromInt(1)) {
		contracts = decimal.NewFromInt(1)
	}

	plan := options.EntryPlan{
		MultiLegID:   uuid.NewString(),
		Symbol:       symbol,
		TradeType:    final.OptionType,
		Direction:    direction,
		Strategy:     final.PrimaryAgent,
		CallStrike:   wantCallStrike,
		PutStrike:    wantPutStrike,
		Contracts:    contracts,
		Expiration:   bar.Timestamp.AddDate(0, 0, dte),
		DTE:          dte,
		UnderlyingPx: bar.Close,
	}

	// Legs trade against listed chain contracts when a chain is available;
	// the plan then carries the feed's own symbols, strikes, and expiry.
	if call, ok := s.resolveChainContract(ctx, symbol, types.OptionCall, wantCallStrike, dte); ok {
		plan.CallSymbol = call.ContractSymbol
		plan.CallStrike = call.Strike
		plan.DTE = call.Expiration
		plan.Expiration = bar.Timestamp.AddDate(0, 0, call.Expiration)
	}
	if put, ok := s.resolveChainContract(ctx, symbol, types.OptionPut, wantPutStrike, plan.DTE); ok {
		plan.PutSymbol = put.ContractSymbol
		plan.PutStrike = put.Strike
	}

	pos, err := s.lifecycle.Open(plan)
	if err != nil {
		return err
	}
	pos.EntryBar = s.barCount
	pos.EntryIV = s.entryIV(ctx, symbol, pos)
	pos.EntryGEXStrBn = signal.GEX.StrengthBn

	expectedCredit := pos.TotalCredit
	if direction == types.BiasLong {
		expectedCredit = pos.TotalDebit
	}
	if s.orderer != nil {
		if f, ok := s.orderer.fill(pos.Call.ContractSymbol); ok {
			s.lifecycle.RecordFill(pos, types.OptionCall, f, expectedCredit)
		}
		if f, ok := s.orderer.fill(pos.Put.ContractSymbol); ok {
			s.lifecycle.RecordFill(pos, types.OptionPut, f, expectedCredit)
		}
	}

	s.multiLegs[plan.MultiLegID] = &multiLeg{pos: pos, entryIV: pos.EntryIV, entryGEXBn: pos.EntryGEXStrBn}
	s.profitMgr.TrackPosition(plan.MultiLegID, final.PrimaryAgent, direction, expectedCredit, pos.EntryTime, s.barCount, pos.EntryIV, pos.EntryGEXStrBn)
	return nil
}

// entryIV reads the call leg's quoted IV at entry, falling back to the
// synthetic pricer's default when no vendor quote exists.
func (s *Scheduler) entryIV(ctx context.Context, symbol string, pos *types.MultiLegPosition) decimal.Decimal {
	if s.deps.ChainFeed != nil {
		if _, _, greeks, ok := s.deps.ChainFeed.Quote(ctx, pos.Call.ContractSymbol); ok && !greeks.IV.IsZero() {
			return greeks.IV
		}
	}
	return options.DefaultLifecycleConfig().DefaultIV
}

// maintainSingleLegOptions implements the per-bar update for single-leg
// option positions: re-quote against the chain, recompute unrealized P&L,
// and close anything at expiry.
func (s *Scheduler) maintainSingleLegOptions(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal) {
	if s.deps.ChainFeed == nil {
		return
	}
	for _, pos := range s.options.AllPositions() {
		if pos.Symbol != symbol {
			continue
		}

		if bid, ask, greeks, ok := s.deps.ChainFeed.Quote(ctx, pos.ContractSymbol); ok {
			mark := bid.Add(ask).Div(decimal.NewFromInt(2))
			s.options.UpdatePosition(pos.ContractSymbol, bar.Close, mark, greeks)
		}

		if !bar.Timestamp.Before(pos.Expiration) {
			s.settleExpiredOption(ctx, pos, bar, signal)
		}
	}
}

// settleExpiredOption closes a single-leg position at intrinsic value on its
// expiration bar.
func (s *Scheduler) settleExpiredOption(ctx context.Context, pos types.OptionPosition, bar types.Bar, signal types.RegimeSignal) {
	pricer := options.NewSyntheticPricer()
	intrinsic := pricer.Price(bar.Close, pos.Strike, decimal.Zero, decimal.Zero, pos.OptionType)

	if s.deps.OptionsBroker != nil {
		side := types.OrderSideSell
		if pos.Quantity.LessThan(decimal.Zero) {
			side = types.OrderSideBuy
		}
		if _, err := s.deps.OptionsBroker.SubmitOptionsOrder(ctx, pos.ContractSymbol, side, pos.Quantity.Abs(), types.OrderTypeMarket, intrinsic); err != nil {
			s.log.Warn("expiry settlement order failed", zap.String("contract", pos.ContractSymbol), zap.Error(err))
		}
	}
	if trade := s.options.ClosePosition(pos.ContractSymbol, intrinsic, bar.Timestamp, "expiration", ""); trade != nil {
		s.recordClosedTrade(trade.Agent, trade.PnL, signal, types.InstrumentOption)
	}
}

// maintainMultiLegs implements spec 4.6's per-bar update for every open
// multi-leg position on this symbol: mark-to-market, hedge, then profit-take.
func (s *Scheduler) maintainMultiLegs(ctx context.Context, symbol string, bar types.Bar, signal types.RegimeSignal) {
	if s.lifecycle == nil {
		return
	}
	for id, ml := range s.multiLegs {
		if ml.pos.Symbol != symbol {
			continue
		}

		dte := daysUntil(ml.pos.Expiration, bar.Timestamp)
		s.lifecycle.MarkToMarket(ml.pos, bar.Close, dte)

		netDelta := options.NetDelta(*ml.pos)
		if should, _ := s.hedgeMgr.ShouldHedge(id, netDelta, s.barCount); should {
			s.rebalanceHedge(ctx, id, symbol, netDelta, bar)
		}

		pnlPct := options.CombinedPnLPct(*ml.pos)
		currentIV := ml.pos.Call.Greeks.IV
		if currentIV.IsZero() {
			currentIV = ml.entryIV
		}
		if shouldClose, reason := s.profitMgr.ShouldTakeProfit(id, pnlPct, s.barCount, signal, currentIV); shouldClose {
			s.closeMultiLeg(ctx, id, ml, bar, signal, reason)
		}
	}
}

// rebalanceHedge submits the hedge's underlying-share market order through
// the broker (spec 4.6: hedges are real stock trades, not bookkeeping), then
// records the fill with the hedge manager at the actual fill price.
func (s *Scheduler) rebalanceHedge(ctx context.Context, id, symbol string, netDelta decimal.Decimal, bar types.Bar) {
	current := decimal.Zero
	if pos, ok := s.hedgeMgr.Position(id); ok {
		current = pos.HedgeShares
	}
	qty := s.hedgeMgr.HedgeQuantity(netDelta, current)
	if qty.IsZero() {
		return
	}

	side := types.OrderSideBuy
	if qty.LessThan(decimal.Zero) {
		side = types.OrderSideSell
	}
	order, err := s.deps.Broker.SubmitOrder(ctx, symbol, side, qty.Abs(), types.OrderTypeMarket, decimal.Zero)
	if err != nil {
		s.log.Warn("hedge order rejected", zap.String("multi_leg_id", id), zap.Error(err))
		return
	}
	fillPrice := order.AvgFillPrice
	if fillPrice.IsZero() {
		fillPrice = bar.Close
	}

	if ok, _, _ := s.hedgeMgr.ExecuteHedge(id, symbol, netDelta, fillPrice, s.barCount, s.tradingDay, bar.Timestamp); ok {
		metrics.HedgeTrades.WithLabelValues(symbol).Inc()
	}
}

// flattenHedge submits the order that closes out every remaining hedge
// share for a dismantled multi-leg structure, realizes the P&L, and removes
// the hedge from tracking.
func (s *Scheduler) flattenHedge(ctx context.Context, id, symbol string, markPrice decimal.Decimal, ts time.Time) {
	current := decimal.Zero
	if pos, ok := s.hedgeMgr.Position(id); ok {
		current = pos.HedgeShares
	}

	if !current.IsZero() {
		side := types.OrderSideSell
		if current.LessThan(decimal.Zero) {
			side = types.OrderSideBuy
		}
		fillPrice := markPrice
		if order, err := s.deps.Broker.SubmitOrder(ctx, symbol, side, current.Abs(), types.OrderTypeMarket, decimal.Zero); err != nil {
			s.log.Warn("hedge flatten order rejected", zap.String("multi_leg_id", id), zap.Error(err))
		} else if !order.AvgFillPrice.IsZero() {
			fillPrice = order.AvgFillPrice
		}
		if closed := s.hedgeMgr.Flatten(id, fillPrice, s.barCount, ts); !closed.IsZero() {
			metrics.HedgeTrades.WithLabelValues(symbol).Inc()
		}
	}

	s.hedgeMgr.Remove(id)
}

func (s *Scheduler) closeMultiLeg(ctx context.Context, id string, ml *multiLeg, bar types.Bar, signal types.RegimeSignal, reason string) {
	if err := s.lifecycle.CloseLegOrders(ml.pos); err != nil {
		s.log.Warn("close leg orders failed", zap.String("multi_leg_id", id), zap.Error(err))
		return
	}

	trade := types.OptionTrade{
		Symbol:       ml.pos.Symbol,
		ContractOrML: ml.pos.MultiLegID,
		OptionType:   ml.pos.TradeType,
		Expiration:   ml.pos.Expiration,
		EntryTime:    ml.pos.EntryTime,
		ExitTime:     bar.Timestamp,
		PnL:          ml.pos.CombinedPnL,
		Reason:       reason,
		Agent:        ml.pos.Strategy,
		IVAtEntry:    ml.entryIV,
	}
	s.mlTrades = append(s.mlTrades, trade)
	s.recordClosedTrade(ml.pos.Strategy, trade.PnL, signal, types.InstrumentOption)

	s.profitMgr.RemovePosition(id)
	delete(s.multiLegs, id)

	// Flatten any hedge shares still carried against the closed structure,
	// then drop the hedge from tracking entirely.
	s.flattenHedge(ctx, id, ml.pos.Symbol, bar.Close, bar.Timestamp)
}

// tickOrphanHedges scans every tracked hedge position against the live
// multi-leg set once per pass and force-flattens any hedge whose multi-leg
// options have already closed by a path other than closeMultiLeg (spec 4.6's
// orphan guard) — e.g. a crash or manual close that left the hedge behind.
func (s *Scheduler) tickOrphanHedges() {
	for _, pos := range s.hedgeMgr.AllPositions() {
		if _, active := s.multiLegs[pos.MultiLegID]; active {
			continue
		}
		if !s.hedgeMgr.TickOrphan(pos.MultiLegID) {
			continue
		}

		price, ts, ok := s.lastKnownPrice(pos.Symbol)
		if !ok {
			continue
		}
		s.flattenHedge(context.Background(), pos.MultiLegID, pos.Symbol, price, ts)
		s.log.Warn("force-flattened orphaned hedge", zap.String("multi_leg_id", pos.MultiLegID), zap.String("symbol", pos.Symbol))
	}
}

// lastKnownPrice returns the most recent bar's close price and timestamp for
// a symbol, used by tickOrphanHedges which runs once per pass rather than
// tied to a single symbol's current bar.
func (s *Scheduler) lastKnownPrice(symbol string) (decimal.Decimal, time.Time, bool) {
	w, ok := s.windows[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, false
	}
	bars := w.Bars()
	if len(bars) == 0 {
		return decimal.Zero, time.Time{}, false
	}
	last := bars[len(bars)-1]
	return last.Close, last.Timestamp, true
}

// recordClosedTrade feeds a closed trade's P&L through the memory store and
// into the controller's adaptive weight tables (spec 4.3/4.4/4.7).
func (s *Scheduler) recordClosedTrade(agentName string, pnl decimal.Decimal, signal types.RegimeSignal, instrument types.InstrumentType) {
	if agentName == "" {
		return
	}
	equity := s.stocks.Equity()
	reward := s.mem.RecordTrade(agentName, pnl, s.stocks.Summary().InitialCash)
	s.risk.RecordTradeClosed(pnl, s.tradingDay)

	s.ctrl.ApplyReward(controller.RewardUpdate{
		AgentName:      agentName,
		RegimeType:     signal.RegimeType,
		VolatilityLvl:  signal.VolatilityLvl,
		InstrumentType: instrument,
		Reward:         reward,
	})
	_ = s.evt.Append(eventlog.Entry{
		EventType: eventlog.EventWeightChg,
		Severity:  eventlog.SeverityInfo,
		Payload:   map[string]any{"agent": agentName, "reward": reward.String()},
	})

	if pnl.Abs().GreaterThan(equity.Mul(decimal.NewFromFloat(0.05))) {
		_ = s.evt.Append(eventlog.Entry{
			EventType: eventlog.EventOutlierPnL,
			Severity:  eventlog.SeverityWarning,
			Payload:   map[string]any{"agent": agentName, "pnl": pnl.String()},
		})
	}
}

// persist writes the full checkpoint document (spec 6).
func (s *Scheduler) persist() {
	agentW, regimeW, volW, structW := s.ctrl.Snapshot()
	riskStatus := s.risk.Status()

	var mlPositions []types.MultiLegPosition
	for _, ml := range s.multiLegs {
		mlPositions = append(mlPositions, *ml.pos)
	}

	cp := Checkpoint{
		BarCount:            s.barCount,
		LastBarTime:         s.lastBarTime,
		Positions:           s.stocks.Positions(),
		OptionsPositions:    s.options.AllPositions(),
		MultiLegPositions:   mlPositions,
		HedgePositions:      s.hedgeMgr.AllPositions(),
		TradeLog:            s.stocks.Trades(),
		OptionTradeLog:      append(s.options.RoundTripTrades("", 0), s.mlTrades...),
		EquityCurve:         s.stocks.EquityCurve(),
		AgentWeights:        agentW,
		RegimeWeights:       regimeW,
		VolatilityWeights:   volW,
		StructureWeights:    structW,
		MemoryFitness:       s.mem.All(),
		DailyPnL:            riskStatus.DailyRealizedPnL,
		PeakEquity:          riskStatus.PeakEquity,
		CircuitBreakerState: riskStatus.CircuitBarsLeft,
	}

	if err := SaveCheckpoint(s.checkpointPath, cp); err != nil {
		s.log.Error("checkpoint write failed", zap.Error(err))
		return
	}
	if err := s.mem.Save(); err != nil {
		s.log.Error("memory save failed", zap.Error(err))
	}
	metrics.CheckpointWrites.Inc()
}

func daysUntil(expiration, now time.Time) int {
	d := int(expiration.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func buildAgents(cfg config.AgentsConfig) []agents.Agent {
	return []agents.Agent{
		agents.TrendAgent{MinConfidence: config.Dec(cfg.TrendMinConfidence)},
		agents.MeanReversionAgent{MinConfidence: config.Dec(cfg.MeanReversionMinConfidence)},
		agents.VolatilityAgent{MinConfidence: config.Dec(cfg.VolatilityMinConfidence)},
		agents.FVGAgent{},
		agents.EMAAgent{MinDistancePct: config.Dec(cfg.EMACrossMinDistancePct)},
		agents.OptionsAgent{
			MinConfidence: config.Dec(cfg.OptionsMinConfidence),
			Filter:        agents.DefaultOptionsFilterConfig(),
			TargetDelta:   decimal.NewFromFloat(0.4),
		},
		agents.ThetaHarvesterAgent{
			MinConfidence:   config.Dec(cfg.ThetaMinConfidence),
			MinIVPercentile: config.Dec(cfg.ThetaMinIVPercentile),
			MaxContracts:    config.Dec(cfg.ThetaMaxContracts),
		},
		agents.GammaScalperAgent{
			MinGEXStrengthBn: config.Dec(cfg.GammaMinGEXStrengthBn),
			MaxIVPercentile:  config.Dec(cfg.GammaMaxIVPercentile),
			MaxContracts:     config.Dec(cfg.GammaMaxContracts),
			TargetDelta:      decimal.NewFromFloat(0.25),
		},
	}
}

// riskManagerFromConfig converts the operator-facing percentage fields of
// RiskConfig into the fractional decimal.Decimal tunables risk.Config uses.
func riskManagerFromConfig(cfg *config.EngineConfig, log *zap.Logger, initialCapital decimal.Decimal) *risk.Manager {
	rc := risk.DefaultConfig()
	rc.MinConfidence = config.Dec(cfg.Risk.MinConfidence)
	rc.HardDrawdownPct = config.Dec(cfg.Risk.HardDrawdownPct / 100)
	rc.SoftDrawdownPct = config.Dec(cfg.Risk.SoftDrawdownPct / 100)
	rc.LossWindowSize = cfg.Risk.LossWindowSize
	rc.MaxLossesInWindow = cfg.Risk.MaxLossesInWindow
	rc.CircuitCooldown = cfg.Risk.CircuitCooldownBars
	rc.DailyLossLimitPct = config.Dec(cfg.Risk.DailyLossLimitPct / 100)
	if len(cfg.Risk.RegimeCapPct) > 0 {
		caps := make(map[types.RegimeType]decimal.Decimal, len(cfg.Risk.RegimeCapPct))
		for k, v := range cfg.Risk.RegimeCapPct {
			caps[types.RegimeType(k)] = config.Dec(v / 100)
		}
		rc.RegimeCaps = caps
	}
	rc.VolScalingPct = config.Dec(cfg.Risk.VolScalingFactor)
	rc.MaxVarExposurePct = config.Dec(cfg.Risk.MaxVarExposurePct / 100)
	rc.MaxSymbolExposurePct = config.Dec(cfg.Risk.MaxSymbolExposurePct / 100)
	return risk.NewManager(rc, log, initialCapital)
}

func hedgeConfigFromEngine(c config.HedgeConfig) options.HedgeConfig {
	return options.HedgeConfig{
		Enabled:                c.Enabled,
		DeltaThreshold:         config.Dec(c.DeltaThreshold),
		MinDeltaChange:         config.Dec(c.MinDeltaChange),
		HedgeFrequencyBars:     c.HedgeFrequencyBars,
		MaxHedgeTradesPerDay:   c.MaxHedgeTradesPerDay,
		MaxHedgeNotionalPerDay: config.Dec(c.MaxHedgeNotionalDay),
		MinHedgeShares:         config.Dec(c.MinHedgeShares),
		MaxOrphanHedgeBars:     c.MaxOrphanHedgeBars,
	}
}

// profitConfigFromEngine converts config's percentage-point fields to the
// fractional/percentage units each options.ProfitTakeConfig field expects.
// ThetaIVCollapseThreshold is the one field stored as a fraction internally
// (multiplied by -100 against an already-percentage IV change), so it alone
// needs the /100 conversion the other threshold fields don't.
func profitConfigFromEngine(c config.ProfitTakeConfig) options.ProfitTakeConfig {
	return options.ProfitTakeConfig{
		ThetaTakeProfitPct:        config.Dec(c.ThetaTakeProfitPct),
		ThetaStopLossPct:          config.Dec(c.ThetaStopLossPct),
		ThetaIVCollapseThreshold:  config.Dec(c.ThetaIVCollapseThresh / 100),
		GammaTakeProfitPct:        config.Dec(c.GammaTakeProfitPct),
		GammaStopLossPct:          config.Dec(c.GammaStopLossPct),
		GammaGEXReversalThreshold: config.Dec(c.GammaGEXReversalThresh),
		MinHoldBars:               c.MinHoldBars,
		MaxHoldBars:               c.MaxHoldBars,
	}
}
