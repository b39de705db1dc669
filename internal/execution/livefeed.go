package execution

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/internal/errs"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// LiveFeed adapts the teacher's Binance WebSocket market-data client
// (internal/data.MarketDataService) into the scheduler's DataFeed
// capability for "live" mode (spec 6). It does not itself broker
// orders — live runs still settle through ReplayExchange's paper book,
// so a real account is never placed at risk; only the price stream is
// live. HistoricalBars falls back to the same file-backed Store the
// offline replay uses, since the WebSocket client only carries what has
// streamed in since Connect.
type LiveFeed struct {
	logger *zap.Logger
	svc    *data.MarketDataService
	store  *data.Store

	barInterval string // Binance kline interval, e.g. "1m"

	mu     sync.Mutex
	queues map[string]chan types.Bar
}

// NewLiveFeed builds a live feed over wsURL, streaming klines at
// barInterval for the given symbols.
func NewLiveFeed(logger *zap.Logger, store *data.Store, wsURL, barInterval string, symbols []string) *LiveFeed {
	cfg := data.MarketDataConfig{
		BinanceWSURL: wsURL,
		Symbols:      symbols,
		Intervals:    []string{barInterval},
		BufferSize:   100,
	}

	f := &LiveFeed{
		logger:      logger,
		svc:         data.NewMarketDataService(logger, cfg),
		store:       store,
		barInterval: barInterval,
		queues:      make(map[string]chan types.Bar),
	}
	for _, symbol := range symbols {
		f.queues[symbol] = make(chan types.Bar, 64)
	}

	f.svc.OnOHLCV(f.onOHLCV)
	return f
}

func (f *LiveFeed) onOHLCV(candle data.OHLCV) {
	if candle.Interval != f.barInterval {
		return
	}

	f.mu.Lock()
	q, ok := f.queues[candle.Symbol]
	f.mu.Unlock()
	if !ok {
		return
	}

	bar := types.Bar{
		Symbol:    candle.Symbol,
		Timestamp: time.UnixMilli(candle.Timestamp),
		Open:      candle.Open,
		High:      candle.High,
		Low:       candle.Low,
		Close:     candle.Close,
		Volume:    candle.Volume,
	}

	select {
	case q <- bar:
	default:
		f.logger.Warn("live feed bar queue full, dropping oldest", zap.String("symbol", candle.Symbol))
		select {
		case <-q:
		default:
		}
		q <- bar
	}
}

// Connect starts the underlying WebSocket client.
func (f *LiveFeed) Connect(ctx context.Context) error {
	if err := f.svc.Start(ctx); err != nil {
		return errs.New(errs.KindTransient, "livefeed.Connect", err)
	}
	return nil
}

// Subscribe registers a bar queue for each symbol; the underlying client
// streams klines only.
// Live mode has no preload: the first bars only arrive once they stream.
func (f *LiveFeed) Subscribe(ctx context.Context, symbols []string, preloadBars int) ([]types.Bar, error) {
	for _, symbol := range symbols {
		f.mu.Lock()
		if _, ok := f.queues[symbol]; !ok {
			f.queues[symbol] = make(chan types.Bar, 64)
		}
		f.mu.Unlock()

		if err := f.svc.Subscribe(symbol); err != nil {
			return nil, errs.New(errs.KindTransient, "livefeed.Subscribe", err)
		}
	}
	return nil, nil
}

// NextBar blocks up to timeout for the next streamed kline close on symbol.
func (f *LiveFeed) NextBar(ctx context.Context, symbol string, timeout time.Duration) (types.Bar, bool, error) {
	f.mu.Lock()
	q, ok := f.queues[symbol]
	f.mu.Unlock()
	if !ok {
		return types.Bar{}, false, errs.Newf(errs.KindTransient, "livefeed.NextBar", "symbol %s not subscribed", symbol)
	}

	select {
	case bar := <-q:
		return bar, true, nil
	case <-ctx.Done():
		return types.Bar{}, false, ctx.Err()
	case <-time.After(timeout):
		return types.Bar{}, false, nil
	}
}

// HistoricalBars defers to the file-backed store, since the live stream
// itself carries no history before Connect.
func (f *LiveFeed) HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	if f.store == nil {
		return nil, nil
	}
	bars, err := f.store.LoadBars(ctx, symbol, types.Timeframe(f.barInterval), start, end)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "livefeed.HistoricalBars", err)
	}
	return bars, nil
}

// Close stops the underlying WebSocket client.
func (f *LiveFeed) Close() error {
	return f.svc.Stop()
}
