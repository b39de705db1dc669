// Package data provides historical bar storage, data-quality validation, and
// the live streaming bar client the engine's live mode consumes.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OHLCV is one streamed candlestick as the wire delivers it.
type OHLCV struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"` // bar open time, epoch millis
	Interval  string          `json:"interval"`
}

// MarketDataConfig configures the streaming client.
type MarketDataConfig struct {
	BinanceWSURL string
	Symbols      []string
	Intervals    []string // kline intervals to subscribe, e.g. ["1m"]
	BufferSize   int      // per-symbol closed-bar cache depth
}

// MarketDataService streams closed kline bars over a Binance-style WebSocket
// and fans them out to a registered callback. Only fully closed candles are
// forwarded: the engine's pipeline is bar-driven, and a partial candle would
// re-process the same bar index several times per minute.
type MarketDataService struct {
	logger *zap.Logger
	config MarketDataConfig

	connMu sync.RWMutex
	conn   *websocket.Conn

	subMu         sync.RWMutex
	subscriptions map[string]bool

	onOHLCV func(OHLCV)

	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	cacheMu sync.RWMutex
	cache   map[string][]OHLCV // keyed by symbol:interval, closed bars only
}

// NewMarketDataService constructs the streaming client; Start opens the
// connection.
func NewMarketDataService(logger *zap.Logger, config MarketDataConfig) *MarketDataService {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	return &MarketDataService{
		logger:        logger.Named("marketdata"),
		config:        config,
		subscriptions: make(map[string]bool),
		cache:         make(map[string][]OHLCV),
	}
}

// OnOHLCV registers the closed-bar callback. Must be set before Start; the
// read loop invokes it from its own goroutine.
func (s *MarketDataService) OnOHLCV(fn func(OHLCV)) {
	s.onOHLCV = fn
}

// Start dials the WebSocket, subscribes the configured symbols, and begins
// the read and reconnect loops.
func (s *MarketDataService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if err := s.connect(); err != nil {
		return fmt.Errorf("market data connect: %w", err)
	}

	for _, symbol := range s.config.Symbols {
		if err := s.Subscribe(symbol); err != nil {
			s.logger.Warn("initial subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	go s.readLoop()
	go s.reconnectLoop()

	s.logger.Info("market data service started", zap.Int("symbols", len(s.config.Symbols)))
	return nil
}

// Stop closes the connection and halts the loops.
func (s *MarketDataService) Stop() error {
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.logger.Info("market data service stopped")
	return nil
}

func (s *MarketDataService) connect() error {
	u, err := url.Parse(s.config.BinanceWSURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// Subscribe adds the symbol's kline streams for every configured interval.
// Idempotent per symbol.
func (s *MarketDataService) Subscribe(symbol string) error {
	s.subMu.Lock()
	if s.subscriptions[symbol] {
		s.subMu.Unlock()
		return nil
	}
	s.subscriptions[symbol] = true
	s.subMu.Unlock()

	return s.sendStreamRequest("SUBSCRIBE", symbol)
}

// Unsubscribe removes the symbol's kline streams.
func (s *MarketDataService) Unsubscribe(symbol string) error {
	s.subMu.Lock()
	if !s.subscriptions[symbol] {
		s.subMu.Unlock()
		return nil
	}
	delete(s.subscriptions, symbol)
	s.subMu.Unlock()

	return s.sendStreamRequest("UNSUBSCRIBE", symbol)
}

func (s *MarketDataService) sendStreamRequest(method, symbol string) error {
	streams := make([]string, 0, len(s.config.Intervals))
	for _, interval := range s.config.Intervals {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval))
	}

	msg := map[string]any{
		"method": method,
		"params": streams,
		"id":     time.Now().UnixNano(),
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return s.conn.WriteJSON(msg)
}

func (s *MarketDataService) readLoop() {
	for s.running {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.running {
				s.logger.Warn("websocket read error, dropping connection", zap.Error(err))
				s.connMu.Lock()
				if s.conn == conn {
					s.conn.Close()
					s.conn = nil
				}
				s.connMu.Unlock()
			}
			continue
		}

		s.handleMessage(message)
	}
}

// klineEvent is the subset of the kline payload this client consumes.
type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		Symbol   string `json:"s"`
		Interval string `json:"i"`
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		IsClosed bool   `json:"x"`
	} `json:"k"`
}

func (s *MarketDataService) handleMessage(data []byte) {
	var evt klineEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}
	if evt.EventType != "kline" || !evt.Kline.IsClosed {
		return
	}

	open, _ := decimal.NewFromString(evt.Kline.Open)
	high, _ := decimal.NewFromString(evt.Kline.High)
	low, _ := decimal.NewFromString(evt.Kline.Low)
	closePrice, _ := decimal.NewFromString(evt.Kline.Close)
	volume, _ := decimal.NewFromString(evt.Kline.Volume)

	bar := OHLCV{
		Symbol:    evt.Kline.Symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Timestamp: evt.Kline.OpenTime,
		Interval:  evt.Kline.Interval,
	}

	key := bar.Symbol + ":" + bar.Interval
	s.cacheMu.Lock()
	cached := append(s.cache[key], bar)
	if len(cached) > s.config.BufferSize {
		cached = cached[len(cached)-s.config.BufferSize:]
	}
	s.cache[key] = cached
	s.cacheMu.Unlock()

	if s.onOHLCV != nil {
		s.onOHLCV(bar)
	}
}

// reconnectLoop re-dials and re-subscribes whenever the read loop drops the
// connection.
func (s *MarketDataService) reconnectLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.RLock()
			connected := s.conn != nil
			s.connMu.RUnlock()
			if connected || !s.running {
				continue
			}

			s.logger.Info("reconnecting market data websocket")
			if err := s.connect(); err != nil {
				s.logger.Warn("reconnect failed", zap.Error(err))
				continue
			}

			s.subMu.Lock()
			symbols := make([]string, 0, len(s.subscriptions))
			for symbol := range s.subscriptions {
				symbols = append(symbols, symbol)
				delete(s.subscriptions, symbol)
			}
			s.subMu.Unlock()

			for _, symbol := range symbols {
				if err := s.Subscribe(symbol); err != nil {
					s.logger.Warn("resubscribe failed", zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
	}
}

// GetOHLCV returns the cached closed bars for a symbol and interval,
// oldest first.
func (s *MarketDataService) GetOHLCV(symbol, interval string) []OHLCV {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache[symbol+":"+interval]
}
