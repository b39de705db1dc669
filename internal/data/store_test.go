package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestStoreGeneratesSampleBarsWhenNoFileExists(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()

	store, err := data.NewStore(logger, tempDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	end := time.Now()
	start := end.Add(-3 * time.Hour)

	bars, err := store.LoadBars(context.Background(), "BTC/USDT", types.Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("expected generated sample bars, got none")
	}
	for _, b := range bars {
		if b.Symbol != "BTC/USDT" {
			t.Errorf("bar symbol = %q, want BTC/USDT", b.Symbol)
		}
		if b.High.LessThan(b.Low) {
			t.Errorf("generated bar has High < Low: %+v", b)
		}
	}
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()

	store, err := data.NewStore(logger, tempDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	symbol := "TEST/USDT"
	timeframe := types.Timeframe1h
	now := time.Now().Truncate(time.Hour)

	bars := []types.Bar{
		{Symbol: symbol, Timestamp: now.Add(-2 * time.Hour), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(110), Low: decimal.NewFromInt(95), Close: decimal.NewFromInt(105), Volume: decimal.NewFromInt(1000)},
		{Symbol: symbol, Timestamp: now.Add(-1 * time.Hour), Open: decimal.NewFromInt(105), High: decimal.NewFromInt(115), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(110), Volume: decimal.NewFromInt(1500)},
		{Symbol: symbol, Timestamp: now, Open: decimal.NewFromInt(110), High: decimal.NewFromInt(120), Low: decimal.NewFromInt(108), Close: decimal.NewFromInt(118), Volume: decimal.NewFromInt(2000)},
	}

	if err := store.SaveBars(symbol, timeframe, bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	// A fresh store instance over the same directory must read back what was saved.
	store2, err := data.NewStore(logger, tempDir)
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}

	retrieved, err := store2.LoadBars(context.Background(), symbol, timeframe, bars[0].Timestamp.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("LoadBars (reload): %v", err)
	}
	if len(retrieved) != len(bars) {
		t.Fatalf("retrieved %d bars, want %d", len(retrieved), len(bars))
	}
	for i, b := range retrieved {
		if !b.Close.Equal(bars[i].Close) {
			t.Errorf("bar %d close = %s, want %s", i, b.Close, bars[i].Close)
		}
	}

	start, end, err := store2.GetDataRange(symbol)
	if err != nil {
		t.Fatalf("GetDataRange: %v", err)
	}
	if !start.Equal(bars[0].Timestamp) || !end.Equal(bars[len(bars)-1].Timestamp) {
		t.Errorf("data range = [%v, %v], want [%v, %v]", start, end, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	}
}

func TestStoreFiltersByTimeRange(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()

	store, err := data.NewStore(logger, tempDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	symbol := "RANGE/USDT"
	timeframe := types.Timeframe1h
	base := time.Now().Truncate(time.Hour).Add(-10 * time.Hour)

	bars := make([]types.Bar, 10)
	for i := range bars {
		bars[i] = types.Bar{
			Symbol:    symbol,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromInt(int64(100 + i)),
			High:      decimal.NewFromInt(int64(105 + i)),
			Low:       decimal.NewFromInt(int64(95 + i)),
			Close:     decimal.NewFromInt(int64(102 + i)),
			Volume:    decimal.NewFromInt(int64(1000 * (i + 1))),
		}
	}
	if err := store.SaveBars(symbol, timeframe, bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	retrieved, err := store.LoadBars(context.Background(), symbol, timeframe, base.Add(3*time.Hour), base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(retrieved) != 4 {
		t.Fatalf("expected 4 bars in [3h,6h], got %d", len(retrieved))
	}
	if !retrieved[0].Timestamp.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("first bar timestamp = %v, want %v", retrieved[0].Timestamp, base.Add(3*time.Hour))
	}
}

func TestStoreClearCache(t *testing.T) {
	logger := zap.NewNop()
	tempDir := t.TempDir()

	store, err := data.NewStore(logger, tempDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	end := time.Now()
	start := end.Add(-time.Hour)
	if _, err := store.LoadBars(context.Background(), "CACHE/USDT", types.Timeframe1h, start, end); err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if store.GetCacheSize() == 0 {
		t.Fatal("expected a populated cache after LoadBars")
	}

	store.ClearCache()
	if store.GetCacheSize() != 0 {
		t.Errorf("GetCacheSize() after ClearCache = %d, want 0", store.GetCacheSize())
	}
}
