// Package data provides historical bar storage for the replay exchange
// (SPEC_FULL.md data-feed section): file-backed bar loading with an
// in-memory cache, falling back to generated sample bars when no file
// exists yet so a fresh workspace can still replay.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store provides access to historical bar data
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	symbols  []string
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		symbols:  make([]string, 0),
		metadata: make(map[string]*SymbolMetadata),
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Load metadata
	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadBars loads historical bars for a symbol and timeframe, generating
// deterministic sample bars the first time a symbol is requested with no
// backing file so a fresh checkout can still replay end to end.
func (s *Store) LoadBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cacheKey := fmt.Sprintf("%s_%s", symbol, timeframe)

	// Check cache
	if cached, ok := s.cache[cacheKey]; ok {
		return s.filterByTimeRange(cached, start, end), nil
	}

	// Load from file
	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("generating sample bars, no data file on disk",
				zap.String("symbol", symbol), zap.String("timeframe", string(timeframe)))
			sampleData := s.generateSampleData(symbol, timeframe, start, end)
			s.cache[cacheKey] = sampleData
			return sampleData, nil
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	// Sort by timestamp
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	// Cache the data
	s.cache[cacheKey] = bars

	return s.filterByTimeRange(bars, start, end), nil
}

// GetAvailableSymbols returns all available symbols
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, len(s.symbols))
	copy(symbols, s.symbols)
	return symbols
}

// GetDataRange returns the available data range for a symbol
func (s *Store) GetDataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// SaveBars saves bar data to disk
func (s *Store) SaveBars(symbol string, timeframe types.Timeframe, bars []types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))

	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Symbols such as "BTC/USDT" place the file in a subdirectory.
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	// Update cache
	cacheKey := fmt.Sprintf("%s_%s", symbol, timeframe)
	s.cache[cacheKey] = bars

	// Update metadata
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
			Timeframe: string(timeframe),
		}
	}

	// Save metadata
	s.saveMetadata()

	return nil
}

// filterByTimeRange filters bars by time range
func (s *Store) filterByTimeRange(bars []types.Bar, start, end time.Time) []types.Bar {
	var filtered []types.Bar

	for _, bar := range bars {
		if (bar.Timestamp.Equal(start) || bar.Timestamp.After(start)) &&
			(bar.Timestamp.Equal(end) || bar.Timestamp.Before(end)) {
			filtered = append(filtered, bar)
		}
	}

	return filtered
}

// generateSampleData generates deterministic sample bars for a symbol that
// has no backing file yet.
func (s *Store) generateSampleData(symbol string, timeframe types.Timeframe, start, end time.Time) []types.Bar {
	var bars []types.Bar

	// Determine interval
	var interval time.Duration
	switch timeframe {
	case types.Timeframe1m:
		interval = time.Minute
	case types.Timeframe5m:
		interval = 5 * time.Minute
	case types.Timeframe15m:
		interval = 15 * time.Minute
	case types.Timeframe1h:
		interval = time.Hour
	case types.Timeframe4h:
		interval = 4 * time.Hour
	case types.Timeframe1d:
		interval = 24 * time.Hour
	default:
		interval = time.Minute
	}

	// Starting price based on symbol
	var price float64
	switch symbol {
	case "SPY":
		price = 500.0
	case "QQQ":
		price = 430.0
	case "IWM":
		price = 220.0
	default:
		price = 100.0
	}

	// Seeded per symbol so two runs over the same range produce identical
	// bars, which the replay determinism checks depend on.
	rng := rand.New(rand.NewSource(int64(seedFor(symbol))))

	current := start
	for current.Before(end) || current.Equal(end) {
		change := (rng.Float64() - 0.5) * 0.02 * price // +/- 1%
		open := decimal.NewFromFloat(price)
		price += change
		close := decimal.NewFromFloat(price)

		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1 + rng.Float64()*0.005))
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(1 - rng.Float64()*0.005))
		volume := decimal.NewFromFloat(rng.Float64() * 1000000)

		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Timestamp: current,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})

		current = current.Add(interval)
	}

	return bars
}

func seedFor(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

// loadMetadata loads symbol metadata from disk
func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}

	s.metadata = metadata

	// Extract symbols
	s.symbols = make([]string, 0, len(metadata))
	for symbol := range metadata {
		s.symbols = append(s.symbols, symbol)
	}

	return nil
}

// saveMetadata saves symbol metadata to disk
func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]types.Bar)
}

// GetCacheSize returns the number of cached datasets
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}
