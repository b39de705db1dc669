// Package regime implements the feature-to-RegimeSignal classifier (spec
// 4.2) and the GEX microstructure store it and the profit-take manager both
// read (spec 9, original_source core/regime/microstructure.py).
package regime

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Microstructure is a concurrency-safe per-symbol table of the latest GEX
// snapshot, populated by the options-chain capability. Unlike the Python
// original's module-level singleton, this is an injected struct: the
// scheduler owns one instance and threads it through the classifier and the
// multi-leg profit manager.
type Microstructure struct {
	mu   sync.RWMutex
	data map[string]types.GEXSnapshot
}

// NewMicrostructure constructs an empty store.
func NewMicrostructure() *Microstructure {
	return &Microstructure{data: make(map[string]types.GEXSnapshot)}
}

// Update records a freshly computed GEX snapshot for symbol.
func (m *Microstructure) Update(symbol string, snap types.GEXSnapshot) {
	snap.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	m.data[symbol] = snap
	m.mu.Unlock()
}

// Get returns the last known snapshot for symbol, defaulting to neutral/zero
// when none has been recorded.
func (m *Microstructure) Get(symbol string) types.GEXSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.data[symbol]; ok {
		return s
	}
	return types.GEXSnapshot{Regime: types.GEXNeutral, StrengthBn: decimal.Zero}
}

// Clear resets all stored snapshots (test/reset use).
func (m *Microstructure) Clear() {
	m.mu.Lock()
	m.data = make(map[string]types.GEXSnapshot)
	m.mu.Unlock()
}

// ComputeGEXProxy implements the options-chain capability's calculate_gex_proxy
// (spec 6): sigma(gamma * OI * 100 * price) signed by call(+)/put(-), filtered
// to contracts with OI >= 50 and 0.2 <= |delta| <= 0.8.
func ComputeGEXProxy(contracts []GammaContract, underlyingPrice decimal.Decimal) types.GEXSnapshot {
	total := decimal.Zero
	coverage := 0
	minOI := decimal.NewFromInt(50)
	minDelta := decimal.NewFromFloat(0.2)
	maxDelta := decimal.NewFromFloat(0.8)

	for _, c := range contracts {
		if c.OpenInterest.LessThan(minOI) {
			continue
		}
		absDelta := c.Delta.Abs()
		if absDelta.LessThan(minDelta) || absDelta.GreaterThan(maxDelta) {
			continue
		}
		contribution := c.Gamma.Mul(c.OpenInterest).Mul(decimal.NewFromInt(100)).Mul(underlyingPrice)
		if c.IsPut {
			contribution = contribution.Neg()
		}
		total = total.Add(contribution)
		coverage++
	}

	billions := decimal.NewFromInt(1_000_000_000)
	strengthBn := total.Div(billions)

	regime := types.GEXNeutral
	switch {
	case strengthBn.GreaterThan(decimal.NewFromFloat(0.1)):
		regime = types.GEXPositive
	case strengthBn.LessThan(decimal.NewFromFloat(-0.1)):
		regime = types.GEXNegative
	}

	return types.GEXSnapshot{
		Regime:        regime,
		StrengthBn:    strengthBn,
		TotalGEXDolla: total,
		Coverage:      coverage,
	}
}

// GammaContract is the subset of an options-chain contract ComputeGEXProxy
// needs.
type GammaContract struct {
	Gamma        decimal.Decimal
	Delta        decimal.Decimal
	OpenInterest decimal.Decimal
	IsPut        bool
}
