package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Checkpoint is the single persisted-state document spec 6 names, written
// atomically on stop and every K bars.
type Checkpoint struct {
	BarCount            int64                                     `json:"bar_count"`
	LastBarTime         time.Time                                 `json:"last_bar_time"`
	Positions           map[string]types.StockPosition            `json:"positions"`
	OptionsPositions    []types.OptionPosition                    `json:"options_positions"`
	MultiLegPositions   []types.MultiLegPosition                  `json:"multi_leg_positions"`
	HedgePositions      []types.HedgePosition                     `json:"hedge_positions"`
	TradeLog            []types.Trade                             `json:"trade_log"`
	OptionTradeLog      []types.OptionTrade                       `json:"option_trade_log"`
	EquityCurve         []types.EquityCurvePoint                  `json:"equity_curve"`
	AgentWeights        map[string]decimal.Decimal                `json:"agent_weights"`
	RegimeWeights       map[types.RegimeType]decimal.Decimal      `json:"regime_weights"`
	VolatilityWeights   map[types.VolatilityLevel]decimal.Decimal `json:"volatility_weights"`
	StructureWeights    map[types.InstrumentType]decimal.Decimal  `json:"structure_weights"`
	MemoryFitness       []types.AgentFitness                      `json:"memory_fitness"`
	DailyPnL            decimal.Decimal                           `json:"daily_pnl"`
	PeakEquity          decimal.Decimal                           `json:"peak_equity"`
	CircuitBreakerState int                                       `json:"circuit_breaker_state"`
}

// maxEquityCurvePoints bounds the persisted equity curve to a ring of the
// most recent points, per spec 6.
const maxEquityCurvePoints = 10000

func boundEquityCurve(points []types.EquityCurvePoint) []types.EquityCurvePoint {
	if len(points) <= maxEquityCurvePoints {
		return points
	}
	return points[len(points)-maxEquityCurvePoints:]
}

// SaveCheckpoint writes cp atomically to path (write to a temp file, then
// rename), mirroring the teacher's feedback-persistence pattern.
func SaveCheckpoint(path string, cp Checkpoint) error {
	cp.EquityCurve = boundEquityCurve(cp.EquityCurve)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	bytes, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads a previously persisted checkpoint, or returns a zero
// Checkpoint and false if none exists.
func LoadCheckpoint(path string) (Checkpoint, bool) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, false
	}
	var cp Checkpoint
	if err := json.Unmarshal(bytes, &cp); err != nil {
		return Checkpoint{}, false
	}
	return cp, true
}
