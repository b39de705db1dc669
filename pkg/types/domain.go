// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegimeType is the classifier's top-level market-state tag.
type RegimeType string

const (
	RegimeTrend         RegimeType = "trend"
	RegimeMeanReversion RegimeType = "mean_reversion"
	RegimeCompression   RegimeType = "compression"
	RegimeExpansion     RegimeType = "expansion"
	RegimeNeutral       RegimeType = "neutral"
)

// TrendDirection is the directional read of the trend detector.
type TrendDirection string

const (
	TrendUp      TrendDirection = "up"
	TrendDown    TrendDirection = "down"
	TrendSideway TrendDirection = "sideways"
)

// VolatilityLevel buckets realized volatility into terciles.
type VolatilityLevel string

const (
	VolLow    VolatilityLevel = "low"
	VolMedium VolatilityLevel = "medium"
	VolHigh   VolatilityLevel = "high"
)

// Bias is the directional lean a regime signal or intent carries.
type Bias string

const (
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
	BiasNeutral Bias = "neutral"
)

// InstrumentType distinguishes stock intents from options intents.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "stock"
	InstrumentOption InstrumentType = "option"
)

// OptionType names the option structure an intent or position refers to.
type OptionType string

const (
	OptionCall     OptionType = "call"
	OptionPut      OptionType = "put"
	OptionStraddle OptionType = "straddle"
	OptionStrangle OptionType = "strangle"
)

// Moneyness is the coarse strike-selection target for an options intent.
type Moneyness string

const (
	MoneynessATM Moneyness = "atm"
	MoneynessOTM Moneyness = "otm"
	MoneynessITM Moneyness = "itm"
)

// GEXRegime is the dealer-gamma-positioning read from options-chain proxies.
type GEXRegime string

const (
	GEXPositive GEXRegime = "positive"
	GEXNegative GEXRegime = "negative"
	GEXNeutral  GEXRegime = "neutral"
)

// FillStatus is the lifecycle state of a single leg order.
type FillStatus string

const (
	FillPending         FillStatus = "pending"
	FillFilled          FillStatus = "filled"
	FillPartiallyFilled FillStatus = "partially_filled"
	FillRejected        FillStatus = "rejected"
)

// Bar is a timestamped OHLCV tuple for one symbol at one timeframe.
// Immutable once produced.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// FVG is a fair-value-gap imbalance zone. Active until price traverses its
// midpoint; retired when filled or aged out by the feature layer.
type FVG struct {
	GapType    Bias // long (bullish) or short (bearish); neutral unused
	Upper      decimal.Decimal
	Lower      decimal.Decimal
	CreatedBar int64
	Filled     bool
}

// Midpoint returns the gap's center price.
func (f FVG) Midpoint() decimal.Decimal {
	return f.Upper.Add(f.Lower).Div(decimal.NewFromInt(2))
}

// FeatureSet is the rolling-window-derived view of a symbol at one bar.
// Recomputed every bar; has no identity beyond the bar it describes.
type FeatureSet struct {
	Symbol          string
	BarIndex        int64
	Close           decimal.Decimal
	VWAP            decimal.Decimal
	ATR             decimal.Decimal
	RealizedVol     decimal.Decimal
	RealizedVolLong decimal.Decimal
	TrendSlope      decimal.Decimal
	EMA9            decimal.Decimal
	ActiveFVG       *FVG
	SampleSize      int
}

// GEXSnapshot is the options-chain-derived gamma-exposure proxy for a symbol.
type GEXSnapshot struct {
	Regime        GEXRegime
	StrengthBn    decimal.Decimal // signed, billions of dollars
	TotalGEXDolla decimal.Decimal
	Coverage      int // number of contracts that contributed
	UpdatedAt     time.Time
}

// RegimeSignal is the classifier's per-bar output. Pure function of a
// FeatureSet; carries no identity of its own.
type RegimeSignal struct {
	Symbol         string
	BarIndex       int64
	RegimeType     RegimeType
	TrendDirection TrendDirection
	VolatilityLvl  VolatilityLevel
	Bias           Bias
	Confidence     decimal.Decimal
	IsValid        bool
	ActiveFVG      *FVG
	GEX            GEXSnapshot
	Features       FeatureSet
}

// TradeIntent is an agent's desired action, pre-arbitration.
type TradeIntent struct {
	Symbol         string
	AgentName      string
	Reason         string
	Direction      Bias
	Size           decimal.Decimal
	Confidence     decimal.Decimal
	InstrumentType InstrumentType

	OptionType       OptionType
	Moneyness        Moneyness
	TimeToExpiryDays int

	Metadata map[string]decimal.Decimal
}

// FinalTradeIntent is the controller's arbitrated output for one bar.
type FinalTradeIntent struct {
	Symbol             string
	PositionDelta      decimal.Decimal // signed: positive buys, negative sells
	Confidence         decimal.Decimal
	PrimaryAgent       string
	ContributingAgents []string
	Reason             string
	IsValid            bool

	InstrumentType   InstrumentType
	OptionType       OptionType
	Moneyness        Moneyness
	TimeToExpiryDays int
	Metadata         map[string]decimal.Decimal
}

// StockPosition is an open equity position, exclusively owned by the
// portfolio manager and mutated only via reconcile operations.
type StockPosition struct {
	Symbol        string
	Quantity      decimal.Decimal // signed
	AvgEntryPrice decimal.Decimal
	EntryAt       time.Time
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RegimeAtEntry RegimeType
	VolAtEntry    VolatilityLevel
}

// Greeks bundles the per-contract sensitivities carried on an option leg.
type Greeks struct {
	Delta decimal.Decimal
	Gamma decimal.Decimal
	Theta decimal.Decimal
	Vega  decimal.Decimal
	IV    decimal.Decimal
}

// OptionPosition is a single-leg synthetic or vendor-quoted options
// position. Invariant: one position per contract symbol.
type OptionPosition struct {
	Symbol         string // underlying
	ContractSymbol string
	OptionType     OptionType
	Strike         decimal.Decimal
	Expiration     time.Time
	Quantity       decimal.Decimal // signed, contracts
	EntryPrice     decimal.Decimal // premium per contract
	EntryAt        time.Time
	CurrentPrice   decimal.Decimal
	UnderlyingPx   decimal.Decimal
	Greeks         Greeks
	UnrealizedPnL  decimal.Decimal
	RegimeAtEntry  RegimeType
	VolAtEntry     VolatilityLevel
}

// LegFill is an immutable record of a single leg execution.
type LegFill struct {
	LegType        OptionType // call or put
	ContractSymbol string
	Strike         decimal.Decimal
	Quantity       decimal.Decimal
	FillPrice      decimal.Decimal
	FillTime       time.Time
	OrderID        string
	Status         FillStatus
}

// TotalCost is quantity * fillPrice * 100 (standard equity-option multiplier).
func (l LegFill) TotalCost() decimal.Decimal {
	return l.Quantity.Mul(l.FillPrice).Mul(decimal.NewFromInt(100))
}

// OptionLeg is one side (call or put) of a multi-leg position.
type OptionLeg struct {
	ContractSymbol string
	Strike         decimal.Decimal
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	Greeks         Greeks
	Fill           LegFill
}

// MultiLegPosition is a straddle or strangle as a coherent unit.
type MultiLegPosition struct {
	MultiLegID    string
	Symbol        string
	TradeType     OptionType // straddle or strangle
	Direction     Bias       // long or short
	Strategy      string     // "theta_harvester" | "gamma_scalper"
	Call          OptionLeg
	Put           OptionLeg
	Expiration    time.Time
	EntryTime     time.Time
	EntryBar      int64
	UnderlyingPx  decimal.Decimal
	TotalCredit   decimal.Decimal
	TotalDebit    decimal.Decimal
	EntryIV       decimal.Decimal
	EntryGEXStrBn decimal.Decimal
	CombinedPnL   decimal.Decimal
	PeakProfitPct decimal.Decimal
}

// BothLegsFilled is a derived invariant: both fills must report filled.
func (m MultiLegPosition) BothLegsFilled() bool {
	return m.Call.Fill.Status == FillFilled && m.Put.Fill.Status == FillFilled
}

// NetDelta is the signed sum of each leg's delta times quantity.
func (m MultiLegPosition) NetDelta() decimal.Decimal {
	callD := m.Call.Greeks.Delta.Mul(m.Call.Quantity)
	putD := m.Put.Greeks.Delta.Mul(m.Put.Quantity)
	return callD.Add(putD)
}

// HedgePosition tracks the delta-hedge shares carried against one
// multi-leg position. hedge_shares = 0 implies AvgPrice is unset (zero).
type HedgePosition struct {
	MultiLegID      string
	Symbol          string
	HedgeShares     decimal.Decimal
	AvgPrice        decimal.Decimal
	LastHedgePrice  decimal.Decimal
	LastHedgeTime   time.Time
	LastHedgeBar    int64
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	TotalCost       decimal.Decimal
	LastNetDelta    decimal.Decimal
	HedgeCount      int
	TotalSharesMove decimal.Decimal
}

// AgentFitness is the rolling per-agent performance record maintained by
// the memory store and consumed by the adaptive-weight controller.
type AgentFitness struct {
	AgentName string
	ShortTerm decimal.Decimal // EWMA over short window
	LongTerm  decimal.Decimal // EWMA over long window
	Weight    decimal.Decimal
	TradeCnt  int
}

// OptionTrade is a completed round-trip on a single option leg or a closed
// multi-leg position's combined record.
type OptionTrade struct {
	Symbol        string
	ContractOrML  string // contract symbol, or multi_leg_id for combined
	OptionType    OptionType
	Strike        decimal.Decimal
	Expiration    time.Time
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	EntryTime     time.Time
	ExitTime      time.Time
	PnL           decimal.Decimal
	PnLPct        decimal.Decimal
	Reason        string
	Agent         string
	DeltaAtEntry  decimal.Decimal
	IVAtEntry     decimal.Decimal
	RegimeAtEntry RegimeType
	VolAtEntry    VolatilityLevel
}
