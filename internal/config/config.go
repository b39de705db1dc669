// Package config loads the engine's layered configuration: built-in
// defaults, an optional YAML file, environment overrides, and CLI flags,
// in that precedence order, via spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/adaptive-trader/internal/errs"
)

// SchedulerConfig governs the bar pipeline and replay clock (spec 4.1).
type SchedulerConfig struct {
	MinimumBarsRequired    int           `mapstructure:"minimum_bars_required"`
	BarPeriod              time.Duration `mapstructure:"bar_period"`
	ReplaySpeed            float64       `mapstructure:"replay_speed_multiplier"`
	FeedPollTimeout        time.Duration `mapstructure:"feed_poll_timeout"`
	CheckpointEveryBars    int           `mapstructure:"checkpoint_every_bars"`
	StopDrainTimeout       time.Duration `mapstructure:"stop_drain_timeout"`
	MaxConsecutiveFeedFail int           `mapstructure:"max_consecutive_feed_failures"`
}

// RiskConfig governs the layered gate in spec 4.5. Fields are plain floats
// in config (operator-facing), converted to decimal.Decimal at load time for
// all arithmetic use inside the engine.
type RiskConfig struct {
	MinConfidence        float64            `mapstructure:"min_confidence"`
	HardDrawdownPct      float64            `mapstructure:"hard_drawdown_pct"`
	SoftDrawdownPct      float64            `mapstructure:"soft_drawdown_pct"`
	DrawdownWindow       int                `mapstructure:"drawdown_window"`
	MaxLossesInWindow    int                `mapstructure:"max_losses_in_window"`
	LossWindowSize       int                `mapstructure:"loss_window_size"`
	CircuitCooldownBars  int                `mapstructure:"circuit_breaker_cooldown_bars"`
	DailyLossLimitPct    float64            `mapstructure:"daily_loss_limit_pct"`
	RegimeCapPct         map[string]float64 `mapstructure:"regime_cap_pct"`
	VolScalingFactor     float64            `mapstructure:"vol_scaling_factor"`
	MaxVarExposurePct    float64            `mapstructure:"max_var_exposure_pct"`
	MaxSymbolExposurePct float64            `mapstructure:"max_symbol_exposure_pct"`
	InitialCapital       float64            `mapstructure:"initial_capital"`
}

// ChallengeConfig is the more aggressive risk profile for the 20-day
// $1K->$100K challenge mode (no parallel code path). When Enabled, the
// scheduler uses only InitialCapital from it; the risk gate is still built
// from RiskConfig and the remaining fields are not read.
type ChallengeConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	InitialCapital     float64 `mapstructure:"initial_capital"`
	TargetCapital      float64 `mapstructure:"target_capital"`
	TradingDays        int     `mapstructure:"trading_days"`
	ProfitTargetPct    float64 `mapstructure:"profit_target_pct"`
	StopLossPct        float64 `mapstructure:"stop_loss_pct"`
	LeverageMultiplier float64 `mapstructure:"leverage_multiplier"`
	MaxTradesPerDay    int     `mapstructure:"max_trades_per_day"`
	MaxPositionSizePct float64 `mapstructure:"max_position_size_pct"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
}

// HedgeConfig governs the delta hedge manager (spec 4.6).
type HedgeConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	DeltaThreshold       float64 `mapstructure:"delta_threshold"`
	MinDeltaChange       float64 `mapstructure:"min_delta_change"`
	HedgeFrequencyBars   int64   `mapstructure:"hedge_frequency_bars"`
	MaxHedgeTradesPerDay int     `mapstructure:"max_hedge_trades_per_day"`
	MaxHedgeNotionalDay  float64 `mapstructure:"max_hedge_notional_per_day"`
	MinHedgeShares       float64 `mapstructure:"min_hedge_shares"`
	MaxOrphanHedgeBars   int64   `mapstructure:"max_orphan_hedge_bars"`
}

// ProfitTakeConfig governs multi-leg exits (spec 4.6).
type ProfitTakeConfig struct {
	ThetaTakeProfitPct     float64 `mapstructure:"theta_take_profit_pct"`
	ThetaStopLossPct       float64 `mapstructure:"theta_stop_loss_pct"`
	ThetaIVCollapseThresh  float64 `mapstructure:"theta_iv_collapse_threshold"`
	GammaTakeProfitPct     float64 `mapstructure:"gamma_take_profit_pct"`
	GammaStopLossPct       float64 `mapstructure:"gamma_stop_loss_pct"`
	GammaGEXReversalThresh float64 `mapstructure:"gamma_gex_reversal_threshold"`
	MinHoldBars            int64   `mapstructure:"min_hold_bars"`
	MaxHoldBars            int64   `mapstructure:"max_hold_bars"`
}

// AgentsConfig carries the per-agent thresholds from spec 4.3's variant table.
type AgentsConfig struct {
	TrendMinConfidence         float64 `mapstructure:"trend_min_confidence"`
	MeanReversionMinConfidence float64 `mapstructure:"mean_reversion_min_confidence"`
	VolatilityMinConfidence    float64 `mapstructure:"volatility_min_confidence"`
	EMACrossMinDistancePct     float64 `mapstructure:"ema_cross_min_distance_pct"`
	OptionsMinConfidence       float64 `mapstructure:"options_min_confidence"`
	ThetaMinConfidence         float64 `mapstructure:"theta_min_confidence"`
	ThetaMinIVPercentile       float64 `mapstructure:"theta_min_iv_percentile"`
	ThetaMaxContracts          float64 `mapstructure:"theta_max_contracts"`
	GammaMinGEXStrengthBn      float64 `mapstructure:"gamma_min_gex_strength_bn"`
	GammaMaxIVPercentile       float64 `mapstructure:"gamma_max_iv_percentile"`
	GammaMaxContracts          float64 `mapstructure:"gamma_max_contracts"`
	BaseSize                   float64 `mapstructure:"base_size"`
}

// ControllerConfig governs the meta-policy adaptor (spec 4.4).
type ControllerConfig struct {
	MinBucketScore float64 `mapstructure:"min_bucket_score"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	ShortTermTau   float64 `mapstructure:"short_term_tau"`
	LongTermTau    float64 `mapstructure:"long_term_tau"`
}

// PersistenceConfig governs checkpoint location and layout.
type PersistenceConfig struct {
	CheckpointPath string `mapstructure:"checkpoint_path"`
	EventLogPath   string `mapstructure:"event_log_path"`
}

// APIConfig governs the control-surface HTTP/WS server.
type APIConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExecutionConfig governs the simulated broker/feed adapter: historical bar
// storage, starting cash, and the synthetic options chain it derives around
// each underlying's close (SPEC_FULL.md execution section).
type ExecutionConfig struct {
	DataDir            string  `mapstructure:"data_dir"`
	BarTimeframe       string  `mapstructure:"bar_timeframe"`
	InitialCash        float64 `mapstructure:"initial_cash"`
	CommissionRatePct  float64 `mapstructure:"commission_rate_pct"`
	ChainStrikeStepPct float64 `mapstructure:"chain_strike_step_pct"`
	ChainBaseIV        float64 `mapstructure:"chain_base_iv"`
	ChainDTEList       []int   `mapstructure:"chain_dte_list"`
	LiveBinanceWSURL   string  `mapstructure:"live_binance_ws_url"`

	// MaxOrderNotional and MaxPositionQty gate the broker adapter itself,
	// independent of the portfolio-level risk manager (spec 4.7): a
	// last-line sanity check against a fat-fingered order size.
	MaxOrderNotional float64 `mapstructure:"max_order_notional"`
	MaxPositionQty   float64 `mapstructure:"max_position_qty"`
}

// EngineConfig is the fully-resolved configuration object handed to every
// component at startup.
type EngineConfig struct {
	Symbols     []string          `mapstructure:"symbols"`
	Mode        string            `mapstructure:"mode"` // "live" | "offline"
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Challenge   ChallengeConfig   `mapstructure:"challenge"`
	Hedge       HedgeConfig       `mapstructure:"hedge"`
	ProfitTake  ProfitTakeConfig  `mapstructure:"profit_take"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Controller  ControllerConfig  `mapstructure:"controller"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	API         APIConfig         `mapstructure:"api"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"SPY"})
	v.SetDefault("mode", "offline")

	v.SetDefault("scheduler.minimum_bars_required", 50)
	v.SetDefault("scheduler.bar_period", "1m")
	v.SetDefault("scheduler.replay_speed_multiplier", 1.0)
	v.SetDefault("scheduler.feed_poll_timeout", "5s")
	v.SetDefault("scheduler.checkpoint_every_bars", 60)
	v.SetDefault("scheduler.stop_drain_timeout", "10s")
	v.SetDefault("scheduler.max_consecutive_feed_failures", 10)

	v.SetDefault("risk.min_confidence", 0.4)
	v.SetDefault("risk.hard_drawdown_pct", 15.0)
	v.SetDefault("risk.soft_drawdown_pct", 10.0)
	v.SetDefault("risk.drawdown_window", 100)
	v.SetDefault("risk.max_losses_in_window", 5)
	v.SetDefault("risk.loss_window_size", 20)
	v.SetDefault("risk.circuit_breaker_cooldown_bars", 50)
	v.SetDefault("risk.daily_loss_limit_pct", 3.0)
	v.SetDefault("risk.regime_cap_pct", map[string]float64{
		"trend": 15.0, "mean_reversion": 10.0, "compression": 5.0,
		"expansion": 12.0, "neutral": 10.0,
	})
	v.SetDefault("risk.vol_scaling_factor", 0.5)
	v.SetDefault("risk.max_var_exposure_pct", 2.0)
	v.SetDefault("risk.max_symbol_exposure_pct", 20.0)
	v.SetDefault("risk.initial_capital", 100000.0)

	v.SetDefault("challenge.enabled", false)
	v.SetDefault("challenge.initial_capital", 1000.0)
	v.SetDefault("challenge.target_capital", 100000.0)
	v.SetDefault("challenge.trading_days", 20)
	v.SetDefault("challenge.profit_target_pct", 12.0)
	v.SetDefault("challenge.stop_loss_pct", 6.0)
	v.SetDefault("challenge.leverage_multiplier", 3.0)
	v.SetDefault("challenge.max_trades_per_day", 5)
	v.SetDefault("challenge.max_position_size_pct", 50.0)
	v.SetDefault("challenge.min_confidence", 0.6)

	v.SetDefault("hedge.enabled", true)
	v.SetDefault("hedge.delta_threshold", 0.10)
	v.SetDefault("hedge.min_delta_change", 0.05)
	v.SetDefault("hedge.hedge_frequency_bars", 5)
	v.SetDefault("hedge.max_hedge_trades_per_day", 50)
	v.SetDefault("hedge.max_hedge_notional_per_day", 100000.0)
	v.SetDefault("hedge.min_hedge_shares", 5.0)
	v.SetDefault("hedge.max_orphan_hedge_bars", 60)

	v.SetDefault("profit_take.theta_take_profit_pct", 50.0)
	v.SetDefault("profit_take.theta_stop_loss_pct", 200.0)
	v.SetDefault("profit_take.theta_iv_collapse_threshold", 30.0)
	v.SetDefault("profit_take.gamma_take_profit_pct", 150.0)
	v.SetDefault("profit_take.gamma_stop_loss_pct", 50.0)
	v.SetDefault("profit_take.gamma_gex_reversal_threshold", 1.0)
	v.SetDefault("profit_take.min_hold_bars", 5)
	v.SetDefault("profit_take.max_hold_bars", 390)

	v.SetDefault("agents.trend_min_confidence", 0.6)
	v.SetDefault("agents.mean_reversion_min_confidence", 0.55)
	v.SetDefault("agents.volatility_min_confidence", 0.5)
	v.SetDefault("agents.ema_cross_min_distance_pct", 0.1)
	v.SetDefault("agents.options_min_confidence", 0.5)
	v.SetDefault("agents.theta_min_confidence", 0.85)
	v.SetDefault("agents.theta_min_iv_percentile", 70.0)
	v.SetDefault("agents.theta_max_contracts", 5.0)
	v.SetDefault("agents.gamma_min_gex_strength_bn", 2.0)
	v.SetDefault("agents.gamma_max_iv_percentile", 30.0)
	v.SetDefault("agents.gamma_max_contracts", 7.0)
	v.SetDefault("agents.base_size", 100.0)

	v.SetDefault("controller.min_bucket_score", 0.05)
	v.SetDefault("controller.learning_rate", 0.01)
	v.SetDefault("controller.short_term_tau", 20.0)
	v.SetDefault("controller.long_term_tau", 200.0)

	v.SetDefault("persistence.checkpoint_path", "data/checkpoint.json")
	v.SetDefault("persistence.event_log_path", "data/events.jsonl")

	v.SetDefault("api.addr", ":8090")
	v.SetDefault("api.allowed_origins", []string{"*"})

	v.SetDefault("execution.data_dir", "data/bars")
	v.SetDefault("execution.bar_timeframe", "1h")
	v.SetDefault("execution.initial_cash", 100000.0)
	v.SetDefault("execution.commission_rate_pct", 0.01) // 1 bp
	v.SetDefault("execution.chain_strike_step_pct", 2.5)
	v.SetDefault("execution.chain_base_iv", 0.25)
	v.SetDefault("execution.chain_dte_list", []int{0, 1, 2, 3, 5, 7, 14, 21, 30, 45})
	v.SetDefault("execution.live_binance_ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("execution.max_order_notional", 250000.0)
	v.SetDefault("execution.max_position_qty", 100000.0)
}

// Load builds the layered config: defaults -> optional YAML file ->
// ADAPTIVE_TRADER_-prefixed environment -> CLI flags.
func Load(configPath string, flags *pflag.FlagSet) (*EngineConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ADAPTIVE_TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.New(errs.KindConfig, "config.Load", fmt.Errorf("reading %s: %w", configPath, err))
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errs.New(errs.KindConfig, "config.Load", err)
		}
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.New(errs.KindConfig, "config.Load", fmt.Errorf("unmarshal: %w", err))
	}

	if err := validate(&cfg); err != nil {
		return nil, errs.New(errs.KindConfig, "config.Load", err)
	}

	return &cfg, nil
}

func validate(cfg *EngineConfig) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if cfg.Mode != "live" && cfg.Mode != "offline" {
		return fmt.Errorf("mode must be 'live' or 'offline', got %q", cfg.Mode)
	}
	if cfg.Risk.HardDrawdownPct <= cfg.Risk.SoftDrawdownPct {
		return fmt.Errorf("hard_drawdown_pct must exceed soft_drawdown_pct")
	}
	if cfg.Scheduler.MinimumBarsRequired < 1 {
		return fmt.Errorf("minimum_bars_required must be >= 1")
	}
	return nil
}

// Dec converts an operator-facing float64 config value to decimal.Decimal
// for use in engine arithmetic.
func Dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
