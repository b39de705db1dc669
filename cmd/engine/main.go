// Command engine runs the adaptive-regime trading engine (spec 1): bar feed
// in, agent federation, controller, layered risk gate, execution, hedging
// and profit-taking, all driven by the scheduler's single cooperative loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/api"
	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/internal/execution"
	"github.com/atlas-desktop/adaptive-trader/internal/scheduler"
)

func main() {
	flags := pflag.NewFlagSet("engine", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML/JSON/TOML config file")
	flags.String("mode", "offline", "run mode: offline (replay) or live")
	flags.StringSlice("symbols", nil, "symbols to trade (overrides config)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	logLevel := flags.Lookup("log-level")
	_ = flags.Parse(os.Args[1:])

	logger := mustLogger(logLevel.Value.String())
	defer logger.Sync()

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, apiServer, err := buildEngine(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Run(ctx)
	}()

	go func() {
		if err := apiServer.Start(ctx); err != nil {
			logger.Error("api server stopped with error", zap.Error(err))
		}
	}()

	if err := <-errCh; err != nil {
		logger.Error("scheduler exited with error", zap.Error(err))
		_ = apiServer.Stop(context.Background())
		os.Exit(1)
	}

	logger.Info("scheduler run complete")
	_ = apiServer.Stop(context.Background())
}

// buildEngine wires the broker/feed adapter, scheduler, and control-surface
// API from cfg. In "live" mode only the price feed streams live (execution.
// LiveFeed); orders still settle through the simulated replay exchange, so
// a real account is never placed at risk (spec 6).
func buildEngine(ctx context.Context, logger *zap.Logger, cfg *config.EngineConfig) (*scheduler.Scheduler, *api.Server, error) {
	store, err := data.NewStore(logger, cfg.Execution.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("data.NewStore: %w", err)
	}
	validator := data.NewStockDataQualityValidator(logger)
	exchange := execution.NewReplayExchange(logger, store, validator, cfg.Execution)

	deps := scheduler.Dependencies{
		Feed:          exchange,
		Broker:        exchange,
		OptionsBroker: exchange,
		ChainFeed:     exchange,
		Log:           logger,
	}

	if cfg.Mode == "live" {
		deps.Feed = execution.NewLiveFeed(logger, store, cfg.Execution.LiveBinanceWSURL, cfg.Execution.BarTimeframe, cfg.Symbols)
	}

	sched, err := scheduler.New(cfg, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler.New: %w", err)
	}

	apiServer := api.NewServer(logger, cfg.API, sched)
	return sched, apiServer, nil
}

func mustLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
