// Package bootstrap wires the application together and owns its lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"premium_trader/internal/alert"
	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/engine"
	"premium_trader/internal/exchange/sim"
	"premium_trader/internal/exchange/upbit"
	"premium_trader/internal/execution"
	"premium_trader/internal/infrastructure/health"
	"premium_trader/internal/infrastructure/metrics"
	"premium_trader/internal/journal"
	"premium_trader/internal/logging"
	"premium_trader/internal/marketdata"
	"premium_trader/internal/risk"
	tradesignal "premium_trader/internal/signal"
	"premium_trader/internal/ticks"
	"premium_trader/internal/tuner"
	"premium_trader/pkg/concurrency"
	"premium_trader/pkg/telemetry"
)

// Runner is a long-lived component driven by the lifecycle context.
type Runner interface {
	Run(ctx context.Context) error
}

// App holds the wired dependency graph.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	Holder  *config.SnapshotHolder
	Health  *health.Manager
	Journal core.IJournal

	runners   []Runner
	telemetry *telemetry.Telemetry
	metricsrv *metrics.Server
	pool      *concurrency.WorkerPool
	zap       *logging.ZapLogger
}

// NewApp loads configuration and wires every component.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	// Setup also registers the trading instruments on the meter.
	tel, err := telemetry.Setup("premium_trader")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	strategyTuner := tuner.New(cfg.Tuner, logger)
	holder, err := strategyTuner.Bootstrap()
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}

	exchange, err := buildExchange(cfg, logger)
	if err != nil {
		return nil, err
	}

	var store core.IJournal
	if cfg.Journal.DBPath != "" {
		store, err = journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	} else {
		store = journal.NewMemory()
	}

	agg := marketdata.NewAggregator(holder, logger)
	table := ticks.DefaultKRW()
	feeRate := decimal.NewFromFloat(cfg.Exchange.FeeRate)

	signalEngine := tradesignal.NewEngine(holder, exchange, table, feeRate,
		cfg.Trading.CandleInterval, cfg.Trading.CandleCount, logger)

	riskMgr := risk.NewManager(holder, cfg.Risk, logger)

	initialEquity, err := startingEquity(cfg, exchange)
	if err != nil {
		return nil, fmt.Errorf("equity: %w", err)
	}
	breaker := risk.NewCircuitBreaker(risk.CircuitConfig{
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxDrawdownPct:       cfg.Risk.MaxGlobalLossPct,
		CooldownPeriod:       time.Hour,
	}, initialEquity, logger)

	executor := execution.NewExecutor(exchange, agg, table, cfg.Execution,
		decimal.NewFromFloat(cfg.Trading.MinOrderValue), logger)
	executor.SetCancelOnExit(cfg.System.CancelOnExit)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "trade_events",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: true,
	}, logger)

	alerts := alert.NewManagerFromConfig(cfg.Alert, logger)

	localStream := marketdata.NewLocalStream(cfg.Streams.LocalWSURL, holder, agg, logger)
	refStream := marketdata.NewReferenceStream(cfg.Streams.ReferenceWSURL, holder, agg, logger)
	if cfg.Streams.ReconnectDelaySec > 0 || cfg.Streams.EpochCheckSec > 0 {
		reconnect := time.Duration(cfg.Streams.ReconnectDelaySec) * time.Second
		epochCheck := time.Duration(cfg.Streams.EpochCheckSec) * time.Second
		localStream.SetTimings(reconnect, epochCheck)
		refStream.SetTimings(reconnect, epochCheck)
	}

	runner := engine.NewRunner(engine.Deps{
		Holder:   holder,
		Market:   agg,
		Signal:   signalEngine,
		Risk:     riskMgr,
		Breaker:  breaker,
		Executor: executor,
		Exchange: exchange,
		Journal:  store,
		Alerts:   alerts,
		Pool:     pool,
	}, cfg.Trading, cfg.Exchange.QuoteCcy, logger)

	healthMgr := health.NewManager(logger)
	healthMgr.Register("exchange", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return exchange.CheckHealth(ctx)
	})

	var metricsrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsrv = metrics.NewServer(cfg.Telemetry.MetricsPort, healthMgr, logger)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Holder:    holder,
		Health:    healthMgr,
		Journal:   store,
		runners:   []Runner{localStream, refStream, strategyTuner, runner},
		telemetry: tel,
		metricsrv: metricsrv,
		pool:      pool,
		zap:       logger,
	}, nil
}

func buildExchange(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	switch cfg.App.Mode {
	case "live":
		return upbit.New(cfg.Exchange, logger), nil
	case "sim":
		paper := sim.New(decimal.NewFromFloat(cfg.Exchange.SimCash),
			decimal.NewFromFloat(cfg.Exchange.FeeRate))
		// Paper runs decide on the real public market; only the ledger
		// is simulated. Keys may be blank, the data endpoints are open.
		feed := cfg.Exchange
		feed.AccessKey, feed.SecretKey = "", ""
		paper.SetMarketDataSource(upbit.New(feed, logger))
		return paper, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.App.Mode)
	}
}

func startingEquity(cfg *config.Config, exchange core.IExchange) (decimal.Decimal, error) {
	if cfg.App.Mode == "sim" {
		return decimal.NewFromFloat(cfg.Exchange.SimCash), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return exchange.GetBalance(ctx, cfg.Exchange.QuoteCcy)
}

// Run starts every runner under one errgroup and blocks until a signal or
// the first failure, then releases resources in reverse start order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.metricsrv != nil {
		a.metricsrv.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	a.Logger.Info("starting premium trader", "mode", a.Cfg.App.Mode)

	for _, r := range a.runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	a.shutdown()

	if err != nil && err != context.Canceled {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}
	a.Logger.Info("application shut down gracefully")
	return nil
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metricsrv != nil {
		if err := a.metricsrv.Stop(shutdownCtx); err != nil {
			a.Logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if n := a.pool.Backlog(); n > 0 {
		a.Logger.Info("Draining trade events before shutdown", "backlog", n)
	}
	a.pool.Stop()
	if err := a.Journal.Close(); err != nil {
		a.Logger.Warn("journal close failed", "error", err)
	}
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = a.zap.Sync()
}
