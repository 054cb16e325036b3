// Package engine runs the decision loop tying market data, signals, risk
// and execution together.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"premium_trader/internal/alert"
	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/execution"
	"premium_trader/internal/risk"
	"premium_trader/pkg/concurrency"
	"premium_trader/pkg/retry"
	"premium_trader/pkg/telemetry"
)

// Deps are the collaborators of the decision loop.
type Deps struct {
	Holder   *config.SnapshotHolder
	Market   core.IMarketData
	Signal   core.ISignalEngine
	Risk     *risk.Manager
	Breaker  *risk.CircuitBreaker
	Executor *execution.Executor
	Exchange core.IExchange
	Journal  core.IJournal
	Alerts   *alert.Manager
	Pool     *concurrency.WorkerPool
}

// Runner owns the single decision goroutine. All position and cooldown
// writes happen on this goroutine; the collaborators are only read.
type Runner struct {
	deps     Deps
	cfg      config.TradingConfig
	quoteCcy string
	logger   core.ILogger

	now func() time.Time
}

func NewRunner(deps Deps, cfg config.TradingConfig, quoteCcy string, logger core.ILogger) *Runner {
	return &Runner{
		deps:     deps,
		cfg:      cfg,
		quoteCcy: quoteCcy,
		logger:   logger.WithField("component", "engine"),
		now:      time.Now,
	}
}

// Run blocks until the context is cancelled. It waits out the warmup delay
// so the streams can populate the aggregator, adopts any pre-existing
// holdings, then evaluates every tracked instrument once per loop delay.
func (r *Runner) Run(ctx context.Context) error {
	warmup := time.Duration(r.cfg.WarmupDelaySec) * time.Second
	if warmup > 0 {
		r.logger.Info("warming up before first cycle", "delay", warmup.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(warmup):
		}
	}

	r.AdoptPositions(ctx)

	delay := time.Duration(r.cfg.LoopDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// AdoptPositions picks up holdings left over from a previous run so they
// fall under risk management instead of sitting unmanaged. Entry time is
// lost across restarts and restarts the clock.
func (r *Runner) AdoptPositions(ctx context.Context) {
	snap := r.deps.Holder.Load()
	policy := retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}
	minValue := decimal.NewFromFloat(r.cfg.MinOrderValue)

	for _, instrument := range snap.LocalCodes() {
		var volume, avgPrice decimal.Decimal
		err := retry.Do(ctx, policy, retry.IsExchangeTransient, func() error {
			var err error
			volume, avgPrice, err = r.deps.Exchange.GetHolding(ctx, instrument)
			return err
		})
		if err != nil {
			r.logger.Warn("failed to query holding at startup", "instrument", instrument, "error", err)
			continue
		}
		if volume.IsZero() || volume.Mul(avgPrice).LessThan(minValue) {
			continue
		}

		r.deps.Risk.AdoptPosition(instrument, avgPrice, volume)
		r.logger.Info("adopted existing holding",
			"instrument", instrument, "volume", volume.String(), "avg_price", avgPrice.String())
	}
}

// Cycle runs one full evaluation pass. Exits are always evaluated; the
// circuit breaker only halts new entries.
func (r *Runner) Cycle(ctx context.Context) {
	started := r.now()
	metrics := telemetry.GetGlobalMetrics()
	defer func() {
		if metrics.CycleLatency != nil {
			metrics.CycleLatency.Record(ctx, r.now().Sub(started).Seconds())
		}
	}()

	snap := r.deps.Holder.Load()
	metrics.SetOpenPositions(int64(r.deps.Risk.OpenPositions()))

	entriesHalted := r.deps.Breaker.IsTripped()
	if entriesHalted {
		r.logger.Debug("circuit breaker open, entries halted", "reason", r.deps.Breaker.TripReason())
	}

	if reason, ok := r.deps.Market.ConsumeSurge(); ok {
		if metrics.SurgesTotal != nil {
			metrics.SurgesTotal.Add(ctx, 1)
		}
		if !entriesHalted {
			r.chaseSurge(ctx, snap, reason)
		}
	}

	for _, instrument := range snap.LocalCodes() {
		state, ok := r.deps.Market.State(instrument)
		if !ok || state.LocalPrice.IsZero() {
			continue
		}

		if _, held := r.deps.Risk.Position(instrument); held {
			r.evaluateExit(ctx, instrument, state.LocalPrice)
		} else if !entriesHalted {
			r.evaluateEntry(ctx, instrument, state)
		}
	}
}

// chaseSurge buys the follower instruments on a leader momentum surge,
// bypassing the indicator gates. Safety checks still apply.
func (r *Runner) chaseSurge(ctx context.Context, snap *config.StrategySnapshot, reason string) {
	r.logger.Info("chasing leader surge", "reason", reason)
	for _, instrument := range snap.Followers {
		if _, held := r.deps.Risk.Position(instrument); held {
			continue
		}
		if r.deps.Risk.InCooldown(instrument) {
			continue
		}
		r.enter(ctx, instrument, "momentum surge: "+reason, nil)
	}
}

func (r *Runner) evaluateEntry(ctx context.Context, instrument string, state core.InstrumentState) {
	if r.deps.Risk.InCooldown(instrument) {
		return
	}

	decision := r.deps.Signal.Evaluate(ctx, instrument, state.LocalPrice, state.PremiumPct)
	if decision.Action != core.ActionBuy {
		r.logger.Debug("entry passed over", "instrument", instrument, "reason", decision.Reason)
		return
	}

	r.enter(ctx, instrument, decision.Reason, decision.Snapshot)
}

// enter runs the pre-trade safety checks and the buy ladder.
func (r *Runner) enter(ctx context.Context, instrument, reason string, ind *core.IndicatorSnapshot) {
	metrics := telemetry.GetGlobalMetrics()

	book, err := r.deps.Executor.Book(ctx, instrument)
	if err != nil {
		r.logger.Warn("orderbook unavailable, skipping entry", "instrument", instrument, "error", err)
		return
	}

	if health := r.deps.Executor.ClassifyBook(book); health == core.BookBad {
		r.logger.Debug("book too thin on the bid side, skipping entry", "instrument", instrument)
		return
	}

	if err := r.deps.Executor.CheckSpoof(instrument, book); err != nil {
		if metrics.EntriesVetoedTotal != nil {
			metrics.EntriesVetoedTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("instrument", instrument)))
		}
		r.logger.Warn("entry vetoed", "instrument", instrument, "error", err)
		return
	}

	balance, err := r.deps.Exchange.GetBalance(ctx, r.quoteCcy)
	if err != nil {
		r.logger.Warn("balance unavailable, skipping entry", "instrument", instrument, "error", err)
		return
	}

	value, err := r.deps.Executor.SafeOrderValue(ctx, instrument,
		decimal.NewFromFloat(r.cfg.OrderAmount), balance, book)
	if err != nil {
		r.logger.Debug("order sizing refused entry", "instrument", instrument, "error", err)
		return
	}

	if metrics.OrdersPlacedTotal != nil {
		metrics.OrdersPlacedTotal.Add(ctx, 1)
	}
	order, err := r.deps.Executor.Buy(ctx, instrument, value)
	if err != nil {
		r.logger.Info("entry not filled", "instrument", instrument, "error", err)
		return
	}
	if metrics.OrdersFilledTotal != nil {
		metrics.OrdersFilledTotal.Add(ctx, 1)
	}

	r.deps.Risk.RegisterBuy(instrument, order.Price, order.Volume)
	r.publish(core.TradeRecord{
		Timestamp:  r.now(),
		Instrument: instrument,
		Action:     core.ActionBuy,
		Price:      order.Price,
		Snapshot:   ind,
		Reason:     reason,
	})
}

func (r *Runner) evaluateExit(ctx context.Context, instrument string, price decimal.Decimal) {
	ind, err := r.deps.Signal.Snapshot(ctx, instrument)
	if err != nil {
		// Stop loss and time stop still work without indicators.
		r.logger.Warn("indicators unavailable for exit check", "instrument", instrument, "error", err)
		ind = nil
	}

	decision := r.deps.Risk.CheckExit(instrument, price, ind)
	if decision.Action == core.ActionHold {
		return
	}

	pos, ok := r.deps.Risk.Position(instrument)
	if !ok {
		return
	}

	volume := pos.Volume
	if decision.Action == core.ActionSellHalf {
		ratio := decimal.NewFromFloat(r.deps.Holder.Load().PartialSellRatio)
		volume = pos.Volume.Mul(ratio)
	}

	var order *core.Order
	if decision.IsLossExit() {
		order, err = r.deps.Executor.SellForLoss(ctx, instrument, volume)
	} else {
		order, err = r.deps.Executor.SellForProfit(ctx, instrument, volume)
	}
	if err != nil {
		// Position stays on the books; the next cycle retries the exit.
		r.logger.Error("exit failed", "instrument", instrument, "reason", decision.Reason, "error", err)
		return
	}

	r.deps.Risk.ConfirmExit(instrument, decision)

	exitPrice := price
	if order != nil && !order.Price.IsZero() {
		exitPrice = order.Price
	}

	if decision.Action == core.ActionSellAll {
		pnl := pos.EntryPrice.Mul(volume).
			Mul(decimal.NewFromFloat(decision.NetProfitPct / 100))
		r.deps.Breaker.RecordTrade(pnl)
		r.recordPnL(ctx, decision.NetProfitPct)
	}

	r.publish(core.TradeRecord{
		Timestamp:  r.now(),
		Instrument: instrument,
		Action:     decision.Action,
		Price:      exitPrice,
		Snapshot:   ind,
		ProfitPct:  decision.NetProfitPct,
		Reason:     decision.Reason,
	})
}

func (r *Runner) recordPnL(ctx context.Context, netPct float64) {
	metrics := telemetry.GetGlobalMetrics()
	if metrics.PnLRealizedTotal == nil {
		return
	}
	result := "profit"
	if netPct < 0 {
		result = "loss"
	}
	metrics.PnLRealizedTotal.Add(ctx, math.Abs(netPct),
		metric.WithAttributes(attribute.String("result", result)))
}

// publish hands the record to the journal and alert channels off the
// decision path.
func (r *Runner) publish(rec core.TradeRecord) {
	err := r.deps.Pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.deps.Journal.Record(ctx, rec); err != nil {
			r.logger.Error("failed to journal trade", "instrument", rec.Instrument, "error", err)
		}
		r.deps.Alerts.NotifyTrade(ctx, rec)
	})
	if err != nil {
		r.logger.Warn("trade publication dropped", "instrument", rec.Instrument, "error", err)
	}
}
