// Package signal implements the entry decision: BUY or HOLD for an
// instrument not currently held.
package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/indicators"
	"premium_trader/internal/ticks"
)

// Engine evaluates entries. It is read-only: cooldown and position
// checks belong to the caller.
type Engine struct {
	holder   *config.SnapshotHolder
	exchange core.IExchange
	table    *ticks.Table
	feeRate  decimal.Decimal
	interval string
	count    int
	logger   core.ILogger
}

var _ core.ISignalEngine = (*Engine)(nil)

// NewEngine creates a signal engine bound to the candle source.
func NewEngine(holder *config.SnapshotHolder, exchange core.IExchange, table *ticks.Table, feeRate decimal.Decimal, candleInterval string, candleCount int, logger core.ILogger) *Engine {
	return &Engine{
		holder:   holder,
		exchange: exchange,
		table:    table,
		feeRate:  feeRate,
		interval: candleInterval,
		count:    candleCount,
		logger:   logger.WithField("component", "signal"),
	}
}

func hold(reason string) core.Decision {
	return core.Decision{Action: core.ActionHold, Reason: reason}
}

// Evaluate runs the entry rules in order, short-circuiting on the first
// decisive rule.
func (e *Engine) Evaluate(ctx context.Context, instrument string, price decimal.Decimal, premiumPct float64) core.Decision {
	snap := e.holder.Load()

	if premiumPct > snap.MaxPremiumPct {
		return hold(fmt.Sprintf("premium overheated: %.2f%% > %.2f%%", premiumPct, snap.MaxPremiumPct))
	}

	if n := e.table.TicksToBreakeven(price, e.feeRate); n > int64(snap.MaxTicksToBreakeven) {
		return hold(fmt.Sprintf("poor tick efficiency: %d ticks to breakeven", n))
	}

	ind, err := e.Snapshot(ctx, instrument)
	if err != nil {
		// Soft fail, retried next cycle.
		e.logger.Warn("Indicator snapshot unavailable", "instrument", instrument, "error", err)
		return hold("indicators unavailable")
	}

	if premiumPct <= snap.ReversePremiumPct {
		relaxed := snap.RSIBuyThreshold + snap.RSIRelaxOffset
		if ind.RSILong < relaxed {
			return core.Decision{
				Action:   core.ActionBuy,
				Reason:   fmt.Sprintf("reverse-premium opportunity: premium %.2f%%, RSI %.1f < %.1f", premiumPct, ind.RSILong, relaxed),
				Snapshot: ind,
			}
		}
	}

	if ind.RSILong >= snap.RSIBuyThreshold {
		return hold(fmt.Sprintf("RSI not oversold: %.1f >= %.1f", ind.RSILong, snap.RSIBuyThreshold))
	}
	if price.GreaterThan(ind.BBLower) {
		return hold("price above lower Bollinger band")
	}
	if ind.RSIShort <= ind.RSILong {
		return hold(fmt.Sprintf("no golden cross: RSI short %.1f <= long %.1f", ind.RSIShort, ind.RSILong))
	}
	support := ind.VWAP.Mul(decimal.NewFromFloat(snap.VWAPSupportFactor))
	if price.LessThan(support) {
		return hold("price below VWAP support")
	}

	return core.Decision{
		Action:   core.ActionBuy,
		Reason:   fmt.Sprintf("oversold entry: RSI %.1f, lower band touch, golden cross", ind.RSILong),
		Snapshot: ind,
	}
}

// Snapshot fetches candles and computes the indicator snapshot.
func (e *Engine) Snapshot(ctx context.Context, instrument string) (*core.IndicatorSnapshot, error) {
	candles, err := e.exchange.GetCandles(ctx, instrument, e.interval, e.count)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", instrument, err)
	}
	return indicators.Analyze(candles)
}
