// Package execution converts decisions into exchange orders with
// slippage and impact control. The ladders are written once against the
// exchange interface; simulated and live venues behave the same here.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/ticks"
	apperrors "premium_trader/pkg/errors"
)

// Executor places, monitors and escalates orders on one exchange.
type Executor struct {
	exchange core.IExchange
	market   core.IMarketData
	table    *ticks.Table
	cfg      config.ExecutionConfig
	limiter  *rate.Limiter
	logger   core.ILogger

	minOrderValue decimal.Decimal
	cancelOnExit  bool
}

// NewExecutor creates an executor bound to one exchange.
func NewExecutor(exchange core.IExchange, market core.IMarketData, table *ticks.Table, cfg config.ExecutionConfig, minOrderValue decimal.Decimal, logger core.ILogger) *Executor {
	return &Executor{
		exchange:      exchange,
		market:        market,
		table:         table,
		cfg:           cfg,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:        logger.WithField("component", "executor"),
		minOrderValue: minOrderValue,
	}
}

// SetCancelOnExit controls whether resting orders are cancelled when a
// ladder is interrupted by shutdown. Off by default.
func (e *Executor) SetCancelOnExit(on bool) {
	e.cancelOnExit = on
}

// SafeOrderValue caps the requested order value by available balance
// and visible ask liquidity. Returns ErrOrderTooSmall when the capped
// value falls under the exchange minimum.
func (e *Executor) SafeOrderValue(ctx context.Context, instrument string, requested decimal.Decimal, balance decimal.Decimal, book *core.OrderBook) (decimal.Decimal, error) {
	value := requested

	byBalance := balance.Mul(decimal.NewFromFloat(e.cfg.MaxAssetRatio))
	if byBalance.LessThan(value) {
		value = byBalance
	}

	if len(book.Asks) > 0 {
		askValue := decimal.Zero
		for i, lvl := range book.Asks {
			if i >= e.cfg.BookDepth {
				break
			}
			askValue = askValue.Add(lvl.Price.Mul(lvl.Size))
		}
		byBook := askValue.Mul(decimal.NewFromFloat(e.cfg.MaxBookRatio))
		if byBook.LessThan(value) {
			value = byBook
		}
	}

	if value.LessThan(e.minOrderValue) {
		return decimal.Zero, fmt.Errorf("%w: %s < %s for %s",
			apperrors.ErrOrderTooSmall, value.StringFixed(0), e.minOrderValue.StringFixed(0), instrument)
	}
	return value, nil
}

// ClassifyBook grades depth imbalance over the top N levels. BAD means
// heavy sell pressure, GOOD means a credible bid wall.
func (e *Executor) ClassifyBook(book *core.OrderBook) core.BookHealth {
	bid := book.BidVolume(e.cfg.BookDepth)
	ask := book.AskVolume(e.cfg.BookDepth)

	if bid.IsZero() {
		return core.BookBad
	}
	if ask.GreaterThanOrEqual(bid.Mul(decimal.NewFromFloat(e.cfg.BadAskRatio))) {
		return core.BookBad
	}
	if bid.GreaterThanOrEqual(ask.Mul(decimal.NewFromFloat(e.cfg.GoodBidRatio))) {
		return core.BookGood
	}
	return core.BookNormal
}

// CheckSpoof vetoes a buy when the book shows strong bid dominance that
// the recent trade tape does not back with executed buy value.
func (e *Executor) CheckSpoof(instrument string, book *core.OrderBook) error {
	bid := book.BidVolume(e.cfg.BookDepth)
	ask := book.AskVolume(e.cfg.BookDepth)
	if ask.IsZero() {
		return nil
	}
	if bid.LessThan(ask.Mul(decimal.NewFromFloat(e.cfg.SpoofBidDominance))) {
		return nil
	}

	window := time.Duration(e.cfg.SpoofWindowSec) * time.Second
	buyValue := decimal.Zero
	for _, tr := range e.market.RecentTrades(instrument, window) {
		if tr.Side == core.SideBuy {
			buyValue = buyValue.Add(tr.Price.Mul(tr.Volume))
		}
	}

	floor := decimal.NewFromFloat(e.cfg.MinRecentBuyValue)
	if buyValue.LessThan(floor) {
		return fmt.Errorf("spoof suspected on %s: bid wall %sx ask but executed buy value %s < %s",
			instrument, bid.Div(ask).StringFixed(1), buyValue.StringFixed(0), floor.StringFixed(0))
	}
	return nil
}

// Buy places a limit buy at the best ask and waits one interval. A
// missed entry is abandoned, never chased.
func (e *Executor) Buy(ctx context.Context, instrument string, orderValue decimal.Decimal) (*core.Order, error) {
	book, err := e.fetchBook(ctx, instrument)
	if err != nil {
		return nil, err
	}
	if len(book.Asks) == 0 {
		return nil, fmt.Errorf("no asks on %s", instrument)
	}

	price := book.Asks[0].Price
	volume := orderValue.Div(price)

	order, err := e.placeLimit(ctx, instrument, core.SideBuy, price, volume)
	if err != nil {
		return nil, err
	}

	if err := e.sleep(ctx, time.Duration(e.cfg.BuyFillWaitMS)*time.Millisecond); err != nil {
		e.cancelQuietly(ctx, order.ID)
		return nil, err
	}

	final := e.orderStatus(ctx, order)
	if final.Filled() {
		return final, nil
	}

	e.cancelQuietly(ctx, order.ID)
	e.logger.Info("Buy not filled, abandoning entry", "instrument", instrument, "price", price.String())
	return nil, apperrors.ErrNotFilled
}

// SellForLoss exits with certainty over price: best bid, one tick
// below, then market. A partially filled rung shrinks the quantity the
// next rung asks for.
func (e *Executor) SellForLoss(ctx context.Context, instrument string, volume decimal.Decimal) (*core.Order, error) {
	wait := time.Duration(e.cfg.SellFillWaitMS) * time.Millisecond
	remaining := volume

	book, err := e.fetchBook(ctx, instrument)
	if err == nil && len(book.Bids) > 0 {
		order, executed, done := e.tryLimitSell(ctx, instrument, book.Bids[0].Price, remaining, wait)
		if done {
			return order, nil
		}
		remaining = remaining.Sub(executed)
		if !remaining.IsPositive() {
			return order, nil
		}

		lower := e.table.StepDown(book.Bids[0].Price, 1)
		order, executed, done = e.tryLimitSell(ctx, instrument, lower, remaining, wait)
		if done {
			return order, nil
		}
		remaining = remaining.Sub(executed)
		if !remaining.IsPositive() {
			return order, nil
		}
	}

	e.logger.Warn("Loss exit escalating to market sell",
		"instrument", instrument, "remaining", remaining.String())
	return e.exchange.PlaceMarketSell(ctx, instrument, remaining, clientID())
}

// SellForProfit exits with price over speed: up to ProfitRounds limit
// rounds at the refreshed best bid, one tick below, then market. Only
// the unsold remainder is carried into each rung.
func (e *Executor) SellForProfit(ctx context.Context, instrument string, volume decimal.Decimal) (*core.Order, error) {
	wait := time.Duration(e.cfg.SellFillWaitMS) * time.Millisecond
	remaining := volume

	for round := 0; round < e.cfg.ProfitRounds; round++ {
		book, err := e.fetchBook(ctx, instrument)
		if err != nil || len(book.Bids) == 0 {
			continue
		}
		order, executed, done := e.tryLimitSell(ctx, instrument, book.Bids[0].Price, remaining, wait)
		if done {
			return order, nil
		}
		remaining = remaining.Sub(executed)
		if !remaining.IsPositive() {
			return order, nil
		}
	}

	book, err := e.fetchBook(ctx, instrument)
	if err == nil && len(book.Bids) > 0 {
		lower := e.table.StepDown(book.Bids[0].Price, 1)
		order, executed, done := e.tryLimitSell(ctx, instrument, lower, remaining, wait)
		if done {
			return order, nil
		}
		remaining = remaining.Sub(executed)
		if !remaining.IsPositive() {
			return order, nil
		}
	}

	e.logger.Info("Profit exit falling back to market sell",
		"instrument", instrument, "remaining", remaining.String())
	return e.exchange.PlaceMarketSell(ctx, instrument, remaining, clientID())
}

// tryLimitSell plays one ladder rung. Any API failure is treated as
// not-filled, never as filled. When the rung ends cancelled, the
// executed quantity it did fill is reported so the caller can sell
// only the remainder.
func (e *Executor) tryLimitSell(ctx context.Context, instrument string, price, volume decimal.Decimal, wait time.Duration) (*core.Order, decimal.Decimal, bool) {
	order, err := e.placeLimit(ctx, instrument, core.SideSell, price, volume)
	if err != nil {
		e.logger.Warn("Limit sell placement failed", "instrument", instrument, "price", price.String(), "error", err)
		return nil, decimal.Zero, false
	}

	if err := e.sleep(ctx, wait); err != nil {
		e.cancelQuietly(ctx, order.ID)
		return nil, decimal.Zero, false
	}

	final := e.orderStatus(ctx, order)
	if final.Filled() {
		return final, final.ExecutedVol, true
	}

	e.cancelQuietly(ctx, order.ID)
	final = e.orderStatus(ctx, final)
	return final, final.ExecutedVol, false
}

// Book fetches the current orderbook at the configured depth, for the
// pre-entry safety checks.
func (e *Executor) Book(ctx context.Context, instrument string) (*core.OrderBook, error) {
	return e.fetchBook(ctx, instrument)
}

func (e *Executor) fetchBook(ctx context.Context, instrument string) (*core.OrderBook, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.exchange.GetOrderBook(ctx, instrument, e.cfg.BookDepth)
}

func (e *Executor) placeLimit(ctx context.Context, instrument string, side core.Side, price, volume decimal.Decimal) (*core.Order, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.exchange.PlaceLimitOrder(ctx, instrument, side, price, volume, clientID())
}

// orderStatus fetches the order's final state; on error the original
// handle is returned, whose WAIT status reads as not filled.
func (e *Executor) orderStatus(ctx context.Context, order *core.Order) *core.Order {
	if err := e.limiter.Wait(ctx); err != nil {
		return order
	}
	final, err := e.exchange.GetOrder(ctx, order.ID)
	if err != nil {
		e.logger.Warn("Order status check failed, treating as not filled", "order_id", order.ID, "error", err)
		return order
	}
	return final
}

// cancelQuietly cancels best-effort; a failed cancel of an already
// filled or cancelled order is tolerated. The cancel request is
// detached from the parent so it still reaches the exchange after the
// run context is gone, gated by cancel_on_exit on the shutdown path.
func (e *Executor) cancelQuietly(ctx context.Context, orderID string) {
	if ctx.Err() != nil && !e.cancelOnExit {
		e.logger.Info("Leaving order resting through shutdown", "order_id", orderID)
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := e.exchange.CancelOrder(cctx, orderID); err != nil {
		e.logger.Warn("Cancel failed", "order_id", orderID, "error", err)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clientID() string {
	return uuid.NewString()
}
