// Package sim provides the paper-trading exchange: an in-memory ledger
// with deterministic fills, used for simulation mode and engine tests.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"premium_trader/internal/core"
	apperrors "premium_trader/pkg/errors"
)

// slippage applied to market sells: proceeds shrink by 0.05%.
var marketSellFactor = decimal.NewFromFloat(0.9995)

// MarketDataSource serves real public market data for paper runs, so
// the decision path sees the live market while fills stay simulated.
type MarketDataSource interface {
	GetOrderBook(ctx context.Context, instrument string, depth int) (*core.OrderBook, error)
	GetCandles(ctx context.Context, instrument, interval string, count int) ([]core.Candle, error)
}

type holding struct {
	volume   decimal.Decimal
	avgPrice decimal.Decimal
}

// SimulatedExchange implements core.IExchange against an in-memory
// ledger. Market data (books, candles, prices) is injected by the test
// or wired to the aggregator's local prices in simulation runs.
type SimulatedExchange struct {
	feeRate decimal.Decimal
	source  MarketDataSource

	mu        sync.Mutex
	cash      decimal.Decimal
	holdings  map[string]*holding
	orders    map[string]*core.Order
	orderSeq  int
	fillLimit bool

	books   map[string]*core.OrderBook
	candles map[string][]core.Candle
	prices  map[string]decimal.Decimal
}

var _ core.IExchange = (*SimulatedExchange)(nil)

// New creates a paper exchange with the given starting cash.
func New(startingCash, feeRate decimal.Decimal) *SimulatedExchange {
	return &SimulatedExchange{
		feeRate:   feeRate,
		cash:      startingCash,
		holdings:  make(map[string]*holding),
		orders:    make(map[string]*core.Order),
		fillLimit: true,
		books:     make(map[string]*core.OrderBook),
		candles:   make(map[string][]core.Candle),
		prices:    make(map[string]decimal.Decimal),
	}
}

func (s *SimulatedExchange) GetName() string { return "sim" }

func (s *SimulatedExchange) CheckHealth(ctx context.Context) error { return nil }

// SetFillBehavior controls whether limit orders fill instantly. With
// false, limit orders stay WAIT so ladder escalation paths can be
// exercised.
func (s *SimulatedExchange) SetFillBehavior(fillLimitOrders bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillLimit = fillLimitOrders
}

// SetMarketDataSource attaches a public market data feed. Books and
// candles not injected directly are fetched from it, and the mark
// price for market sells tracks the fetched best bid. Set once during
// wiring, before any orders flow.
func (s *SimulatedExchange) SetMarketDataSource(src MarketDataSource) {
	s.source = src
}

// SetOrderBook injects the book returned for an instrument.
func (s *SimulatedExchange) SetOrderBook(instrument string, book *core.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[instrument] = book
}

// SetCandles injects the candle series returned for an instrument.
func (s *SimulatedExchange) SetCandles(instrument string, candles []core.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[instrument] = candles
}

// SetPrice injects the mark price used for market sells.
func (s *SimulatedExchange) SetPrice(instrument string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = price
}

func (s *SimulatedExchange) GetOrderBook(ctx context.Context, instrument string, depth int) (*core.OrderBook, error) {
	s.mu.Lock()
	book, ok := s.books[instrument]
	s.mu.Unlock()
	if ok {
		return book, nil
	}
	if s.source == nil {
		return nil, fmt.Errorf("%w: no book for %s", apperrors.ErrInvalidInstrument, instrument)
	}

	book, err := s.source.GetOrderBook(ctx, instrument, depth)
	if err != nil {
		return nil, err
	}
	if len(book.Bids) > 0 {
		s.mu.Lock()
		s.prices[instrument] = book.Bids[0].Price
		s.mu.Unlock()
	}
	return book, nil
}

func (s *SimulatedExchange) GetCandles(ctx context.Context, instrument, interval string, count int) ([]core.Candle, error) {
	s.mu.Lock()
	candles, ok := s.candles[instrument]
	s.mu.Unlock()
	if ok {
		if len(candles) > count {
			candles = candles[len(candles)-count:]
		}
		return candles, nil
	}
	if s.source == nil {
		return nil, fmt.Errorf("%w: no candles for %s", apperrors.ErrInvalidInstrument, instrument)
	}
	return s.source.GetCandles(ctx, instrument, interval, count)
}

func (s *SimulatedExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash, nil
}

func (s *SimulatedExchange) GetHolding(ctx context.Context, instrument string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[instrument]
	if !ok {
		return decimal.Zero, decimal.Zero, nil
	}
	return h.volume, h.avgPrice, nil
}

func (s *SimulatedExchange) PlaceLimitOrder(ctx context.Context, instrument string, side core.Side, price, volume decimal.Decimal, clientOrderID string) (*core.Order, error) {
	if price.Sign() <= 0 || volume.Sign() <= 0 {
		return nil, apperrors.ErrOrderRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.newOrderLocked(instrument, side, core.OrderTypeLimit, price, volume, clientOrderID)

	if s.fillLimit {
		if err := s.fillLocked(order, price); err != nil {
			delete(s.orders, order.ID)
			return nil, err
		}
	}
	out := *order
	return &out, nil
}

func (s *SimulatedExchange) PlaceMarketSell(ctx context.Context, instrument string, volume decimal.Decimal, clientOrderID string) (*core.Order, error) {
	if volume.Sign() <= 0 {
		return nil, apperrors.ErrOrderRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[instrument]
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no mark price for %s", apperrors.ErrInvalidInstrument, instrument)
	}

	// Market sells eat slippage.
	fillPrice := price.Mul(marketSellFactor)
	order := s.newOrderLocked(instrument, core.SideSell, core.OrderTypeMarket, fillPrice, volume, clientOrderID)
	if err := s.fillLocked(order, fillPrice); err != nil {
		delete(s.orders, order.ID)
		return nil, err
	}
	out := *order
	return &out, nil
}

func (s *SimulatedExchange) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	// Cancelling a done or already cancelled order is a tolerated no-op;
	// the ladder may double-cancel on ambiguous fills.
	if order.Status == core.OrderStatusWait {
		order.Status = core.OrderStatusCancelled
	}
	return nil
}

func (s *SimulatedExchange) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	out := *order
	return &out, nil
}

// Cash returns the current quote-currency balance.
func (s *SimulatedExchange) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Equity returns cash plus holdings valued at the injected mark prices.
func (s *SimulatedExchange) Equity() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.cash
	for instrument, h := range s.holdings {
		if price, ok := s.prices[instrument]; ok {
			total = total.Add(h.volume.Mul(price))
		}
	}
	return total
}

func (s *SimulatedExchange) newOrderLocked(instrument string, side core.Side, typ core.OrderType, price, volume decimal.Decimal, clientOrderID string) *core.Order {
	s.orderSeq++
	order := &core.Order{
		ID:            fmt.Sprintf("sim-%d", s.orderSeq),
		ClientOrderID: clientOrderID,
		Instrument:    instrument,
		Side:          side,
		Type:          typ,
		Price:         price,
		Volume:        volume,
		Status:        core.OrderStatusWait,
		CreatedAt:     time.Now(),
	}
	s.orders[order.ID] = order
	return order
}

func (s *SimulatedExchange) fillLocked(order *core.Order, price decimal.Decimal) error {
	one := decimal.NewFromInt(1)

	switch order.Side {
	case core.SideBuy:
		cost := price.Mul(order.Volume).Mul(one.Add(s.feeRate))
		if cost.GreaterThan(s.cash) {
			return apperrors.ErrInsufficientFunds
		}
		s.cash = s.cash.Sub(cost)

		h, ok := s.holdings[order.Instrument]
		if !ok {
			h = &holding{volume: decimal.Zero, avgPrice: decimal.Zero}
			s.holdings[order.Instrument] = h
		}
		newVolume := h.volume.Add(order.Volume)
		h.avgPrice = h.avgPrice.Mul(h.volume).Add(price.Mul(order.Volume)).Div(newVolume)
		h.volume = newVolume

	case core.SideSell:
		h, ok := s.holdings[order.Instrument]
		if !ok || h.volume.LessThan(order.Volume) {
			return apperrors.ErrInsufficientFunds
		}
		h.volume = h.volume.Sub(order.Volume)
		if h.volume.IsZero() {
			delete(s.holdings, order.Instrument)
		}
		proceeds := price.Mul(order.Volume).Mul(one.Sub(s.feeRate))
		s.cash = s.cash.Add(proceeds)
	}

	order.Status = core.OrderStatusDone
	order.ExecutedVol = order.Volume
	return nil
}
