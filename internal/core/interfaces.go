// Package core defines the shared types and interfaces of the trading engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchange is the capability abstraction over an order/market-data venue.
// The executor's ladder logic is written once against this interface; the
// simulated exchange and the live exchange both implement it.
type IExchange interface {
	// Identity
	GetName() string
	CheckHealth(ctx context.Context) error

	// Market data
	GetOrderBook(ctx context.Context, instrument string, depth int) (*OrderBook, error)
	GetCandles(ctx context.Context, instrument string, interval string, count int) ([]Candle, error)

	// Account
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetHolding(ctx context.Context, instrument string) (volume, avgPrice decimal.Decimal, err error)

	// Orders
	PlaceLimitOrder(ctx context.Context, instrument string, side Side, price, volume decimal.Decimal, clientOrderID string) (*Order, error)
	PlaceMarketSell(ctx context.Context, instrument string, volume decimal.Decimal, clientOrderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// IMarketData is the read side of the market data aggregator.
type IMarketData interface {
	State(instrument string) (InstrumentState, bool)
	RecentTrades(instrument string, window time.Duration) []Trade
	ConsumeSurge() (reason string, ok bool)
	LocalPrices() map[string]decimal.Decimal
}

// ISignalEngine decides BUY vs HOLD for an instrument not currently held.
type ISignalEngine interface {
	Evaluate(ctx context.Context, instrument string, price decimal.Decimal, premiumPct float64) Decision
	Snapshot(ctx context.Context, instrument string) (*IndicatorSnapshot, error)
}

// IJournal records executed actions for auditing.
type IJournal interface {
	Record(ctx context.Context, rec TradeRecord) error
	Close() error
}

// ILogger is the logging interface used throughout the engine.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IHealthMonitor aggregates component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
