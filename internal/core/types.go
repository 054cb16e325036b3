package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the taker side of an order or executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit and market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus mirrors the local exchange's order lifecycle states.
type OrderStatus string

const (
	OrderStatusWait      OrderStatus = "WAIT"
	OrderStatusDone      OrderStatus = "DONE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Trade is one executed trade from the local exchange's trade channel.
// Trades are kept per instrument in a fixed-capacity tape for short-window
// liquidity analysis.
type Trade struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Side      Side
}

// InstrumentState is the best-known market state for one tracked instrument.
// LocalPrice is written only by the local stream task, ReferencePrice only by
// the reference stream task; PremiumPct is recomputed by whichever of the two
// reported last, so it may transiently mix one stale and one fresh side.
type InstrumentState struct {
	LocalPrice     decimal.Decimal
	ReferencePrice decimal.Decimal
	PremiumPct     float64
	HasPremium     bool
	LastUpdate     time.Time
}

// PriceLevel is one orderbook level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook holds the top-N levels of both sides, best price first.
type OrderBook struct {
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BidVolume sums bid size over the top n levels.
func (b *OrderBook) BidVolume(n int) decimal.Decimal {
	return sumLevels(b.Bids, n)
}

// AskVolume sums ask size over the top n levels.
func (b *OrderBook) AskVolume(n int) decimal.Decimal {
	return sumLevels(b.Asks, n)
}

func sumLevels(levels []PriceLevel, n int) decimal.Decimal {
	total := decimal.Zero
	for i, lvl := range levels {
		if i >= n {
			break
		}
		total = total.Add(lvl.Size)
	}
	return total
}

// BookHealth is a coarse classification of orderbook depth imbalance.
type BookHealth int

const (
	BookBad BookHealth = iota
	BookNormal
	BookGood
)

func (h BookHealth) String() string {
	switch h {
	case BookBad:
		return "BAD"
	case BookGood:
		return "GOOD"
	default:
		return "NORMAL"
	}
}

// Order is an exchange order handle.
type Order struct {
	ID            string
	ClientOrderID string
	Instrument    string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Volume        decimal.Decimal
	ExecutedVol   decimal.Decimal
	Status        OrderStatus
	CreatedAt     time.Time
}

// Filled reports whether the order is fully executed.
func (o *Order) Filled() bool {
	return o != nil && o.Status == OrderStatusDone
}

// IndicatorSnapshot is the derived technical state of the last candle.
// It is recomputed per evaluation and carries no history.
type IndicatorSnapshot struct {
	CurrentPrice decimal.Decimal
	RSILong      float64
	RSIShort     float64
	BBUpper      decimal.Decimal
	BBMid        decimal.Decimal
	BBLower      decimal.Decimal
	VWAP         decimal.Decimal
	IsOversold   bool
}

// Action is the decision class for one evaluation cycle. Exactly one action
// class is produced per instrument per cycle.
type Action string

const (
	ActionHold     Action = "HOLD"
	ActionBuy      Action = "BUY"
	ActionSellAll  Action = "SELL_ALL"
	ActionSellHalf Action = "SELL_HALF"
)

// Decision is the outcome of an entry evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Snapshot *IndicatorSnapshot
}

// TradeRecord is emitted for every executed action, consumed by the journal
// and alert collaborators.
type TradeRecord struct {
	Timestamp  time.Time
	Instrument string
	Action     Action
	Price      decimal.Decimal
	Snapshot   *IndicatorSnapshot
	ProfitPct  float64
	Reason     string
}
