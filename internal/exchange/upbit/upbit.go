// Package upbit provides the live exchange adapter for the local venue.
package upbit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	apperrors "premium_trader/pkg/errors"
	httpclient "premium_trader/pkg/http"
)

const defaultBaseURL = "https://api.upbit.com"

// Exchange implements core.IExchange against the venue's REST API.
type Exchange struct {
	client *httpclient.Client
	logger core.ILogger
}

var _ core.IExchange = (*Exchange)(nil)

// New creates a live exchange client.
func New(cfg config.ExchangeConfig, logger core.ILogger) *Exchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Without keys the client can still serve the public market data
	// endpoints, which is what paper runs feed on.
	var signer httpclient.Signer
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		signer = NewSigner(cfg.AccessKey, cfg.SecretKey)
	}
	return &Exchange{
		client: httpclient.NewClient(baseURL, 10*time.Second, signer),
		logger: logger.WithField("component", "upbit"),
	}
}

func (e *Exchange) GetName() string { return "upbit" }

func (e *Exchange) CheckHealth(ctx context.Context) error {
	_, err := e.client.Get(ctx, "/v1/accounts", nil)
	return err
}

func (e *Exchange) GetOrderBook(ctx context.Context, instrument string, depth int) (*core.OrderBook, error) {
	body, err := e.client.Get(ctx, "/v1/orderbook", map[string]string{"markets": instrument})
	if err != nil {
		return nil, fmt.Errorf("fetch orderbook: %w", err)
	}

	units := gjson.GetBytes(body, "0.orderbook_units")
	if !units.Exists() {
		return nil, fmt.Errorf("%w: empty orderbook for %s", apperrors.ErrInvalidInstrument, instrument)
	}

	book := &core.OrderBook{Instrument: instrument}
	units.ForEach(func(_, unit gjson.Result) bool {
		if len(book.Bids) >= depth {
			return false
		}
		book.Bids = append(book.Bids, core.PriceLevel{
			Price: decimal.NewFromFloat(unit.Get("bid_price").Float()),
			Size:  decimal.NewFromFloat(unit.Get("bid_size").Float()),
		})
		book.Asks = append(book.Asks, core.PriceLevel{
			Price: decimal.NewFromFloat(unit.Get("ask_price").Float()),
			Size:  decimal.NewFromFloat(unit.Get("ask_size").Float()),
		})
		return true
	})
	return book, nil
}

func (e *Exchange) GetCandles(ctx context.Context, instrument, interval string, count int) ([]core.Candle, error) {
	unit := strings.TrimSuffix(interval, "m")
	body, err := e.client.Get(ctx, "/v1/candles/minutes/"+unit, map[string]string{
		"market": instrument,
		"count":  fmt.Sprintf("%d", count),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	rows := gjson.ParseBytes(body).Array()
	// The API returns newest first; indicators want oldest first.
	candles := make([]core.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		openTime, _ := time.Parse("2006-01-02T15:04:05", row.Get("candle_date_time_utc").Str)
		candles = append(candles, core.Candle{
			OpenTime: openTime,
			Open:     decimal.NewFromFloat(row.Get("opening_price").Float()),
			High:     decimal.NewFromFloat(row.Get("high_price").Float()),
			Low:      decimal.NewFromFloat(row.Get("low_price").Float()),
			Close:    decimal.NewFromFloat(row.Get("trade_price").Float()),
			Volume:   decimal.NewFromFloat(row.Get("candle_acc_trade_volume").Float()),
		})
	}
	return candles, nil
}

func (e *Exchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	body, err := e.client.Get(ctx, "/v1/accounts", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch accounts: %w", err)
	}

	balance := decimal.Zero
	gjson.ParseBytes(body).ForEach(func(_, acc gjson.Result) bool {
		if acc.Get("currency").Str == asset {
			balance, _ = decimal.NewFromString(acc.Get("balance").Str)
			return false
		}
		return true
	})
	return balance, nil
}

func (e *Exchange) GetHolding(ctx context.Context, instrument string) (decimal.Decimal, decimal.Decimal, error) {
	asset := assetOf(instrument)
	if asset == "" {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrInvalidInstrument, instrument)
	}

	body, err := e.client.Get(ctx, "/v1/accounts", nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch accounts: %w", err)
	}

	volume, avgPrice := decimal.Zero, decimal.Zero
	gjson.ParseBytes(body).ForEach(func(_, acc gjson.Result) bool {
		if acc.Get("currency").Str == asset {
			volume, _ = decimal.NewFromString(acc.Get("balance").Str)
			avgPrice, _ = decimal.NewFromString(acc.Get("avg_buy_price").Str)
			return false
		}
		return true
	})
	return volume, avgPrice, nil
}

func (e *Exchange) PlaceLimitOrder(ctx context.Context, instrument string, side core.Side, price, volume decimal.Decimal, clientOrderID string) (*core.Order, error) {
	body, err := e.client.Post(ctx, "/v1/orders", map[string]string{
		"market":     instrument,
		"side":       sideParam(side),
		"ord_type":   "limit",
		"price":      price.String(),
		"volume":     volume.String(),
		"identifier": clientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("place limit order: %w", err)
	}
	return parseOrder(body), nil
}

func (e *Exchange) PlaceMarketSell(ctx context.Context, instrument string, volume decimal.Decimal, clientOrderID string) (*core.Order, error) {
	body, err := e.client.Post(ctx, "/v1/orders", map[string]string{
		"market":     instrument,
		"side":       "ask",
		"ord_type":   "market",
		"volume":     volume.String(),
		"identifier": clientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("place market sell: %w", err)
	}
	return parseOrder(body), nil
}

func (e *Exchange) CancelOrder(ctx context.Context, orderID string) error {
	_, err := e.client.Delete(ctx, "/v1/order", map[string]string{"uuid": orderID})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (e *Exchange) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	body, err := e.client.Get(ctx, "/v1/order", map[string]string{"uuid": orderID})
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return parseOrder(body), nil
}

func parseOrder(body []byte) *core.Order {
	root := gjson.ParseBytes(body)

	price, _ := decimal.NewFromString(root.Get("price").Str)
	volume, _ := decimal.NewFromString(root.Get("volume").Str)
	executed, _ := decimal.NewFromString(root.Get("executed_volume").Str)
	createdAt, _ := time.Parse(time.RFC3339, root.Get("created_at").Str)

	side := core.SideSell
	if root.Get("side").Str == "bid" {
		side = core.SideBuy
	}
	typ := core.OrderTypeMarket
	if root.Get("ord_type").Str == "limit" {
		typ = core.OrderTypeLimit
	}

	return &core.Order{
		ID:            root.Get("uuid").Str,
		ClientOrderID: root.Get("identifier").Str,
		Instrument:    root.Get("market").Str,
		Side:          side,
		Type:          typ,
		Price:         price,
		Volume:        volume,
		ExecutedVol:   executed,
		Status:        mapOrderState(root.Get("state").Str),
		CreatedAt:     createdAt,
	}
}

func mapOrderState(state string) core.OrderStatus {
	switch state {
	case "done":
		return core.OrderStatusDone
	case "cancel":
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusWait
	}
}

func sideParam(side core.Side) string {
	if side == core.SideBuy {
		return "bid"
	}
	return "ask"
}

// assetOf extracts the base asset from a market code like "KRW-BTC".
func assetOf(instrument string) string {
	_, asset, found := strings.Cut(instrument, "-")
	if !found {
		return ""
	}
	return asset
}
