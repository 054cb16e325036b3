package marketdata

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/pkg/websocket"
)

// LocalStream subscribes to the local exchange's ticker and trade
// channels and feeds the aggregator. When the strategy epoch changes it
// tears the connection down and resubscribes with the new instrument set.
type LocalStream struct {
	url    string
	holder *config.SnapshotHolder
	agg    *Aggregator
	logger core.ILogger

	reconnectWait time.Duration
	epochCheck    time.Duration
}

// NewLocalStream creates the local exchange stream task.
func NewLocalStream(url string, holder *config.SnapshotHolder, agg *Aggregator, logger core.ILogger) *LocalStream {
	return &LocalStream{
		url:           url,
		holder:        holder,
		agg:           agg,
		logger:        logger.WithField("component", "local_stream"),
		reconnectWait: 5 * time.Second,
		epochCheck:    2 * time.Second,
	}
}

// SetTimings overrides the reconnect and epoch-check intervals.
func (s *LocalStream) SetTimings(reconnectWait, epochCheck time.Duration) {
	s.reconnectWait = reconnectWait
	s.epochCheck = epochCheck
}

// Run blocks until ctx is cancelled, maintaining one subscription per
// strategy epoch.
func (s *LocalStream) Run(ctx context.Context) error {
	for {
		snap := s.holder.Load()
		if err := s.runEpoch(ctx, snap); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *LocalStream) runEpoch(ctx context.Context, snap *config.StrategySnapshot) error {
	codes := snap.LocalCodes()
	s.logger.Info("Subscribing to local exchange", "codes", codes, "epoch", snap.Epoch)

	client := websocket.NewClient("local", s.url, s.handleMessage, s.logger)
	client.SetReconnectWait(s.reconnectWait)
	client.SetOnConnected(func() {
		sub := []interface{}{
			map[string]string{"ticket": uuid.NewString()},
			map[string]interface{}{"type": "ticker", "codes": codes},
			map[string]interface{}{"type": "trade", "codes": codes},
		}
		if err := client.Send(sub); err != nil {
			s.logger.Error("Local subscription send failed", "error", err)
		}
	})

	client.Start()
	defer client.Stop()

	ticker := time.NewTicker(s.epochCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.holder.Load().Epoch != snap.Epoch {
				s.logger.Info("Strategy epoch changed, resubscribing local stream",
					"old_epoch", snap.Epoch, "new_epoch", s.holder.Load().Epoch)
				return nil
			}
		}
	}
}

func (s *LocalStream) handleMessage(message []byte) {
	if !gjson.ValidBytes(message) {
		s.logger.Warn("Dropping malformed local message")
		return
	}

	msgType := gjson.GetBytes(message, "type").Str
	code := gjson.GetBytes(message, "code").Str
	if code == "" {
		return
	}

	switch msgType {
	case "ticker":
		price, err := decimal.NewFromString(gjson.GetBytes(message, "trade_price").Raw)
		if err != nil || price.Sign() <= 0 {
			return
		}
		s.agg.UpdateLocalPrice(code, price)

	case "trade":
		price, err := decimal.NewFromString(gjson.GetBytes(message, "trade_price").Raw)
		if err != nil || price.Sign() <= 0 {
			return
		}
		volume, err := decimal.NewFromString(gjson.GetBytes(message, "trade_volume").Raw)
		if err != nil {
			return
		}

		side := core.SideSell
		if gjson.GetBytes(message, "ask_bid").Str == "BID" {
			side = core.SideBuy
		}

		ts := time.Now()
		if ms := gjson.GetBytes(message, "trade_timestamp").Int(); ms > 0 {
			ts = time.UnixMilli(ms)
		}

		s.agg.AppendTrade(code, core.Trade{
			Timestamp: ts,
			Price:     price,
			Volume:    volume,
			Side:      side,
		})
	}
}
