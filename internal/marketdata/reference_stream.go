package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/pkg/websocket"
)

// ReferenceStream consumes the reference exchange's combined ticker
// stream. The subscription set is encoded in the URL, so an epoch
// change means reconnecting with a freshly built URL.
type ReferenceStream struct {
	baseURL string
	holder  *config.SnapshotHolder
	agg     *Aggregator
	logger  core.ILogger

	reconnectWait time.Duration
	epochCheck    time.Duration
}

// NewReferenceStream creates the reference exchange stream task.
// baseURL is the host part, e.g. "wss://stream.binance.com:9443".
func NewReferenceStream(baseURL string, holder *config.SnapshotHolder, agg *Aggregator, logger core.ILogger) *ReferenceStream {
	return &ReferenceStream{
		baseURL:       baseURL,
		holder:        holder,
		agg:           agg,
		logger:        logger.WithField("component", "reference_stream"),
		reconnectWait: 5 * time.Second,
		epochCheck:    2 * time.Second,
	}
}

// SetTimings overrides the reconnect and epoch-check intervals.
func (s *ReferenceStream) SetTimings(reconnectWait, epochCheck time.Duration) {
	s.reconnectWait = reconnectWait
	s.epochCheck = epochCheck
}

// Run blocks until ctx is cancelled.
func (s *ReferenceStream) Run(ctx context.Context) error {
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

func (s *ReferenceStream) runEpoch(ctx context.Context, snap *config.StrategySnapshot) error {
	url := s.streamURL(snap)
	s.logger.Info("Connecting to reference exchange", "url", url, "epoch", snap.Epoch)

	client := websocket.NewClient("reference", url, s.handleMessage, s.logger)
	client.SetReconnectWait(s.reconnectWait)

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
				s.logger.Info("Strategy epoch changed, reconnecting reference stream",
					"old_epoch", snap.Epoch, "new_epoch", s.holder.Load().Epoch)
				return nil
			}
		}
	}
}

func (s *ReferenceStream) streamURL(snap *config.StrategySnapshot) string {
	symbols := snap.ReferenceSymbols()
	parts := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		parts = append(parts, strings.ToLower(sym)+"@ticker")
	}
	return s.baseURL + "/stream?streams=" + strings.Join(parts, "/")
}

func (s *ReferenceStream) handleMessage(message []byte) {
	if !gjson.ValidBytes(message) {
		s.logger.Warn("Dropping malformed reference message")
		return
	}

	stream := gjson.GetBytes(message, "stream").Str
	symbol, _, found := strings.Cut(stream, "@")
	if !found {
		return
	}

	price, err := decimal.NewFromString(gjson.GetBytes(message, "data.c").Str)
	if err != nil || price.Sign() <= 0 {
		return
	}

	s.agg.UpdateReferencePrice(symbol, price)
}
