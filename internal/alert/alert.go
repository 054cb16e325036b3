// Package alert fans trade notifications out to operator channels.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel is one delivery target. Implementations must be safe for
// concurrent Send calls.
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager dispatches alerts to all registered channels. Delivery is
// fire-and-forget: a slow or failing channel never blocks the decision loop.
type Manager struct {
	channels []Channel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alert"),
	}
}

// NewManagerFromConfig registers every channel the config enables.
func NewManagerFromConfig(cfg config.AlertConfig, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if cfg.SlackWebhookURL.Reveal() != "" {
		m.AddChannel(NewSlackChannel(cfg.SlackWebhookURL.Reveal()))
	}
	if cfg.TelegramBotToken.Reveal() != "" && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(cfg.TelegramBotToken.Reveal(), cfg.TelegramChatID))
	}
	return m
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("registered alert channel", "name", ch.Name())
}

// Alert sends to every channel in its own goroutine with a per-channel
// timeout. The caller is never blocked.
func (m *Manager) Alert(ctx context.Context, title, message string, level Level, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		go func(c Channel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				m.logger.Error("failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// NotifyTrade formats an executed action into an operator alert.
func (m *Manager) NotifyTrade(ctx context.Context, rec core.TradeRecord) {
	level := Info
	if rec.Action == core.ActionSellAll && rec.ProfitPct < 0 {
		level = Warning
	}

	fields := map[string]string{
		"instrument": rec.Instrument,
		"price":      rec.Price.String(),
		"reason":     rec.Reason,
	}
	if rec.Action != core.ActionBuy {
		fields["profit_pct"] = fmt.Sprintf("%.2f%%", rec.ProfitPct)
	}

	m.Alert(ctx, string(rec.Action), rec.Reason, level, fields)
}
