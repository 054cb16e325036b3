// Package risk owns per-position exit decisions and the global
// drawdown circuit breaker. Positions move NONE -> HELD ->
// (HELD_PARTIAL) -> NONE; closing for a risk reason starts a cooldown
// that blocks re-entry on that instrument.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
)

// Position is one open holding.
type Position struct {
	Instrument   string
	EntryPrice   decimal.Decimal
	Volume       decimal.Decimal
	EntryTime    time.Time
	TrailingHigh float64 // best net profit % seen, starts at -100
	PartialSold  bool
}

// ExitDecision is the outcome of one CheckExit evaluation. A non-zero
// Cooldown marks a loss-containment exit; profitable exits carry none.
type ExitDecision struct {
	Action       core.Action
	Reason       string
	Cooldown     time.Duration
	NetProfitPct float64
}

// IsLossExit reports whether the exit was taken for loss containment.
func (d ExitDecision) IsLossExit() bool {
	return d.Action == core.ActionSellAll && d.Cooldown > 0
}

// Manager tracks positions and cooldowns. The decision loop is the only
// writer; the mutex guards against reads from health or status probes.
type Manager struct {
	holder *config.SnapshotHolder
	cfg    config.RiskConfig
	logger core.ILogger

	mu        sync.Mutex
	positions map[string]*Position
	cooldowns map[string]time.Time

	now func() time.Time
}

// NewManager creates an empty position manager.
func NewManager(holder *config.SnapshotHolder, cfg config.RiskConfig, logger core.ILogger) *Manager {
	return &Manager{
		holder:    holder,
		cfg:       cfg,
		logger:    logger.WithField("component", "risk"),
		positions: make(map[string]*Position),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// RegisterBuy opens a position: NONE -> HELD.
func (m *Manager) RegisterBuy(instrument string, entryPrice, volume decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[instrument] = &Position{
		Instrument:   instrument,
		EntryPrice:   entryPrice,
		Volume:       volume,
		EntryTime:    m.now(),
		TrailingHigh: -100,
	}
	m.logger.Info("Position opened", "instrument", instrument, "entry", entryPrice.String(), "volume", volume.String())
}

// AdoptPosition registers a holding discovered on the exchange at
// startup. The entry time is set to now, so age-based stops restart.
func (m *Manager) AdoptPosition(instrument string, avgPrice, volume decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[instrument] = &Position{
		Instrument:   instrument,
		EntryPrice:   avgPrice,
		Volume:       volume,
		EntryTime:    m.now(),
		TrailingHigh: -100,
	}
	m.logger.Info("Position adopted from exchange", "instrument", instrument, "avg_price", avgPrice.String(), "volume", volume.String())
}

// Position returns a copy of the open position, if any.
func (m *Manager) Position(instrument string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenPositions returns the number of currently held instruments.
func (m *Manager) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// InCooldown reports whether the instrument is blocked from re-entry.
func (m *Manager) InCooldown(instrument string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.cooldowns[instrument]
	if !ok {
		return false
	}
	if m.now().Before(until) {
		return true
	}
	delete(m.cooldowns, instrument)
	return false
}

// CheckExit runs the exit rules in priority order. Loss-containment
// rules come before profit-taking ones, so simultaneous stop and
// take-profit conditions always resolve to the stop. SELL_HALF marks
// the position partial-sold immediately, so a repeat call cannot
// produce a second half-sell.
func (m *Manager) CheckExit(instrument string, price decimal.Decimal, ind *core.IndicatorSnapshot) ExitDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[instrument]
	if !ok {
		return ExitDecision{Action: core.ActionHold, Reason: "no position"}
	}

	snap := m.holder.Load()
	now := m.now()
	age := now.Sub(pos.EntryTime)

	rawPct := rawProfitPct(price, pos.EntryPrice)
	netPct := rawPct - m.cfg.CostAllowancePct
	if netPct > pos.TrailingHigh {
		pos.TrailingHigh = netPct
	}

	hold := func(reason string) ExitDecision {
		return ExitDecision{Action: core.ActionHold, Reason: reason, NetProfitPct: netPct}
	}

	if netPct <= snap.StopLossPct {
		return ExitDecision{
			Action:       core.ActionSellAll,
			Reason:       fmt.Sprintf("stop loss: net %.2f%% <= %.2f%%", netPct, snap.StopLossPct),
			Cooldown:     time.Duration(m.cfg.StopLossCooldownSec) * time.Second,
			NetProfitPct: netPct,
		}
	}

	if ind != nil {
		vwapGrace := time.Duration(m.cfg.VWAPStopGraceSec) * time.Second
		if age > vwapGrace && price.LessThan(ind.VWAP.Mul(decimal.NewFromFloat(snap.VWAPStopFactor))) {
			return ExitDecision{
				Action:       core.ActionSellAll,
				Reason:       fmt.Sprintf("VWAP breakdown: price %s below support", price.String()),
				Cooldown:     time.Duration(m.cfg.VWAPStopCooldownSec) * time.Second,
				NetProfitPct: netPct,
			}
		}

		panicGrace := time.Duration(m.cfg.RSIPanicGraceSec) * time.Second
		if age > panicGrace && ind.RSILong < snap.RSIPanicThreshold {
			return ExitDecision{
				Action:       core.ActionSellAll,
				Reason:       fmt.Sprintf("RSI panic: %.1f < %.1f", ind.RSILong, snap.RSIPanicThreshold),
				Cooldown:     time.Duration(m.cfg.RSIPanicCooldownSec) * time.Second,
				NetProfitPct: netPct,
			}
		}
	}

	if age > time.Duration(m.cfg.TimeStopAfterSec)*time.Second && netPct < m.cfg.TimeStopMinProfitPct {
		return ExitDecision{
			Action:       core.ActionSellAll,
			Reason:       fmt.Sprintf("time stop: %.0fs held, net %.2f%%", age.Seconds(), netPct),
			Cooldown:     time.Duration(m.cfg.TimeStopCooldownSec) * time.Second,
			NetProfitPct: netPct,
		}
	}

	if pos.TrailingHigh >= snap.TrailingStartPct && netPct <= pos.TrailingHigh-snap.TrailingDropPct {
		return ExitDecision{
			Action:       core.ActionSellAll,
			Reason:       fmt.Sprintf("trailing stop: peak %.2f%%, now %.2f%%", pos.TrailingHigh, netPct),
			NetProfitPct: netPct,
		}
	}

	if !pos.PartialSold && ind != nil &&
		price.GreaterThanOrEqual(ind.BBMid) && netPct > snap.PartialMinProfitPct {
		pos.PartialSold = true
		return ExitDecision{
			Action:       core.ActionSellHalf,
			Reason:       fmt.Sprintf("partial take-profit at mid band, net %.2f%%", netPct),
			NetProfitPct: netPct,
		}
	}

	if ind != nil && (price.GreaterThanOrEqual(ind.BBUpper) || ind.RSILong >= snap.RSIOverbought) {
		return ExitDecision{
			Action:       core.ActionSellAll,
			Reason:       fmt.Sprintf("take-profit: upper band or RSI %.1f overbought", ind.RSILong),
			NetProfitPct: netPct,
		}
	}

	return hold("holding")
}

// ConfirmExit applies the decision after the executor has completed it:
// removes or halves the position and arms the cooldown.
func (m *Manager) ConfirmExit(instrument string, decision ExitDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[instrument]
	if !ok {
		return
	}

	switch decision.Action {
	case core.ActionSellAll:
		delete(m.positions, instrument)
		if decision.Cooldown > 0 {
			m.cooldowns[instrument] = m.now().Add(decision.Cooldown)
		}
		m.logger.Info("Position closed", "instrument", instrument, "reason", decision.Reason, "net_pct", decision.NetProfitPct)
	case core.ActionSellHalf:
		ratio := decimal.NewFromFloat(m.holder.Load().PartialSellRatio)
		sold := pos.Volume.Mul(ratio)
		pos.Volume = pos.Volume.Sub(sold)
		m.logger.Info("Position reduced", "instrument", instrument, "sold", sold.String(), "remaining", pos.Volume.String())
	}
}

func rawProfitPct(price, entry decimal.Decimal) float64 {
	if entry.IsZero() {
		return 0
	}
	pct, _ := price.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
