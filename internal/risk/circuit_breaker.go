package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"premium_trader/internal/core"
	"premium_trader/pkg/telemetry"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

// CircuitConfig bounds total damage before trading halts.
type CircuitConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdownPct       float64 // percent of initial equity
	CooldownPeriod       time.Duration
}

// CircuitBreaker is the global kill switch. It watches realized PnL
// against the equity the process started with; once open, no new
// entries are taken until the cooldown passes or Reset is called.
// Open positions are still managed to exit.
type CircuitBreaker struct {
	mu                sync.RWMutex
	state             CircuitState
	config            CircuitConfig
	initialEquity     decimal.Decimal
	consecutiveLosses int
	totalPnL          decimal.Decimal
	lastTripped       time.Time
	tripReason        string
	logger            core.ILogger
}

func NewCircuitBreaker(config CircuitConfig, initialEquity decimal.Decimal, logger core.ILogger) *CircuitBreaker {
	return &CircuitBreaker{
		state:         CircuitClosed,
		config:        config,
		initialEquity: initialEquity,
		logger:        logger.WithField("component", "circuit_breaker"),
	}
}

// RecordTrade feeds one realized PnL figure into the breaker.
func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}

	cb.totalPnL = cb.totalPnL.Add(pnl)

	cb.checkThresholds()
}

func (cb *CircuitBreaker) checkThresholds() {
	if cb.state == CircuitOpen {
		return
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip("max consecutive losses reached")
		return
	}

	if cb.config.MaxDrawdownPct > 0 && !cb.initialEquity.IsZero() {
		lossPct, _ := cb.totalPnL.Neg().Div(cb.initialEquity).Mul(decimal.NewFromInt(100)).Float64()
		if lossPct >= cb.config.MaxDrawdownPct {
			cb.trip("max drawdown percent reached")
			return
		}
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.state = CircuitOpen
	cb.lastTripped = time.Now()
	cb.tripReason = reason
	cb.logger.Error("Circuit breaker tripped", "reason", reason, "total_pnl", cb.totalPnL.String())

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
}

// IsTripped reports the breaker state, auto-resetting after the
// cooldown if one is configured.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.config.CooldownPeriod > 0 && time.Since(cb.lastTripped) > cb.config.CooldownPeriod {
			cb.state = CircuitClosed
			cb.consecutiveLosses = 0
			cb.totalPnL = decimal.Zero
			telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
			return false
		}
		return true
	}
	return false
}

// Reset closes the breaker and clears accumulated state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveLosses = 0
	cb.totalPnL = decimal.Zero
	cb.tripReason = ""

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
}

// TripReason returns why the breaker opened, if it is open.
func (cb *CircuitBreaker) TripReason() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripReason
}

// TotalPnL returns realized PnL accumulated since start or last reset.
func (cb *CircuitBreaker) TotalPnL() decimal.Decimal {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.totalPnL
}
