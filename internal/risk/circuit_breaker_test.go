package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"premium_trader/internal/logging"
)

func TestCircuitBreaker_ConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxConsecutiveLosses: 3,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	cb.RecordTrade(decimal.NewFromInt(-100))
	cb.RecordTrade(decimal.NewFromInt(-100))
	assert.False(t, cb.IsTripped())

	cb.RecordTrade(decimal.NewFromInt(-100))
	assert.True(t, cb.IsTripped())
	assert.Contains(t, cb.TripReason(), "consecutive losses")
}

func TestCircuitBreaker_WinResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxConsecutiveLosses: 3,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	cb.RecordTrade(decimal.NewFromInt(-100))
	cb.RecordTrade(decimal.NewFromInt(-100))
	cb.RecordTrade(decimal.NewFromInt(50))
	cb.RecordTrade(decimal.NewFromInt(-100))
	cb.RecordTrade(decimal.NewFromInt(-100))

	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_DrawdownPercent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxDrawdownPct: 5.0,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	// 4% down: still trading.
	cb.RecordTrade(decimal.NewFromInt(-400_000))
	assert.False(t, cb.IsTripped())

	// 5.5% down: halt.
	cb.RecordTrade(decimal.NewFromInt(-150_000))
	assert.True(t, cb.IsTripped())
	assert.Contains(t, cb.TripReason(), "drawdown")
}

func TestCircuitBreaker_ProfitNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxConsecutiveLosses: 1,
		MaxDrawdownPct:       1.0,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	for i := 0; i < 10; i++ {
		cb.RecordTrade(decimal.NewFromInt(1000))
	}
	assert.False(t, cb.IsTripped())
	assert.True(t, cb.TotalPnL().Equal(decimal.NewFromInt(10_000)))
}

func TestCircuitBreaker_CooldownAutoReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxConsecutiveLosses: 1,
		CooldownPeriod:       10 * time.Millisecond,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	cb.RecordTrade(decimal.NewFromInt(-1))
	assert.True(t, cb.IsTripped())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{
		MaxConsecutiveLosses: 1,
	}, decimal.NewFromInt(10_000_000), logging.NopLogger{})

	cb.RecordTrade(decimal.NewFromInt(-1))
	assert.True(t, cb.IsTripped())

	cb.Reset()
	assert.False(t, cb.IsTripped())
	assert.True(t, cb.TotalPnL().IsZero())
}
