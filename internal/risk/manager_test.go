package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/logging"
)

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		CostAllowancePct:     0.15,
		VWAPStopGraceSec:     60,
		RSIPanicGraceSec:     120,
		TimeStopAfterSec:     180,
		TimeStopMinProfitPct: 0.2,
		StopLossCooldownSec:  3600,
		VWAPStopCooldownSec:  1800,
		RSIPanicCooldownSec:  3600,
		TimeStopCooldownSec:  600,
	}
}

func riskSnapshot() *config.StrategySnapshot {
	return &config.StrategySnapshot{
		Instruments:         map[string]string{"KRW-BTC": "btcusdt"},
		FxRate:              1450,
		StopLossPct:         -1.5,
		TrailingStartPct:    0.5,
		TrailingDropPct:     0.3,
		PartialSellRatio:    0.5,
		PartialMinProfitPct: 0.5,
		VWAPStopFactor:      0.998,
		RSIPanicThreshold:   25,
		RSIOverbought:       70,
	}
}

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(config.NewSnapshotHolder(riskSnapshot()), riskConfig(), logging.NopLogger{})
	m.now = func() time.Time { return now }
	return m, &now
}

// healthyInd is a snapshot that triggers none of the indicator rules.
func healthyInd(price decimal.Decimal) *core.IndicatorSnapshot {
	return &core.IndicatorSnapshot{
		CurrentPrice: price,
		RSILong:      50,
		RSIShort:     55,
		BBUpper:      price.Mul(decimal.NewFromFloat(1.10)),
		BBMid:        price.Mul(decimal.NewFromFloat(1.05)),
		BBLower:      price.Mul(decimal.NewFromFloat(0.90)),
		VWAP:         price,
	}
}

func TestCheckExit_NoPosition(t *testing.T) {
	m, _ := newTestManager(t)

	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(100), nil)
	assert.Equal(t, core.ActionHold, d.Action)
}

func TestCheckExit_StopLoss(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Raw -1.4%, net -1.55% after the 0.15% cost allowance.
	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(98_600), nil)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "stop loss")
	assert.Equal(t, time.Hour, d.Cooldown)
	assert.True(t, d.IsLossExit())
}

func TestCheckExit_StopLossBeatsTakeProfitOrdering(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Indicator snapshot that would scream take-profit, but price is at
	// the stop. Loss containment must win.
	price := decimal.NewFromInt(98_000)
	ind := &core.IndicatorSnapshot{
		CurrentPrice: price,
		RSILong:      95,
		BBUpper:      decimal.NewFromInt(90_000),
		BBMid:        decimal.NewFromInt(80_000),
		VWAP:         decimal.NewFromInt(1),
	}
	d := m.CheckExit("KRW-BTC", price, ind)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "stop loss")
}

func TestCheckExit_VWAPBreakdownRespectsGrace(t *testing.T) {
	m, now := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	price := decimal.NewFromInt(99_500)
	ind := healthyInd(price)
	ind.VWAP = decimal.NewFromInt(101_000) // price < vwap * 0.998

	// Inside the 60s grace window the rule is suppressed.
	*now = now.Add(30 * time.Second)
	d := m.CheckExit("KRW-BTC", price, ind)
	assert.Equal(t, core.ActionHold, d.Action)

	// Past the grace window it fires with the medium cooldown.
	*now = now.Add(40 * time.Second)
	d = m.CheckExit("KRW-BTC", price, ind)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "VWAP breakdown")
	assert.Equal(t, 30*time.Minute, d.Cooldown)
}

func TestCheckExit_RSIPanicUsesLongerGrace(t *testing.T) {
	m, now := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	price := decimal.NewFromInt(100_000)
	ind := healthyInd(price)
	ind.RSILong = 20

	// After the VWAP grace but before the RSI panic grace: no exit.
	*now = now.Add(90 * time.Second)
	d := m.CheckExit("KRW-BTC", price, ind)
	assert.Equal(t, core.ActionHold, d.Action)

	*now = now.Add(60 * time.Second)
	d = m.CheckExit("KRW-BTC", price, ind)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "RSI panic")
	assert.Equal(t, time.Hour, d.Cooldown)
}

func TestCheckExit_TimeStop(t *testing.T) {
	m, now := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Stalled position: raw +0.3%, net +0.15%, below the 0.2% progress bar.
	price := decimal.NewFromInt(100_300)

	*now = now.Add(181 * time.Second)
	d := m.CheckExit("KRW-BTC", price, nil)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "time stop")
	assert.Equal(t, 10*time.Minute, d.Cooldown)
}

func TestCheckExit_TimeStopSparesProgressingPosition(t *testing.T) {
	m, now := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Raw +0.4%, net +0.25% > 0.2%: old but progressing, keep holding.
	price := decimal.NewFromInt(100_400)

	*now = now.Add(181 * time.Second)
	d := m.CheckExit("KRW-BTC", price, nil)
	assert.Equal(t, core.ActionHold, d.Action)
}

func TestCheckExit_TrailingStop(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Run up to raw +0.8% (net +0.65%), arming the trailing stop.
	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(100_800), nil)
	assert.Equal(t, core.ActionHold, d.Action)

	// Retrace to raw +0.4% (net +0.25%): drop of 0.4 > 0.3 fires.
	d = m.CheckExit("KRW-BTC", decimal.NewFromInt(100_400), nil)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "trailing stop")
	assert.Equal(t, time.Duration(0), d.Cooldown)
	assert.False(t, d.IsLossExit())
}

func TestCheckExit_TrailingNotArmedBelowStart(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	// Peak net +0.25% never reaches the 0.5% activation level.
	_ = m.CheckExit("KRW-BTC", decimal.NewFromInt(100_400), nil)
	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(100_000), nil)
	assert.Equal(t, core.ActionHold, d.Action)
}

func TestCheckExit_PartialTakeProfitOnce(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(2))

	// Raw +1.0%, net +0.85%; price at the mid band.
	price := decimal.NewFromInt(101_000)
	ind := healthyInd(price)
	ind.BBMid = price
	ind.BBUpper = decimal.NewFromInt(105_000)

	d := m.CheckExit("KRW-BTC", price, ind)
	require.Equal(t, core.ActionSellHalf, d.Action)

	m.ConfirmExit("KRW-BTC", d)
	pos, ok := m.Position("KRW-BTC")
	require.True(t, ok)
	assert.True(t, pos.Volume.Equal(decimal.NewFromInt(1)))
	assert.True(t, pos.PartialSold)

	// Same conditions again must not half-sell a second time. The
	// trailing high was updated, so freeze the price to avoid the
	// trailing stop and verify no SELL_HALF repeats.
	d = m.CheckExit("KRW-BTC", price, ind)
	assert.NotEqual(t, core.ActionSellHalf, d.Action)
}

func TestCheckExit_FinalTakeProfitUpperBand(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	price := decimal.NewFromInt(100_200)
	ind := healthyInd(price)
	ind.BBUpper = price
	ind.BBMid = decimal.NewFromInt(200_000) // keep partial rule quiet

	d := m.CheckExit("KRW-BTC", price, ind)
	require.Equal(t, core.ActionSellAll, d.Action)
	assert.Contains(t, d.Reason, "take-profit")
	assert.Equal(t, time.Duration(0), d.Cooldown)
}

func TestConfirmExit_CooldownGatesReentry(t *testing.T) {
	m, now := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(98_000), nil)
	require.Equal(t, core.ActionSellAll, d.Action)
	m.ConfirmExit("KRW-BTC", d)

	_, held := m.Position("KRW-BTC")
	assert.False(t, held)

	// Blocked one instant before expiry, free one instant after.
	*now = now.Add(time.Hour - time.Second)
	assert.True(t, m.InCooldown("KRW-BTC"))
	*now = now.Add(2 * time.Second)
	assert.False(t, m.InCooldown("KRW-BTC"))
}

func TestConfirmExit_ProfitExitHasNoCooldown(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterBuy("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromInt(1))

	_ = m.CheckExit("KRW-BTC", decimal.NewFromInt(100_800), nil)
	d := m.CheckExit("KRW-BTC", decimal.NewFromInt(100_400), nil)
	require.Equal(t, core.ActionSellAll, d.Action)

	m.ConfirmExit("KRW-BTC", d)
	assert.False(t, m.InCooldown("KRW-BTC"))
}

func TestAdoptPosition(t *testing.T) {
	m, _ := newTestManager(t)

	m.AdoptPosition("KRW-BTC", decimal.NewFromInt(95_000), decimal.NewFromFloat(0.5))

	pos, ok := m.Position("KRW-BTC")
	require.True(t, ok)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(95_000)))
	assert.Equal(t, float64(-100), pos.TrailingHigh)
	assert.False(t, pos.PartialSold)
}
