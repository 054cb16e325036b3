package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium_trader/internal/alert"
	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/internal/exchange/sim"
	"premium_trader/internal/execution"
	"premium_trader/internal/journal"
	"premium_trader/internal/logging"
	"premium_trader/internal/marketdata"
	"premium_trader/internal/risk"
	"premium_trader/internal/signal"
	"premium_trader/internal/ticks"
	"premium_trader/pkg/concurrency"
)

func engineStrategy() *config.StrategySnapshot {
	return &config.StrategySnapshot{
		Instruments:         map[string]string{"KRW-BTC": "btcusdt", "KRW-ETH": "ethusdt"},
		Followers:           []string{"KRW-ETH"},
		Leader:              "btcusdt",
		FxRate:              1450,
		RSIBuyThreshold:     30,
		RSIRelaxOffset:      10,
		MaxPremiumPct:       5,
		ReversePremiumPct:   -1,
		MaxTicksToBreakeven: 50,
		VWAPSupportFactor:   0.5,
		StopLossPct:         -1.5,
		TrailingStartPct:    0.5,
		TrailingDropPct:     0.3,
		PartialSellRatio:    0.5,
		PartialMinProfitPct: 0.5,
		VWAPStopFactor:      0.998,
		RSIPanicThreshold:   25,
		RSIOverbought:       70,
		SurgeThresholdPct:   0.5,
		SurgeWindowSec:      2,
	}
}

type harness struct {
	runner  *Runner
	sim     *sim.SimulatedExchange
	agg     *marketdata.Aggregator
	risk    *risk.Manager
	breaker *risk.CircuitBreaker
	journal *journal.MemoryJournal
	holder  *config.SnapshotHolder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NopLogger{}
	holder := config.NewSnapshotHolder(engineStrategy())

	exchange := sim.New(decimal.NewFromInt(10_000_000), decimal.NewFromFloat(0.0005))
	agg := marketdata.NewAggregator(holder, logger)
	table := ticks.DefaultKRW()

	signalEngine := signal.NewEngine(holder, exchange, table,
		decimal.NewFromFloat(0.0005), "1m", 40, logger)

	riskMgr := risk.NewManager(holder, config.RiskConfig{
		CostAllowancePct:     0.15,
		VWAPStopGraceSec:     60,
		RSIPanicGraceSec:     120,
		TimeStopAfterSec:     180,
		TimeStopMinProfitPct: 0.2,
		StopLossCooldownSec:  3600,
		VWAPStopCooldownSec:  1800,
		RSIPanicCooldownSec:  3600,
		TimeStopCooldownSec:  600,
	}, logger)

	breaker := risk.NewCircuitBreaker(risk.CircuitConfig{
		MaxConsecutiveLosses: 2,
		MaxDrawdownPct:       10,
		CooldownPeriod:       time.Minute,
	}, decimal.NewFromInt(10_000_000), logger)

	executor := execution.NewExecutor(exchange, agg, table, config.ExecutionConfig{
		BookDepth:         5,
		MaxAssetRatio:     0.5,
		MaxBookRatio:      0.5,
		BadAskRatio:       2.0,
		GoodBidRatio:      2.0,
		SpoofBidDominance: 2.0,
		SpoofWindowSec:    3,
		MinRecentBuyValue: 1_000_000,
		BuyFillWaitMS:     1,
		SellFillWaitMS:    1,
		ProfitRounds:      3,
		RateLimit:         10_000,
		RateBurst:         100,
	}, decimal.NewFromInt(5000), logger)

	mem := journal.NewMemory()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test"}, logger)
	t.Cleanup(pool.Stop)

	runner := NewRunner(Deps{
		Holder:   holder,
		Market:   agg,
		Signal:   signalEngine,
		Risk:     riskMgr,
		Breaker:  breaker,
		Executor: executor,
		Exchange: exchange,
		Journal:  mem,
		Alerts:   alert.NewManager(logger),
		Pool:     pool,
	}, config.TradingConfig{
		OrderAmount:    6000,
		MinOrderValue:  5000,
		LoopDelayMS:    10,
		CandleInterval: "1m",
		CandleCount:    40,
	}, "KRW", logger)

	return &harness{
		runner:  runner,
		sim:     exchange,
		agg:     agg,
		risk:    riskMgr,
		breaker: breaker,
		journal: mem,
		holder:  holder,
	}
}

func candleSeries(closes ...float64) []core.Candle {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := make([]core.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		candles[i] = core.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     d, High: d, Low: d, Close: d,
			Volume: decimal.NewFromInt(1),
		}
	}
	return candles
}

// Flat market, sharp capitulation, small bounce: oversold on every entry gate.
func oversoldSeries() []core.Candle {
	closes := make([]float64, 0, 30)
	for i := 0; i < 21; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 97, 94, 94, 94, 94, 88, 80, 70, 71)
	return candleSeries(closes...)
}

func bookAt(bid, ask, size float64) *core.OrderBook {
	return &core.OrderBook{
		Bids: []core.PriceLevel{{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromFloat(size)}},
		Asks: []core.PriceLevel{{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromFloat(size)}},
	}
}

func waitRecords(t *testing.T, mem *journal.MemoryJournal, n int) []core.TradeRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := mem.Records(); len(recs) >= n {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("journal never received %d records, have %d", n, len(mem.Records()))
	return nil
}

func TestCycle_OversoldEntry(t *testing.T) {
	h := newHarness(t)
	h.sim.SetCandles("KRW-BTC", oversoldSeries())
	h.sim.SetOrderBook("KRW-BTC", bookAt(70.99, 71.00, 1000))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(71))

	h.runner.Cycle(context.Background())

	pos, held := h.risk.Position("KRW-BTC")
	require.True(t, held)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromFloat(71.00)))

	recs := waitRecords(t, h.journal, 1)
	assert.Equal(t, core.ActionBuy, recs[0].Action)
	assert.Equal(t, "KRW-BTC", recs[0].Instrument)
	require.NotNil(t, recs[0].Snapshot)
	assert.Less(t, recs[0].Snapshot.RSILong, 30.0)
}

func TestCycle_NoEntryWhenNotOversold(t *testing.T) {
	h := newHarness(t)
	// Flat series, RSI pegs at 100.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	h.sim.SetCandles("KRW-BTC", candleSeries(closes...))
	h.sim.SetOrderBook("KRW-BTC", bookAt(99.99, 100.00, 1000))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(100))

	h.runner.Cycle(context.Background())

	_, held := h.risk.Position("KRW-BTC")
	assert.False(t, held)
	assert.Empty(t, h.journal.Records())
}

func TestCycle_StopLossExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Seed the sim holding so the sell ladder has something to sell.
	_, err := h.sim.PlaceLimitOrder(ctx, "KRW-BTC", core.SideBuy,
		decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05), "seed")
	require.NoError(t, err)
	h.risk.AdoptPosition("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05))

	h.sim.SetOrderBook("KRW-BTC", bookAt(97_990, 98_000, 10))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(98_000))

	h.runner.Cycle(ctx)

	_, held := h.risk.Position("KRW-BTC")
	assert.False(t, held)
	assert.True(t, h.risk.InCooldown("KRW-BTC"))

	recs := waitRecords(t, h.journal, 1)
	assert.Equal(t, core.ActionSellAll, recs[0].Action)
	assert.InDelta(t, -2.15, recs[0].ProfitPct, 0.01)
	assert.Contains(t, recs[0].Reason, "stop loss")

	// The loss registers with the circuit breaker.
	assert.True(t, h.breaker.TotalPnL().IsNegative())
}

func TestCycle_ExitFailureKeepsPosition(t *testing.T) {
	h := newHarness(t)

	// Position adopted in risk but the venue holds nothing: every sell fails.
	h.risk.AdoptPosition("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05))
	h.sim.SetOrderBook("KRW-BTC", bookAt(97_990, 98_000, 10))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(98_000))

	h.runner.Cycle(context.Background())

	_, held := h.risk.Position("KRW-BTC")
	assert.True(t, held)
	assert.False(t, h.risk.InCooldown("KRW-BTC"))
}

func TestCycle_CircuitBreakerHaltsEntriesNotExits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.breaker.RecordTrade(decimal.NewFromInt(-1000))
	h.breaker.RecordTrade(decimal.NewFromInt(-1000))
	require.True(t, h.breaker.IsTripped())

	// Entry-ready instrument.
	h.sim.SetCandles("KRW-BTC", oversoldSeries())
	h.sim.SetOrderBook("KRW-BTC", bookAt(70.99, 71.00, 1000))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(71))

	// Held instrument past its stop.
	_, err := h.sim.PlaceLimitOrder(ctx, "KRW-ETH", core.SideBuy,
		decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05), "seed")
	require.NoError(t, err)
	h.risk.AdoptPosition("KRW-ETH", decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05))
	h.sim.SetOrderBook("KRW-ETH", bookAt(97_990, 98_000, 10))
	h.agg.UpdateLocalPrice("KRW-ETH", decimal.NewFromInt(98_000))

	h.runner.Cycle(ctx)

	_, entered := h.risk.Position("KRW-BTC")
	assert.False(t, entered, "tripped breaker must block new entries")
	_, stillHeld := h.risk.Position("KRW-ETH")
	assert.False(t, stillHeld, "tripped breaker must not block exits")
}

func TestCycle_SurgeChasesFollowers(t *testing.T) {
	h := newHarness(t)

	// No oversold setup anywhere; only the leader surge drives the buy.
	h.sim.SetOrderBook("KRW-ETH", bookAt(1390, 1391, 1000))

	h.agg.UpdateReferencePrice("btcusdt", decimal.NewFromInt(100_000))
	h.agg.UpdateReferencePrice("btcusdt", decimal.NewFromInt(100_700))

	h.runner.Cycle(context.Background())

	pos, held := h.risk.Position("KRW-ETH")
	require.True(t, held)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(1391)))

	recs := waitRecords(t, h.journal, 1)
	assert.Equal(t, core.ActionBuy, recs[0].Action)
	assert.Contains(t, recs[0].Reason, "momentum surge")

	// Consumed surges do not re-fire.
	_, ok := h.agg.ConsumeSurge()
	assert.False(t, ok)
}

func TestCycle_SurgeSkipsHeldAndCooledFollowers(t *testing.T) {
	h := newHarness(t)

	h.risk.AdoptPosition("KRW-ETH", decimal.NewFromInt(1390), decimal.NewFromInt(1))
	h.agg.UpdateReferencePrice("btcusdt", decimal.NewFromInt(100_000))
	h.agg.UpdateReferencePrice("btcusdt", decimal.NewFromInt(100_700))

	h.runner.Cycle(context.Background())

	// Already held: no second buy, so the sim cash is untouched.
	assert.True(t, h.sim.Cash().Equal(decimal.NewFromInt(10_000_000)))
}

func TestCycle_CooldownBlocksEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Drive a stop-loss exit to arm the cooldown.
	_, err := h.sim.PlaceLimitOrder(ctx, "KRW-BTC", core.SideBuy,
		decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05), "seed")
	require.NoError(t, err)
	h.risk.AdoptPosition("KRW-BTC", decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05))
	h.sim.SetOrderBook("KRW-BTC", bookAt(97_990, 98_000, 10))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(98_000))
	h.runner.Cycle(ctx)
	require.True(t, h.risk.InCooldown("KRW-BTC"))

	// Now a perfect entry setup appears; the cooldown must win.
	h.sim.SetCandles("KRW-BTC", oversoldSeries())
	h.sim.SetOrderBook("KRW-BTC", bookAt(70.99, 71.00, 1000))
	h.agg.UpdateLocalPrice("KRW-BTC", decimal.NewFromInt(71))
	h.runner.Cycle(ctx)

	_, held := h.risk.Position("KRW-BTC")
	assert.False(t, held)
}

func TestAdoptPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sim.PlaceLimitOrder(ctx, "KRW-BTC", core.SideBuy,
		decimal.NewFromInt(100_000), decimal.NewFromFloat(0.05), "seed")
	require.NoError(t, err)

	h.runner.AdoptPositions(ctx)

	pos, held := h.risk.Position("KRW-BTC")
	require.True(t, held)
	assert.True(t, pos.Volume.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100_000)))

	_, ethHeld := h.risk.Position("KRW-ETH")
	assert.False(t, ethHeld)
}

func TestAdoptPositions_IgnoresDust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 0.00001 BTC at 100k is 1 KRW, far below the order minimum.
	_, err := h.sim.PlaceLimitOrder(ctx, "KRW-BTC", core.SideBuy,
		decimal.NewFromInt(100_000), decimal.NewFromFloat(0.00001), "seed")
	require.NoError(t, err)

	h.runner.AdoptPositions(ctx)

	_, held := h.risk.Position("KRW-BTC")
	assert.False(t, held)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
