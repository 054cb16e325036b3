package ticks

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestTickSize_Bands(t *testing.T) {
	table := DefaultKRW()

	cases := []struct {
		price float64
		tick  float64
	}{
		{2_500_000, 1000},
		{2_000_000, 1000},
		{1_500_000, 500},
		{750_000, 100},
		{150_000, 50},
		{50_000, 10},
		{5_000, 0.5},
		{500, 0.1},
		{50, 0.01},
		{5, 0.0001},
		{0.3, 0.0001},
	}
	for _, c := range cases {
		got := table.TickSize(d(c.price))
		assert.True(t, got.Equal(d(c.tick)), "price %v: want tick %v, got %v", c.price, c.tick, got)
	}
}

func TestTickSize_ConstantWithinBand(t *testing.T) {
	table := DefaultKRW()
	// Prices inside the same band share one tick size.
	assert.True(t, table.TickSize(d(100_000)).Equal(table.TickSize(d(499_999))))
	assert.True(t, table.TickSize(d(10_000)).Equal(table.TickSize(d(99_999))))
}

func TestBreakevenPrice(t *testing.T) {
	table := DefaultKRW()
	fee := d(0.0005)

	entry := d(100_000)
	bep := table.BreakevenPrice(entry, fee)

	// Always at or above entry.
	assert.True(t, bep.GreaterThanOrEqual(entry))

	// Exact multiple of the tick at the breakeven price.
	tick := table.TickSize(bep)
	rem := bep.Mod(tick)
	assert.True(t, rem.IsZero(), "bep %v is not a multiple of tick %v", bep, tick)

	// raw = 100000 * 1.0005 / 0.9995 = 100100.05..., tick 50 -> 100150
	assert.True(t, bep.Equal(d(100_150)), "got %v", bep)
}

func TestBreakevenPrice_CoversFees(t *testing.T) {
	table := DefaultKRW()
	fee := d(0.0005)
	one := decimal.NewFromInt(1)

	for _, entry := range []decimal.Decimal{d(1_234), d(56_780), d(2_345_000)} {
		bep := table.BreakevenPrice(entry, fee)
		// Selling at bep nets at least the buy cost.
		proceeds := bep.Mul(one.Sub(fee))
		cost := entry.Mul(one.Add(fee))
		assert.True(t, proceeds.GreaterThanOrEqual(cost), "entry %v: proceeds %v < cost %v", entry, proceeds, cost)
	}
}

func TestTicksToBreakeven(t *testing.T) {
	table := DefaultKRW()
	fee := d(0.0005)

	// entry 100000: bep 100150, tick 50 -> 3 ticks
	assert.Equal(t, int64(3), table.TicksToBreakeven(d(100_000), fee))

	// Zero fee means breakeven at entry.
	assert.Equal(t, int64(0), table.TicksToBreakeven(d(100_000), decimal.Zero))
}

func TestStepUpDown(t *testing.T) {
	table := DefaultKRW()

	assert.True(t, table.StepDown(d(100_000), 1).Equal(d(99_950)))
	assert.True(t, table.StepUp(d(50_000), 2).Equal(d(50_020)))
}

func TestRounding(t *testing.T) {
	table := DefaultKRW()

	assert.True(t, table.RoundDown(d(100_149)).Equal(d(100_100)))
	assert.True(t, table.RoundUp(d(100_101)).Equal(d(100_150)))
	// Already aligned stays put.
	assert.True(t, table.RoundUp(d(100_150)).Equal(d(100_150)))
}
