// Package ticks models the local exchange's price tick ladder and the
// breakeven arithmetic built on top of it.
package ticks

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Band maps prices at or above Floor to a tick size.
type Band struct {
	Floor decimal.Decimal
	Tick  decimal.Decimal
}

// Table is an ordered set of tick bands, highest floor first.
type Table struct {
	bands    []Band
	fallback decimal.Decimal
}

// NewTable builds a table from bands in any order. fallback is the tick
// used below the lowest floor.
func NewTable(bands []Band, fallback decimal.Decimal) *Table {
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Floor.GreaterThan(sorted[j].Floor)
	})
	return &Table{bands: sorted, fallback: fallback}
}

// DefaultKRW returns the KRW market tick ladder.
func DefaultKRW() *Table {
	d := decimal.NewFromFloat
	return NewTable([]Band{
		{Floor: d(2_000_000), Tick: d(1000)},
		{Floor: d(1_000_000), Tick: d(500)},
		{Floor: d(500_000), Tick: d(100)},
		{Floor: d(100_000), Tick: d(50)},
		{Floor: d(10_000), Tick: d(10)},
		{Floor: d(1_000), Tick: d(0.5)},
		{Floor: d(100), Tick: d(0.1)},
		{Floor: d(10), Tick: d(0.01)},
	}, d(0.0001))
}

// TickSize returns the tick size applicable at price.
func (t *Table) TickSize(price decimal.Decimal) decimal.Decimal {
	for _, b := range t.bands {
		if price.GreaterThanOrEqual(b.Floor) {
			return b.Tick
		}
	}
	return t.fallback
}

// RoundDown snaps price down to the nearest tick.
func (t *Table) RoundDown(price decimal.Decimal) decimal.Decimal {
	tick := t.TickSize(price)
	return price.Div(tick).Floor().Mul(tick)
}

// RoundUp snaps price up to the nearest tick.
func (t *Table) RoundUp(price decimal.Decimal) decimal.Decimal {
	tick := t.TickSize(price)
	return price.Div(tick).Ceil().Mul(tick)
}

// StepDown returns price lowered by n ticks.
func (t *Table) StepDown(price decimal.Decimal, n int64) decimal.Decimal {
	tick := t.TickSize(price)
	return price.Sub(tick.Mul(decimal.NewFromInt(n)))
}

// StepUp returns price raised by n ticks.
func (t *Table) StepUp(price decimal.Decimal, n int64) decimal.Decimal {
	tick := t.TickSize(price)
	return price.Add(tick.Mul(decimal.NewFromInt(n)))
}

// BreakevenPrice returns the lowest tick-aligned sell price at which a
// position bought at entry covers the taker fee on both legs:
// entry * (1 + fee) / (1 - fee), rounded up to the tick.
func (t *Table) BreakevenPrice(entry, feeRate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	raw := entry.Mul(one.Add(feeRate)).Div(one.Sub(feeRate))
	return t.RoundUp(raw)
}

// TicksToBreakeven returns how many ticks above entry the breakeven
// price sits. When breakeven is many ticks away the entry is a bad
// trade regardless of momentum.
func (t *Table) TicksToBreakeven(entry, feeRate decimal.Decimal) int64 {
	bep := t.BreakevenPrice(entry, feeRate)
	tick := t.TickSize(entry)
	diff := bep.Sub(entry)
	if diff.Sign() <= 0 {
		return 0
	}
	return diff.Div(tick).Round(0).IntPart()
}
