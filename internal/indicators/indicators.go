// Package indicators computes technical indicators over candle series.
// All functions are pure; callers re-invoke with a fresh series instead
// of feeding incremental updates.
package indicators

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"premium_trader/internal/core"
)

// Default periods used by the signal engine.
const (
	RSILongPeriod  = 14
	RSIShortPeriod = 7
	BBPeriod       = 20
	BBMultiplier   = 2.0
)

// RSI computes the relative strength index over the last `period` price
// changes of the series. Returns 100 when the window has no losses.
func RSI(closes []decimal.Decimal, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}

	var gain, loss decimal.Decimal
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		diff := closes[i].Sub(closes[i-1])
		if diff.Sign() > 0 {
			gain = gain.Add(diff)
		} else {
			loss = loss.Add(diff.Neg())
		}
	}

	if loss.IsZero() {
		return 100
	}

	rs, _ := gain.Div(loss).Float64()
	return 100 - 100/(1+rs)
}

// Bollinger computes the simple moving average of the last `period`
// closes and bands at ±mult sample standard deviations.
func Bollinger(closes []decimal.Decimal, period int, mult float64) (upper, mid, lower decimal.Decimal, err error) {
	if len(closes) < period {
		return decimal.Zero, decimal.Zero, decimal.Zero,
			fmt.Errorf("bollinger: need %d closes, have %d", period, len(closes))
	}

	window := closes[len(closes)-period:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	n := decimal.NewFromInt(int64(period))
	mid = sum.Div(n)

	// Sample variance (n-1 denominator).
	variance := decimal.Zero
	for _, c := range window {
		d := c.Sub(mid)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period - 1)))

	vf, _ := variance.Float64()
	std := decimal.NewFromFloat(math.Sqrt(vf))
	band := std.Mul(decimal.NewFromFloat(mult))

	return mid.Add(band), mid, mid.Sub(band), nil
}

// VWAP computes cumulative typical-price x volume over cumulative volume
// for the whole supplied series.
func VWAP(candles []core.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}

	three := decimal.NewFromInt(3)
	pv := decimal.Zero
	vol := decimal.Zero
	for _, c := range candles {
		typical := c.High.Add(c.Low).Add(c.Close).Div(three)
		pv = pv.Add(typical.Mul(c.Volume))
		vol = vol.Add(c.Volume)
	}

	if vol.IsZero() {
		return candles[len(candles)-1].Close
	}
	return pv.Div(vol)
}

// Analyze computes the full snapshot for the last bar of the series.
// The series must be long enough for the slowest indicator.
func Analyze(candles []core.Candle) (*core.IndicatorSnapshot, error) {
	need := BBPeriod
	if RSILongPeriod+1 > need {
		need = RSILongPeriod + 1
	}
	if len(candles) < need {
		return nil, fmt.Errorf("indicators: need %d candles, have %d", need, len(candles))
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsiLong := RSI(closes, RSILongPeriod)
	rsiShort := RSI(closes, RSIShortPeriod)

	upper, mid, lower, err := Bollinger(closes, BBPeriod, BBMultiplier)
	if err != nil {
		return nil, err
	}

	price := closes[len(closes)-1]

	return &core.IndicatorSnapshot{
		CurrentPrice: price,
		RSILong:      rsiLong,
		RSIShort:     rsiShort,
		BBUpper:      upper,
		BBMid:        mid,
		BBLower:      lower,
		VWAP:         VWAP(candles),
		IsOversold:   rsiLong < 30 && price.LessThanOrEqual(lower),
	}, nil
}
