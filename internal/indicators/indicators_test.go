package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium_trader/internal/core"
)

func closesFrom(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func candlesFrom(vals ...float64) []core.Candle {
	out := make([]core.Candle, len(vals))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range vals {
		d := decimal.NewFromFloat(v)
		out[i] = core.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     d,
			High:     d,
			Low:      d,
			Close:    d,
			Volume:   decimal.NewFromInt(1),
		}
	}
	return out
}

func TestRSI_Bounds(t *testing.T) {
	// Mixed up and down moves stay within [0, 100].
	closes := closesFrom(100, 102, 101, 105, 103, 104, 102, 106, 105, 107, 104, 108, 106, 109, 107, 110)
	rsi := RSI(closes, 14)
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestRSI_AllGainsReturns100(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 16)
	for i := 0; i < 16; i++ {
		closes = append(closes, decimal.NewFromInt(int64(100+i)))
	}
	assert.Equal(t, 100.0, RSI(closes, 14))
}

func TestRSI_AllLossesNearZero(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 16)
	for i := 0; i < 16; i++ {
		closes = append(closes, decimal.NewFromInt(int64(200-i)))
	}
	assert.InDelta(t, 0.0, RSI(closes, 14), 1e-9)
}

func TestRSI_InsufficientData(t *testing.T) {
	assert.Equal(t, 0.0, RSI(closesFrom(1, 2, 3), 14))
}

func TestBollinger_FlatSeries(t *testing.T) {
	closes := make([]decimal.Decimal, 20)
	for i := range closes {
		closes[i] = decimal.NewFromInt(500)
	}
	upper, mid, lower, err := Bollinger(closes, 20, 2.0)
	require.NoError(t, err)
	assert.True(t, mid.Equal(decimal.NewFromInt(500)))
	assert.True(t, upper.Equal(mid))
	assert.True(t, lower.Equal(mid))
}

func TestBollinger_BandsSurroundMean(t *testing.T) {
	closes := closesFrom(
		100, 101, 99, 102, 98, 103, 97, 104, 96, 105,
		100, 101, 99, 102, 98, 103, 97, 104, 96, 105,
	)
	upper, mid, lower, err := Bollinger(closes, 20, 2.0)
	require.NoError(t, err)
	assert.True(t, upper.GreaterThan(mid))
	assert.True(t, lower.LessThan(mid))
	// Symmetric around the mean.
	assert.True(t, upper.Sub(mid).Sub(mid.Sub(lower)).Abs().LessThan(decimal.NewFromFloat(1e-9)))
}

func TestBollinger_InsufficientData(t *testing.T) {
	_, _, _, err := Bollinger(closesFrom(1, 2, 3), 20, 2.0)
	assert.Error(t, err)
}

func TestVWAP_WeightsByVolume(t *testing.T) {
	base := time.Now()
	candles := []core.Candle{
		{OpenTime: base, High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(1)},
		{OpenTime: base.Add(time.Minute), High: decimal.NewFromInt(200), Low: decimal.NewFromInt(200), Close: decimal.NewFromInt(200), Volume: decimal.NewFromInt(3)},
	}
	// (100*1 + 200*3) / 4 = 175
	assert.True(t, VWAP(candles).Equal(decimal.NewFromInt(175)))
}

func TestVWAP_ZeroVolumeFallsBackToClose(t *testing.T) {
	candles := candlesFrom(100, 110)
	for i := range candles {
		candles[i].Volume = decimal.Zero
	}
	assert.True(t, VWAP(candles).Equal(decimal.NewFromInt(110)))
}

func TestAnalyze(t *testing.T) {
	vals := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		vals = append(vals, 100+float64(i%5))
	}
	snap, err := Analyze(candlesFrom(vals...))
	require.NoError(t, err)

	assert.True(t, snap.CurrentPrice.Equal(decimal.NewFromFloat(vals[len(vals)-1])))
	assert.GreaterOrEqual(t, snap.RSILong, 0.0)
	assert.LessOrEqual(t, snap.RSILong, 100.0)
	assert.True(t, snap.BBUpper.GreaterThanOrEqual(snap.BBMid))
	assert.True(t, snap.BBLower.LessThanOrEqual(snap.BBMid))
	assert.False(t, snap.VWAP.IsZero())
}

func TestAnalyze_InsufficientData(t *testing.T) {
	_, err := Analyze(candlesFrom(1, 2, 3))
	assert.Error(t, err)
}
