// Package marketdata maintains the live market picture: per-instrument
// prices and premium fed by two independent stream tasks, a rolling trade
// tape, and leader momentum surge detection.
package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
	"premium_trader/pkg/telemetry"
)

const tradeTapeCapacity = 100

var _ core.IMarketData = (*Aggregator)(nil)

type momentumPoint struct {
	ts    time.Time
	price decimal.Decimal
}

// Aggregator is the shared market-state store. Each field of an
// instrument's state has exactly one writer: the local stream writes
// LocalPrice and the tape, the reference stream writes ReferencePrice
// and the momentum window. The decision loop only reads.
type Aggregator struct {
	holder *config.SnapshotHolder
	logger core.ILogger

	mu       sync.RWMutex
	states   map[string]*core.InstrumentState
	tapes    map[string][]core.Trade
	momentum []momentumPoint

	surgeReason string
	surgeSet    bool

	now func() time.Time
}

// NewAggregator creates an empty aggregator bound to the strategy holder.
func NewAggregator(holder *config.SnapshotHolder, logger core.ILogger) *Aggregator {
	return &Aggregator{
		holder: holder,
		logger: logger.WithField("component", "marketdata"),
		states: make(map[string]*core.InstrumentState),
		tapes:  make(map[string][]core.Trade),
		now:    time.Now,
	}
}

// UpdateLocalPrice records a ticker update from the local exchange.
// Untracked instruments are ignored rather than deleted, so in-flight
// messages after a strategy change are harmless.
func (a *Aggregator) UpdateLocalPrice(instrument string, price decimal.Decimal) {
	snap := a.holder.Load()
	if _, ok := snap.Instruments[instrument]; !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stateLocked(instrument)
	st.LocalPrice = price
	st.LastUpdate = a.now()
	a.recomputePremiumLocked(instrument, st, snap.FxRate)
}

// UpdateReferencePrice records a ticker update from the reference
// exchange, keyed by the reference symbol.
func (a *Aggregator) UpdateReferencePrice(referenceSymbol string, price decimal.Decimal) {
	snap := a.holder.Load()
	instrument, ok := snap.LocalCodeFor(referenceSymbol)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stateLocked(instrument)
	st.ReferencePrice = price
	st.LastUpdate = a.now()
	a.recomputePremiumLocked(instrument, st, snap.FxRate)

	if referenceSymbol == snap.Leader {
		a.observeLeaderLocked(price, snap)
	}
}

// AppendTrade records an executed trade from the local exchange tape.
func (a *Aggregator) AppendTrade(instrument string, trade core.Trade) {
	snap := a.holder.Load()
	if _, ok := snap.Instruments[instrument]; !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tape := append(a.tapes[instrument], trade)
	if len(tape) > tradeTapeCapacity {
		tape = tape[len(tape)-tradeTapeCapacity:]
	}
	a.tapes[instrument] = tape
}

// State returns a copy of the instrument's current state.
func (a *Aggregator) State(instrument string) (core.InstrumentState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.states[instrument]
	if !ok {
		return core.InstrumentState{}, false
	}
	return *st, true
}

// RecentTrades returns tape entries newer than now-window, oldest first.
func (a *Aggregator) RecentTrades(instrument string, window time.Duration) []core.Trade {
	cutoff := a.now().Add(-window)

	a.mu.RLock()
	defer a.mu.RUnlock()

	tape := a.tapes[instrument]
	out := make([]core.Trade, 0, len(tape))
	for _, tr := range tape {
		if tr.Timestamp.After(cutoff) {
			out = append(out, tr)
		}
	}
	return out
}

// ConsumeSurge returns the pending surge reason and clears it. A surge
// is delivered to exactly one caller.
func (a *Aggregator) ConsumeSurge() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.surgeSet {
		return "", false
	}
	reason := a.surgeReason
	a.surgeSet = false
	a.surgeReason = ""
	return reason, true
}

// LocalPrices returns the latest local price for every instrument that
// has reported one.
func (a *Aggregator) LocalPrices() map[string]decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(a.states))
	for code, st := range a.states {
		if !st.LocalPrice.IsZero() {
			out[code] = st.LocalPrice
		}
	}
	return out
}

func (a *Aggregator) stateLocked(instrument string) *core.InstrumentState {
	st, ok := a.states[instrument]
	if !ok {
		st = &core.InstrumentState{}
		a.states[instrument] = st
	}
	return st
}

func (a *Aggregator) recomputePremiumLocked(instrument string, st *core.InstrumentState, fxRate float64) {
	if st.LocalPrice.IsZero() || st.ReferencePrice.IsZero() || fxRate <= 0 {
		return
	}

	refLocal := st.ReferencePrice.Mul(decimal.NewFromFloat(fxRate))
	premium := st.LocalPrice.Sub(refLocal).Div(refLocal).Mul(decimal.NewFromInt(100))
	st.PremiumPct, _ = premium.Float64()
	st.HasPremium = true

	telemetry.GetGlobalMetrics().SetPremium(instrument, st.PremiumPct)
}

// observeLeaderLocked maintains the leader momentum window and raises
// the surge flag when the short-horizon move exceeds the threshold.
func (a *Aggregator) observeLeaderLocked(price decimal.Decimal, snap *config.StrategySnapshot) {
	now := a.now()
	horizon := time.Duration(snap.SurgeWindowSec) * time.Second

	a.momentum = append(a.momentum, momentumPoint{ts: now, price: price})

	cut := 0
	for cut < len(a.momentum) && now.Sub(a.momentum[cut].ts) > horizon {
		cut++
	}
	a.momentum = a.momentum[cut:]

	if len(a.momentum) < 2 {
		return
	}

	oldest := a.momentum[0].price
	if oldest.IsZero() {
		return
	}
	change, _ := price.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100)).Float64()

	if change >= snap.SurgeThresholdPct && !a.surgeSet {
		a.surgeSet = true
		a.surgeReason = fmt.Sprintf("%s +%.2f%% in %ds", snap.Leader, change, snap.SurgeWindowSec)
		a.logger.Info("Leader momentum surge detected", "leader", snap.Leader, "change_pct", change)
	}
}
