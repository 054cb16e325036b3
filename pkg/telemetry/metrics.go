package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPremiumPct         = "premium_trader_premium_pct"
	MetricSurgesTotal        = "premium_trader_surges_total"
	MetricOrdersPlacedTotal  = "premium_trader_orders_placed_total"
	MetricOrdersFilledTotal  = "premium_trader_orders_filled_total"
	MetricEntriesVetoedTotal = "premium_trader_entries_vetoed_total"
	MetricPnLRealizedTotal   = "premium_trader_pnl_realized_total"
	MetricOpenPositions      = "premium_trader_open_positions"
	MetricCircuitBreakerOpen = "premium_trader_circuit_breaker_open"
	MetricCycleLatency       = "premium_trader_cycle_latency_seconds"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	SurgesTotal        metric.Int64Counter
	OrdersPlacedTotal  metric.Int64Counter
	OrdersFilledTotal  metric.Int64Counter
	EntriesVetoedTotal metric.Int64Counter
	PnLRealizedTotal   metric.Float64Counter
	PremiumPct         metric.Float64ObservableGauge
	OpenPositions      metric.Int64ObservableGauge
	CircuitBreakerOpen metric.Int64ObservableGauge
	CycleLatency       metric.Float64Histogram

	// State for observable gauges
	mu            sync.RWMutex
	premiumMap    map[string]float64
	openPositions int64
	cbOpen        int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			premiumMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.SurgesTotal, err = meter.Int64Counter(MetricSurgesTotal,
		metric.WithDescription("Leader momentum surges detected")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Orders placed on the local exchange")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Orders confirmed filled")); err != nil {
		return err
	}
	if m.EntriesVetoedTotal, err = meter.Int64Counter(MetricEntriesVetoedTotal,
		metric.WithDescription("Entries vetoed by safety checks")); err != nil {
		return err
	}
	if m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal,
		metric.WithDescription("Cumulative realized PnL in quote currency")); err != nil {
		return err
	}
	if m.CycleLatency, err = meter.Float64Histogram(MetricCycleLatency,
		metric.WithDescription("Decision loop cycle latency in seconds")); err != nil {
		return err
	}

	if m.PremiumPct, err = meter.Float64ObservableGauge(MetricPremiumPct,
		metric.WithDescription("Cross-market premium percent per instrument"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for instrument, v := range m.premiumMap {
				o.Observe(v, metric.WithAttributes(attribute.String("instrument", instrument)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions,
		metric.WithDescription("Currently open positions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.openPositions)
			return nil
		})); err != nil {
		return err
	}
	if m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen,
		metric.WithDescription("1 when the drawdown circuit breaker is open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.cbOpen)
			return nil
		})); err != nil {
		return err
	}

	return nil
}

// SetPremium records the latest premium for an instrument.
func (m *MetricsHolder) SetPremium(instrument string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiumMap[instrument] = pct
}

// SetOpenPositions records the current open position count.
func (m *MetricsHolder) SetOpenPositions(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = n
}

// SetCircuitBreakerOpen records the breaker state.
func (m *MetricsHolder) SetCircuitBreakerOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open {
		m.cbOpen = 1
	} else {
		m.cbOpen = 0
	}
}
