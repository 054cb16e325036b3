package config

import (
	"fmt"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// StrategySnapshot is the immutable, versioned set of runtime-tunable
// strategy parameters. The tuner swaps the whole snapshot atomically;
// components only ever read it and must never mutate it. Epoch increases on
// every swap that changes the content, letting the stream tasks detect
// instrument-set changes with a cheap integer compare.
type StrategySnapshot struct {
	Epoch int64

	// Instruments maps local exchange codes to reference exchange symbols,
	// e.g. "KRW-BTC" -> "btcusdt".
	Instruments map[string]string
	// Followers are local codes chase-bought when the leader surges.
	Followers []string
	// Leader is the reference symbol whose momentum is watched, e.g. "btcusdt".
	Leader string

	FxRate float64 // reference quote currency to local currency

	// Entry thresholds
	RSIBuyThreshold     float64
	RSIRelaxOffset      float64 // added to the RSI bar on reverse premium
	MaxPremiumPct       float64
	ReversePremiumPct   float64 // negative; at or below relaxes the RSI bar
	MaxTicksToBreakeven int
	VWAPSupportFactor   float64 // price must be >= VWAP * factor to buy

	// Exit thresholds
	StopLossPct         float64 // negative
	TrailingStartPct    float64
	TrailingDropPct     float64
	PartialSellRatio    float64
	PartialMinProfitPct float64
	VWAPStopFactor      float64 // price < VWAP * factor is a breakdown
	RSIPanicThreshold   float64
	RSIOverbought       float64

	// Momentum surge
	SurgeThresholdPct float64
	SurgeWindowSec    int
}

// LocalCodes returns the tracked local instrument codes in sorted order.
func (s *StrategySnapshot) LocalCodes() []string {
	codes := make([]string, 0, len(s.Instruments))
	for code := range s.Instruments {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ReferenceSymbols returns the tracked reference symbols in sorted order.
func (s *StrategySnapshot) ReferenceSymbols() []string {
	syms := make([]string, 0, len(s.Instruments))
	for _, sym := range s.Instruments {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// LocalCodeFor resolves a reference symbol back to its local code.
func (s *StrategySnapshot) LocalCodeFor(referenceSymbol string) (string, bool) {
	for code, sym := range s.Instruments {
		if sym == referenceSymbol {
			return code, true
		}
	}
	return "", false
}

// SnapshotHolder carries the current strategy snapshot and swaps it
// atomically. Readers call Load once per evaluation and work off that copy.
type SnapshotHolder struct {
	ptr atomic.Pointer[StrategySnapshot]
}

// NewSnapshotHolder creates a holder seeded with the given snapshot.
func NewSnapshotHolder(initial *StrategySnapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the current snapshot. The returned value must not be mutated.
func (h *SnapshotHolder) Load() *StrategySnapshot {
	return h.ptr.Load()
}

// Swap installs a new snapshot, assigning it the next epoch.
func (h *SnapshotHolder) Swap(next *StrategySnapshot) {
	cur := h.ptr.Load()
	next.Epoch = cur.Epoch + 1
	h.ptr.Store(next)
}

// StrategyFile is the on-disk document the external tuner (advisory
// committee / market scanner) writes and this process consumes.
type StrategyFile struct {
	Instruments       map[string]string `yaml:"instruments"`
	Followers         []string          `yaml:"followers"`
	Leader            string            `yaml:"leader"`
	FxRate            float64           `yaml:"fx_rate"`
	RSIBuyThreshold   float64           `yaml:"rsi_buy_threshold"`
	RSIRelaxOffset    float64           `yaml:"rsi_relax_offset"`
	MaxPremiumPct     float64           `yaml:"max_premium_pct"`
	ReversePremiumPct float64           `yaml:"reverse_premium_pct"`
	MaxTicksToBEP     int               `yaml:"max_ticks_to_breakeven"`
	VWAPSupportFactor float64           `yaml:"vwap_support_factor"`
	StopLossPct       float64           `yaml:"stop_loss_pct"`
	TrailingStartPct  float64           `yaml:"trailing_start_pct"`
	TrailingDropPct   float64           `yaml:"trailing_drop_pct"`
	PartialSellRatio  float64           `yaml:"partial_sell_ratio"`
	PartialMinProfit  float64           `yaml:"partial_min_profit_pct"`
	VWAPStopFactor    float64           `yaml:"vwap_stop_factor"`
	RSIPanicThreshold float64           `yaml:"rsi_panic_threshold"`
	RSIOverbought     float64           `yaml:"rsi_overbought"`
	SurgeThresholdPct float64           `yaml:"surge_threshold_pct"`
	SurgeWindowSec    int               `yaml:"surge_window_sec"`
}

// ParseStrategyFile parses and validates a strategy document.
func ParseStrategyFile(data []byte) (*StrategyFile, error) {
	var f StrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("strategy file names no instruments")
	}
	if f.FxRate <= 0 {
		return nil, fmt.Errorf("strategy file fx_rate must be positive, got %v", f.FxRate)
	}
	if f.StopLossPct >= 0 {
		return nil, fmt.Errorf("strategy file stop_loss_pct must be negative, got %v", f.StopLossPct)
	}
	for _, code := range f.Followers {
		if _, ok := f.Instruments[code]; !ok {
			return nil, fmt.Errorf("follower %q is not a tracked instrument", code)
		}
	}
	return &f, nil
}

// Snapshot converts the parsed file into a strategy snapshot, filling
// defaults for anything the tuner left unset. Epoch is assigned on Swap.
func (f *StrategyFile) Snapshot() *StrategySnapshot {
	s := &StrategySnapshot{
		Instruments:         f.Instruments,
		Followers:           f.Followers,
		Leader:              f.Leader,
		FxRate:              f.FxRate,
		RSIBuyThreshold:     f.RSIBuyThreshold,
		RSIRelaxOffset:      f.RSIRelaxOffset,
		MaxPremiumPct:       f.MaxPremiumPct,
		ReversePremiumPct:   f.ReversePremiumPct,
		MaxTicksToBreakeven: f.MaxTicksToBEP,
		VWAPSupportFactor:   f.VWAPSupportFactor,
		StopLossPct:         f.StopLossPct,
		TrailingStartPct:    f.TrailingStartPct,
		TrailingDropPct:     f.TrailingDropPct,
		PartialSellRatio:    f.PartialSellRatio,
		PartialMinProfitPct: f.PartialMinProfit,
		VWAPStopFactor:      f.VWAPStopFactor,
		RSIPanicThreshold:   f.RSIPanicThreshold,
		RSIOverbought:       f.RSIOverbought,
		SurgeThresholdPct:   f.SurgeThresholdPct,
		SurgeWindowSec:      f.SurgeWindowSec,
	}
	if s.Leader == "" {
		s.Leader = "btcusdt"
	}
	if s.RSIBuyThreshold == 0 {
		s.RSIBuyThreshold = 30
	}
	if s.RSIRelaxOffset == 0 {
		s.RSIRelaxOffset = 10
	}
	if s.MaxPremiumPct == 0 {
		s.MaxPremiumPct = 5.0
	}
	if s.ReversePremiumPct == 0 {
		s.ReversePremiumPct = -1.0
	}
	if s.MaxTicksToBreakeven == 0 {
		s.MaxTicksToBreakeven = 5
	}
	if s.VWAPSupportFactor == 0 {
		s.VWAPSupportFactor = 0.995
	}
	if s.TrailingStartPct == 0 {
		s.TrailingStartPct = 0.5
	}
	if s.TrailingDropPct == 0 {
		s.TrailingDropPct = 0.3
	}
	if s.PartialSellRatio == 0 {
		s.PartialSellRatio = 0.5
	}
	if s.PartialMinProfitPct == 0 {
		s.PartialMinProfitPct = 0.5
	}
	if s.VWAPStopFactor == 0 {
		s.VWAPStopFactor = 0.998
	}
	if s.RSIPanicThreshold == 0 {
		s.RSIPanicThreshold = 25
	}
	if s.RSIOverbought == 0 {
		s.RSIOverbought = 70
	}
	if s.SurgeThresholdPct == 0 {
		s.SurgeThresholdPct = 0.5
	}
	if s.SurgeWindowSec == 0 {
		s.SurgeWindowSec = 2
	}
	return s
}
