package types

import (
	"time"
)

// fieldAliases maps near-synonym indicator names onto the canonical field
// names a data provider actually publishes. Lookup tries the exact name
// first, then each alias in order.
var fieldAliases = map[string][]string{
	"price":  {"close", "ltp", "last"},
	"ltp":    {"close", "last", "price"},
	"last":   {"close", "ltp"},
	"ema20":  {"ema_20", "ema"},
	"ema50":  {"ema_50"},
	"ema200": {"ema_200"},
	"sma20":  {"sma_20", "sma"},
	"vwap":   {"vwap_day"},
	"atr":    {"atr_14", "atr14"},
	"rsi":    {"rsi_14", "rsi14"},
	"volume": {"vol"},
}

// Snapshot is one timeframe's worth of market data for an instrument:
// the bar timestamp plus named numeric fields (OHLC and indicators).
// Snapshots come from the market data collaborator and are never mutated
// by the engine.
type Snapshot struct {
	InstrumentKey string             `json:"instrumentKey"`
	Timeframe     Timeframe          `json:"timeframe"`
	Timestamp     time.Time          `json:"timestamp"`
	Fields        map[string]float64 `json:"fields"`
}

// Field returns the named field, consulting the alias table when the
// exact name is absent.
func (s *Snapshot) Field(name string) (float64, bool) {
	if s == nil || s.Fields == nil {
		return 0, false
	}

	if v, ok := s.Fields[name]; ok {
		return v, true
	}

	for _, alias := range fieldAliases[name] {
		if v, ok := s.Fields[alias]; ok {
			return v, true
		}
	}

	return 0, false
}

// Age returns how stale the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// MarketData is the per-cycle input to trigger evaluation: one snapshot
// per timeframe the strategy references.
type MarketData map[Timeframe]*Snapshot
