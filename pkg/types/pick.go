package types

import (
	"fmt"
	"time"
)

// PickStatus is the lifecycle state of a pick. The only legal transitions
// are the ones the order lifecycle coordinator drives:
//
//	PENDING → ORDER_PLACED → ENTERED → TARGET_HIT | STOPPED_OUT
//	PENDING → SKIPPED | FAILED
//	ORDER_PLACED → SKIPPED | FAILED
type PickStatus string

const (
	PickStatusPending     PickStatus = "PENDING"
	PickStatusOrderPlaced PickStatus = "ORDER_PLACED"
	PickStatusEntered     PickStatus = "ENTERED"
	PickStatusTargetHit   PickStatus = "TARGET_HIT"
	PickStatusStoppedOut  PickStatus = "STOPPED_OUT"
	PickStatusSkipped     PickStatus = "SKIPPED"
	PickStatusFailed      PickStatus = "FAILED"
)

// AllPickStatuses lists every lifecycle state, in pipeline order.
var AllPickStatuses = []PickStatus{
	PickStatusPending,
	PickStatusOrderPlaced,
	PickStatusEntered,
	PickStatusTargetHit,
	PickStatusStoppedOut,
	PickStatusSkipped,
	PickStatusFailed,
}

// IsTerminal reports whether the pick can never transition again.
func (s PickStatus) IsTerminal() bool {
	switch s {
	case PickStatusTargetHit, PickStatusStoppedOut, PickStatusSkipped, PickStatusFailed:
		return true
	}
	return false
}

// Exit reasons recorded on terminal transitions out of ENTERED.
const (
	ExitReasonTargetHit            = "target_hit"
	ExitReasonStopHit              = "stop_hit"
	ExitReasonStopPlacementFailure = "sl_placement_failed_emergency_exit"
	ExitReasonRaceCondition        = "stop_hit_race_condition"
	ExitReasonEndOfDay             = "eod_square_off"
)

// PriceLevels are the planned trade levels a pick was generated with.
type PriceLevels struct {
	Entry      float64 `json:"entry" db:"entry_level"`
	Stop       float64 `json:"stop" db:"stop_level"`
	Target     float64 `json:"target" db:"target_level"`
	RiskReward float64 `json:"riskReward" db:"risk_reward"`
}

// TradeOutcome is what actually happened to the pick once orders flowed.
type TradeOutcome struct {
	Status     PickStatus `json:"status" db:"status"`
	Quantity   int64      `json:"quantity" db:"quantity"`
	EntryPrice float64    `json:"entryPrice" db:"entry_price"`
	ExitPrice  float64    `json:"exitPrice" db:"exit_price"`
	ExitReason string     `json:"exitReason" db:"exit_reason"`
	PnL        float64    `json:"pnl" db:"pnl"`
	ReturnPct  float64    `json:"returnPct" db:"return_pct"`
}

// BrokerRefs are the broker order ids attached to the pick as the
// coordinator works it.
type BrokerRefs struct {
	EntryOrderID  string `json:"entryOrderID" db:"entry_order_id"`
	StopOrderID   string `json:"stopOrderID" db:"stop_order_id"`
	TargetOrderID string `json:"targetOrderID" db:"target_order_id"`
}

// Pick is one tradable idea for one trading day: symbol, direction and
// levels, plus the live trade state the coordinator maintains. Picks are
// durable; they must survive a process restart mid-day.
type Pick struct {
	ID            uint64    `json:"id" db:"id"`
	AnalysisID    string    `json:"analysisID" db:"analysis_id"`
	Symbol        string    `json:"symbol" db:"symbol"`
	InstrumentKey string    `json:"instrumentKey" db:"instrument_key"`
	Direction     Direction `json:"direction" db:"direction"`
	TradeDate     time.Time `json:"tradeDate" db:"trade_date"`

	PriceLevels  `json:"levels"`
	TradeOutcome `json:"trade"`
	BrokerRefs   `json:"broker"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

func (p *Pick) String() string {
	return fmt.Sprintf("pick #%d %s %s entry=%.2f stop=%.2f target=%.2f [%s]",
		p.ID, p.Symbol, p.Direction, p.Entry, p.Stop, p.Target, p.Status)
}

// RealizedPnL computes the signed profit for the filled quantity.
func (p *Pick) RealizedPnL(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * float64(p.Quantity) * p.Direction.Sign()
}

// ReturnOnEntry computes the percentage return over the entry notional.
func (p *Pick) ReturnOnEntry(pnl float64) float64 {
	notional := p.EntryPrice * float64(p.Quantity)
	if notional == 0 {
		return 0
	}
	return pnl / notional * 100
}

// RecomputeTarget derives a fresh target from the actual fill price,
// preserving the declared risk/reward when one is set and otherwise the
// planned entry-to-target distance.
func (p *Pick) RecomputeTarget(fillPrice float64) float64 {
	sign := p.Direction.Sign()
	if p.RiskReward > 0 {
		risk := (fillPrice - p.Stop) * sign
		if risk > 0 {
			return fillPrice + p.RiskReward*risk*sign
		}
	}
	return fillPrice + (p.Target - p.Entry)
}
