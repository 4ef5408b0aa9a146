package risk

import (
	"fmt"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// proximityPct is how close (in percent of the level) price must get to a
// protective level before an approach alert fires.
const proximityPct = 0.5

// Alert is a non-binding advisory about an open position. Alerts feed the
// notification layer; they never drive order placement.
type Alert struct {
	Code     string  `json:"code"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Price    float64 `json:"price"`
}

// CheckExitConditions inspects an entered pick against the latest snapshot
// and reports advisory exit alerts: protective levels reached or being
// approached. Level hits are the broker's protective orders' job; these
// alerts exist so an operator hears about it even when a leg is missing.
func CheckExitConditions(pick *types.Pick, snap *types.Snapshot) []Alert {
	if pick == nil || snap == nil || pick.Status != types.PickStatusEntered {
		return nil
	}

	price, ok := snap.Field("close")
	if !ok {
		return nil
	}

	sign := pick.Direction.Sign()
	var alerts []Alert

	if pick.Target > 0 {
		switch {
		case (price-pick.Target)*sign >= 0:
			alerts = append(alerts, Alert{
				Code:     "target_reached",
				Severity: "high",
				Message:  fmt.Sprintf("%s price %.2f reached target %.2f", pick.Symbol, price, pick.Target),
				Price:    price,
			})
		case withinPct(price, pick.Target, proximityPct):
			alerts = append(alerts, Alert{
				Code:     "approaching_target",
				Severity: "info",
				Message:  fmt.Sprintf("%s price %.2f approaching target %.2f", pick.Symbol, price, pick.Target),
				Price:    price,
			})
		}
	}

	if pick.Stop > 0 {
		switch {
		case (pick.Stop-price)*sign >= 0:
			alerts = append(alerts, Alert{
				Code:     "stop_breached",
				Severity: "critical",
				Message:  fmt.Sprintf("%s price %.2f breached stop %.2f", pick.Symbol, price, pick.Stop),
				Price:    price,
			})
		case withinPct(price, pick.Stop, proximityPct):
			alerts = append(alerts, Alert{
				Code:     "approaching_stop",
				Severity: "warning",
				Message:  fmt.Sprintf("%s price %.2f approaching stop %.2f", pick.Symbol, price, pick.Stop),
				Price:    price,
			})
		}
	}

	return alerts
}

func withinPct(price, level, pct float64) bool {
	if level <= 0 {
		return false
	}
	diff := price - level
	if diff < 0 {
		diff = -diff
	}
	return diff/level*100 <= pct
}
