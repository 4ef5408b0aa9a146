package monitor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tradepilot/tradepilot/pkg/condition"
	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "monitor")

// Warning is a non-fatal advisory raised during a cycle. Warnings never
// change the action.
type Warning struct {
	Code       string `json:"code"`
	Severity   string `json:"severity"`
	Message    string `json:"message,omitempty"`
	Mitigation string `json:"mitigation,omitempty"`
}

// Result is the outcome of one monitoring cycle for one strategy.
type Result struct {
	Action   types.Action   `json:"action"`
	Success  bool           `json:"success"`
	Reason   string         `json:"reason,omitempty"`
	Scope    string         `json:"scope,omitempty"`
	Triggers []TriggerCheck `json:"triggers,omitempty"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

// Monitor runs the per-cycle pipeline: session validation, invalidation
// rules, warning rules, then every trigger. Identical state and market
// data always produce the identical result; time comes from the injected
// clock and there is no other hidden input.
type Monitor struct {
	sessions *SessionManager
	tracker  *TriggerTracker
	calendar types.TradingCalendar
	clock    types.Clock
}

func New(sessions *SessionManager, cal types.TradingCalendar, clock types.Clock) *Monitor {
	return &Monitor{
		sessions: sessions,
		tracker:  NewTriggerTracker(),
		calendar: cal,
		clock:    clock,
	}
}

// Sessions exposes the session manager for registration and cleanup.
func (m *Monitor) Sessions() *SessionManager {
	return m.sessions
}

// CheckTriggers evaluates one strategy against the market data fetched for
// this cycle. params carries the strategy's context values (entry, stop,
// target, quantity) for $param references.
func (m *Monitor) CheckTriggers(analysisID string, strategy *types.StrategyDefinition, data types.MarketData, params map[string]float64) *Result {
	key := SessionKey{AnalysisID: analysisID, StrategyID: strategy.ID}
	now := m.clock.Now()

	if ok, reason := m.sessions.Validate(key, now); !ok {
		return &Result{Action: types.ActionCancelMonitoring, Reason: reason}
	}

	session, ok := m.sessions.Get(key)
	if !ok {
		return &Result{Action: types.ActionCancelMonitoring, Reason: "session not found"}
	}

	// Invalidations run before anything else; the first hit decides the
	// cycle.
	for i, rule := range strategy.Invalidations {
		snap := data[rule.Timeframe]
		if snap == nil {
			continue
		}

		met, _ := condition.Evaluate(rule.Condition, condition.ResolveContext{Fields: snap, Params: params})
		if !met {
			continue
		}

		action := rule.Action
		if action == "" {
			action = types.ActionCancelMonitoring
		}

		reason := fmt.Sprintf("invalidation %d hit: %s", i+1, rule.Condition)
		log.Infof("session %s: %s (action=%s scope=%s)", key, reason, action, rule.Scope)

		if action == types.ActionCancelMonitoring {
			m.sessions.Expire(key, reason)
		}

		return &Result{Action: action, Reason: reason, Scope: rule.Scope}
	}

	warnings := m.collectWarnings(strategy, data, params)

	marketOpen := m.calendar.IsMarketOpen(now)
	checks := make([]TriggerCheck, 0, len(strategy.Triggers))
	allSatisfied := len(strategy.Triggers) > 0

	for _, def := range strategy.Triggers {
		state := session.Trigger(def)
		check := m.tracker.Check(state, def, data[def.Timeframe], params, now, marketOpen)
		checks = append(checks, check)

		if check.Expired {
			reason := fmt.Sprintf("trigger %s expired after %d bars", def.ID, check.BarsChecked)
			m.sessions.Expire(key, reason)
			return &Result{
				Action:   types.ActionCancelMonitoring,
				Reason:   reason,
				Triggers: checks,
				Warnings: warnings,
			}
		}

		if !check.Satisfied {
			allSatisfied = false
		}
	}

	m.sessions.Sync(key)

	if allSatisfied {
		log.Infof("session %s: all %d triggers satisfied", key, len(checks))
		return &Result{
			Action:   types.ActionExecuteOrder,
			Success:  true,
			Triggers: checks,
			Warnings: warnings,
		}
	}

	return &Result{
		Action:   types.ActionContinueMonitoring,
		Triggers: checks,
		Warnings: warnings,
	}
}

func (m *Monitor) collectWarnings(strategy *types.StrategyDefinition, data types.MarketData, params map[string]float64) []Warning {
	var warnings []Warning

	for _, rule := range strategy.Warnings {
		applies := len(rule.AppliesWhen) > 0
		for _, ref := range rule.AppliesWhen {
			snap := data[ref.Timeframe]
			if snap == nil {
				applies = false
				break
			}

			met, _ := condition.Evaluate(ref.Condition, condition.ResolveContext{Fields: snap, Params: params})
			if !met {
				applies = false
				break
			}
		}

		if !applies {
			continue
		}

		message := rule.Message
		if message == "" {
			message = rule.Code
		}
		warnings = append(warnings, Warning{
			Code:       rule.Code,
			Severity:   rule.Severity,
			Message:    message,
			Mitigation: rule.Mitigation,
		})
	}

	return warnings
}
