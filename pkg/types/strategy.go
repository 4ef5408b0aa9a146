package types

import (
	"github.com/tradepilot/tradepilot/pkg/condition"
)

// Action is what the monitor tells its caller to do after a cycle.
type Action string

const (
	ActionContinueMonitoring Action = "continue_monitoring"
	ActionExecuteOrder       Action = "execute_order"
	ActionCancelMonitoring   Action = "cancel_monitoring"
	ActionCancelEntry        Action = "cancel_entry"
	ActionClosePosition      Action = "close_position"
)

// DefaultWithinSessions is the trading-day budget used when a trigger does
// not declare one.
const DefaultWithinSessions = 5

// DefaultExpiryBars bounds a trigger that does not declare a bar budget.
const DefaultExpiryBars = 20

// OccurrenceSpec declares how often a trigger condition must hold before
// the trigger counts as satisfied.
type OccurrenceSpec struct {
	Count       int  `json:"count"`
	Consecutive bool `json:"consecutive"`
}

// TriggerDefinition is one entry condition the strategy watches, with its
// bar budget and session budget.
type TriggerDefinition struct {
	ID             string              `json:"id"`
	Timeframe      Timeframe           `json:"timeframe"`
	Condition      condition.Condition `json:"condition"`
	Occurrences    OccurrenceSpec      `json:"occurrences"`
	ExpiryBars     int                 `json:"expiryBars"`
	WithinSessions int                 `json:"withinSessions"`
}

// MaxBars returns the trigger's bar budget with the default applied.
func (t TriggerDefinition) MaxBars() int {
	if t.ExpiryBars > 0 {
		return t.ExpiryBars
	}
	return DefaultExpiryBars
}

// RequiredCount returns the occurrence count with the default applied.
func (t TriggerDefinition) RequiredCount() int {
	if t.Occurrences.Count > 0 {
		return t.Occurrences.Count
	}
	return 1
}

// InvalidationRule cancels monitoring or an open position regardless of
// trigger state. Rules are evaluated in declared order; the first hit
// short-circuits the cycle with its action.
type InvalidationRule struct {
	Timeframe Timeframe           `json:"timeframe"`
	Condition condition.Condition `json:"condition"`
	Action    Action              `json:"action"`
	Scope     string              `json:"scope,omitempty"`
}

// ConditionRef binds a condition to the timeframe it evaluates against.
type ConditionRef struct {
	Timeframe Timeframe           `json:"timeframe"`
	Condition condition.Condition `json:"condition"`
}

// WarningRule emits a non-fatal advisory when every applies_when condition
// holds.
type WarningRule struct {
	AppliesWhen []ConditionRef `json:"appliesWhen"`
	Severity    string         `json:"severity"`
	Code        string         `json:"code"`
	Message     string         `json:"message,omitempty"`
	Mitigation  string         `json:"mitigation,omitempty"`
}

// StrategyDefinition is the immutable rule set a monitoring session runs
// against. Definitions are authored elsewhere; the engine only reads them.
type StrategyDefinition struct {
	ID            string              `json:"id"`
	Name          string              `json:"name,omitempty"`
	Symbol        string              `json:"symbol,omitempty"`
	InstrumentKey string              `json:"instrumentKey,omitempty"`
	Triggers      []TriggerDefinition `json:"triggers"`
	Invalidations []InvalidationRule  `json:"invalidations,omitempty"`
	Warnings      []WarningRule       `json:"warnings,omitempty"`
}

// SessionBudget is the monitoring budget in trading days: the strictest
// trigger wins, defaulting when no trigger declares one.
func (s *StrategyDefinition) SessionBudget() int {
	budget := 0
	for _, t := range s.Triggers {
		if t.WithinSessions <= 0 {
			continue
		}
		if budget == 0 || t.WithinSessions < budget {
			budget = t.WithinSessions
		}
	}
	if budget == 0 {
		return DefaultWithinSessions
	}
	return budget
}

// Timeframes lists every timeframe the strategy references, deduplicated,
// so the scan loop knows which snapshots to fetch.
func (s *StrategyDefinition) Timeframes() []Timeframe {
	seen := map[Timeframe]struct{}{}
	var out []Timeframe

	add := func(tf Timeframe) {
		if tf == "" {
			return
		}
		if _, ok := seen[tf]; ok {
			return
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}

	for _, t := range s.Triggers {
		add(t.Timeframe)
	}
	for _, inv := range s.Invalidations {
		add(inv.Timeframe)
	}
	for _, w := range s.Warnings {
		for _, c := range w.AppliesWhen {
			add(c.Timeframe)
		}
	}

	return out
}
