package monitor

import (
	"fmt"
	"time"

	"github.com/tradepilot/tradepilot/pkg/condition"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// staleFactor: while the market is open, a snapshot older than this many
// timeframe lengths is treated as a feed outage and skipped rather than
// counted as a bar.
const staleFactor = 2

// TriggerState is the per-trigger accounting inside a session: the bar
// budget, the rolling left-operand history crosses evaluate against, and
// the per-bar condition outcomes the occurrence requirement counts.
//
// State only changes when a new bar arrives. Re-checks within the same bar
// re-evaluate the condition live but mutate nothing, so polling frequency
// never affects the accounting.
type TriggerState struct {
	TriggerID     string    `json:"triggerID"`
	BarsChecked   int       `json:"barsChecked"`
	MaxBars       int       `json:"maxBars"`
	RequiredCount int       `json:"requiredCount"`
	Consecutive   bool      `json:"consecutive"`
	Expired       bool      `json:"expired"`
	LastBarTime   time.Time `json:"lastBarTime"`

	// ValueHistory holds the left operand's value for at most the last two
	// bars; slot 0 is the previous bar once two bars have been seen.
	ValueHistory []float64 `json:"valueHistory,omitempty"`

	// Occurrences records the condition outcome per counted bar, capped at
	// MaxBars.
	Occurrences []bool `json:"occurrences,omitempty"`
}

func newTriggerState(def types.TriggerDefinition) *TriggerState {
	return &TriggerState{
		TriggerID:     def.ID,
		MaxBars:       def.MaxBars(),
		RequiredCount: def.RequiredCount(),
		Consecutive:   def.Occurrences.Consecutive,
	}
}

// prevValue returns the previous bar's left-operand value.
// When the current bar is already recorded the previous bar sits one slot
// back; before recording it is the newest slot.
func (s *TriggerState) prevValue(currentRecorded bool) *float64 {
	n := len(s.ValueHistory)
	if currentRecorded {
		if n < 2 {
			return nil
		}
		v := s.ValueHistory[n-2]
		return &v
	}

	if n < 1 {
		return nil
	}
	v := s.ValueHistory[n-1]
	return &v
}

func (s *TriggerState) occurrencesSatisfied() bool {
	required := s.RequiredCount
	if required < 1 {
		required = 1
	}

	if s.Consecutive {
		n := len(s.Occurrences)
		if n < required {
			return false
		}
		for _, hit := range s.Occurrences[n-required:] {
			if !hit {
				return false
			}
		}
		return true
	}

	var hits int
	for _, hit := range s.Occurrences {
		if hit {
			hits++
		}
	}
	return hits >= required
}

// TriggerCheck is the outcome of evaluating one trigger once.
type TriggerCheck struct {
	TriggerID      string `json:"triggerID"`
	Satisfied      bool   `json:"satisfied"`
	ConditionMet   bool   `json:"conditionMet"`
	OccurrencesMet bool   `json:"occurrencesMet"`
	Expired        bool   `json:"expired"`
	NewBar         bool   `json:"newBar"`
	BarsChecked    int    `json:"barsChecked"`
	BarsRemaining  int    `json:"barsRemaining"`
	Reason         string `json:"reason,omitempty"`
}

// TriggerTracker evaluates triggers and owns every TriggerState mutation.
type TriggerTracker struct{}

func NewTriggerTracker() *TriggerTracker {
	return &TriggerTracker{}
}

// Check runs one evaluation of a trigger against the snapshot for its
// timeframe. The order is load-bearing:
//
//  1. an expired trigger short-circuits forever;
//  2. a missing or stale snapshot is a soft miss that mutates nothing;
//  3. the bar budget is checked before the new bar is counted, so a check
//     arriving after the budget was consumed reports expiry instead of
//     evaluating;
//  4. only then does a new bar increment BarsChecked, extend the value
//     history and record the occurrence.
func (t *TriggerTracker) Check(state *TriggerState, def types.TriggerDefinition, snap *types.Snapshot, params map[string]float64, now time.Time, marketOpen bool) TriggerCheck {
	check := TriggerCheck{
		TriggerID:     state.TriggerID,
		BarsChecked:   state.BarsChecked,
		BarsRemaining: state.MaxBars - state.BarsChecked,
	}

	if state.Expired {
		check.Expired = true
		check.BarsRemaining = 0
		check.Reason = "trigger bar budget exhausted"
		return check
	}

	if snap == nil {
		check.Reason = fmt.Sprintf("no %s snapshot", def.Timeframe)
		return check
	}

	if marketOpen {
		if age := snap.Age(now); age > staleFactor*def.Timeframe.Duration() {
			check.Reason = fmt.Sprintf("stale %s snapshot (%s old)", def.Timeframe, age.Truncate(time.Second))
			return check
		}
	}

	if state.BarsChecked >= state.MaxBars {
		state.Expired = true
		check.Expired = true
		check.BarsRemaining = 0
		check.Reason = "trigger bar budget exhausted"
		return check
	}

	newBar := state.LastBarTime.IsZero() || !snap.Timestamp.Equal(state.LastBarTime)
	check.NewBar = newBar

	prev := state.prevValue(!newBar)
	rc := condition.ResolveContext{Fields: snap, Params: params, PrevLeft: prev}
	conditionMet, reason := condition.Evaluate(def.Condition, rc)
	check.ConditionMet = conditionMet
	check.Reason = reason

	if newBar {
		state.BarsChecked++
		state.LastBarTime = snap.Timestamp

		if def.Condition.Left.Reference != nil {
			if cur, ok := def.Condition.Left.Resolve(condition.ResolveContext{Fields: snap, Params: params}); ok {
				state.ValueHistory = append(state.ValueHistory, cur)
				if len(state.ValueHistory) > 2 {
					state.ValueHistory = state.ValueHistory[len(state.ValueHistory)-2:]
				}
			}
		}

		state.Occurrences = append(state.Occurrences, conditionMet)
		if len(state.Occurrences) > state.MaxBars {
			state.Occurrences = state.Occurrences[len(state.Occurrences)-state.MaxBars:]
		}
	}

	check.OccurrencesMet = state.occurrencesSatisfied()
	check.Satisfied = conditionMet && check.OccurrencesMet
	check.BarsChecked = state.BarsChecked
	check.BarsRemaining = state.MaxBars - state.BarsChecked

	return check
}
