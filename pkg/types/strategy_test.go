package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrategyDefinition_SessionBudget(t *testing.T) {
	s := &StrategyDefinition{
		Triggers: []TriggerDefinition{
			{ID: "t1", WithinSessions: 3},
			{ID: "t2", WithinSessions: 7},
		},
	}
	assert.Equal(t, 3, s.SessionBudget(), "tightest trigger bounds the session")

	unset := &StrategyDefinition{
		Triggers: []TriggerDefinition{{ID: "t1"}},
	}
	assert.Equal(t, DefaultWithinSessions, unset.SessionBudget())

	empty := &StrategyDefinition{}
	assert.Equal(t, DefaultWithinSessions, empty.SessionBudget())
}

func TestStrategyDefinition_Timeframes(t *testing.T) {
	s := &StrategyDefinition{
		Triggers: []TriggerDefinition{
			{ID: "t1", Timeframe: Timeframe5m},
			{ID: "t2", Timeframe: Timeframe15m},
			{ID: "t3", Timeframe: Timeframe5m},
		},
		Invalidations: []InvalidationRule{
			{Timeframe: Timeframe1d},
		},
		Warnings: []WarningRule{
			{AppliesWhen: []ConditionRef{{Timeframe: Timeframe15m}}},
		},
	}

	tfs := s.Timeframes()
	assert.ElementsMatch(t, []Timeframe{Timeframe5m, Timeframe15m, Timeframe1d}, tfs)
}

func TestTriggerDefinition_MaxBars(t *testing.T) {
	assert.Equal(t, 12, TriggerDefinition{ExpiryBars: 12}.MaxBars())
	assert.Equal(t, DefaultExpiryBars, TriggerDefinition{}.MaxBars())
	assert.Equal(t, DefaultExpiryBars, TriggerDefinition{ExpiryBars: -1}.MaxBars())
}

func TestTriggerDefinition_RequiredCount(t *testing.T) {
	assert.Equal(t, 1, TriggerDefinition{}.RequiredCount())
	assert.Equal(t, 3, TriggerDefinition{Occurrences: OccurrenceSpec{Count: 3}}.RequiredCount())
	assert.Equal(t, 1, TriggerDefinition{Occurrences: OccurrenceSpec{Count: 0}}.RequiredCount())
}
