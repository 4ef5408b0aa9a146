package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepilot/tradepilot/pkg/calendar"
	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// utcCalendar keeps test times readable: a 09:15-15:30 session in UTC.
func utcCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.Config{Timezone: "UTC"})
	require.NoError(t, err)
	return cal
}

func testStrategy(id string, withinSessions int) *types.StrategyDefinition {
	trig := crossTrigger("t1", 10)
	trig.WithinSessions = withinSessions
	return &types.StrategyDefinition{
		ID:       id,
		Symbol:   "INFY",
		Triggers: []types.TriggerDefinition{trig},
	}
}

func TestSessionManager_InitializeIdempotent(t *testing.T) {
	cal := utcCalendar(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(cal, types.FixedClock{T: now})

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	s1 := m.Initialize(key, testStrategy("s1", 2), now)
	require.NotNil(t, s1)
	assert.Equal(t, 1, s1.SessionIndex)
	assert.Equal(t, 2, s1.MaxSessions)
	assert.Len(t, s1.Triggers, 1)

	s2 := m.Initialize(key, testStrategy("s1", 2), now.Add(time.Hour))
	assert.Same(t, s1, s2, "initialize never resets an existing session")
}

func TestSessionManager_ValidateBudget(t *testing.T) {
	cal := utcCalendar(t)
	day1 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) // Monday
	m := NewSessionManager(cal, types.FixedClock{T: day1})

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m.Initialize(key, testStrategy("s1", 2), day1)

	ok, _ := m.Validate(key, day1)
	assert.True(t, ok, "day 1 is within budget")

	ok, _ = m.Validate(key, day1.Add(2*time.Hour))
	assert.True(t, ok, "same day never consumes budget")

	day2 := day1.AddDate(0, 0, 1)
	ok, _ = m.Validate(key, day2)
	assert.True(t, ok, "day 2 consumes the last slot")

	day3 := day1.AddDate(0, 0, 2)
	ok, reason := m.Validate(key, day3)
	assert.False(t, ok)
	assert.Equal(t, ExpireReasonBudget, reason)

	s, _ := m.Get(key)
	assert.False(t, s.Active)
	for _, st := range s.Triggers {
		assert.True(t, st.Expired, "expiry cascades to trigger states")
	}
}

func TestSessionManager_WeekendRolloverDoesNotConsume(t *testing.T) {
	cal := utcCalendar(t)
	friday := time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(cal, types.FixedClock{T: friday})

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m.Initialize(key, testStrategy("s1", 2), friday)

	saturday := friday.AddDate(0, 0, 1)
	ok, _ := m.Validate(key, saturday)
	assert.True(t, ok)
	s, _ := m.Get(key)
	assert.Equal(t, 1, s.SessionIndex, "weekend does not consume a session")

	monday := friday.AddDate(0, 0, 3)
	ok, _ = m.Validate(key, monday)
	assert.True(t, ok)
	s, _ = m.Get(key)
	assert.Equal(t, 2, s.SessionIndex, "a multi-day gap costs exactly one slot")
}

func TestSessionManager_ExpireIdempotent(t *testing.T) {
	cal := utcCalendar(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(cal, types.FixedClock{T: now})

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m.Initialize(key, testStrategy("s1", 2), now)

	m.Expire(key, "first reason")
	m.Expire(key, "second reason")

	s, _ := m.Get(key)
	assert.False(t, s.Active)
	assert.Equal(t, "first reason", s.ExpireReason)

	ok, reason := m.Validate(key, now)
	assert.False(t, ok)
	assert.Equal(t, "first reason", reason)
}

func TestSessionManager_CleanupAllowsRestart(t *testing.T) {
	cal := utcCalendar(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(cal, types.FixedClock{T: now})

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m.Initialize(key, testStrategy("s1", 2), now)
	m.Expire(key, "done")
	m.Cleanup(key)

	_, found := m.Get(key)
	assert.False(t, found)

	fresh := m.Initialize(key, testStrategy("s1", 2), now)
	assert.True(t, fresh.Active)
	assert.Equal(t, 1, fresh.SessionIndex)
}

func TestSessionManager_GC(t *testing.T) {
	cal := utcCalendar(t)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m := NewSessionManager(cal, types.FixedClock{T: now})

	old := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m.Initialize(old, testStrategy("s1", 2), now)
	m.Expire(old, "done")

	active := SessionKey{AnalysisID: "a2", StrategyID: "s1"}
	m.Initialize(active, testStrategy("s1", 2), now)

	removed := m.GC(now.Add(8 * 24 * time.Hour))
	assert.Equal(t, 1, removed)

	_, found := m.Get(old)
	assert.False(t, found)
	_, found = m.Get(active)
	assert.True(t, found, "active sessions are never collected")
	assert.Equal(t, 1, m.ActiveCount())
}

func TestSessionManager_RestoreFromPersistence(t *testing.T) {
	cal := utcCalendar(t)
	day1 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	mem := service.NewMemoryService()

	m1 := NewSessionManager(cal, types.FixedClock{T: day1})
	m1.EnablePersistence(mem)

	key := SessionKey{AnalysisID: "a1", StrategyID: "s1"}
	m1.Initialize(key, testStrategy("s1", 3), day1)

	day2 := day1.AddDate(0, 0, 1)
	ok, _ := m1.Validate(key, day2)
	require.True(t, ok)

	// a new manager backed by the same store picks the session up where it
	// was left
	m2 := NewSessionManager(cal, types.FixedClock{T: day2})
	m2.EnablePersistence(mem)

	restored := m2.Initialize(key, testStrategy("s1", 3), day2)
	assert.Equal(t, 2, restored.SessionIndex)
	assert.Equal(t, 3, restored.MaxSessions)

	// cleanup removes the persisted copy as well
	m2.Cleanup(key)
	m3 := NewSessionManager(cal, types.FixedClock{T: day2})
	m3.EnablePersistence(mem)
	fresh := m3.Initialize(key, testStrategy("s1", 3), day2)
	assert.Equal(t, 1, fresh.SessionIndex)
}
