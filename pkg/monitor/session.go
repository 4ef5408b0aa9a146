package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// ErrSessionNotFound is returned when a key has no monitoring session.
var ErrSessionNotFound = errors.New("monitoring session not found")

// ExpireReasonBudget marks a session that ran out of trading days.
const ExpireReasonBudget = "session_budget_exhausted"

// sessionRetention is how long an expired session is kept for inspection
// before GC removes it.
const sessionRetention = 7 * 24 * time.Hour

// SessionKey identifies one monitoring session. One analysis watching the
// same strategy twice is the same session; two analyses watching the same
// strategy are two.
type SessionKey struct {
	AnalysisID string `json:"analysisID"`
	StrategyID string `json:"strategyID"`
}

func (k SessionKey) String() string {
	return k.AnalysisID + "/" + k.StrategyID
}

// Session is the mutable monitoring state for one key: the trading-day
// budget accounting plus one TriggerState per trigger.
//
// Cross-key access is guarded by the SessionManager lock. Within one key,
// evaluation cycles are serialized by the scan guard, so trigger state is
// mutated without further locking.
type Session struct {
	Key          SessionKey               `json:"key"`
	Active       bool                     `json:"active"`
	ExpireReason string                   `json:"expireReason,omitempty"`
	MaxSessions  int                      `json:"maxSessions"`
	SessionIndex int                      `json:"sessionIndex"`
	TradeDate    string                   `json:"tradeDate"`
	StartedAt    time.Time                `json:"startedAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
	Triggers     map[string]*TriggerState `json:"triggers"`
}

// Trigger returns the state for a trigger definition, seeding it on first
// sight so definitions can gain triggers without a session reset.
func (s *Session) Trigger(def types.TriggerDefinition) *TriggerState {
	if st, ok := s.Triggers[def.ID]; ok {
		return st
	}

	st := newTriggerState(def)
	s.Triggers[def.ID] = st
	return st
}

func (s *Session) expire(reason string) {
	if s.Active {
		s.Active = false
		s.ExpireReason = reason
	}

	// cancellation cascades: no child may outlive the session
	for _, st := range s.Triggers {
		st.Expired = true
	}
}

// SessionManager owns every monitoring session. All methods are safe for
// concurrent use. When persistence is enabled, session state is saved
// after each mutation and restored on Initialize, so a restart resumes
// budgets instead of resetting them.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[SessionKey]*Session

	calendar    types.TradingCalendar
	clock       types.Clock
	persistence service.PersistenceService
}

func NewSessionManager(cal types.TradingCalendar, clock types.Clock) *SessionManager {
	return &SessionManager{
		sessions: make(map[SessionKey]*Session),
		calendar: cal,
		clock:    clock,
	}
}

// EnablePersistence turns on state sync through the given backend.
func (m *SessionManager) EnablePersistence(ps service.PersistenceService) {
	m.persistence = ps
}

func (m *SessionManager) store(key SessionKey) service.Store {
	return m.persistence.NewStore("monitor", "session", key.AnalysisID, key.StrategyID)
}

// Initialize returns the session for key, creating it when missing.
// Existing sessions (in memory or restored from persistence) are returned
// as-is: initialization never resets budgets.
func (m *SessionManager) Initialize(key SessionKey, strategy *types.StrategyDefinition, now time.Time) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}

	if m.persistence != nil {
		var restored *Session
		err := m.store(key).Load(&restored)
		if err == nil && restored != nil {
			if restored.Triggers == nil {
				restored.Triggers = make(map[string]*TriggerState)
			}
			m.sessions[key] = restored
			log.Infof("restored monitoring session %s (day %d/%d)", key, restored.SessionIndex, restored.MaxSessions)
			return restored
		}
		if err != nil && !errors.Is(err, service.ErrPersistenceNotExists) {
			log.WithError(err).Warnf("failed to restore monitoring session %s", key)
		}
	}

	s := &Session{
		Key:          key,
		Active:       true,
		MaxSessions:  strategy.SessionBudget(),
		SessionIndex: 1,
		TradeDate:    m.calendar.TradeDate(now),
		StartedAt:    now,
		UpdatedAt:    now,
		Triggers:     make(map[string]*TriggerState),
	}
	for _, def := range strategy.Triggers {
		s.Triggers[def.ID] = newTriggerState(def)
	}

	m.sessions[key] = s
	m.saveLocked(s)
	return s
}

// Get returns the session for key.
func (m *SessionManager) Get(key SessionKey) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	return s, ok
}

// Validate reports whether the session may still be evaluated. A trading
// day it has not seen before consumes one slot of the budget; going over
// budget expires the session. An idle gap of several days still costs a
// single slot at the next validation.
func (m *SessionManager) Validate(key SessionKey, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return false, "session not found"
	}
	if !s.Active {
		if s.ExpireReason != "" {
			return false, s.ExpireReason
		}
		return false, "session inactive"
	}

	today := m.calendar.TradeDate(now)
	if today != s.TradeDate && m.calendar.IsTradingDay(now) {
		s.SessionIndex++
		s.TradeDate = today
		s.UpdatedAt = now

		if s.SessionIndex > s.MaxSessions {
			s.expire(ExpireReasonBudget)
			m.saveLocked(s)
			return false, ExpireReasonBudget
		}

		log.Infof("monitoring session %s rolled over to day %d/%d", key, s.SessionIndex, s.MaxSessions)
		m.saveLocked(s)
	}

	return true, ""
}

// Expire deactivates the session and cascades expiry to every trigger
// state. Idempotent; the first reason wins.
func (m *SessionManager) Expire(key SessionKey, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}

	s.expire(reason)
	s.UpdatedAt = m.clock.Now()
	m.saveLocked(s)
}

// Cleanup removes the session and its persisted state. Re-monitoring the
// same key afterwards starts from a fresh budget.
func (m *SessionManager) Cleanup(key SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return
	}

	delete(m.sessions, key)
	if m.persistence != nil {
		if err := m.store(key).Reset(); err != nil {
			log.WithError(err).Warnf("failed to reset persisted session %s", key)
		}
	}
}

// Sync saves the session's current state through the persistence backend.
func (m *SessionManager) Sync(key SessionKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.sessions[key]; ok {
		m.saveLocked(s)
	}
}

func (m *SessionManager) saveLocked(s *Session) {
	if m.persistence == nil {
		return
	}

	if err := m.store(s.Key).Save(s); err != nil {
		log.WithError(err).Warnf("failed to persist monitoring session %s", s.Key)
	}
}

// GC drops expired sessions that have been idle past the retention window.
func (m *SessionManager) GC(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for key, s := range m.sessions {
		if s.Active || now.Sub(s.UpdatedAt) <= sessionRetention {
			continue
		}

		delete(m.sessions, key)
		if m.persistence != nil {
			if err := m.store(key).Reset(); err != nil {
				log.WithError(err).Warnf("failed to reset persisted session %s", key)
			}
		}
		removed++
	}

	if removed > 0 {
		log.Infof("monitoring session gc removed %d sessions", removed)
	}
	return removed
}

// ActiveCount reports how many sessions are still active.
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	for _, s := range m.sessions {
		if s.Active {
			n++
		}
	}
	return n
}
