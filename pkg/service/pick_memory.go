package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// MemoryPickStore keeps picks in memory with the same conditional
// transition semantics as PickService. Dry-run mode and tests.
type MemoryPickStore struct {
	mu     sync.Mutex
	nextID uint64
	picks  map[uint64]*types.Pick
}

func NewMemoryPickStore() *MemoryPickStore {
	return &MemoryPickStore{
		nextID: 1,
		picks:  make(map[uint64]*types.Pick),
	}
}

func (s *MemoryPickStore) Insert(_ context.Context, pick *types.Pick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pick.ID = s.nextID
	s.nextID++

	cp := *pick
	s.picks[pick.ID] = &cp
	return nil
}

func (s *MemoryPickStore) Load(_ context.Context, id uint64) (*types.Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.picks[id]
	if !ok {
		return nil, errors.Wrapf(ErrPickNotFound, "pick id:%d not found", id)
	}

	cp := *p
	return &cp, nil
}

func (s *MemoryPickStore) ListByStatus(_ context.Context, tradeDate string, status types.PickStatus) ([]types.Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Pick
	for _, p := range s.picks {
		if p.Status == status && p.TradeDate.Format("2006-01-02") == tradeDate {
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryPickStore) Transition(_ context.Context, pick *types.Pick, from types.PickStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.picks[pick.ID]
	if !ok || p.Status != from {
		return errors.Wrapf(ErrStaleTransition, "pick %d is no longer %s", pick.ID, from)
	}

	cp := *pick
	s.picks[pick.ID] = &cp
	return nil
}

func (s *MemoryPickStore) Heartbeat(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.picks[id]
	if !ok || (p.Status != types.PickStatusOrderPlaced && p.Status != types.PickStatusEntered) {
		return errors.Wrapf(ErrStaleTransition, "pick %d is not active", id)
	}

	p.UpdatedAt = at
	return nil
}
