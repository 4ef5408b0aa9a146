package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// MemoryBracketQueue is the in-memory bracket request queue used for
// dry-run mode and tests. Same claim semantics as BracketService, no
// durability.
type MemoryBracketQueue struct {
	mu       sync.Mutex
	requests map[string]*types.BracketRequest
}

func NewMemoryBracketQueue() *MemoryBracketQueue {
	return &MemoryBracketQueue{
		requests: make(map[string]*types.BracketRequest),
	}
}

func (q *MemoryBracketQueue) Enqueue(_ context.Context, req *types.BracketRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := *req
	q.requests[req.ID] = &cp
	return nil
}

func (q *MemoryBracketQueue) ListPending(_ context.Context, now time.Time) ([]types.BracketRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []types.BracketRequest
	for _, r := range q.requests {
		if r.Status == types.BracketStatusPending && !r.ExpiredAt(now) {
			out = append(out, *r)
		}
	}

	return out, nil
}

func (q *MemoryBracketQueue) Claim(_ context.Context, id string, now time.Time) error {
	return q.setStatus(id, types.BracketStatusPending, types.BracketStatusProcessing, now, ErrBracketClaimed)
}

func (q *MemoryBracketQueue) MarkProcessed(_ context.Context, id string, now time.Time) error {
	return q.setStatus(id, types.BracketStatusProcessing, types.BracketStatusProcessed, now, ErrBracketNotFound)
}

func (q *MemoryBracketQueue) MarkFailed(_ context.Context, id string, now time.Time) error {
	return q.setStatus(id, types.BracketStatusProcessing, types.BracketStatusFailed, now, ErrBracketNotFound)
}

func (q *MemoryBracketQueue) setStatus(id string, from, to types.BracketRequestStatus, now time.Time, sentinel error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.requests[id]
	if !ok || r.Status != from {
		return errors.Wrapf(sentinel, "bracket request %s is no longer %s", id, from)
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}

func (q *MemoryBracketQueue) ExpirePast(_ context.Context, now time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, r := range q.requests {
		if r.Status == types.BracketStatusPending && r.ExpiredAt(now) {
			r.Status = types.BracketStatusExpired
			r.UpdatedAt = now
			n++
		}
	}

	return n, nil
}
