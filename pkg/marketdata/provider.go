package marketdata

import (
	"context"
	"errors"
	"sync"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// ErrNoSnapshot is returned when no snapshot exists for the requested
// instrument and timeframe. Callers treat it as a soft miss.
var ErrNoSnapshot = errors.New("no snapshot available")

// Provider feeds the engine candle snapshots with computed indicator
// fields. Implementations own staleness of their upstream feed; the
// engine separately guards against old timestamps.
type Provider interface {
	GetSnapshot(ctx context.Context, instrumentKey string, tf types.Timeframe) (*types.Snapshot, error)
}

type snapshotKey struct {
	instrument string
	timeframe  types.Timeframe
}

// MemoryProvider serves snapshots pushed into it. It backs dry-run mode
// and tests; a live deployment implements Provider against the data
// vendor's API instead.
type MemoryProvider struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey]*types.Snapshot
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		snapshots: make(map[snapshotKey]*types.Snapshot),
	}
}

// Push stores a snapshot, replacing the previous one for its instrument
// and timeframe.
func (p *MemoryProvider) Push(snap *types.Snapshot) {
	if snap == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[snapshotKey{snap.InstrumentKey, snap.Timeframe}] = snap
}

func (p *MemoryProvider) GetSnapshot(_ context.Context, instrumentKey string, tf types.Timeframe) (*types.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap, ok := p.snapshots[snapshotKey{instrumentKey, tf}]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}
