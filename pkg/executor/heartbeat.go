package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/types"
)

const (
	heartbeatMaxRetries  = 3
	heartbeatBackoffStep = 200 * time.Millisecond
)

// linearBackOff waits attempt×step between tries.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Heartbeat refreshes the liveness timestamp of one active pick, retrying
// a small fixed number of times on write conflict. A pick that is no
// longer active is permanent, not a conflict.
func (c *Coordinator) Heartbeat(ctx context.Context, id uint64) error {
	op := func() error {
		err := c.picks.Heartbeat(ctx, id, c.clock.Now())
		if err == nil {
			return nil
		}

		if errors.Is(err, service.ErrStaleTransition) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: heartbeatBackoffStep}, heartbeatMaxRetries), ctx)
	return backoff.Retry(op, policy)
}

// RefreshHeartbeats sweeps every active pick of the current trade date.
func (c *Coordinator) RefreshHeartbeats(ctx context.Context) error {
	tradeDate := c.calendar.TradeDate(c.clock.Now())

	var active []types.Pick
	for _, status := range []types.PickStatus{types.PickStatusOrderPlaced, types.PickStatusEntered} {
		list, err := c.picks.ListByStatus(ctx, tradeDate, status)
		if err != nil {
			return errors.Wrapf(err, "list %s picks", status)
		}
		active = append(active, list...)
	}

	for i := range active {
		if err := c.Heartbeat(ctx, active[i].ID); err != nil {
			log.WithError(err).Warnf("heartbeat for pick %d", active[i].ID)
		}
	}

	return nil
}
