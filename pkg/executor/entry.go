package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// newClientOrderID tags broker orders for diagnostics; the broker only
// requires uniqueness.
func newClientOrderID(kind string) string {
	return fmt.Sprintf("tp-%s-%s", kind, uuid.NewString())
}

// RunDailyEntry is stage A of the day's pipeline: size and place the entry
// order for every PENDING pick of the current trade date. Re-entrant; an
// overlapping call returns ErrStageRunning and a repeated call finds no
// PENDING picks left.
func (c *Coordinator) RunDailyEntry(ctx context.Context) (*Summary, error) {
	if !c.entryGuard.enter() {
		return nil, ErrStageRunning
	}
	defer c.entryGuard.exit()

	now := c.clock.Now()
	if !c.calendar.IsTradingDay(now) {
		return nil, errors.Wrapf(ErrNotTradingDay, "%s", c.calendar.TradeDate(now))
	}

	pending, err := c.picks.ListByStatus(ctx, c.calendar.TradeDate(now), types.PickStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "list pending picks")
	}

	summary := &Summary{}
	for i := range pending {
		if err := c.placeEntry(ctx, &pending[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("entry stage: pick %d", pending[i].ID)
		}
	}

	log.Infof("entry stage done: %s", summary)
	metrics.UpdateStageMetrics("entry", summary.Placed, summary.Filled, summary.Skipped, summary.Errors)
	return summary, nil
}

func (c *Coordinator) placeEntry(ctx context.Context, pick *types.Pick, summary *Summary) error {
	if pick.Entry <= 0 {
		if err := c.skipPick(ctx, pick, types.PickStatusPending, "entry level missing"); err != nil {
			return err
		}
		summary.Skipped++
		return nil
	}

	qty := int64(math.Floor(c.capitalShare / pick.Entry))
	if qty <= 0 {
		if err := c.skipPick(ctx, pick, types.PickStatusPending, "capital share below one share"); err != nil {
			return err
		}
		summary.Skipped++
		return nil
	}

	result, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("entry"),
		InstrumentKey: pick.InstrumentKey,
		Symbol:        pick.Symbol,
		Side:          pick.Direction.EntrySide(),
		Type:          types.OrderTypeLimit,
		Quantity:      qty,
		Price:         pick.Entry,
		Tag:           "entry",
	})
	if err != nil {
		pick.Status = types.PickStatusFailed
		pick.Quantity = qty
		pick.ExitReason = "entry rejected"
		pick.UpdatedAt = c.clock.Now()
		if terr := c.picks.Transition(ctx, pick, types.PickStatusPending); terr != nil {
			log.WithError(terr).Errorf("pick %d could not be marked FAILED", pick.ID)
		}
		return errors.Wrapf(err, "entry order for %s", pick.Symbol)
	}

	pick.Status = types.PickStatusOrderPlaced
	pick.Quantity = qty
	pick.EntryOrderID = result.OrderID
	pick.UpdatedAt = c.clock.Now()
	if err := c.picks.Transition(ctx, pick, types.PickStatusPending); err != nil {
		// the pick moved while the broker call was in flight; withdraw
		// the order so no orphan entry survives
		c.cancelQuiet(ctx, result.OrderID, "entry")
		return err
	}

	summary.Placed++
	log.Infof("entry placed: %s %s qty=%d @ %.2f order=%s",
		pick.Symbol, pick.Direction, qty, pick.Entry, result.OrderID)
	c.notifier.Notify("entry placed: %s %s qty=%d @ %.2f", pick.Symbol, pick.Direction, qty, pick.Entry)
	return nil
}
