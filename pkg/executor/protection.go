package executor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// CheckFillsAndPlaceProtection is stage B: settle every ORDER_PLACED pick
// against the broker's view of its entry order, then drain the bracket
// queue so each fresh fill ends up protected. Fills found at the
// checkpoint become ENTERED; everything else is withdrawn. No stale entry
// order survives the checkpoint.
func (c *Coordinator) CheckFillsAndPlaceProtection(ctx context.Context) (*Summary, error) {
	if !c.fillGuard.enter() {
		return nil, ErrStageRunning
	}
	defer c.fillGuard.exit()

	now := c.clock.Now()
	if !c.calendar.IsTradingDay(now) {
		return nil, errors.Wrapf(ErrNotTradingDay, "%s", c.calendar.TradeDate(now))
	}

	placed, err := c.picks.ListByStatus(ctx, c.calendar.TradeDate(now), types.PickStatusOrderPlaced)
	if err != nil {
		return nil, errors.Wrap(err, "list placed picks")
	}

	summary := &Summary{}
	for i := range placed {
		if err := c.settleEntry(ctx, &placed[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("fill check: pick %d", placed[i].ID)
		}
	}

	c.placeProtection(ctx, summary)

	log.Infof("fill check done: %s", summary)
	metrics.UpdateStageMetrics("fill_check", summary.Placed, summary.Filled, summary.Skipped, summary.Errors)
	return summary, nil
}

func (c *Coordinator) settleEntry(ctx context.Context, pick *types.Pick, summary *Summary) error {
	detail, err := c.orderDetails(ctx, pick.EntryOrderID)
	if err != nil {
		// leave the pick ORDER_PLACED; the next run reads it again
		return errors.Wrapf(err, "entry order %s", pick.EntryOrderID)
	}

	switch detail.Status {
	case types.OrderStatusComplete:
		return c.confirmFill(ctx, pick, detail, summary)

	case types.OrderStatusCancelled, types.OrderStatusRejected:
		if err := c.skipPick(ctx, pick, types.PickStatusOrderPlaced, "entry "+strings.ToLower(string(detail.Status))); err != nil {
			return err
		}
		summary.Skipped++
		return nil

	default:
		// still working at the checkpoint
		c.cancelQuiet(ctx, pick.EntryOrderID, "entry")
		if err := c.skipPick(ctx, pick, types.PickStatusOrderPlaced, "entry unfilled at checkpoint"); err != nil {
			return err
		}
		summary.Skipped++
		return nil
	}
}

// confirmFill records the fill, recomputes the target from the actual fill
// price and queues the protective bracket.
func (c *Coordinator) confirmFill(ctx context.Context, pick *types.Pick, detail *types.OrderDetail, summary *Summary) error {
	now := c.clock.Now()

	fill := fillPrice(detail, pick.Entry)
	qty := detail.FilledQuantity
	if qty <= 0 {
		qty = pick.Quantity
	}

	pick.Status = types.PickStatusEntered
	pick.EntryPrice = fill
	pick.Quantity = qty
	pick.Target = pick.RecomputeTarget(fill)
	pick.UpdatedAt = now
	if err := c.picks.Transition(ctx, pick, types.PickStatusOrderPlaced); err != nil {
		return err
	}

	req := &types.BracketRequest{
		ID:            uuid.NewString(),
		PickID:        pick.ID,
		EntryOrderID:  pick.EntryOrderID,
		Symbol:        pick.Symbol,
		InstrumentKey: pick.InstrumentKey,
		Direction:     pick.Direction,
		Quantity:      qty,
		StopLoss:      pick.Stop,
		Target:        pick.Target,
		Status:        types.BracketStatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(types.DefaultBracketTTL),
		UpdatedAt:     now,
	}
	if err := c.brackets.Enqueue(ctx, req); err != nil {
		// the fill is recorded but no protection can be queued
		c.emergencyExit(ctx, pick, errors.Wrap(err, "bracket enqueue failed"))
		return errors.Wrapf(err, "bracket enqueue for pick %d", pick.ID)
	}

	summary.Filled++
	log.Infof("entry filled: %s qty=%d @ %.2f target=%.2f", pick.Symbol, qty, fill, pick.Target)
	c.notifier.Notify("entered %s %s: qty=%d @ %.2f, stop %.2f, target %.2f",
		pick.Symbol, pick.Direction, qty, fill, pick.Stop, pick.Target)
	c.EmitPositionFilled(*pick)
	return nil
}

// placeProtection drains the bracket queue: sweep overdue requests, then
// claim and place each pending bracket, stop leg first.
func (c *Coordinator) placeProtection(ctx context.Context, summary *Summary) {
	now := c.clock.Now()

	if n, err := c.brackets.ExpirePast(ctx, now); err != nil {
		summary.Errors++
		log.WithError(err).Error("bracket expiry sweep failed")
	} else if n > 0 {
		log.Warnf("%d bracket requests expired unplaced", n)
	}

	pending, err := c.brackets.ListPending(ctx, now)
	if err != nil {
		summary.Errors++
		log.WithError(err).Error("bracket queue list failed")
		return
	}

	for i := range pending {
		if err := c.placeBracket(ctx, &pending[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("bracket %s for pick %d", pending[i].ID, pending[i].PickID)
		}
	}
}

// placeBracket claims one request and places its two protective legs. The
// stop is placed first: a position with a stop and no target is degraded
// but safe, the reverse is not.
func (c *Coordinator) placeBracket(ctx context.Context, req *types.BracketRequest, summary *Summary) error {
	now := c.clock.Now()

	if err := c.brackets.Claim(ctx, req.ID, now); err != nil {
		if errors.Is(err, service.ErrBracketClaimed) {
			return nil
		}
		return errors.Wrapf(err, "claim bracket %s", req.ID)
	}

	pick, err := c.picks.Load(ctx, req.PickID)
	if err != nil {
		_ = c.brackets.MarkFailed(ctx, req.ID, now)
		return errors.Wrapf(err, "load pick %d", req.PickID)
	}

	if pick.Status != types.PickStatusEntered {
		log.Warnf("bracket %s dropped: pick %d is %s", req.ID, pick.ID, pick.Status)
		return c.brackets.MarkProcessed(ctx, req.ID, now)
	}

	stop, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("stop"),
		InstrumentKey: req.InstrumentKey,
		Symbol:        req.Symbol,
		Side:          req.Direction.ExitSide(),
		Type:          types.OrderTypeStopMarket,
		Quantity:      req.Quantity,
		TriggerPrice:  req.StopLoss,
		Tag:           "stop",
	})
	if err != nil {
		_ = c.brackets.MarkFailed(ctx, req.ID, now)
		c.emergencyExit(ctx, pick, errors.Wrap(err, "stop placement failed"))
		return errors.Wrapf(err, "stop order for pick %d", pick.ID)
	}

	pick.StopOrderID = stop.OrderID
	summary.Placed++

	target, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("target"),
		InstrumentKey: req.InstrumentKey,
		Symbol:        req.Symbol,
		Side:          req.Direction.ExitSide(),
		Type:          types.OrderTypeLimit,
		Quantity:      req.Quantity,
		Price:         req.Target,
		Tag:           "target",
	})
	if err != nil {
		// tolerated: the stop is live
		log.WithError(err).Errorf("target order for pick %d failed", pick.ID)
		c.alert("target_placement_failed", "pick #%d %s is protected by stop only: %v", pick.ID, pick.Symbol, err)
	} else {
		pick.TargetOrderID = target.OrderID
		summary.Placed++
	}

	pick.UpdatedAt = c.clock.Now()
	if err := c.picks.Transition(ctx, pick, types.PickStatusEntered); err != nil {
		c.cancelQuiet(ctx, pick.TargetOrderID, "target")
		c.cancelQuiet(ctx, pick.StopOrderID, "stop")
		_ = c.brackets.MarkFailed(ctx, req.ID, now)
		return errors.Wrapf(err, "record bracket orders for pick %d", pick.ID)
	}

	if err := c.brackets.MarkProcessed(ctx, req.ID, c.clock.Now()); err != nil {
		log.WithError(err).Warnf("bracket %s placed but not marked processed", req.ID)
	}

	log.Infof("bracket placed for %s: stop=%.2f target=%.2f", pick.Symbol, req.StopLoss, req.Target)
	return nil
}
