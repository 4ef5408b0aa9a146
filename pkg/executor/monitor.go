package executor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// MonitorOrders is stage C: poll the protective legs of every ENTERED
// position and settle whatever the broker reports. One filled leg closes
// the position normally. Both legs filled is the broker-latency race; it
// is always corrected with exactly one offsetting order and never left
// unresolved.
func (c *Coordinator) MonitorOrders(ctx context.Context) (*Summary, error) {
	if !c.monitorGuard.enter() {
		return nil, ErrStageRunning
	}
	defer c.monitorGuard.exit()

	now := c.clock.Now()
	if !c.calendar.IsTradingDay(now) {
		return nil, errors.Wrapf(ErrNotTradingDay, "%s", c.calendar.TradeDate(now))
	}

	entered, err := c.picks.ListByStatus(ctx, c.calendar.TradeDate(now), types.PickStatusEntered)
	if err != nil {
		return nil, errors.Wrap(err, "list entered picks")
	}

	summary := &Summary{}
	for i := range entered {
		if err := c.settleProtection(ctx, &entered[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("order monitor: pick %d", entered[i].ID)
		}
	}

	metrics.UpdateStageMetrics("monitor", summary.Placed, summary.Filled, summary.Skipped, summary.Errors)
	return summary, nil
}

func (c *Coordinator) settleProtection(ctx context.Context, pick *types.Pick, summary *Summary) error {
	if pick.StopOrderID == "" && pick.TargetOrderID == "" {
		// bracket not placed yet
		return nil
	}

	var stopDetail, targetDetail *types.OrderDetail
	var err error

	if pick.StopOrderID != "" {
		stopDetail, err = c.orderDetails(ctx, pick.StopOrderID)
		if err != nil {
			return errors.Wrapf(err, "stop order %s", pick.StopOrderID)
		}
	}

	if pick.TargetOrderID != "" {
		targetDetail, err = c.orderDetails(ctx, pick.TargetOrderID)
		if err != nil {
			return errors.Wrapf(err, "target order %s", pick.TargetOrderID)
		}
	}

	stopFilled := stopDetail != nil && stopDetail.Status == types.OrderStatusComplete
	targetFilled := targetDetail != nil && targetDetail.Status == types.OrderStatusComplete

	switch {
	case stopFilled && targetFilled:
		return c.correctRaceOverfill(ctx, pick, stopDetail, summary)

	case stopFilled:
		c.cancelQuiet(ctx, pick.TargetOrderID, "target")
		if err := c.closePosition(ctx, pick, types.PickStatusStoppedOut, fillPrice(stopDetail, pick.Stop), types.ExitReasonStopHit); err != nil {
			return err
		}
		summary.Filled++
		return nil

	case targetFilled:
		c.cancelQuiet(ctx, pick.StopOrderID, "stop")
		if err := c.closePosition(ctx, pick, types.PickStatusTargetHit, fillPrice(targetDetail, pick.Target), types.ExitReasonTargetHit); err != nil {
			return err
		}
		summary.Filled++
		return nil
	}

	return nil
}

// correctRaceOverfill unwinds a double fill: one leg closed the position,
// the other reopened it on the opposite side, so one offsetting market
// order on the entry side restores a flat book. The stop fill prices the
// recorded exit.
func (c *Coordinator) correctRaceOverfill(ctx context.Context, pick *types.Pick, stopDetail *types.OrderDetail, summary *Summary) error {
	c.alert("stop_hit_race_condition", "pick #%d %s: both protective legs filled, issuing corrective %s of %d",
		pick.ID, pick.Symbol, pick.Direction.EntrySide(), pick.Quantity)

	_, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("correct"),
		InstrumentKey: pick.InstrumentKey,
		Symbol:        pick.Symbol,
		Side:          pick.Direction.EntrySide(),
		Type:          types.OrderTypeMarket,
		Quantity:      pick.Quantity,
		Tag:           "race_correction",
	})
	if err != nil {
		summary.Errors++
		log.WithError(err).Errorf("corrective order for pick %d failed", pick.ID)
	} else {
		summary.Placed++
	}

	if err := c.closePosition(ctx, pick, types.PickStatusStoppedOut, fillPrice(stopDetail, pick.Stop), types.ExitReasonRaceCondition); err != nil {
		return err
	}

	summary.Filled++
	return nil
}

// SquareOffEndOfDay is stage D: past the square-off cutoff nothing may
// survive the day. Working entries are withdrawn, protective legs
// cancelled and open positions flattened at market.
func (c *Coordinator) SquareOffEndOfDay(ctx context.Context) (*Summary, error) {
	if !c.squareOffGuard.enter() {
		return nil, ErrStageRunning
	}
	defer c.squareOffGuard.exit()

	now := c.clock.Now()
	if !c.calendar.IsTradingDay(now) {
		return nil, errors.Wrapf(ErrNotTradingDay, "%s", c.calendar.TradeDate(now))
	}

	tradeDate := c.calendar.TradeDate(now)
	summary := &Summary{}

	pending, err := c.picks.ListByStatus(ctx, tradeDate, types.PickStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "list pending picks")
	}

	for i := range pending {
		if err := c.skipPick(ctx, &pending[i], types.PickStatusPending, "end of day"); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("square off: pick %d", pending[i].ID)
			continue
		}
		summary.Skipped++
	}

	placed, err := c.picks.ListByStatus(ctx, tradeDate, types.PickStatusOrderPlaced)
	if err != nil {
		return nil, errors.Wrap(err, "list placed picks")
	}

	for i := range placed {
		pick := &placed[i]
		c.cancelQuiet(ctx, pick.EntryOrderID, "entry")
		if err := c.skipPick(ctx, pick, types.PickStatusOrderPlaced, "end of day"); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("square off: pick %d", pick.ID)
			continue
		}
		summary.Skipped++
	}

	entered, err := c.picks.ListByStatus(ctx, tradeDate, types.PickStatusEntered)
	if err != nil {
		return nil, errors.Wrap(err, "list entered picks")
	}

	for i := range entered {
		if err := c.squareOffPosition(ctx, &entered[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("square off: pick %d", entered[i].ID)
		}
	}

	log.Infof("square off done: %s", summary)
	metrics.UpdateStageMetrics("square_off", summary.Placed, summary.Filled, summary.Skipped, summary.Errors)
	return summary, nil
}

func (c *Coordinator) squareOffPosition(ctx context.Context, pick *types.Pick, summary *Summary) error {
	c.cancelQuiet(ctx, pick.StopOrderID, "stop")
	c.cancelQuiet(ctx, pick.TargetOrderID, "target")

	result, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("eod"),
		InstrumentKey: pick.InstrumentKey,
		Symbol:        pick.Symbol,
		Side:          pick.Direction.ExitSide(),
		Type:          types.OrderTypeMarket,
		Quantity:      pick.Quantity,
		Tag:           "eod_square_off",
	})
	if err != nil {
		c.alert("square_off_failed", "pick #%d %s could not be flattened: %v", pick.ID, pick.Symbol, err)
		return errors.Wrapf(err, "square off order for pick %d", pick.ID)
	}

	exit := pick.EntryPrice
	if detail, derr := c.orderDetails(ctx, result.OrderID); derr == nil {
		exit = fillPrice(detail, exit)
	}

	if err := c.closePosition(ctx, pick, types.PickStatusStoppedOut, exit, types.ExitReasonEndOfDay); err != nil {
		return err
	}

	summary.Filled++
	return nil
}
