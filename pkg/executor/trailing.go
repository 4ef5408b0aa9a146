package executor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/risk"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// ApplyTrailingStops recomputes the protective stop of every ENTERED
// position from the latest snapshot and replaces the stop order when the
// calculator finds a strictly more protective level. Runs only while the
// market is open; closed-market snapshots have nothing new to say.
func (c *Coordinator) ApplyTrailingStops(ctx context.Context) (*Summary, error) {
	if !c.trailGuard.enter() {
		return nil, ErrStageRunning
	}
	defer c.trailGuard.exit()

	now := c.clock.Now()
	summary := &Summary{}
	if !c.calendar.IsMarketOpen(now) {
		return summary, nil
	}

	entered, err := c.picks.ListByStatus(ctx, c.calendar.TradeDate(now), types.PickStatusEntered)
	if err != nil {
		return nil, errors.Wrap(err, "list entered picks")
	}

	for i := range entered {
		if err := c.trailPosition(ctx, &entered[i], summary); err != nil {
			summary.Errors++
			log.WithError(err).Errorf("trailing: pick %d", entered[i].ID)
		}
	}

	return summary, nil
}

func (c *Coordinator) trailPosition(ctx context.Context, pick *types.Pick, summary *Summary) error {
	if pick.StopOrderID == "" {
		// bracket not placed yet
		return nil
	}

	snap, err := c.market.GetSnapshot(ctx, pick.InstrumentKey, c.trailTimeframe)
	if err != nil || snap == nil {
		log.Debugf("no %s snapshot for %s, skipping trail", c.trailTimeframe, pick.InstrumentKey)
		return nil
	}

	price, ok := snap.Field("close")
	if !ok {
		return nil
	}

	swingField := "swing_low"
	if pick.Direction.IsShort() {
		swingField = "swing_high"
	}

	atr, _ := snap.Field("atr")
	swing, _ := snap.Field(swingField)
	ema, _ := snap.Field("ema20")

	result := risk.CalculateTrailingStop(pick.Direction, risk.Levels{
		Entry:         pick.EntryPrice,
		CurrentStop:   pick.Stop,
		CurrentTarget: pick.Target,
	}, price, risk.Indicators{ATR: atr, Swing: swing, EMA20: ema})

	if !result.ShouldTrail {
		return nil
	}

	if err := c.cancelOrder(ctx, pick.StopOrderID); err != nil {
		// likely already filled; the order monitor settles that
		log.WithError(err).Warnf("trailing: stop %s not cancellable, keeping %.2f", pick.StopOrderID, pick.Stop)
		return nil
	}

	stop, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("trail"),
		InstrumentKey: pick.InstrumentKey,
		Symbol:        pick.Symbol,
		Side:          pick.Direction.ExitSide(),
		Type:          types.OrderTypeStopMarket,
		Quantity:      pick.Quantity,
		TriggerPrice:  result.NewStop,
		Tag:           "stop",
	})
	if err != nil {
		// the old stop is gone and the new one failed: unprotected
		c.emergencyExit(ctx, pick, errors.Wrap(err, "stop replacement failed"))
		return errors.Wrapf(err, "replacement stop for pick %d", pick.ID)
	}

	oldStop := pick.Stop
	pick.Stop = result.NewStop
	pick.StopOrderID = stop.OrderID
	pick.UpdatedAt = c.clock.Now()
	if err := c.picks.Transition(ctx, pick, types.PickStatusEntered); err != nil {
		return errors.Wrapf(err, "record trailed stop for pick %d", pick.ID)
	}

	summary.Placed++
	metrics.TrailingStopUpdatesMetrics.With(prometheus.Labels{"method": string(result.Method)}).Inc()
	log.Infof("trailed stop for %s: %.2f -> %.2f (%s)", pick.Symbol, oldStop, result.NewStop, result.Method)
	c.notifier.Notify("trailing stop %s: %.2f -> %.2f (%s)", pick.Symbol, oldStop, result.NewStop, result.Method)
	c.EmitStopMoved(*pick, result)
	return nil
}
