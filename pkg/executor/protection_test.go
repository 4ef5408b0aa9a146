package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepilot/tradepilot/pkg/broker"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// placeAndFill runs the entry stage and walks the paper market through the
// entry level so the limit order fills.
func (f *fixture) placeAndFill(t *testing.T, pick *types.Pick, tick float64) {
	t.Helper()

	_, err := f.coord.RunDailyEntry(context.Background())
	require.NoError(t, err)
	f.broker.Tick(pick.InstrumentKey, tick)
}

func TestFillCheckEntersAndPlacesBracket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	pick := f.insertPick(t, longPick("RELIANCE"))
	f.placeAndFill(t, pick, 99.5)

	summary, err := f.coord.CheckFillsAndPlaceProtection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Filled)
	assert.Equal(t, 2, summary.Placed, "stop and target legs")
	assert.Equal(t, 0, summary.Errors)

	got := f.reload(t, pick.ID)
	assert.Equal(t, types.PickStatusEntered, got.Status)
	assert.Equal(t, 100.0, got.EntryPrice)
	assert.Equal(t, 110.0, got.Target, "risk reward 2 over a 5 point risk")
	require.NotEmpty(t, got.StopOrderID)
	require.NotEmpty(t, got.TargetOrderID)

	stopDetail, err := f.broker.GetOrderDetails(ctx, got.StopOrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusTriggerPending, stopDetail.Status)

	targetDetail, err := f.broker.GetOrderDetails(ctx, got.TargetOrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusOpen, targetDetail.Status)

	pending, err := f.brackets.ListPending(ctx, f.clock.t)
	require.NoError(t, err)
	assert.Empty(t, pending, "bracket queue drained")
}

func TestFillCheckWithdrawsUnfilledEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	pick := f.insertPick(t, longPick("RELIANCE"))

	_, err := f.coord.RunDailyEntry(ctx)
	require.NoError(t, err)

	summary, err := f.coord.CheckFillsAndPlaceProtection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	got := f.reload(t, pick.ID)
	assert.Equal(t, types.PickStatusSkipped, got.Status)

	detail, err := f.broker.GetOrderDetails(ctx, got.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, detail.Status)
}

func TestConfirmFillRecomputesTargetFromActualFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	pick := f.insertPick(t, longPick("RELIANCE"))
	pick.Status = types.PickStatusOrderPlaced
	pick.Quantity = 1000
	pick.EntryOrderID = "entry-1"
	require.NoError(t, f.picks.Transition(ctx, pick, types.PickStatusPending))

	detail := &types.OrderDetail{
		OrderID:        "entry-1",
		Status:         types.OrderStatusComplete,
		AveragePrice:   99,
		FilledQuantity: 800,
	}

	summary := &Summary{}
	require.NoError(t, f.coord.confirmFill(ctx, pick, detail, summary))

	got := f.reload(t, pick.ID)
	assert.Equal(t, types.PickStatusEntered, got.Status)
	assert.Equal(t, 99.0, got.EntryPrice)
	assert.Equal(t, int64(800), got.Quantity)
	assert.Equal(t, 107.0, got.Target, "fill 99, risk 4, reward ratio 2")

	pending, err := f.brackets.ListPending(ctx, f.clock.t)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, got.ID, pending[0].PickID)
	assert.Equal(t, int64(800), pending[0].Quantity)
	assert.Equal(t, 107.0, pending[0].Target)
}

func TestStopFailureTriggersEmergencyExit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.coord.broker = &flakyBroker{
		paper:    f.broker,
		failTags: map[string]error{"stop": broker.NewError("rejected", "stop rejected by rms")},
	}

	pick := f.insertPick(t, longPick("RELIANCE"))
	f.placeAndFill(t, pick, 99.5)
	f.broker.SetQuote(pick.InstrumentKey, 98)

	summary, err := f.coord.CheckFillsAndPlaceProtection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Filled)
	assert.GreaterOrEqual(t, summary.Errors, 1)

	got := f.reload(t, pick.ID)
	assert.Equal(t, types.PickStatusStoppedOut, got.Status)
	assert.Equal(t, types.ExitReasonStopPlacementFailure, got.ExitReason)
	assert.Equal(t, 98.0, got.ExitPrice)
	assert.Equal(t, -2000.0, got.PnL)
	assert.Equal(t, 1, f.notifier.alerts["unprotected_position"])
}

func TestTargetFailureKeepsStopOnlyProtection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.coord.broker = &flakyBroker{
		paper:    f.broker,
		failTags: map[string]error{"target": broker.NewError("rejected", "target rejected")},
	}

	pick := f.insertPick(t, longPick("RELIANCE"))
	f.placeAndFill(t, pick, 99.5)

	summary, err := f.coord.CheckFillsAndPlaceProtection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Filled)
	assert.Equal(t, 1, summary.Placed, "only the stop leg")

	got := f.reload(t, pick.ID)
	assert.Equal(t, types.PickStatusEntered, got.Status)
	assert.NotEmpty(t, got.StopOrderID)
	assert.Empty(t, got.TargetOrderID)
	assert.Equal(t, 1, f.notifier.alerts["target_placement_failed"])
}

func TestExpiredBracketIsNeverPlaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	pick := f.insertPick(t, longPick("RELIANCE"))
	pick.Status = types.PickStatusOrderPlaced
	require.NoError(t, f.picks.Transition(ctx, pick, types.PickStatusPending))
	pick.Status = types.PickStatusEntered
	pick.EntryPrice = 100
	pick.Quantity = 1000
	require.NoError(t, f.picks.Transition(ctx, pick, types.PickStatusOrderPlaced))

	require.NoError(t, f.brackets.Enqueue(ctx, &types.BracketRequest{
		ID:            "stale-bracket",
		PickID:        pick.ID,
		Symbol:        pick.Symbol,
		InstrumentKey: pick.InstrumentKey,
		Direction:     pick.Direction,
		Quantity:      1000,
		StopLoss:      95,
		Target:        110,
		Status:        types.BracketStatusPending,
		CreatedAt:     tradingNow.Add(-time.Hour),
		ExpiresAt:     tradingNow.Add(-time.Minute),
		UpdatedAt:     tradingNow.Add(-time.Hour),
	}))

	summary, err := f.coord.CheckFillsAndPlaceProtection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Placed)

	got := f.reload(t, pick.ID)
	assert.Empty(t, got.StopOrderID, "an overdue bracket protects nothing")
	assert.Empty(t, got.TargetOrderID)
}
