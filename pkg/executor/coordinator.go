package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tradepilot/tradepilot/pkg/broker"
	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/notify"
	"github.com/tradepilot/tradepilot/pkg/risk"
	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "executor")

var (
	// ErrStageRunning means an overlapping tick hit a stage that is still
	// working. The caller treats it as a no-op, not a failure.
	ErrStageRunning = errors.New("stage is already running")

	// ErrNotTradingDay aborts a whole stage before any pick is touched.
	ErrNotTradingDay = errors.New("not a trading day")
)

// PickStore is the durable pick repository the coordinator drives. All
// status changes go through conditional filtered writes; a transition that
// matches no row reports service.ErrStaleTransition.
type PickStore interface {
	Insert(ctx context.Context, pick *types.Pick) error
	Load(ctx context.Context, id uint64) (*types.Pick, error)
	ListByStatus(ctx context.Context, tradeDate string, status types.PickStatus) ([]types.Pick, error)
	Transition(ctx context.Context, pick *types.Pick, from types.PickStatus) error
	Heartbeat(ctx context.Context, id uint64, at time.Time) error
}

// BracketQueue is the durable queue of protective order requests. Claiming
// is exclusive; overdue requests are swept to expired instead of placed.
type BracketQueue interface {
	Enqueue(ctx context.Context, req *types.BracketRequest) error
	ListPending(ctx context.Context, now time.Time) ([]types.BracketRequest, error)
	Claim(ctx context.Context, id string, now time.Time) error
	MarkProcessed(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, now time.Time) error
	ExpirePast(ctx context.Context, now time.Time) (int64, error)
}

// SnapshotProvider supplies the market snapshot trailing-stop checks read.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, instrumentKey string, tf types.Timeframe) (*types.Snapshot, error)
}

// Summary counts one stage run: orders placed, fills observed (entries
// confirmed or positions closed), picks skipped, per-item errors.
type Summary struct {
	Placed  int `json:"placed"`
	Filled  int `json:"filled"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("placed=%d filled=%d skipped=%d errors=%d", s.Placed, s.Filled, s.Skipped, s.Errors)
}

// stageGuard is the single-flight flag on one pipeline stage. A scheduler
// tick that overlaps a still-running stage observes enter() == false and
// becomes a no-op, which is what prevents double order placement.
type stageGuard struct {
	running int32
}

func (g *stageGuard) enter() bool {
	return atomic.CompareAndSwapInt32(&g.running, 0, 1)
}

func (g *stageGuard) exit() {
	atomic.StoreInt32(&g.running, 0)
}

// Config carries the tunables of the coordinator.
type Config struct {
	// CapitalShare is the cash allocated to each pick; quantity is
	// floor(CapitalShare / entry).
	CapitalShare float64 `json:"capitalShare" yaml:"capitalShare"`

	// BrokerTimeout bounds every single broker call.
	BrokerTimeout types.Duration `json:"brokerTimeout" yaml:"brokerTimeout"`

	// TrailTimeframe is the snapshot timeframe trailing-stop checks read.
	TrailTimeframe types.Timeframe `json:"trailTimeframe" yaml:"trailTimeframe"`
}

// Coordinator owns the order lifecycle of the day's picks:
//
//	PENDING → ORDER_PLACED → ENTERED → {TARGET_HIT | STOPPED_OUT}
//
// with side exits SKIPPED and FAILED. Each pipeline stage is idempotent and
// re-entrant: scheduler ticks and manual triggers call the same methods,
// and a stage observes only the statuses it owns.
type Coordinator struct {
	broker   broker.Client
	picks    PickStore
	brackets BracketQueue
	market   SnapshotProvider
	calendar types.TradingCalendar
	clock    types.Clock
	notifier notify.Notifier

	capitalShare   float64
	brokerTimeout  time.Duration
	trailTimeframe types.Timeframe

	entryGuard     stageGuard
	fillGuard      stageGuard
	monitorGuard   stageGuard
	squareOffGuard stageGuard
	trailGuard     stageGuard

	positionFilledCallbacks []func(pick types.Pick)
	positionClosedCallbacks []func(pick types.Pick)
	stopMovedCallbacks      []func(pick types.Pick, result risk.TrailResult)
}

func New(
	brokerClient broker.Client,
	picks PickStore,
	brackets BracketQueue,
	market SnapshotProvider,
	cal types.TradingCalendar,
	clock types.Clock,
	notifier notify.Notifier,
	cfg Config,
) *Coordinator {
	if clock == nil {
		clock = types.RealClock{}
	}

	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = types.Duration(10 * time.Second)
	}

	if cfg.TrailTimeframe == "" {
		cfg.TrailTimeframe = types.Timeframe5m
	}

	return &Coordinator{
		broker:         brokerClient,
		picks:          picks,
		brackets:       brackets,
		market:         market,
		calendar:       cal,
		clock:          clock,
		notifier:       notifier,
		capitalShare:   cfg.CapitalShare,
		brokerTimeout:  cfg.BrokerTimeout.Duration(),
		trailTimeframe: cfg.TrailTimeframe,
	}
}

func (c *Coordinator) placeOrder(ctx context.Context, spec types.OrderSpec) (*types.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.brokerTimeout)
	defer cancel()
	return c.broker.PlaceOrder(ctx, spec)
}

func (c *Coordinator) cancelOrder(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.brokerTimeout)
	defer cancel()
	return c.broker.CancelOrder(ctx, orderID)
}

func (c *Coordinator) orderDetails(ctx context.Context, orderID string) (*types.OrderDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, c.brokerTimeout)
	defer cancel()
	return c.broker.GetOrderDetails(ctx, orderID)
}

// cancelQuiet cancels best-effort. Cancellation of an already-terminal
// order is not an actionable failure at any call site, so it only logs.
func (c *Coordinator) cancelQuiet(ctx context.Context, orderID, tag string) {
	if orderID == "" {
		return
	}

	if err := c.cancelOrder(ctx, orderID); err != nil {
		log.WithError(err).Warnf("cancel %s order %s failed", tag, orderID)
	}
}

// alert pairs the operator notification with its counter.
func (c *Coordinator) alert(code string, format string, args ...interface{}) {
	metrics.AlertsMetrics.With(prometheus.Labels{"code": code}).Inc()
	c.notifier.Alert(code, format, args...)
}

// skipPick moves a pick that never became a position to SKIPPED.
func (c *Coordinator) skipPick(ctx context.Context, pick *types.Pick, from types.PickStatus, reason string) error {
	pick.Status = types.PickStatusSkipped
	pick.ExitReason = reason
	pick.UpdatedAt = c.clock.Now()

	if err := c.picks.Transition(ctx, pick, from); err != nil {
		return err
	}

	log.Infof("pick %d %s skipped: %s", pick.ID, pick.Symbol, reason)
	return nil
}

// closePosition finalizes an ENTERED pick into a terminal state with its
// realized outcome.
func (c *Coordinator) closePosition(ctx context.Context, pick *types.Pick, status types.PickStatus, exitPrice float64, exitReason string) error {
	pick.Status = status
	pick.ExitPrice = exitPrice
	pick.ExitReason = exitReason
	pick.PnL = pick.RealizedPnL(exitPrice)
	pick.ReturnPct = pick.ReturnOnEntry(pick.PnL)
	pick.UpdatedAt = c.clock.Now()

	if err := c.picks.Transition(ctx, pick, types.PickStatusEntered); err != nil {
		return err
	}

	log.Infof("position closed: %s %s exit=%.2f pnl=%.2f (%s)",
		pick.Symbol, status, exitPrice, pick.PnL, exitReason)
	c.notifier.Notify("%s %s: exit %.2f, pnl %.2f (%.2f%%)",
		pick.Symbol, status, exitPrice, pick.PnL, pick.ReturnPct)
	c.EmitPositionClosed(*pick)
	return nil
}

// emergencyExit flattens a filled position whose stop protection is gone.
// The compensating market order and the operator alert both happen
// unconditionally, and the pick always ends STOPPED_OUT; a filled position
// must never persist unprotected.
func (c *Coordinator) emergencyExit(ctx context.Context, pick *types.Pick, cause error) {
	c.alert("unprotected_position", "pick #%d %s: %v, exiting at market", pick.ID, pick.Symbol, cause)

	c.cancelQuiet(ctx, pick.TargetOrderID, "target")
	c.cancelQuiet(ctx, pick.StopOrderID, "stop")

	// the stop level stands in as the recorded exit when the flatten
	// cannot be priced
	exitPrice := pick.Stop

	result, err := c.placeOrder(ctx, types.OrderSpec{
		ClientOrderID: newClientOrderID("exit"),
		InstrumentKey: pick.InstrumentKey,
		Symbol:        pick.Symbol,
		Side:          pick.Direction.ExitSide(),
		Type:          types.OrderTypeMarket,
		Quantity:      pick.Quantity,
		Tag:           "emergency_exit",
	})
	if err != nil {
		log.WithError(err).Errorf("emergency exit order for pick %d failed", pick.ID)
	} else if detail, derr := c.orderDetails(ctx, result.OrderID); derr == nil {
		exitPrice = fillPrice(detail, exitPrice)
	}

	if err := c.closePosition(ctx, pick, types.PickStatusStoppedOut, exitPrice, types.ExitReasonStopPlacementFailure); err != nil {
		log.WithError(err).Errorf("pick %d could not be marked stopped out after emergency exit", pick.ID)
	}
}

// fillPrice is the broker-reported average, or the planned level when the
// broker omits it.
func fillPrice(detail *types.OrderDetail, planned float64) float64 {
	if detail != nil && detail.AveragePrice > 0 {
		return detail.AveragePrice
	}
	return planned
}

func (c *Coordinator) OnPositionFilled(cb func(pick types.Pick)) {
	c.positionFilledCallbacks = append(c.positionFilledCallbacks, cb)
}

func (c *Coordinator) EmitPositionFilled(pick types.Pick) {
	for _, cb := range c.positionFilledCallbacks {
		cb(pick)
	}
}

func (c *Coordinator) OnPositionClosed(cb func(pick types.Pick)) {
	c.positionClosedCallbacks = append(c.positionClosedCallbacks, cb)
}

func (c *Coordinator) EmitPositionClosed(pick types.Pick) {
	for _, cb := range c.positionClosedCallbacks {
		cb(pick)
	}
}

func (c *Coordinator) OnStopMoved(cb func(pick types.Pick, result risk.TrailResult)) {
	c.stopMovedCallbacks = append(c.stopMovedCallbacks, cb)
}

func (c *Coordinator) EmitStopMoved(pick types.Pick, result risk.TrailResult) {
	for _, cb := range c.stopMovedCallbacks {
		cb(pick, result)
	}
}
