package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tradepilot/tradepilot/pkg/metrics"
	"github.com/tradepilot/tradepilot/pkg/monitor"
	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "trader")

// ErrScanRunning means a scan pass overlapped a still-running one; the
// tick is a no-op.
var ErrScanRunning = errors.New("scan pass is already running")

// SnapshotProvider supplies the per-timeframe snapshots a scan pass reads.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, instrumentKey string, tf types.Timeframe) (*types.Snapshot, error)
}

// Registration binds one analysis to the strategy it monitors and the
// context values its conditions may reference ($entry, $stop, ...).
type Registration struct {
	AnalysisID string                    `json:"analysisID"`
	Strategy   *types.StrategyDefinition `json:"strategy"`
	Params     map[string]float64        `json:"params,omitempty"`
}

func (r *Registration) key() monitor.SessionKey {
	return monitor.SessionKey{AnalysisID: r.AnalysisID, StrategyID: r.Strategy.ID}
}

// Pick materializes the registration into a pending pick for the order
// pipeline, using the entry/stop/target params the analysis supplied.
func (r *Registration) Pick(tradeDate time.Time) (*types.Pick, error) {
	entry := r.Params["entry"]
	stop := r.Params["stop"]
	target := r.Params["target"]
	if entry <= 0 || stop <= 0 || target <= 0 {
		return nil, errors.Errorf("registration %s has no tradable levels (entry=%v stop=%v target=%v)",
			r.AnalysisID, entry, stop, target)
	}

	direction := types.DirectionLong
	if target < entry {
		direction = types.DirectionShort
	}

	pick := &types.Pick{
		AnalysisID:    r.AnalysisID,
		Symbol:        r.Strategy.Symbol,
		InstrumentKey: r.Strategy.InstrumentKey,
		Direction:     direction,
		TradeDate:     tradeDate,
		PriceLevels: types.PriceLevels{
			Entry:  entry,
			Stop:   stop,
			Target: target,
		},
		TradeOutcome: types.TradeOutcome{Status: types.PickStatusPending},
	}

	if risked := (entry - stop) * direction.Sign(); risked > 0 {
		pick.RiskReward = (target - entry) * direction.Sign() / risked
	}

	return pick, nil
}

// Trader is the scan runner: each pass fetches the snapshots every
// registered strategy references, runs the monitoring pipeline and routes
// the outcome through callbacks. Cycles for the same key never run
// concurrently; the scan guard serializes whole passes.
type Trader struct {
	monitor *monitor.Monitor
	market  SnapshotProvider
	clock   types.Clock

	mu            sync.Mutex
	registrations map[monitor.SessionKey]*Registration

	scanning int32

	executeOrderCallbacks     []func(reg Registration, result *monitor.Result)
	cancelMonitoringCallbacks []func(reg Registration, result *monitor.Result)
	positionActionCallbacks   []func(reg Registration, result *monitor.Result)
	warningCallbacks          []func(reg Registration, warning monitor.Warning)
}

func New(mon *monitor.Monitor, market SnapshotProvider, clock types.Clock) *Trader {
	if clock == nil {
		clock = types.RealClock{}
	}

	return &Trader{
		monitor:       mon,
		market:        market,
		clock:         clock,
		registrations: make(map[monitor.SessionKey]*Registration),
	}
}

// Register starts (or resumes, after a restart) monitoring for one
// analysis/strategy pair. Registering an existing key refreshes the params
// but keeps the session's accumulated trigger state.
func (t *Trader) Register(reg Registration) error {
	if reg.AnalysisID == "" {
		return errors.New("registration needs an analysis id")
	}
	if reg.Strategy == nil || reg.Strategy.ID == "" {
		return errors.New("registration needs a strategy with an id")
	}
	if reg.Strategy.InstrumentKey == "" {
		return errors.Errorf("strategy %s has no instrument key", reg.Strategy.ID)
	}

	key := reg.key()

	t.mu.Lock()
	t.registrations[key] = &reg
	t.mu.Unlock()

	t.monitor.Sessions().Initialize(key, reg.Strategy, t.clock.Now())
	log.Infof("registered %s on %s (%d triggers)", key, reg.Strategy.InstrumentKey, len(reg.Strategy.Triggers))
	return nil
}

// Deregister stops monitoring and releases the session key for reuse. The
// cascade is synchronous: once this returns, no trigger state for the key
// survives.
func (t *Trader) Deregister(analysisID, strategyID string) {
	key := monitor.SessionKey{AnalysisID: analysisID, StrategyID: strategyID}

	t.mu.Lock()
	delete(t.registrations, key)
	t.mu.Unlock()

	t.monitor.Sessions().Cleanup(key)
	log.Infof("deregistered %s", key)
}

// Registered returns a snapshot of the current registrations.
func (t *Trader) Registered() []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Registration, 0, len(t.registrations))
	for _, reg := range t.registrations {
		out = append(out, *reg)
	}
	return out
}

// Scan runs one monitoring pass over every registration. Scheduler ticks
// and manual triggers call this same method; an overlapping call returns
// ErrScanRunning.
func (t *Trader) Scan(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.scanning, 0, 1) {
		return ErrScanRunning
	}
	defer atomic.StoreInt32(&t.scanning, 0)

	started := time.Now()
	defer func() {
		metrics.ScanPassDurationMetrics.Observe(time.Since(started).Seconds())
	}()

	for _, reg := range t.Registered() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := t.fetchMarketData(ctx, &reg)
		if err != nil {
			log.WithError(err).Errorf("market data fetch for %s", reg.Strategy.InstrumentKey)
			continue
		}

		result := t.monitor.CheckTriggers(reg.AnalysisID, reg.Strategy, data, reg.Params)
		t.countChecks(result)
		t.dispatch(reg, result)
	}

	metrics.ActiveSessionsMetrics.Set(float64(t.monitor.Sessions().ActiveCount()))
	return nil
}

// fetchMarketData pulls every timeframe the strategy references in
// parallel. A missing snapshot is a soft miss recorded as an absent entry,
// not a failed pass.
func (t *Trader) fetchMarketData(ctx context.Context, reg *Registration) (types.MarketData, error) {
	timeframes := reg.Strategy.Timeframes()
	data := make(types.MarketData, len(timeframes))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for _, tf := range timeframes {
		tf := tf
		g.Go(func() error {
			snap, err := t.market.GetSnapshot(ctx, reg.Strategy.InstrumentKey, tf)
			if err != nil {
				log.Debugf("no %s snapshot for %s: %v", tf, reg.Strategy.InstrumentKey, err)
				return nil
			}

			mu.Lock()
			data[tf] = snap
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return data, nil
}

func (t *Trader) countChecks(result *monitor.Result) {
	for _, chk := range result.Triggers {
		outcome := "pending"
		switch {
		case chk.Expired:
			outcome = "expired"
		case chk.Satisfied:
			outcome = "satisfied"
		}
		metrics.TriggerChecksMetrics.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

func (t *Trader) dispatch(reg Registration, result *monitor.Result) {
	for _, w := range result.Warnings {
		log.Warnf("%s warning %s: %s", reg.key(), w.Code, w.Message)
		t.EmitWarning(reg, w)
	}

	switch result.Action {
	case types.ActionExecuteOrder:
		log.Infof("%s: triggers satisfied, handing off for execution", reg.key())
		t.EmitExecuteOrder(reg, result)
		t.Deregister(reg.AnalysisID, reg.Strategy.ID)

	case types.ActionCancelMonitoring:
		log.Infof("%s: monitoring cancelled: %s", reg.key(), result.Reason)
		t.EmitCancelMonitoring(reg, result)
		t.Deregister(reg.AnalysisID, reg.Strategy.ID)

	case types.ActionCancelEntry, types.ActionClosePosition:
		// position-scoped invalidations; the session stays registered
		log.Infof("%s: %s (%s)", reg.key(), result.Action, result.Reason)
		t.EmitPositionAction(reg, result)
	}
}

func (t *Trader) OnExecuteOrder(cb func(reg Registration, result *monitor.Result)) {
	t.executeOrderCallbacks = append(t.executeOrderCallbacks, cb)
}

func (t *Trader) EmitExecuteOrder(reg Registration, result *monitor.Result) {
	for _, cb := range t.executeOrderCallbacks {
		cb(reg, result)
	}
}

func (t *Trader) OnCancelMonitoring(cb func(reg Registration, result *monitor.Result)) {
	t.cancelMonitoringCallbacks = append(t.cancelMonitoringCallbacks, cb)
}

func (t *Trader) EmitCancelMonitoring(reg Registration, result *monitor.Result) {
	for _, cb := range t.cancelMonitoringCallbacks {
		cb(reg, result)
	}
}

func (t *Trader) OnPositionAction(cb func(reg Registration, result *monitor.Result)) {
	t.positionActionCallbacks = append(t.positionActionCallbacks, cb)
}

func (t *Trader) EmitPositionAction(reg Registration, result *monitor.Result) {
	for _, cb := range t.positionActionCallbacks {
		cb(reg, result)
	}
}

func (t *Trader) OnWarning(cb func(reg Registration, warning monitor.Warning)) {
	t.warningCallbacks = append(t.warningCallbacks, cb)
}

func (t *Trader) EmitWarning(reg Registration, warning monitor.Warning) {
	for _, cb := range t.warningCallbacks {
		cb(reg, warning)
	}
}
