package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tradepilot/tradepilot/pkg/calendar"
	"github.com/tradepilot/tradepilot/pkg/executor"
	"github.com/tradepilot/tradepilot/pkg/monitor"
	"github.com/tradepilot/tradepilot/pkg/trader"
	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "scheduler")

// Stage names accepted by Trigger. They match the stage labels used by
// the metrics.
const (
	StageEntry     = "entry"
	StageFillCheck = "fill_check"
	StageMonitor   = "monitor"
	StageSquareOff = "square_off"
	StageTrailing  = "trailing"
)

var ErrUnknownStage = errors.New("unknown stage")

// Config holds cron specs for the fixed stages and intervals for the
// recurring ones. Fixed specs are standard five-field cron expressions
// evaluated in the exchange timezone.
type Config struct {
	Entry     string `json:"entry" yaml:"entry"`
	FillCheck string `json:"fillCheck" yaml:"fillCheck"`
	SquareOff string `json:"squareOff" yaml:"squareOff"`
	SessionGC string `json:"sessionGC" yaml:"sessionGC"`

	ScanInterval      types.Duration `json:"scanInterval" yaml:"scanInterval"`
	MonitorInterval   types.Duration `json:"monitorInterval" yaml:"monitorInterval"`
	TrailingInterval  types.Duration `json:"trailingInterval" yaml:"trailingInterval"`
	HeartbeatInterval types.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
}

// Defaults fills zero fields with the NSE intraday pipeline: entries five
// minutes after the open, a fill checkpoint at 09:45, square-off at the
// calendar cutoff.
func (c *Config) Defaults() {
	if c.Entry == "" {
		c.Entry = "20 9 * * 1-5"
	}
	if c.FillCheck == "" {
		c.FillCheck = "45 9 * * 1-5"
	}
	if c.SquareOff == "" {
		c.SquareOff = "15 15 * * 1-5"
	}
	if c.SessionGC == "" {
		c.SessionGC = "0 17 * * *"
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = types.Duration(time.Minute)
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = types.Duration(time.Minute)
	}
	if c.TrailingInterval == 0 {
		c.TrailingInterval = types.Duration(5 * time.Minute)
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = types.Duration(time.Minute)
	}
}

// Scheduler drives the daily pipeline. It owns no overlap protection of
// its own: every stage guards itself, so a tick that lands while the
// previous run is still working is dropped by the stage and logged here.
// Manual triggers go through the same guarded functions.
type Scheduler struct {
	coord    *executor.Coordinator
	trader   *trader.Trader
	sessions *monitor.SessionManager
	clock    types.Clock
	loc      *time.Location
	cfg      Config

	cron *cron.Cron
}

func New(coord *executor.Coordinator, tr *trader.Trader, sessions *monitor.SessionManager, cal *calendar.Calendar, clock types.Clock, cfg Config) *Scheduler {
	cfg.Defaults()
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Scheduler{
		coord:    coord,
		trader:   tr,
		sessions: sessions,
		clock:    clock,
		loc:      cal.Location(),
		cfg:      cfg,
	}
}

// Run registers every job and starts the cron loop. ctx is handed to each
// job invocation; cancelling it does not stop the loop, call Stop for
// that.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cron.PrintfLogger(log))),
	)

	fixed := []struct {
		name string
		spec string
		job  func()
	}{
		{StageEntry, s.cfg.Entry, s.stageJob(ctx, StageEntry, s.coord.RunDailyEntry)},
		{StageFillCheck, s.cfg.FillCheck, s.stageJob(ctx, StageFillCheck, s.coord.CheckFillsAndPlaceProtection)},
		{StageSquareOff, s.cfg.SquareOff, s.stageJob(ctx, StageSquareOff, s.coord.SquareOffEndOfDay)},
		{"session_gc", s.cfg.SessionGC, s.gcJob()},
	}
	for _, f := range fixed {
		if _, err := c.AddFunc(f.spec, f.job); err != nil {
			return errors.Wrapf(err, "add %s job with spec %q", f.name, f.spec)
		}
	}

	intervals := []struct {
		name  string
		every time.Duration
		job   func()
	}{
		{"scan", s.cfg.ScanInterval.Duration(), s.scanJob(ctx)},
		{StageMonitor, s.cfg.MonitorInterval.Duration(), s.stageJob(ctx, StageMonitor, s.coord.MonitorOrders)},
		{StageTrailing, s.cfg.TrailingInterval.Duration(), s.stageJob(ctx, StageTrailing, s.coord.ApplyTrailingStops)},
		{"heartbeat", s.cfg.HeartbeatInterval.Duration(), s.heartbeatJob(ctx)},
	}
	for _, iv := range intervals {
		spec := fmt.Sprintf("@every %s", iv.every)
		if _, err := c.AddFunc(spec, iv.job); err != nil {
			return errors.Wrapf(err, "add %s job with spec %q", iv.name, spec)
		}
	}

	s.cron = c
	c.Start()
	log.Infof("started %d jobs in %s", len(c.Entries()), s.loc)
	return nil
}

// Stop halts scheduling. The returned context is done once in-flight jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	log.Infof("stopping")
	return s.cron.Stop()
}

// Trigger runs one stage outside its schedule, for operator use. The
// stage guard still applies, so a manual run never overlaps a scheduled
// one.
func (s *Scheduler) Trigger(ctx context.Context, stage string) (*executor.Summary, error) {
	switch stage {
	case StageEntry:
		return s.coord.RunDailyEntry(ctx)
	case StageFillCheck:
		return s.coord.CheckFillsAndPlaceProtection(ctx)
	case StageMonitor:
		return s.coord.MonitorOrders(ctx)
	case StageSquareOff:
		return s.coord.SquareOffEndOfDay(ctx)
	case StageTrailing:
		return s.coord.ApplyTrailingStops(ctx)
	}
	return nil, errors.Wrapf(ErrUnknownStage, "%q", stage)
}

func (s *Scheduler) stageJob(ctx context.Context, name string, fn func(context.Context) (*executor.Summary, error)) func() {
	return func() {
		summary, err := fn(ctx)
		switch {
		case err == nil:
			log.Infof("%s: %s", name, summary.String())
		case errors.Is(err, executor.ErrStageRunning):
			log.Warnf("%s: previous run still in progress, tick dropped", name)
		case errors.Is(err, executor.ErrNotTradingDay):
			log.Debugf("%s: %v", name, err)
		default:
			log.WithError(err).Errorf("%s stage failed", name)
		}
	}
}

func (s *Scheduler) scanJob(ctx context.Context) func() {
	return func() {
		if err := s.trader.Scan(ctx); err != nil {
			if errors.Is(err, trader.ErrScanRunning) {
				log.Warnf("scan: previous pass still in progress, tick dropped")
				return
			}
			log.WithError(err).Errorf("scan pass failed")
		}
	}
}

func (s *Scheduler) heartbeatJob(ctx context.Context) func() {
	return func() {
		if err := s.coord.RefreshHeartbeats(ctx); err != nil {
			log.WithError(err).Errorf("heartbeat refresh failed")
		}
	}
}

func (s *Scheduler) gcJob() func() {
	return func() {
		if n := s.sessions.GC(s.clock.Now()); n > 0 {
			log.Infof("session gc removed %d expired sessions", n)
		}
	}
}
