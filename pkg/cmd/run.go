package cmd

import (
	"context"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tradepilot/tradepilot/pkg/broker"
	"github.com/tradepilot/tradepilot/pkg/calendar"
	"github.com/tradepilot/tradepilot/pkg/cmd/cmdutil"
	"github.com/tradepilot/tradepilot/pkg/config"
	"github.com/tradepilot/tradepilot/pkg/executor"
	"github.com/tradepilot/tradepilot/pkg/marketdata"
	"github.com/tradepilot/tradepilot/pkg/monitor"
	"github.com/tradepilot/tradepilot/pkg/notify"
	"github.com/tradepilot/tradepilot/pkg/risk"
	"github.com/tradepilot/tradepilot/pkg/scheduler"
	"github.com/tradepilot/tradepilot/pkg/server"
	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/trader"
	"github.com/tradepilot/tradepilot/pkg/types"
)

func init() {
	RunCmd.Flags().Bool("no-server", false, "do not start the ops http server")
	RootCmd.AddCommand(RunCmd)
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "run the trading pipeline from a config file",

	// SilenceUsage is an option to silence usage when an error occurs.
	SilenceUsage: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		if len(configFile) == 0 {
			return errors.New("--config option is required")
		}

		noServer, err := cmd.Flags().GetBool("no-server")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		userConfig, err := config.Load(configFile)
		if err != nil {
			return err
		}

		return runConfig(ctx, userConfig, noServer)
	},
}

func runConfig(basectx context.Context, userConfig *config.Config, noServer bool) error {
	ctx, cancelTrading := context.WithCancel(basectx)
	defer cancelTrading()

	cal, err := calendar.New(userConfig.Calendar)
	if err != nil {
		return err
	}

	clock := types.RealClock{}

	// durable pick and bracket stores when a database is configured,
	// in-memory otherwise (dry runs, tests)
	var picks executor.PickStore = service.NewMemoryPickStore()
	var brackets executor.BracketQueue = service.NewMemoryBracketQueue()

	if userConfig.Database != nil {
		db := service.NewDatabaseService(userConfig.Database.Driver, userConfig.Database.DSN)
		if err := db.Connect(); err != nil {
			return errors.Wrap(err, "connect database")
		}
		defer db.Close()

		if err := db.Upgrade(ctx); err != nil {
			return errors.Wrap(err, "upgrade database schema")
		}

		picks = service.NewPickService(db.DB)
		brackets = service.NewBracketService(db.DB)
		log.Infof("database connected, picks and bracket requests are durable")
	} else {
		log.Warnf("no database configured, picks will not survive a restart")
	}

	facade := &service.PersistenceServiceFacade{Memory: service.NewMemoryService()}
	if userConfig.Persistence != nil {
		if userConfig.Persistence.Redis != nil {
			facade.Redis = service.NewRedisPersistenceService(userConfig.Persistence.Redis)
		}
		if userConfig.Persistence.Json != nil {
			facade.Json = &service.JsonPersistenceService{Directory: userConfig.Persistence.Json.Directory}
		}
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	slackToken := viper.GetString("slack-token")
	if len(slackToken) > 0 && userConfig.Notifications != nil && userConfig.Notifications.Slack != nil {
		conf := userConfig.Notifications.Slack

		channel := conf.DefaultChannel
		if channel == "" {
			channel = viper.GetString("slack-channel")
		}

		alertChannel := conf.AlertChannel
		if alertChannel == "" {
			alertChannel = viper.GetString("slack-alert-channel")
		}

		log.Infof("adding slack notifier with default channel: %s", channel)
		notifier = notify.NewSlackNotifier(slack.New(slackToken), channel, notify.SlackAlertChannel(alertChannel))
	}

	var brokerClient broker.Client
	switch userConfig.Broker.Mode {
	case "", "paper":
		brokerClient = broker.NewPaperBroker()
		log.Infof("broker mode: paper")
	default:
		return errors.Errorf("unsupported broker mode %q", userConfig.Broker.Mode)
	}

	market := marketdata.NewMemoryProvider()

	coord := executor.New(brokerClient, picks, brackets, market, cal, clock, notifier, userConfig.Executor)
	coord.OnPositionFilled(func(pick types.Pick) {
		notifier.Notify("position filled: %s", pick.String())
	})
	coord.OnPositionClosed(func(pick types.Pick) {
		notifier.Notify("position closed: %s reason=%s pnl=%.2f (%.2f%%)",
			pick.String(), pick.ExitReason, pick.PnL, pick.ReturnPct)
	})
	coord.OnStopMoved(func(pick types.Pick, result risk.TrailResult) {
		notifier.Notify("stop for %s moved to %.2f (%s)", pick.Symbol, result.NewStop, result.Method)
	})

	sessions := monitor.NewSessionManager(cal, clock)
	sessions.EnablePersistence(facade.Select())

	tr := trader.New(monitor.New(sessions, cal, clock), market, clock)

	// a satisfied trigger becomes a pending pick; running the guarded entry
	// stage right away places it instead of waiting for the next tick
	tr.OnExecuteOrder(func(reg trader.Registration, result *monitor.Result) {
		pick, err := reg.Pick(tradeDateStart(cal, clock.Now()))
		if err != nil {
			log.WithError(err).Errorf("cannot build a pick for %s", reg.AnalysisID)
			return
		}

		if err := picks.Insert(ctx, pick); err != nil {
			log.WithError(err).Errorf("pick insert for %s", reg.AnalysisID)
			return
		}

		notifier.Notify("triggers satisfied for %s, queued %s", reg.AnalysisID, pick.String())

		if _, err := coord.RunDailyEntry(ctx); err != nil && !errors.Is(err, executor.ErrStageRunning) {
			log.WithError(err).Errorf("entry stage after trigger hand-off")
		}
	})
	tr.OnCancelMonitoring(func(reg trader.Registration, result *monitor.Result) {
		notifier.Notify("monitoring for %s stopped: %s", reg.AnalysisID, result.Reason)
	})
	tr.OnPositionAction(func(reg trader.Registration, result *monitor.Result) {
		notifier.Alert("position_invalidated", "%s requested %s: %s", reg.AnalysisID, result.Action, result.Reason)
	})
	tr.OnWarning(func(reg trader.Registration, warning monitor.Warning) {
		notifier.Notify("[%s] %s warning %s: %s", reg.AnalysisID, warning.Severity, warning.Code, warning.Message)
	})

	for _, reg := range userConfig.Registrations {
		if err := tr.Register(*reg); err != nil {
			return errors.Wrapf(err, "register %s", reg.AnalysisID)
		}
	}

	sched := scheduler.New(coord, tr, sessions, cal, clock, userConfig.Scheduler)
	if err := sched.Run(ctx); err != nil {
		return err
	}

	var srv *server.Server
	if !noServer {
		srv = &server.Server{
			Config:    userConfig.Server,
			Scheduler: sched,
			Trader:    tr,
			Picks:     picks,
			Calendar:  cal,
			Clock:     clock,
		}

		go func() {
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Errorf("ops server stopped")
			}
		}()
	}

	cmdutil.WaitForSignal(ctx, syscall.SIGINT, syscall.SIGTERM)

	cancelTrading()

	shutdownCtx, cancelShutdown := context.WithDeadline(basectx, time.Now().Add(30*time.Second))
	defer cancelShutdown()

	log.Infof("shutting down...")

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warnf("scheduled jobs did not finish before the shutdown deadline")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Errorf("server shutdown")
		}
	}

	return nil
}

// tradeDateStart is midnight of t's trade date in the exchange timezone,
// the canonical TradeDate value stored on picks.
func tradeDateStart(cal *calendar.Calendar, t time.Time) time.Time {
	local := t.In(cal.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, cal.Location())
}
