package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tradepilot/tradepilot/pkg/executor"
	"github.com/tradepilot/tradepilot/pkg/scheduler"
	"github.com/tradepilot/tradepilot/pkg/trader"
	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "server")

type Config struct {
	Bind string `json:"bind" yaml:"bind"`
}

// Server is the operator surface: health and prometheus endpoints, manual
// stage triggers, registration intake and pick inspection. It is not the
// product API; authentication and user scoping live in the upstream
// service that calls it.
type Server struct {
	Config    Config
	Scheduler *scheduler.Scheduler
	Trader    *trader.Trader
	Picks     executor.PickStore
	Calendar  types.TradingCalendar
	Clock     types.Clock

	srv *http.Server
}

// Run serves until ctx is cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	if s.Config.Bind == "" {
		s.Config.Bind = ":8080"
	}
	if s.Clock == nil {
		s.Clock = types.RealClock{}
	}

	s.srv = &http.Server{
		Addr:    s.Config.Bind,
		Handler: s.newEngine(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server forced to shutdown")
		}
	}()

	log.Infof("listening on %s", s.Config.Bind)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server listen")
	}
	return nil
}

// Shutdown stops the listener and waits for in-flight requests, bounded by
// ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) newEngine() *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/status", s.status)
	r.POST("/api/scan", s.triggerScan)
	r.POST("/api/stages/:stage", s.triggerStage)
	r.GET("/api/picks", s.listPicks)
	r.GET("/api/registrations", s.listRegistrations)
	r.POST("/api/registrations", s.addRegistration)
	r.DELETE("/api/registrations/:analysisID/:strategyID", s.removeRegistration)

	return r
}

func (s *Server) status(c *gin.Context) {
	now := s.Clock.Now()
	c.JSON(http.StatusOK, gin.H{
		"tradeDate":     s.Calendar.TradeDate(now),
		"tradingDay":    s.Calendar.IsTradingDay(now),
		"marketOpen":    s.Calendar.IsMarketOpen(now),
		"registrations": len(s.Trader.Registered()),
	})
}

// triggerScan runs one monitoring pass outside the schedule. The scan guard
// still applies, so it can never overlap a scheduled pass.
func (s *Server) triggerScan(c *gin.Context) {
	if err := s.Trader.Scan(c); err != nil {
		if errors.Is(err, trader.ErrScanRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) triggerStage(c *gin.Context) {
	stage := c.Param("stage")

	summary, err := s.Scheduler.Trigger(c, stage)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"stage": stage, "summary": summary})
	case errors.Is(err, scheduler.ErrUnknownStage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, executor.ErrStageRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, executor.ErrNotTradingDay):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Errorf("manual %s stage failed", stage)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) listPicks(c *gin.Context) {
	tradeDate := c.DefaultQuery("date", s.Calendar.TradeDate(s.Clock.Now()))

	statuses := types.AllPickStatuses
	if status := c.Query("status"); status != "" {
		statuses = []types.PickStatus{types.PickStatus(status)}
	}

	var picks = []types.Pick{}
	for _, status := range statuses {
		list, err := s.Picks.ListByStatus(c, tradeDate, status)
		if err != nil {
			log.WithError(err).Error("pick query error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		picks = append(picks, list...)
	}

	c.JSON(http.StatusOK, gin.H{"date": tradeDate, "picks": picks})
}

func (s *Server) listRegistrations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registrations": s.Trader.Registered()})
}

func (s *Server) addRegistration(c *gin.Context) {
	var reg trader.Registration
	if err := c.BindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing arguments"})
		return
	}

	if err := s.Trader.Register(reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) removeRegistration(c *gin.Context) {
	s.Trader.Deregister(c.Param("analysisID"), c.Param("strategyID"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
