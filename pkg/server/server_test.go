package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepilot/tradepilot/pkg/broker"
	"github.com/tradepilot/tradepilot/pkg/calendar"
	"github.com/tradepilot/tradepilot/pkg/executor"
	"github.com/tradepilot/tradepilot/pkg/marketdata"
	"github.com/tradepilot/tradepilot/pkg/monitor"
	"github.com/tradepilot/tradepilot/pkg/scheduler"
	"github.com/tradepilot/tradepilot/pkg/service"
	"github.com/tradepilot/tradepilot/pkg/trader"
	"github.com/tradepilot/tradepilot/pkg/types"
)

// a regular Tuesday, mid-session
var serverNow = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, now time.Time) (*Server, *service.MemoryPickStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cal, err := calendar.New(calendar.Config{Timezone: "UTC"})
	require.NoError(t, err)

	clock := types.FixedClock{T: now}
	market := marketdata.NewMemoryProvider()
	picks := service.NewMemoryPickStore()
	coord := executor.New(
		broker.NewPaperBroker(),
		picks,
		service.NewMemoryBracketQueue(),
		market,
		cal,
		clock,
		nil,
		executor.Config{CapitalShare: 100000},
	)

	sessions := monitor.NewSessionManager(cal, clock)
	tr := trader.New(monitor.New(sessions, cal, clock), market, clock)

	return &Server{
		Scheduler: scheduler.New(coord, tr, sessions, cal, clock, scheduler.Config{}),
		Trader:    tr,
		Picks:     picks,
		Calendar:  cal,
		Clock:     clock,
	}, picks
}

func perform(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	r.ServeHTTP(w, req)
	return w
}

func TestPingRoute(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	w := perform(s.newEngine(), "GET", "/api/ping", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	w := perform(s.newEngine(), "GET", "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestStatusRoute(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	w := perform(s.newEngine(), "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TradeDate  string `json:"tradeDate"`
		TradingDay bool   `json:"tradingDay"`
		MarketOpen bool   `json:"marketOpen"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2025-06-10", resp.TradeDate)
	assert.True(t, resp.TradingDay)
	assert.True(t, resp.MarketOpen)
}

func TestTriggerStageRoute(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	r := s.newEngine()

	w := perform(r, "POST", "/api/stages/entry", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "summary")

	w = perform(r, "POST", "/api/stages/realign_flux_capacitor", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerStageOffTradingDay(t *testing.T) {
	// Saturday
	s, _ := newTestServer(t, time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC))
	w := perform(s.newEngine(), "POST", "/api/stages/entry", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not a trading day")
}

func TestScanRoute(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	w := perform(s.newEngine(), "POST", "/api/scan", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "true")
}

func TestRegistrationRoutes(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	r := s.newEngine()

	payload := `{
		"analysisID": "a1",
		"strategy": {
			"id": "s1",
			"symbol": "RELIANCE",
			"instrumentKey": "NSE_EQ|RELIANCE",
			"triggers": [
				{"id": "t1", "timeframe": "5m", "condition": {"left": "close", "op": ">", "right": 100}, "expiryBars": 3}
			]
		},
		"params": {"entry": 100}
	}`

	w := perform(r, "POST", "/api/registrations", payload)
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(r, "GET", "/api/registrations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Registrations []trader.Registration `json:"registrations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Registrations, 1)
	assert.Equal(t, "a1", resp.Registrations[0].AnalysisID)
	assert.Equal(t, "s1", resp.Registrations[0].Strategy.ID)

	w = perform(r, "DELETE", "/api/registrations/a1/s1", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, s.Trader.Registered())
}

func TestRegistrationValidationError(t *testing.T) {
	s, _ := newTestServer(t, serverNow)
	w := perform(s.newEngine(), "POST", "/api/registrations", `{"analysisID": "a1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "strategy")
}

func TestListPicksRoute(t *testing.T) {
	s, picks := newTestServer(t, serverNow)
	r := s.newEngine()

	tradeDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	for _, status := range []types.PickStatus{types.PickStatusPending, types.PickStatusEntered} {
		pick := &types.Pick{
			AnalysisID:    "a1",
			Symbol:        "RELIANCE",
			InstrumentKey: "NSE_EQ|RELIANCE",
			Direction:     types.DirectionLong,
			TradeDate:     tradeDate,
			PriceLevels:   types.PriceLevels{Entry: 100, Stop: 95, Target: 110},
			TradeOutcome:  types.TradeOutcome{Status: status},
		}
		require.NoError(t, picks.Insert(context.Background(), pick))
	}

	var resp struct {
		Date  string       `json:"date"`
		Picks []types.Pick `json:"picks"`
	}

	// date defaults to the clock's trade date
	w := perform(r, "GET", "/api/picks", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2025-06-10", resp.Date)
	assert.Len(t, resp.Picks, 2)

	w = perform(r, "GET", "/api/picks?status=ENTERED", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Picks, 1)
	assert.Equal(t, types.PickStatusEntered, resp.Picks[0].Status)

	w = perform(r, "GET", "/api/picks?date=2025-06-11", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Picks)
}
