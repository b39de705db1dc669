package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/api"
	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/data"
	"github.com/atlas-desktop/adaptive-trader/internal/execution"
	"github.com/atlas-desktop/adaptive-trader/internal/scheduler"
)

func buildTestEngine(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	logger := zap.NewNop()

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Symbols = []string{"SPY"}
	cfg.Mode = "offline"
	cfg.Scheduler.MinimumBarsRequired = 1
	cfg.Persistence.CheckpointPath = t.TempDir() + "/checkpoint.json"
	cfg.Persistence.EventLogPath = t.TempDir() + "/events.log"
	cfg.Execution.DataDir = t.TempDir()
	cfg.Execution.InitialCash = 100000

	store, err := data.NewStore(logger, cfg.Execution.DataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	validator := data.NewStockDataQualityValidator(logger)
	exchange := execution.NewReplayExchange(logger, store, validator, cfg.Execution)

	deps := scheduler.Dependencies{
		Feed:          exchange,
		Broker:        exchange,
		OptionsBroker: exchange,
		ChainFeed:     exchange,
		Log:           logger,
	}

	sched, err := scheduler.New(cfg, deps)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return sched
}

func startTestServer(t *testing.T) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	sched := buildTestEngine(t)

	apiCfg := config.APIConfig{Addr: "127.0.0.1:0", AllowedOrigins: []string{"*"}}
	srv := api.NewServer(zap.NewNop(), apiCfg, sched)

	ctx, cancel := context.WithCancel(context.Background())
	srv.StartBackground(ctx)
	t.Cleanup(cancel)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sched
}

func TestHealthEndpointReportsEngineState(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /api/v1/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["status"]; !ok {
		t.Errorf("response missing status field: %+v", body)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	ts, sched := startTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/control/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("POST pause: %v", err)
	}
	resp.Body.Close()
	if !sched.Paused() {
		t.Error("expected scheduler paused after /control/pause")
	}

	resp, err = http.Post(ts.URL+"/api/v1/control/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST resume: %v", err)
	}
	resp.Body.Close()
	if sched.Paused() {
		t.Error("expected scheduler running after /control/resume")
	}
}

func TestKillSwitchRoundTrip(t *testing.T) {
	ts, sched := startTestServer(t)

	body, _ := json.Marshal(map[string]bool{"engaged": true})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/control/kill-switch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST kill-switch: %v", err)
	}
	resp.Body.Close()

	if !sched.KillSwitchEngaged() {
		t.Error("expected kill switch engaged")
	}

	resp, err = http.Get(ts.URL + "/api/v1/control/kill-switch")
	if err != nil {
		t.Fatalf("GET kill-switch: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out["engaged"] {
		t.Errorf("expected engaged=true in response, got %+v", out)
	}
}

func TestWebSocketSubscribeThenReceivesMessage(t *testing.T) {
	ts, _ := startTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := api.WSMessage{Type: api.MsgTypeSubscribe, Channel: "regime", Timestamp: time.Now().UnixMilli()}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msgBytes, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read after subscribe: %v", err)
	}

	var msg api.WSMessage
	if err := json.Unmarshal(msgBytes, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
