// Package api exposes the engine's control surface: a small HTTP API over
// scheduler.Scheduler's read-only snapshot accessors plus pause/resume/
// kill-switch controls, and a WebSocket hub that republishes the
// same state as it changes (spec 11 domain stack: gorilla/mux, rs/cors,
// gorilla/websocket).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/config"
	"github.com/atlas-desktop/adaptive-trader/internal/scheduler"
)

// Server is the HTTP/WebSocket control-surface server, wrapping a running
// *scheduler.Scheduler's snapshot accessors and controls (spec 11).
type Server struct {
	logger     *zap.Logger
	cfg        config.APIConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	engine     *scheduler.Scheduler
}

// NewServer wires routes and the WebSocket hub around an already-running
// scheduler.Scheduler.
func NewServer(logger *zap.Logger, cfg config.APIConfig, engine *scheduler.Scheduler) *Server {
	s := &Server{
		logger: logger.Named("api"),
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(logger.Named("api.ws"), engine),
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/regime", s.handleRegime).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/agents/fitness", s.handleAgentFitness).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/trades", s.handleTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/risk", s.handleRisk).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/positions/multi-leg", s.handleMultiLegPositions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/positions/hedges", s.handleHedgePositions).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/control/pause", s.handlePause).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/control/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/control/kill-switch", s.handleGetKillSwitch).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/control/kill-switch", s.handleSetKillSwitch).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until it errors or Stop is called. It also
// drives the hub's broadcast loop and the periodic snapshot republish.
func (s *Server) Start(ctx context.Context) error {
	s.StartBackground(ctx)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting api server", zap.String("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartBackground starts the WebSocket hub and the periodic snapshot
// publish loop without binding an HTTP listener, for embedding Handler in
// an external server (tests, or a shared listener with other routes).
func (s *Server) StartBackground(ctx context.Context) {
	go s.hub.Run()
	go s.publishLoop(ctx)
}

// Handler returns the CORS-wrapped http.Handler, for embedding in a test
// server or an external listener instead of Start's own ListenAndServe.
func (s *Server) Handler() http.Handler {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// publishLoop republishes the engine's snapshot state onto the hub's
// channels every tick, so connected clients see regime/portfolio/risk
// changes without polling the REST endpoints.
func (s *Server) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.PublishToChannel("regime", MsgTypeSignalUpdate, s.engine.RegimeSnapshot())
			s.hub.BroadcastPnLUpdate(s.engine.PortfolioStats())
			s.hub.PublishToChannel("risk", MsgTypeRiskAlert, s.engine.RiskStatus())
			s.hub.PublishToChannel("trades", MsgTypeTradeUpdate, s.engine.TradeLog())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, barCount := s.engine.Health()
	status := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          state,
		"bar_count":       barCount,
		"mode":            status.Mode,
		"running":         status.Running,
		"paused":          status.Paused,
		"last_bar_time":   status.LastBarTime,
		"bars_per_symbol": status.BarsPerSymbol,
		"error_message":   status.ErrorMessage,
	})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RegimeSnapshot())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.PortfolioStats())
}

func (s *Server) handleAgentFitness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.AgentFitnessSnapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.engine.TradeLog()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit < len(trades) {
			trades = trades[len(trades)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RiskStatus())
}

func (s *Server) handleMultiLegPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.MultiLegPositions())
}

func (s *Server) handleHedgePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.HedgePositions())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	s.hub.BroadcastAgentStatus(map[string]string{"state": "paused"})
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	s.hub.BroadcastAgentStatus(map[string]string{"state": "running"})
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"engaged": s.engine.KillSwitchEngaged()})
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Engaged bool `json:"engaged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.engine.SetKillSwitch(body.Engaged)
	s.hub.BroadcastRiskAlert(map[string]bool{"kill_switch_engaged": body.Engaged})
	writeJSON(w, http.StatusOK, map[string]bool{"engaged": body.Engaged})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
