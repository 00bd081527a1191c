// Package api exposes the thin HTTP adapter over the agent swarm.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Leblepito/uAlgoTrade/internal/agents"
	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/db"
)

// Server is the HTTP adapter: request in, orchestrator call, structured
// result out. Core failures surface as embedded error fields, not as 5xx.
type Server struct {
	cfg  *config.Config
	repo db.Repository
	orch *agents.Orchestrator
	risk *agents.RiskSentinel
	hub  *Hub
	log  zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the API over the swarm and its event bus.
func NewServer(cfg *config.Config, repo db.Repository, orch *agents.Orchestrator,
	risk *agents.RiskSentinel, eventBus *bus.Bus) *Server {
	s := &Server{
		cfg:  cfg,
		repo: repo,
		orch: orch,
		risk: risk,
		hub:  NewHub(eventBus),
		log:  config.NewLogger("api"),
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", s.handleHealth)
	if s.cfg.Monitoring.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	signals := router.Group("/signals")
	{
		signals.POST("/scan", s.handleScan)
		signals.GET("/recent", s.handleRecentSignals)
	}

	orchestrate := router.Group("/orchestrate")
	{
		orchestrate.POST("/run", s.handleRunCycle)
		orchestrate.GET("/consensus/:signal_id", s.handleConsensus)
		orchestrate.GET("/stats", s.handleCycleStats)
	}

	agentRoutes := router.Group("/agents")
	{
		agentRoutes.GET("/status", s.handleAgentStatus)
		agentRoutes.GET("/heartbeat/:name", s.handleAgentHeartbeat)
	}

	optimize := router.Group("/optimize")
	{
		optimize.POST("/run", s.handleOptimize)
		optimize.GET("/performance", s.handlePerformance)
	}

	riskRoutes := router.Group("/risk")
	{
		riskRoutes.GET("/summary", s.handleRiskSummary)
		riskRoutes.POST("/killswitch/deactivate", s.handleKillSwitchDeactivate)
	}

	router.GET("/ws/events", s.handleWebSocket)

	return router
}

// Start runs the hub and HTTP server. Blocks until the server exits.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.GetAPIAddr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
