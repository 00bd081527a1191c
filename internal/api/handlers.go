package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Leblepito/uAlgoTrade/internal/agents"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Fixed role descriptions for the swarm status endpoint.
var agentRoles = map[string]string{
	"alpha_scout":       "Sentiment Hunter — RSS feeds, news analysis",
	"technical_analyst": "Technical Analysis — SMC, Elliott Wave, S/R, indicators",
	"risk_sentinel":     "Risk Guardian — Portfolio protection, kill switch",
	"orchestrator":      "The Brain — Consensus voting, signal aggregation",
	"quant_lab":         "Optimizer — Nightly performance analysis, parameter tuning",
}

type scanRequest struct {
	Symbols    []string `json:"symbols"`
	StrategyID string   `json:"strategy_id"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	dbState := "connected"
	if pinger, ok := s.repo.(interface{ Ping(ctx context.Context) error }); ok {
		if err := pinger.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			dbState = "disconnected"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "ai-engine",
		"database": dbState,
	})
}

func (s *Server) handleScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	if req.StrategyID == "" {
		req.StrategyID = s.cfg.Trading.DefaultStrategyID
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.cfg.Trading.DefaultSymbols
	}

	results := make([]*agents.CycleResult, 0, len(symbols))
	for _, symbol := range symbols {
		results = append(results, s.orch.RunScanCycle(c.Request.Context(),
			symbol, req.StrategyID, s.cfg.Trading.DefaultTimeframe))
	}

	c.JSON(http.StatusOK, gin.H{"scanned": len(results), "results": results})
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	symbol := c.Query("symbol")
	status := models.SignalStatus(c.Query("status"))

	signals, err := s.repo.ListRecentSignals(c.Request.Context(), symbol, status, limit)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"signals": []models.Signal{}, "count": 0, "error": err.Error()})
		return
	}
	if signals == nil {
		signals = []models.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleRunCycle(c *gin.Context) {
	symbol := c.DefaultQuery("symbol", "BTCUSDT")
	strategyID := c.DefaultQuery("strategy_id", s.cfg.Trading.DefaultStrategyID)

	result := s.orch.RunScanCycle(c.Request.Context(), symbol, strategyID,
		s.cfg.Trading.DefaultTimeframe)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleConsensus(c *gin.Context) {
	signalID, err := strconv.ParseInt(c.Param("signal_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "invalid signal_id"})
		return
	}

	votes, err := s.repo.ListVotes(c.Request.Context(), signalID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"signal_id": signalID, "votes": []models.ConsensusVote{}, "error": err.Error()})
		return
	}
	if votes == nil {
		votes = []models.ConsensusVote{}
	}
	c.JSON(http.StatusOK, gin.H{
		"signal_id": signalID,
		"votes":     votes,
		"total":     len(votes),
	})
}

func (s *Server) handleCycleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":    s.orch.GetCycleStats(),
		"task_log": s.orch.GetTaskLog(20),
	})
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	ctx := c.Request.Context()

	heartbeats, err := s.repo.ListHeartbeats(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Heartbeat query failed")
	}
	heartbeatMap := make(map[string]models.Heartbeat, len(heartbeats))
	for _, hb := range heartbeats {
		heartbeatMap[hb.AgentName] = hb
	}

	type agentInfo struct {
		Name          string             `json:"name"`
		Role          string             `json:"role"`
		Status        models.AgentStatus `json:"status"`
		LastHeartbeat any                `json:"last_heartbeat"`
		ActiveTasks   int                `json:"active_tasks"`
	}

	agentList := make([]agentInfo, 0, len(agentRoles))
	for _, name := range []string{"alpha_scout", "technical_analyst", "risk_sentinel", "orchestrator", "quant_lab"} {
		info := agentInfo{Name: name, Role: agentRoles[name], Status: models.AgentDead}
		if hb, ok := heartbeatMap[name]; ok {
			info.Status = hb.Status
			info.LastHeartbeat = hb.LastHeartbeat
			info.ActiveTasks = hb.ActiveTasks
		}
		agentList = append(agentList, info)
	}

	signalsToday, err := s.repo.CountSignalsToday(ctx)
	if err != nil {
		signalsToday = 0
	}
	activePositions, err := s.repo.CountOpenPositions(ctx, "")
	if err != nil {
		activePositions = 0
	}

	killSwitchActive, _ := s.risk.KillSwitchState()

	c.JSON(http.StatusOK, gin.H{
		"agents":              agentList,
		"total_signals_today": signalsToday,
		"active_positions":    activePositions,
		"kill_switch_active":  killSwitchActive,
	})
}

func (s *Server) handleAgentHeartbeat(c *gin.Context) {
	name := c.Param("name")
	heartbeats, err := s.repo.ListHeartbeats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "agent_name": name})
		return
	}
	for _, hb := range heartbeats {
		if hb.AgentName == name {
			c.JSON(http.StatusOK, hb)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"error": "Agent not found", "agent_name": name})
}

func (s *Server) handleOptimize(c *gin.Context) {
	strategyID := c.DefaultQuery("strategy_id", s.cfg.Trading.DefaultStrategyID)

	result, err := s.orch.RunOptimization(c.Request.Context(), strategyID, 30)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"strategy_id": strategyID, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePerformance(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > 365 {
		days = 30
	}
	strategyID := c.DefaultQuery("strategy_id", s.cfg.Trading.DefaultStrategyID)

	snapshots, err := s.repo.ListSnapshots(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"strategy_id": strategyID, "days": days,
			"data": []models.PortfolioSnapshot{}, "error": err.Error()})
		return
	}
	if snapshots == nil {
		snapshots = []models.PortfolioSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": strategyID, "days": days, "data": snapshots})
}

func (s *Server) handleRiskSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.risk.GetRiskSummary())
}

func (s *Server) handleKillSwitchDeactivate(c *gin.Context) {
	operator := c.DefaultQuery("operator", "manual")
	s.risk.DeactivateKillSwitch(operator)
	c.JSON(http.StatusOK, gin.H{"kill_switch_active": false, "operator": operator})
}
