// Package decision implements weighted consensus voting over agent votes.
package decision

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/Leblepito/uAlgoTrade/internal/db"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Agent vote weights. Unknown agents fall back to defaultWeight.
var agentWeights = map[string]float64{
	"alpha_scout":       0.20,
	"technical_analyst": 0.35,
	"risk_sentinel":     0.30,
	"orchestrator":      0.15,
}

const (
	defaultWeight      = 0.10
	vetoConfidence     = 0.80
	riskSentinelName   = "risk_sentinel"
	DefaultMinConfidence = 0.70
)

// Engine aggregates consensus votes into an approval decision and persists
// the individual votes.
type Engine struct {
	minConfidence float64
	repo          db.Repository
}

// NewEngine creates a decision engine. minConfidence of 0 selects the default.
func NewEngine(repo db.Repository, minConfidence float64) *Engine {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Engine{minConfidence: minConfidence, repo: repo}
}

// CollectVotes tallies votes for a signal and persists them. A reject from
// the risk sentinel above the veto confidence overrides the weighted math.
func (e *Engine) CollectVotes(ctx context.Context, signal *models.Signal, votes []models.ConsensusVote) (*models.ConsensusResult, error) {
	var approveCount, rejectCount, abstainCount int
	var weightedSum, weightTotal float64
	var veto bool

	for _, v := range votes {
		switch v.Vote {
		case models.VoteApprove:
			approveCount++
		case models.VoteReject:
			rejectCount++
		case models.VoteAbstain:
			abstainCount++
			continue
		}

		w, ok := agentWeights[v.AgentName]
		if !ok {
			w = defaultWeight
		}
		score := v.Confidence
		if v.Vote == models.VoteReject {
			score = 1 - v.Confidence
		}
		weightedSum += score * w
		weightTotal += w

		if v.AgentName == riskSentinelName && v.Vote == models.VoteReject && v.Confidence > vetoConfidence {
			veto = true
		}
	}

	weightedConfidence := 0.0
	if weightTotal > 0 {
		weightedConfidence = weightedSum / weightTotal
	}
	weightedConfidence = math.Round(weightedConfidence*10000) / 10000

	approved := weightedConfidence >= e.minConfidence &&
		approveCount > rejectCount &&
		!veto

	result := &models.ConsensusResult{
		SignalID:           signal.ID,
		Approved:           approved,
		TotalVotes:         len(votes),
		ApproveCount:       approveCount,
		RejectCount:        rejectCount,
		AbstainCount:       abstainCount,
		WeightedConfidence: weightedConfidence,
		Veto:               veto,
		Votes:              votes,
	}

	if signal.ID != 0 && e.repo != nil {
		for i := range votes {
			if err := e.repo.InsertVote(ctx, &votes[i]); err != nil {
				return nil, err
			}
		}
	}

	log.Info().
		Str("symbol", signal.Symbol).
		Bool("approved", approved).
		Bool("veto", veto).
		Float64("weighted_confidence", weightedConfidence).
		Int("approve", approveCount).
		Int("reject", rejectCount).
		Int("abstain", abstainCount).
		Msg("Consensus collected")

	return result, nil
}

// MinConfidence returns the engine's approval threshold.
func (e *Engine) MinConfidence() float64 { return e.minConfidence }
