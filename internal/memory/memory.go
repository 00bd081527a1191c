// Package memory provides durable per-agent decision memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// Backend is the slice of the persistence layer the memory core needs.
type Backend interface {
	InsertMemory(ctx context.Context, entry models.MemoryEntry) (int64, error)
	ListMemory(ctx context.Context, agentName string, memType models.MemoryType, symbol string, limit int) ([]models.MemoryEntry, error)
}

// Core is a persistent memory log scoped to one agent. Writes are
// append-only; expiry is logical and enforced at recall time.
type Core struct {
	agentName string
	repo      Backend
	now       func() time.Time
}

// NewCore creates a memory core for an agent.
func NewCore(agentName string, repo Backend) *Core {
	return &Core{agentName: agentName, repo: repo, now: time.Now}
}

// Store appends a memory entry and returns its ID. ttlHours of 0 means the
// entry never expires.
func (c *Core) Store(ctx context.Context, memType models.MemoryType, content map[string]any, symbol string, importance float64, ttlHours int) (int64, error) {
	entry := models.MemoryEntry{
		AgentName:  c.agentName,
		MemoryType: memType,
		Symbol:     symbol,
		Content:    content,
		Importance: importance,
	}
	if ttlHours > 0 {
		expires := c.now().Add(time.Duration(ttlHours) * time.Hour)
		entry.ExpiresAt = &expires
	}

	id, err := c.repo.InsertMemory(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("memory store failed for %s: %w", c.agentName, err)
	}
	return id, nil
}

// Recall returns recent non-expired memories, importance first.
func (c *Core) Recall(ctx context.Context, memType models.MemoryType, symbol string, limit int) ([]models.MemoryEntry, error) {
	return c.repo.ListMemory(ctx, c.agentName, memType, symbol, limit)
}

// StoreDecision records a trading decision at the given importance, with no
// expiry.
func (c *Core) StoreDecision(ctx context.Context, symbol string, decision map[string]any, importance float64) (int64, error) {
	return c.Store(ctx, models.MemoryDecision, decision, symbol, importance, 0)
}

// StoreLearning records a learning with a 1-week TTL.
func (c *Core) StoreLearning(ctx context.Context, content map[string]any) (int64, error) {
	return c.Store(ctx, models.MemoryLearning, content, "", 0.5, 168)
}

// StoreError records an error at low importance with a 3-day TTL.
func (c *Core) StoreError(ctx context.Context, content map[string]any) (int64, error) {
	return c.Store(ctx, models.MemoryError, content, "", 0.3, 72)
}

// DecisionSummary distills recent decisions for a symbol into aggregate
// statistics for recall-driven calibration.
type DecisionSummary struct {
	Symbol       string      `json:"symbol"`
	Count        int         `json:"count"`
	Approved     int         `json:"approved"`
	Rejected     int         `json:"rejected"`
	ApprovalRate float64     `json:"approval_rate"`
	AvgConfidence float64    `json:"avg_confidence"`
	TopRiskFlags []FlagCount `json:"top_risk_flags"`
	PeriodStart  *time.Time  `json:"period_start,omitempty"`
	PeriodEnd    *time.Time  `json:"period_end,omitempty"`
}

// FlagCount counts occurrences of one risk flag prefix.
type FlagCount struct {
	Flag  string `json:"flag"`
	Count int    `json:"count"`
}

// SummarizeDecisions aggregates the last N decisions for a symbol.
func (c *Core) SummarizeDecisions(ctx context.Context, symbol string, limit int) (*DecisionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	decisions, err := c.Recall(ctx, models.MemoryDecision, symbol, limit)
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return &DecisionSummary{Symbol: symbol, TopRiskFlags: []FlagCount{}}, nil
	}

	var approved, rejected int
	var confidences []float64
	flagCounts := make(map[string]int)

	for _, d := range decisions {
		if ok, _ := d.Content["approved"].(bool); ok {
			approved++
		} else {
			rejected++
		}
		if wc, ok := d.Content["weighted_confidence"].(float64); ok && wc > 0 {
			confidences = append(confidences, wc)
		}
		if flags, ok := d.Content["risk_flags"].([]any); ok {
			for _, f := range flags {
				if s, ok := f.(string); ok {
					// Flag prefix before any "(detail)" suffix
					prefix := strings.TrimSpace(strings.SplitN(s, "(", 2)[0])
					flagCounts[prefix]++
				}
			}
		}
	}

	total := approved + rejected
	avgConfidence := 0.0
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		avgConfidence = sum / float64(len(confidences))
	}

	topFlags := make([]FlagCount, 0, len(flagCounts))
	for f, n := range flagCounts {
		topFlags = append(topFlags, FlagCount{Flag: f, Count: n})
	}
	sort.Slice(topFlags, func(i, j int) bool {
		if topFlags[i].Count != topFlags[j].Count {
			return topFlags[i].Count > topFlags[j].Count
		}
		return topFlags[i].Flag < topFlags[j].Flag
	})
	if len(topFlags) > 3 {
		topFlags = topFlags[:3]
	}

	approvalRate := 0.0
	if total > 0 {
		approvalRate = float64(approved) / float64(total)
	}

	// Recall orders by importance, then newest first; at equal importance the
	// first entry is the newest and ends the period, the last one starts it.
	periodEnd := decisions[0].CreatedAt
	periodStart := decisions[len(decisions)-1].CreatedAt

	return &DecisionSummary{
		Symbol:        symbol,
		Count:         total,
		Approved:      approved,
		Rejected:      rejected,
		ApprovalRate:  approvalRate,
		AvgConfidence: avgConfidence,
		TopRiskFlags:  topFlags,
		PeriodStart:   &periodStart,
		PeriodEnd:     &periodEnd,
	}, nil
}
