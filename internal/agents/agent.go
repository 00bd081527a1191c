// Package agents implements the trading agent swarm: sentiment, technical,
// risk, optimization, and the orchestrator that coordinates them.
package agents

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/db"
	"github.com/Leblepito/uAlgoTrade/internal/memory"
)

// Agent is the minimal contract every swarm member satisfies.
type Agent interface {
	Name() string
	Role() string
	Version() string
	Heartbeat(ctx context.Context) error
}

// Context carries the shared process-scoped dependencies handed to every
// agent at construction. Now is injectable for tests.
type Context struct {
	Repo db.Repository
	Bus  *bus.Bus
	Cfg  *config.Config
	Now  func() time.Time
}

// NewContext builds an agent context with a real clock.
func NewContext(repo db.Repository, b *bus.Bus, cfg *config.Config) *Context {
	return &Context{Repo: repo, Bus: b, Cfg: cfg, Now: time.Now}
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// BaseAgent provides identity, memory, heartbeat, and error-tracking
// machinery shared by all agents.
type BaseAgent struct {
	name    string
	role    string
	version string

	ctx         *Context
	memory      *memory.Core
	log         zerolog.Logger
	startedAt   time.Time
	activeTasks atomic.Int64
}

// NewBaseAgent constructs the shared agent core.
func NewBaseAgent(name, role, version string, actx *Context) *BaseAgent {
	return &BaseAgent{
		name:      name,
		role:      role,
		version:   version,
		ctx:       actx,
		memory:    memory.NewCore(name, actx.Repo),
		log:       config.NewAgentLogger(name),
		startedAt: actx.now(),
	}
}

// Name returns the agent's unique name.
func (a *BaseAgent) Name() string { return a.name }

// Role returns the agent's human-readable role description.
func (a *BaseAgent) Role() string { return a.role }

// Version returns the agent's version string.
func (a *BaseAgent) Version() string { return a.version }

// Memory returns the agent's persistent memory core.
func (a *BaseAgent) Memory() *memory.Core { return a.memory }

// Heartbeat upserts the agent's health row.
func (a *BaseAgent) Heartbeat(ctx context.Context) error {
	uptime := int64(a.ctx.now().Sub(a.startedAt).Seconds())
	return a.ctx.Repo.UpsertHeartbeat(ctx, heartbeatRow(a.name, a.version,
		int(a.activeTasks.Load()), uptime))
}

// runTracked wraps an analysis call with task accounting, a heartbeat, an
// analysis broadcast, and error memoization. Errors never escape an agent
// uncaught: the caller receives them as values and decides how to degrade.
func runTracked[T any](ctx context.Context, a *BaseAgent, symbol string, fn func(context.Context) (T, error)) (T, error) {
	a.activeTasks.Add(1)
	defer a.activeTasks.Add(-1)

	if err := a.Heartbeat(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Heartbeat failed")
	}

	result, err := fn(ctx)
	if err != nil {
		a.log.Error().Err(err).Str("symbol", symbol).Msg("Analysis error")
		if _, memErr := a.memory.StoreError(ctx, map[string]any{
			"symbol": symbol,
			"error":  err.Error(),
		}); memErr != nil {
			a.log.Warn().Err(memErr).Msg("Failed to memoize error")
		}
		return result, err
	}

	a.ctx.Bus.Broadcast(a.name, "analysis."+a.name, map[string]any{
		"symbol": symbol,
		"result": result,
	})
	return result, nil
}
