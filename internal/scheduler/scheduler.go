// Package scheduler drives the periodic agent jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Leblepito/uAlgoTrade/internal/agents"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/metrics"
)

const shutdownGrace = 5 * time.Second

// Scheduler runs the four periodic jobs: scan cycles, risk sweeps, agent
// heartbeats, and the nightly optimization. Jobs are fire-and-log; one
// failing job never crashes its siblings, and overlapping invocations are
// allowed because the orchestrator is reentrant per symbol.
type Scheduler struct {
	cron    *cron.Cron
	orch    *agents.Orchestrator
	risk    *agents.RiskSentinel
	quant   *agents.QuantLab
	members []agents.Agent
	cfg     *config.Config
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the swarm.
func New(cfg *config.Config, orch *agents.Orchestrator, risk *agents.RiskSentinel,
	quant *agents.QuantLab, members []agents.Agent) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		orch: orch, risk: risk, quant: quant,
		members: members,
		cfg:     cfg,
		log:     config.NewLogger("scheduler"),
	}
}

// Start registers all jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"scan_cycle", fmt.Sprintf("@every %ds", s.cfg.Trading.ScanIntervalSeconds), s.runScanCycle},
		{"risk_check", fmt.Sprintf("@every %ds", s.cfg.Trading.RiskCheckIntervalSeconds), s.runRiskCheck},
		{"heartbeats", "@every 30s", s.runHeartbeats},
		{"nightly_optimization", "0 0 * * *", s.runOptimization},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, s.wrap(runCtx, job.name, job.fn)); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		s.log.Info().Str("job", job.name).Str("spec", job.spec).Msg("Job scheduled")
	}

	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// wrap makes a job fire-and-forget with panic isolation and error counting.
func (s *Scheduler) wrap(ctx context.Context, name string, fn func(context.Context)) func() {
	return func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.SchedulerJobErrors.WithLabelValues(name).Inc()
					s.log.Error().Interface("panic", r).Str("job", name).Msg("Job panicked")
				}
			}()
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}()
	}
}

// Stop halts the cron loop and waits up to the grace window for in-flight
// jobs, cancelling them.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Scheduler stopped")
	case <-time.After(shutdownGrace):
		s.log.Warn().Msg("Scheduler stopped with jobs still in flight")
	}
}

func (s *Scheduler) runScanCycle(ctx context.Context) {
	for _, symbol := range s.cfg.Trading.DefaultSymbols {
		if ctx.Err() != nil {
			return
		}
		result := s.orch.RunScanCycle(ctx, symbol,
			s.cfg.Trading.DefaultStrategyID, s.cfg.Trading.DefaultTimeframe)
		s.log.Debug().
			Str("symbol", symbol).
			Str("action", result.Action).
			Msg("Scan cycle job completed")
	}
}

func (s *Scheduler) runRiskCheck(ctx context.Context) {
	for _, symbol := range s.cfg.Trading.DefaultSymbols {
		if ctx.Err() != nil {
			return
		}
		// Portfolio-only sweep: no proposal
		if _, err := s.risk.Analyze(ctx, symbol, nil); err != nil {
			metrics.SchedulerJobErrors.WithLabelValues("risk_check").Inc()
			s.log.Error().Err(err).Str("symbol", symbol).Msg("Risk sweep failed")
		}
	}
}

func (s *Scheduler) runHeartbeats(ctx context.Context) {
	for _, member := range s.members {
		if err := member.Heartbeat(ctx); err != nil {
			metrics.SchedulerJobErrors.WithLabelValues("heartbeats").Inc()
			s.log.Error().Err(err).Str("agent", member.Name()).Msg("Heartbeat failed")
		}
	}
}

func (s *Scheduler) runOptimization(ctx context.Context) {
	if _, err := s.quant.RunOptimization(ctx, s.cfg.Trading.DefaultStrategyID, 30); err != nil {
		metrics.SchedulerJobErrors.WithLabelValues("nightly_optimization").Inc()
		s.log.Error().Err(err).Msg("Nightly optimization failed")
	}
}
