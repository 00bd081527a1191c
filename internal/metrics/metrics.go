// Package metrics exposes Prometheus instrumentation for the swarm.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts orchestrator scan cycles started.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ualgo_cycles_total",
		Help: "Total number of orchestrator scan cycles",
	})

	// SignalsApproved counts signals approved by consensus.
	SignalsApproved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ualgo_signals_approved_total",
		Help: "Total number of signals approved by consensus",
	})

	// SignalsRejected counts signals rejected by consensus or kill switch.
	SignalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ualgo_signals_rejected_total",
		Help: "Total number of signals rejected",
	})

	// KillSwitchActive is 1 while the kill switch is latched.
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ualgo_kill_switch_active",
		Help: "Whether the kill switch is currently active (1) or not (0)",
	})

	// SchedulerJobErrors counts scheduler job failures by job name.
	SchedulerJobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ualgo_scheduler_job_errors_total",
		Help: "Total scheduler job failures",
	}, []string{"job"})

	// WebSocketClients tracks connected event stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ualgo_websocket_clients",
		Help: "Number of connected WebSocket event clients",
	})
)
