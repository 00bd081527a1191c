package agents

import (
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

func heartbeatRow(name, version string, activeTasks int, uptimeSeconds int64) models.Heartbeat {
	return models.Heartbeat{
		AgentName:     name,
		Status:        models.AgentAlive,
		ActiveTasks:   activeTasks,
		Version:       version,
		UptimeSeconds: uptimeSeconds,
	}
}
