package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Leblepito/uAlgoTrade/internal/config"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Trading.ScanIntervalSeconds = 3600
	cfg.Trading.RiskCheckIntervalSeconds = 3600

	// With hour-long intervals no job fires during the test; this only
	// exercises registration and shutdown.
	return New(cfg, nil, nil, nil, nil)
}

func TestStartRegistersJobsAndStops(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Start())

	entries := s.cron.Entries()
	require.Len(t, entries, 4)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace + 2*time.Second):
		t.Fatal("scheduler did not stop within the grace window")
	}
}

func TestNightlyJobScheduledAtMidnightUTC(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Start())
	defer s.Stop()

	var foundMidnight bool
	for _, entry := range s.cron.Entries() {
		next := entry.Next.UTC()
		if next.Hour() == 0 && next.Minute() == 0 {
			foundMidnight = true
		}
	}
	require.True(t, foundMidnight, "expected a job scheduled for 00:00 UTC")
}
