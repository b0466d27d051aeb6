package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Health: config.HealthConfig{
			CheckIntervalSec:   1,
			MetricsIntervalSec: 1,
			MaxResponseTimeMs:  500,
			MaxErrorRate:       0.1,
		},
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LogConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return log
}

func TestMonitor_ScoreArithmetic(t *testing.T) {
	monitor := NewMonitor(testConfig(), testLogger(t))

	var ledgerDown atomic.Bool
	monitor.AddProbe("ledger", func(ctx context.Context) error {
		if ledgerDown.Load() {
			return errors.New("node unreachable")
		}
		return nil
	})
	monitor.AddProbe("state", func(ctx context.Context) error { return nil })
	monitor.AddProbe("token_store", func(ctx context.Context) error { return nil })

	// Four probes total including the built-in process probe
	snapshot := monitor.RunChecks(context.Background())
	assert.True(t, snapshot.Healthy)
	assert.InDelta(t, 100.0, snapshot.Score, 0.001)
	assert.Empty(t, snapshot.Issues)

	ledgerDown.Store(true)
	snapshot = monitor.RunChecks(context.Background())
	assert.False(t, snapshot.Healthy)
	assert.InDelta(t, 75.0, snapshot.Score, 0.001)
	require.Len(t, snapshot.Issues, 1)
	assert.Contains(t, snapshot.Issues[0], "ledger")
}

func TestMonitor_ResponseTimeCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Health.MaxResponseTimeMs = 50
	monitor := NewMonitor(cfg, testLogger(t))

	monitor.AddProbe("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	snapshot := monitor.RunChecks(context.Background())
	assert.False(t, snapshot.Healthy)
	result, ok := snapshot.Checks["slow"]
	require.True(t, ok)
	assert.False(t, result.Healthy)
}

func TestMonitor_ErrorRateTripsProcessProbe(t *testing.T) {
	monitor := NewMonitor(testConfig(), testLogger(t))

	for i := 0; i < 10; i++ {
		monitor.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		monitor.RecordError()
	}

	snapshot := monitor.RunChecks(context.Background())
	assert.False(t, snapshot.Healthy)
	result, ok := snapshot.Checks["process"]
	require.True(t, ok)
	assert.Contains(t, result.Error, "error rate")
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	monitor := NewMonitor(testConfig(), testLogger(t))
	ctx := context.Background()

	assert.False(t, monitor.IsRunning())

	monitor.Start(ctx)
	monitor.Start(ctx)
	assert.True(t, monitor.IsRunning())

	// The immediate startup check publishes a snapshot
	select {
	case snapshot := <-monitor.Events():
		assert.True(t, snapshot.Healthy)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after start")
	}

	monitor.Stop()
	monitor.Stop()
	assert.False(t, monitor.IsRunning())
}

func TestMonitor_LastSnapshotTracksLatestCycle(t *testing.T) {
	monitor := NewMonitor(testConfig(), testLogger(t))

	first := monitor.RunChecks(context.Background())
	last := monitor.LastSnapshot()
	assert.Equal(t, first.Timestamp, last.Timestamp)
	assert.Equal(t, first.Score, last.Score)
}
