package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/logger"
)

// Probe is one named dependency check. Checks must honor the context
// deadline; the monitor runs them concurrently.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one probe in one cycle
type CheckResult struct {
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}

// Snapshot is the aggregate result of one check cycle
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Healthy   bool                   `json:"healthy"`
	Score     float64                `json:"score"`
	Issues    []string               `json:"issues,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Monitor periodically probes every dependency, publishes snapshots
// and logs process metrics. It is either stopped or running; Start and
// Stop are both safe to call repeatedly.
type Monitor struct {
	cfg *config.Config
	log *logger.Logger

	mu      sync.Mutex
	probes  []Probe
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    Snapshot

	events chan Snapshot

	requests    atomic.Int64
	errorsCount atomic.Int64
}

// NewMonitor creates a monitor with the built-in process probe
// already registered
func NewMonitor(cfg *config.Config, log *logger.Logger) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		log:    log,
		events: make(chan Snapshot, 16),
	}
	m.AddProbe("process", m.checkProcess)
	return m
}

// AddProbe registers a dependency check. Probes added while running
// take effect on the next cycle.
func (m *Monitor) AddProbe(name string, check func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, Probe{Name: name, Check: check})
}

// Start begins the periodic check and metrics cycles. Starting a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"check_interval":   m.cfg.HealthCheckInterval().String(),
		"metrics_interval": m.cfg.MetricsInterval().String(),
	}).Info("🏥 Health monitor started")

	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop halts the cycles and waits for in-progress checks. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.log.Info("🏥 Health monitor stopped")
}

// IsRunning reports the monitor state
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Events delivers a snapshot after every check cycle. Slow consumers
// miss snapshots rather than stalling the monitor.
func (m *Monitor) Events() <-chan Snapshot {
	return m.events
}

// LastSnapshot returns the most recent cycle result
func (m *Monitor) LastSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RecordRequest counts one unit of outbound work for the error rate
func (m *Monitor) RecordRequest() {
	m.requests.Add(1)
}

// RecordError counts one failure for the error rate
func (m *Monitor) RecordError() {
	m.errorsCount.Add(1)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	// First check runs immediately so startup problems surface before
	// the first interval elapses
	m.RunChecks(ctx)

	checkTicker := time.NewTicker(m.cfg.HealthCheckInterval())
	defer checkTicker.Stop()
	metricsTicker := time.NewTicker(m.cfg.MetricsInterval())
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			m.RunChecks(ctx)
		case <-metricsTicker.C:
			m.logMetrics()
		}
	}
}

// RunChecks executes every probe concurrently and publishes the
// aggregate snapshot. A probe is healthy only when it returns no error
// within the response time ceiling.
func (m *Monitor) RunChecks(ctx context.Context) Snapshot {
	m.mu.Lock()
	probes := append([]Probe(nil), m.probes...)
	m.mu.Unlock()

	ceiling := m.cfg.MaxResponseTime()
	results := make([]CheckResult, len(probes))

	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, ceiling)
			defer cancel()

			started := time.Now()
			err := probe.Check(checkCtx)
			elapsed := time.Since(started)

			result := CheckResult{
				Healthy:      err == nil && elapsed < ceiling,
				ResponseTime: elapsed,
			}
			if err != nil {
				result.Error = err.Error()
			} else if elapsed >= ceiling {
				result.Error = fmt.Sprintf("response time %s above ceiling %s", elapsed, ceiling)
			}
			results[i] = result
		}(i, probe)
	}
	wg.Wait()

	snapshot := Snapshot{
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(probes)),
	}

	healthyCount := 0
	for i, probe := range probes {
		snapshot.Checks[probe.Name] = results[i]
		if results[i].Healthy {
			healthyCount++
		} else {
			snapshot.Issues = append(snapshot.Issues,
				fmt.Sprintf("%s: %s", probe.Name, results[i].Error))
		}
	}
	if len(probes) > 0 {
		snapshot.Score = float64(healthyCount) / float64(len(probes)) * 100
	}
	snapshot.Healthy = len(probes) > 0 && healthyCount == len(probes)

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()

	m.log.LogHealthSummary(snapshot.Healthy, snapshot.Score, snapshot.Issues)

	select {
	case m.events <- snapshot:
	default:
	}

	return snapshot
}

// checkProcess is the built-in probe for heap usage and the rolling
// error rate
func (m *Monitor) checkProcess(ctx context.Context) error {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	heapMB := stats.HeapAlloc / 1024 / 1024
	if m.cfg.Health.MaxHeapMB > 0 && heapMB > m.cfg.Health.MaxHeapMB {
		return fmt.Errorf("heap %dMB above ceiling %dMB", heapMB, m.cfg.Health.MaxHeapMB)
	}

	requests := m.requests.Load()
	failures := m.errorsCount.Load()
	if requests > 0 {
		rate := float64(failures) / float64(requests)
		if rate > m.cfg.Health.MaxErrorRate {
			return fmt.Errorf("error rate %.2f above ceiling %.2f", rate, m.cfg.Health.MaxErrorRate)
		}
	}
	return nil
}

// DownstreamProbe builds a probe that GETs a dependency URL and
// expects a 2xx answer
func DownstreamProbe(url string) func(ctx context.Context) error {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("downstream returned %s", resp.Status)
		}
		return nil
	}
}

// logMetrics emits periodic process metrics and resets the rolling
// error window
func (m *Monitor) logMetrics() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	requests := m.requests.Swap(0)
	failures := m.errorsCount.Swap(0)
	rate := 0.0
	if requests > 0 {
		rate = float64(failures) / float64(requests)
	}

	m.log.WithFields(logrus.Fields{
		"event":      "metrics",
		"heap_mb":    stats.HeapAlloc / 1024 / 1024,
		"sys_mb":     stats.Sys / 1024 / 1024,
		"goroutines": runtime.NumGoroutine(),
		"gc_cycles":  stats.NumGC,
		"requests":   requests,
		"errors":     failures,
		"error_rate": fmt.Sprintf("%.3f", rate),
	}).Info("📊 Process metrics")
}
