// Package health aggregates component checks into one service status.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fno-chain/internal/logging"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency_ns"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Check reports the health of one component.
type Check func(ctx context.Context) ComponentHealth

// SystemHealth represents overall service health.
type SystemHealth struct {
	Status        Status            `json:"status"`
	Uptime        string            `json:"uptime"`
	StartTime     time.Time         `json:"start_time"`
	Components    []ComponentHealth `json:"components"`
	Goroutines    int               `json:"goroutines"`
	MemoryAllocMB uint64            `json:"memory_alloc_mb"`
}

// Monitor runs registered checks on demand.
type Monitor struct {
	mu        sync.RWMutex
	checks    map[string]Check
	timeout   time.Duration
	startTime time.Time
	logger    zerolog.Logger
}

// NewMonitor creates a Monitor. Each Check call is bounded by timeout.
func NewMonitor(timeout time.Duration, logger zerolog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		checks:    make(map[string]Check),
		timeout:   timeout,
		startTime: time.Now(),
		logger:    logging.WithComponent(logger, "health"),
	}
}

// Register adds a component check, replacing any with the same name.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check concurrently. The overall status is the
// worst component status.
func (m *Monitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(n string, c Check) {
			defer wg.Done()
			results <- m.run(ctx, n, c)
		}(name, check)
	}
	wg.Wait()
	close(results)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sh := SystemHealth{
		Status:        StatusHealthy,
		Uptime:        time.Since(m.startTime).Round(time.Second).String(),
		StartTime:     m.startTime,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: memStats.Alloc / 1024 / 1024,
	}
	for h := range results {
		sh.Components = append(sh.Components, h)
		switch {
		case h.Status == StatusUnhealthy:
			sh.Status = StatusUnhealthy
		case h.Status == StatusDegraded && sh.Status == StatusHealthy:
			sh.Status = StatusDegraded
		}
	}
	sort.Slice(sh.Components, func(i, j int) bool { return sh.Components[i].Name < sh.Components[j].Name })
	return sh
}

func (m *Monitor) run(ctx context.Context, name string, check Check) (h ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("check", name).Msg("Panic in health check")
			h = ComponentHealth{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
		}
		h.Name = name
		h.LastCheck = time.Now()
		h.Latency = time.Since(start)
	}()
	return check(ctx)
}

// DatabaseCheck reports a store healthy when ping succeeds quickly.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		switch {
		case err != nil:
			return ComponentHealth{Status: StatusUnhealthy, Message: fmt.Sprintf("ping failed: %v", err)}
		case latency > 100*time.Millisecond:
			return ComponentHealth{Status: StatusDegraded, Message: fmt.Sprintf("slow: %v", latency)}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
