package health

import (
	"sort"
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/config"
	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/gateway"
)

// Status represents the health status of a wallet daemon.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOpen     Status = "circuit_open"
)

// DaemonHealth contains the current health information for a daemon.
type DaemonHealth struct {
	Name             string    `json:"name"`
	HealthScore      float64   `json:"health_score"`
	Status           Status    `json:"status"`
	TotalRecent      int       `json:"total_recent"`
	SuccessCount     int       `json:"success_count"`
	UnreachableCount int       `json:"unreachable_count"`
	RejectedCount    int       `json:"rejected_count"`
	LastError        string    `json:"last_error,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// outcome records a single RPC call result.
type outcome struct {
	kind      string // "" on success, otherwise gateway.Classify
	message   string
	timestamp time.Time
}

// Monitor tracks daemon health using a sliding window of recent RPC outcomes.
type Monitor struct {
	mu             sync.RWMutex
	windows        map[string][]outcome
	windowSize     int
	windowDuration time.Duration
	now            func() time.Time
}

// NewMonitor creates a new health monitor with default configuration.
func NewMonitor() *Monitor {
	return NewMonitorWithConfig(config.HealthWindowSize, config.HealthWindowDuration)
}

// NewMonitorWithConfig creates a monitor with custom window settings.
func NewMonitorWithConfig(windowSize int, windowDuration time.Duration) *Monitor {
	return &Monitor{
		windows:        make(map[string][]outcome),
		windowSize:     windowSize,
		windowDuration: windowDuration,
		now:            time.Now,
	}
}

// RecordOutcome records the result of one call against the named daemon. A nil err is a success.
func (m *Monitor) RecordOutcome(name string, err error) {
	o := outcome{kind: gateway.Classify(err)}
	if err != nil {
		o.message = err.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o.timestamp = m.now()
	m.windows[name] = append(m.windows[name], o)
	m.pruneWindow(name)
}

// GetHealth returns the current health information for a daemon.
func (m *Monitor) GetHealth(name string) DaemonHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := m.getActiveWindow(name)

	if len(window) == 0 {
		return DaemonHealth{
			Name:        name,
			HealthScore: 1.0, // no traffic yet counts as healthy
			Status:      StatusHealthy,
			LastUpdated: m.now(),
		}
	}

	h := DaemonHealth{Name: name, TotalRecent: len(window), LastUpdated: m.now()}
	for _, o := range window {
		switch o.kind {
		case "":
			h.SuccessCount++
		case "rejected":
			h.RejectedCount++
			h.LastError = o.message
		default:
			h.UnreachableCount++
			h.LastError = o.message
		}
	}

	h.HealthScore = float64(h.SuccessCount) / float64(h.TotalRecent)
	h.Status = StatusHealthy
	if h.HealthScore < config.CircuitBreakerThreshold {
		h.Status = StatusOpen
	} else if h.HealthScore < config.DegradedThreshold {
		h.Status = StatusDegraded
	}
	return h
}

// GetAllHealth returns health information for all tracked daemons, sorted by name.
func (m *Monitor) GetAllHealth() []DaemonHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.windows))
	for name := range m.windows {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	healths := make([]DaemonHealth, 0, len(names))
	for _, name := range names {
		healths = append(healths, m.GetHealth(name))
	}
	return healths
}

// IsCircuitOpen returns true if scheduled polling against the daemon should be skipped.
func (m *Monitor) IsCircuitOpen(name string) bool {
	return m.GetHealth(name).Status == StatusOpen
}

// getActiveWindow returns outcomes within the time window, already under read lock.
func (m *Monitor) getActiveWindow(name string) []outcome {
	window := m.windows[name]
	if len(window) == 0 {
		return nil
	}

	cutoff := m.now().Add(-m.windowDuration)
	active := make([]outcome, 0, len(window))
	for _, o := range window {
		if o.timestamp.After(cutoff) {
			active = append(active, o)
		}
	}

	if len(active) > m.windowSize {
		active = active[len(active)-m.windowSize:]
	}
	return active
}

// pruneWindow removes expired outcomes, called under write lock.
func (m *Monitor) pruneWindow(name string) {
	cutoff := m.now().Add(-m.windowDuration)
	window := m.windows[name]

	pruned := make([]outcome, 0, len(window))
	for _, o := range window {
		if o.timestamp.After(cutoff) {
			pruned = append(pruned, o)
		}
	}

	if len(pruned) > m.windowSize {
		pruned = pruned[len(pruned)-m.windowSize:]
	}
	m.windows[name] = pruned
}
