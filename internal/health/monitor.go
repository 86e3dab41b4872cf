// Package health monitors read and write capability of the network
// share carrying the primary hand feed.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/observability"
)

// State is the share connection state.
type State int

const (
	StateDisconnected State = iota
	StateReconnecting
	StateDegraded
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}

// ConnectionStatus is the outcome of one health check run.
type ConnectionStatus struct {
	State               State         `json:"state"`
	LastCheck           time.Time     `json:"last_check"`
	ErrorCode           string        `json:"error_code,omitempty"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	Latency             time.Duration `json:"latency"`
	CanRead             bool          `json:"can_read"`
	CanWrite            bool          `json:"can_write"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// TransitionFunc is invoked on state changes only, never on repeated
// checks yielding the same state.
type TransitionFunc func(from, to State, status ConnectionStatus)

// Config holds the monitor parameters.
type Config struct {
	// Path is the share directory to probe.
	Path string

	// CheckInterval is the fixed interval between health checks.
	CheckInterval time.Duration

	// MaxReconnectAttempts bounds the backoff reconnect routine.
	MaxReconnectAttempts int

	// ReconnectBackoffBase is the first reconnect delay. It doubles per
	// attempt up to ReconnectBackoffCap. Zero selects the defaults of
	// 5s and 60s.
	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration
}

// ConfigFromSettings extracts the monitor parameters from the
// application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		Path:                 settings.Primary.WatchPath,
		CheckInterval:        time.Duration(settings.Health.CheckIntervalSeconds) * time.Second,
		MaxReconnectAttempts: settings.Health.MaxReconnectAttempts,
	}
}

// Monitor runs the periodic three-stage share check and a separate
// bounded backoff reconnect routine while disconnected.
type Monitor struct {
	config       Config
	onTransition TransitionFunc
	metrics      *observability.HealthMetrics
	logger       *slog.Logger

	mu           sync.Mutex
	status       ConnectionStatus
	reconnecting bool

	wg sync.WaitGroup
}

// NewMonitor creates a share health monitor. onTransition and metrics
// may be nil.
func NewMonitor(config Config, onTransition TransitionFunc, metrics *observability.HealthMetrics) *Monitor {
	if config.ReconnectBackoffBase <= 0 {
		config.ReconnectBackoffBase = 5 * time.Second
	}
	if config.ReconnectBackoffCap <= 0 {
		config.ReconnectBackoffCap = 60 * time.Second
	}
	return &Monitor{
		config:       config,
		onTransition: onTransition,
		metrics:      metrics,
		logger:       logging.ForService("health"),
		status:       ConnectionStatus{State: StateDisconnected},
	}
}

// IsAccessible probes a path directly, outside the monitoring loop.
// Used at startup to pick the initial ingestion mode.
func IsAccessible(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Check runs the three-stage probe once: path existence, directory
// listing for read capability, sentinel create-and-delete for write
// capability. Read-only is an accepted steady state reported as
// degraded, not a failure.
func (m *Monitor) Check() ConnectionStatus {
	start := time.Now()
	status := ConnectionStatus{LastCheck: start}

	defer func() {
		status.Latency = time.Since(start)
		if m.metrics != nil {
			m.metrics.CheckLatency.Observe(status.Latency.Seconds())
		}
	}()

	// Stage 1: the share path must exist.
	if _, err := os.Stat(m.config.Path); err != nil {
		status.State = StateDisconnected
		status.ErrorCode = "path_not_found"
		status.ErrorMessage = err.Error()
		return status
	}

	// Stage 2: listing proves read capability.
	if _, err := os.ReadDir(m.config.Path); err != nil {
		status.State = StateDisconnected
		status.ErrorCode = "read_failed"
		status.ErrorMessage = err.Error()
		return status
	}
	status.CanRead = true

	// Stage 3: a sentinel round-trip proves write capability.
	sentinel := filepath.Join(m.config.Path, ".tablecap_health_"+uuid.NewString())
	if err := os.WriteFile(sentinel, []byte("ok"), 0o644); err != nil {
		status.State = StateDegraded
		status.ErrorCode = "write_failed"
		status.ErrorMessage = err.Error()
		return status
	}
	if err := os.Remove(sentinel); err != nil {
		m.logger.Warn("failed to remove health sentinel", "path", sentinel, "error", err)
	}
	status.CanWrite = true
	status.State = StateConnected
	return status
}

// Start launches the monitoring loop. It returns immediately; the loop
// stops when ctx is cancelled. Wait blocks until all routines exit.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Wait blocks until the monitoring loop and any reconnect routine have
// exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Status returns the most recent connection status.
func (m *Monitor) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.logger.Info("starting share health monitor",
		"path", m.config.Path,
		"interval", m.config.CheckInterval,
	)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.apply(ctx, m.Check())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("share health monitor stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			busy := m.reconnecting
			m.mu.Unlock()
			if busy {
				// The reconnect routine owns the probing until it
				// finishes.
				continue
			}
			m.apply(ctx, m.Check())
		}
	}
}

// apply stores a check outcome, fires the transition callback on state
// change and kicks off the reconnect routine on disconnection.
func (m *Monitor) apply(ctx context.Context, status ConnectionStatus) {
	m.mu.Lock()
	previous := m.status.State
	if status.State == StateConnected || status.State == StateDegraded {
		status.ConsecutiveFailures = 0
	} else {
		status.ConsecutiveFailures = m.status.ConsecutiveFailures + 1
	}
	m.status = status
	startReconnect := status.State == StateDisconnected && !m.reconnecting
	if startReconnect {
		m.reconnecting = true
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.State.Set(float64(status.State))
		if status.State == StateDisconnected {
			m.metrics.Failures.Inc()
		}
	}

	if status.State != previous {
		m.logger.Info("share connection state changed",
			"from", previous.String(),
			"to", status.State.String(),
			"error_code", status.ErrorCode,
		)
		m.fireTransition(previous, status.State, status)
	}

	if startReconnect {
		m.wg.Add(1)
		go m.reconnect(ctx)
	}
}

// reconnect probes the share with exponential backoff until it comes
// back or the attempt budget runs out. On success the transition
// callback fires exactly once, from the apply call below.
func (m *Monitor) reconnect(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	m.setState(StateReconnecting)

	delay := m.config.ReconnectBackoffBase

	for attempt := 1; attempt <= m.config.MaxReconnectAttempts; attempt++ {
		m.logger.Info("share reconnect attempt scheduled",
			"attempt", attempt,
			"max_attempts", m.config.MaxReconnectAttempts,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		status := m.Check()
		if status.State == StateConnected || status.State == StateDegraded {
			m.logger.Info("share reconnected", "attempt", attempt, "state", status.State.String())
			m.apply(ctx, status)
			return
		}

		m.mu.Lock()
		m.status.ConsecutiveFailures++
		m.status.LastCheck = status.LastCheck
		m.mu.Unlock()

		delay *= 2
		if delay > m.config.ReconnectBackoffCap {
			delay = m.config.ReconnectBackoffCap
		}
	}

	m.logger.Error("share reconnect attempts exhausted",
		"attempts", m.config.MaxReconnectAttempts,
		"path", m.config.Path,
	)
	m.setState(StateDisconnected)
}

// setState forces a state without a full check outcome, firing the
// transition callback if it changed. Used for the reconnecting state
// and for reporting reconnect exhaustion.
func (m *Monitor) setState(to State) {
	m.mu.Lock()
	from := m.status.State
	m.status.State = to
	status := m.status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.State.Set(float64(to))
	}
	if from != to {
		m.logger.Info("share connection state changed", "from", from.String(), "to", to.String())
		m.fireTransition(from, to, status)
	}
}

func (m *Monitor) fireTransition(from, to State, status ConnectionStatus) {
	if m.onTransition == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transition callback panicked", "panic", r)
		}
	}()
	m.onTransition(from, to, status)
}
