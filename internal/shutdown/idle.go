// Package shutdown signals when the server has been idle long enough to stop,
// for platforms that scale machines to zero.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BusyFunc reports whether background work (such as a renewal charge) is running.
type BusyFunc func() bool

// IdleMonitorConfig holds configuration for the idle monitor.
type IdleMonitorConfig struct {
	Timeout      time.Duration // Zero disables the monitor
	CheckEvery   time.Duration // Defaults to Timeout/6, clamped to [1s, 30s]
	ExcludePaths []string      // Path prefixes that don't count as activity (probes, metrics)
	Busy         BusyFunc      // Optional
	Logger       *slog.Logger
}

// IdleMonitor tracks request activity and closes Done once no request has
// been served and no background work has run for Timeout.
type IdleMonitor struct {
	cfg          IdleMonitorConfig
	logger       *slog.Logger
	active       atomic.Int64
	mu           sync.Mutex
	lastActivity time.Time
	done         chan struct{}
	stop         chan struct{}
	stopOnce     sync.Once
	now          func() time.Time
}

// NewIdleMonitor creates a new idle monitor.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = min(max(cfg.Timeout/6, time.Second), 30*time.Second)
	}
	return &IdleMonitor{
		cfg:          cfg,
		logger:       cfg.Logger.With("component", "idle-monitor"),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
		now:          time.Now,
	}
}

// Enabled reports whether a timeout is configured.
func (m *IdleMonitor) Enabled() bool {
	return m.cfg.Timeout > 0
}

// Start begins watching for idleness.
func (m *IdleMonitor) Start() {
	if !m.Enabled() {
		return
	}
	m.logger.Info("idle monitoring started", "timeout", m.cfg.Timeout.String(), "exclude_paths", m.cfg.ExcludePaths)
	go m.run()
}

// Stop stops the monitor without signalling Done.
func (m *IdleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Done is closed when the idle timeout is reached.
func (m *IdleMonitor) Done() <-chan struct{} {
	return m.done
}

// Middleware counts in-flight requests. Excluded paths are not counted.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.cfg.ExcludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// idle reports whether the monitor should fire now.
func (m *IdleMonitor) idle() (bool, time.Duration) {
	busy := m.active.Load() > 0 || (m.cfg.Busy != nil && m.cfg.Busy())
	if busy {
		// The full timeout starts again once the work finishes.
		m.touch()
		return false, 0
	}

	m.mu.Lock()
	idleFor := m.now().Sub(m.lastActivity)
	m.mu.Unlock()
	return idleFor >= m.cfg.Timeout, idleFor
}

func (m *IdleMonitor) run() {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			fire, idleFor := m.idle()
			if fire {
				m.logger.Info("idle timeout reached, signalling shutdown", "idle_for", idleFor.String())
				close(m.done)
				return
			}
		}
	}
}
