// Package connwatch tracks the reachability of the services tooledca
// depends on (Ollama, Home Assistant, the MQTT broker).
//
// A Watcher probes one service. Until the first success it retries with
// exponential backoff; after that, or once the startup retries run out,
// it polls at a fixed interval and fires callbacks on every ready/down
// transition. Transport-level retries of single requests belong to
// httpkit, not here.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc reports nil when the service is reachable.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing. Zero fields take the values from
// DefaultBackoff.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... up to 60s for ten attempts,
// then polls every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next returns the delay after d, capped at MaxDelay.
func (b Backoff) next(d time.Duration) time.Duration {
	return min(time.Duration(float64(d)*b.Multiplier), b.MaxDelay)
}

// WatcherConfig configures one Watcher. Name and Probe are required.
type WatcherConfig struct {
	Name    string
	Probe   ProbeFunc
	Backoff Backoff

	// OnReady and OnDown run in their own goroutine on each transition.
	OnReady func()
	OnDown  func(err error)

	Logger *slog.Logger
}

// ServiceStatus is a point-in-time view of one service, shaped for the
// health and diagnostics endpoints.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	cfg    WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool { return w.ready.Load() }

// Status returns the current status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{
		Name:      w.cfg.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop ends the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.cfg.Backoff
	log := w.cfg.Logger.With("service", w.cfg.Name)

	delay := b.InitialDelay
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		err := w.check(ctx)
		if err == nil {
			log.Info("service connected", "attempts", attempt)
			break
		}
		if attempt == b.MaxRetries {
			log.Warn("service unreachable at startup, polling", "attempts", attempt, "error", err)
			break
		}
		log.Debug("startup probe failed", "attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = b.next(delay)
	}

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil && !w.IsReady() {
				log.Debug("service still unreachable", "error", err)
			}
		}
	}
}

// check probes once, records the result, and fires a callback when
// readiness changes.
func (w *Watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	err := w.cfg.Probe(pctx)
	cancel()

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	ready := err == nil
	if w.ready.Swap(ready) == ready {
		return err
	}
	if ready {
		w.cfg.Logger.Info("service ready", "service", w.cfg.Name)
		if w.cfg.OnReady != nil {
			go w.cfg.OnReady()
		}
	} else {
		w.cfg.Logger.Warn("service down", "service", w.cfg.Name, "error", err)
		if w.cfg.OnDown != nil {
			go w.cfg.OnDown(err)
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager owns a set of watchers keyed by service name.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts a watcher that runs until ctx ends or Stop is called.
// A second Watch with the same name replaces the first, which is stopped.
// It panics on an empty name or nil probe.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: empty watcher name")
	}
	if cfg.Probe == nil {
		panic("connwatch: nil probe for " + cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cfg: cfg, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	old := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(wctx)
	return w
}

// IsReady reports whether the named service is ready. Unknown names
// are not ready.
func (m *Manager) IsReady(name string) bool {
	m.mu.RLock()
	w := m.watchers[name]
	m.mu.RUnlock()
	return w != nil && w.IsReady()
}

// Names returns the watched service names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.watchers))
	for name := range m.watchers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Status returns the status of every watched service.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Stop stops every watcher.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()
	for _, w := range ws {
		w.Stop()
	}
}
