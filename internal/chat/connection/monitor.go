// Package connection tracks network reachability independently of any
// single chat request.
//
// Two signals drive the status:
//   - platform connectivity (interface up/down), which toggles online and offline
//   - an explicit liveness probe, which separates "interface up" from
//     "service reachable" and moves online to degraded and back
//
// The monitor is advisory. It never blocks or cancels a request; the chat
// session only reads it when classifying failures.
package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config holds monitor settings.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// PlatformSampler reports platform connectivity on every tick. Nil
	// means platform signals only arrive through SetPlatformOnline.
	PlatformSampler func() bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:   30 * time.Second,
		ProbeTimeout:    5 * time.Second,
		PlatformSampler: InterfacesUp,
	}
}

// Transition is a status change.
type Transition struct {
	From      domain.ConnectionStatus
	To        domain.ConnectionStatus
	Reason    string
	Timestamp time.Time
}

// Stats holds probe statistics.
type Stats struct {
	Status              domain.ConnectionStatus
	PlatformOnline      bool
	LastProbeAt         time.Time
	LastProbeLatency    time.Duration
	LastProbeError      string
	ConsecutiveFailures int
	ProbeCount          int
}

// Monitor tracks connection status and notifies subscribers on transitions.
type Monitor struct {
	mu sync.RWMutex

	cfg    Config
	prober Prober
	log    *slog.Logger

	status         domain.ConnectionStatus
	platformOnline bool

	lastProbeAt         time.Time
	lastProbeLatency    time.Duration
	lastProbeErr        error
	consecutiveFailures int
	probeCount          int

	subscribers map[int]func(Transition)
	nextSubID   int
}

// NewMonitor creates a monitor that starts online. prober may be nil, in
// which case only platform signals are tracked.
func NewMonitor(cfg Config, prober Prober) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		cfg:            cfg,
		prober:         prober,
		log:            slog.Default().With("component", "connection"),
		status:         domain.ConnectionOnline,
		platformOnline: true,
		subscribers:    make(map[int]func(Transition)),
	}
}

// Status returns the current connection status.
func (m *Monitor) Status() domain.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe registers fn for transitions and returns a function that removes it.
// fn runs on the goroutine that caused the transition and must not block.
func (m *Monitor) Subscribe(fn func(Transition)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// SetPlatformOnline feeds a platform connectivity event.
func (m *Monitor) SetPlatformOnline(online bool) {
	m.mu.Lock()
	m.platformOnline = online

	var t *Transition
	switch {
	case !online && m.status != domain.ConnectionOffline:
		t = m.transitionLocked(domain.ConnectionOffline, "platform reported offline")
	case online && m.status == domain.ConnectionOffline:
		t = m.transitionLocked(domain.ConnectionOnline, "platform reported online")
	}
	m.mu.Unlock()

	m.notify(t)
}

// Probe runs the liveness probe once with the configured timeout and
// updates the status. It returns the probe error, if any.
func (m *Monitor) Probe(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Probe(probeCtx)
	latency := time.Since(start)

	// The caller going away is not a reachability signal.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	m.probeCount++
	m.lastProbeAt = start
	m.lastProbeLatency = latency
	m.lastProbeErr = err

	var t *Transition
	if err != nil {
		m.consecutiveFailures++
		if m.platformOnline && m.status == domain.ConnectionOnline {
			t = m.transitionLocked(domain.ConnectionDegraded, "probe failed: "+err.Error())
		}
	} else {
		m.consecutiveFailures = 0
		if m.status == domain.ConnectionDegraded {
			t = m.transitionLocked(domain.ConnectionOnline, "probe succeeded")
		}
	}
	m.mu.Unlock()

	m.notify(t)
	return err
}

// Run samples the platform and probes on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if m.cfg.PlatformSampler != nil {
		m.SetPlatformOnline(m.cfg.PlatformSampler())
	}

	m.mu.RLock()
	online := m.platformOnline
	m.mu.RUnlock()
	if !online {
		return
	}

	if err := m.Probe(ctx); err != nil && ctx.Err() == nil {
		m.log.Debug("Connectivity probe failed", "error", err)
	}
}

// Stats returns current probe statistics.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Status:              m.status,
		PlatformOnline:      m.platformOnline,
		LastProbeAt:         m.lastProbeAt,
		LastProbeLatency:    m.lastProbeLatency,
		ConsecutiveFailures: m.consecutiveFailures,
		ProbeCount:          m.probeCount,
	}
	if m.lastProbeErr != nil {
		s.LastProbeError = m.lastProbeErr.Error()
	}
	return s
}

func (m *Monitor) transitionLocked(to domain.ConnectionStatus, reason string) *Transition {
	t := &Transition{
		From:      m.status,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	m.status = to
	return t
}

func (m *Monitor) notify(t *Transition) {
	if t == nil {
		return
	}
	m.log.Info("Connection status changed", "from", t.From, "to", t.To, "reason", t.Reason)

	m.mu.RLock()
	subs := make([]func(Transition), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(*t)
	}
}

// InterfacesUp reports whether any non-loopback network interface is up.
func InterfacesUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Unknown is treated as online; the probe will tell.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}
