package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/streamchat/internal/chat/connection"
	"github.com/vietddude/streamchat/internal/core/domain"
)

// ConnectionSource exposes connectivity statistics.
type ConnectionSource interface {
	Stats() connection.Stats
}

// SessionSource exposes a session snapshot.
type SessionSource interface {
	State() domain.SessionState
}

// StorageChecker pings the transcript backend.
type StorageChecker interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the connection monitor, the
// session and the storage backend. Any source may be nil.
type Monitor struct {
	conn    ConnectionSource
	session SessionSource
	storage StorageChecker

	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(conn ConnectionSource, session SessionSource, storage StorageChecker) *Monitor {
	return &Monitor{
		conn:     conn,
		session:  session,
		storage:  storage,
		cacheFor: 2 * time.Second,
	}
}

// CheckHealth builds a report. Results are cached briefly so that a busy
// scraper does not hammer the storage backend.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := HealthReport{SystemStatus: StatusHealthy, CheckedAt: time.Now()}

	if m.conn != nil {
		st := m.conn.Stats()
		ch := &ConnectionHealth{
			Status:              st.Status,
			PlatformOnline:      st.PlatformOnline,
			LastProbeLatencyMs:  st.LastProbeLatency.Milliseconds(),
			LastProbeError:      st.LastProbeError,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}
		if !st.LastProbeAt.IsZero() {
			at := st.LastProbeAt
			ch.LastProbeAt = &at
		}
		report.Connection = ch

		switch st.Status {
		case domain.ConnectionOffline:
			report.SystemStatus = StatusCritical
		case domain.ConnectionDegraded:
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	if m.session != nil {
		st := m.session.State()
		sh := &SessionHealth{
			Phase:          st.Phase,
			Model:          st.CurrentModel,
			Messages:       len(st.Messages),
			RetryCount:     st.RetryCount,
			ConversationID: st.ConversationID,
		}
		if st.LastError != nil {
			sh.LastErrorKind = string(st.LastError.Kind)
		}
		report.Session = sh

		switch st.Phase {
		case domain.PhaseErroring, domain.PhaseRecovering, domain.PhaseErrored:
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	if m.storage != nil {
		if err := m.storage.Health(ctx); err != nil {
			report.Storage = err.Error()
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		} else {
			report.Storage = "ok"
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
