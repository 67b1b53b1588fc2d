// Package health provides status reporting for a running chat session.
package health

import (
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ConnectionHealth describes the connectivity monitor.
type ConnectionHealth struct {
	Status              domain.ConnectionStatus `json:"status"`
	PlatformOnline      bool                    `json:"platform_online"`
	LastProbeAt         *time.Time              `json:"last_probe_at,omitempty"`
	LastProbeLatencyMs  int64                   `json:"last_probe_latency_ms"`
	LastProbeError      string                  `json:"last_probe_error,omitempty"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
}

// SessionHealth describes the chat session.
type SessionHealth struct {
	Phase          domain.Phase `json:"phase"`
	Model          string       `json:"model"`
	Messages       int          `json:"messages"`
	RetryCount     int          `json:"retry_count"`
	LastErrorKind  string       `json:"last_error_kind,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus      `json:"system_status"`
	Connection   *ConnectionHealth `json:"connection,omitempty"`
	Session      *SessionHealth    `json:"session,omitempty"`
	Storage      string            `json:"storage,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}
