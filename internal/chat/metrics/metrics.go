package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/streamchat/internal/core/domain"
)

var (
	// TurnsTotal tracks finished turns by outcome (completed, errored, stopped)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	// AttemptsTotal tracks completion requests per model and result
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_attempts_total",
			Help: "Total number of completion requests",
		},
		[]string{"model", "status"},
	)

	// ErrorsTotal tracks classified failures
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_errors_total",
			Help: "Total number of classified stream failures",
		},
		[]string{"kind"},
	)

	// RecoveryDecisionsTotal tracks orchestrator decisions
	RecoveryDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_recovery_decisions_total",
			Help: "Total number of recovery decisions by action",
		},
		[]string{"action"},
	)

	// StreamDuration tracks how long a successful stream stayed open
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamchat_stream_duration_seconds",
			Help:    "Duration of successful completion streams in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	// TimeToFirstChunk tracks latency until the first content arrives
	TimeToFirstChunk = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamchat_time_to_first_chunk_seconds",
			Help:    "Latency from request to first streamed chunk in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// ConnectionStatus is 1 for the current status, 0 otherwise
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamchat_connection_status",
			Help: "Current connection status (1 = active)",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage is the share of open connections in the pool (0-100)
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamchat_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)

// SetConnectionStatus flips the connection gauge to status.
func SetConnectionStatus(status domain.ConnectionStatus) {
	for _, s := range []domain.ConnectionStatus{
		domain.ConnectionOnline,
		domain.ConnectionOffline,
		domain.ConnectionDegraded,
	} {
		v := 0.0
		if s == status {
			v = 1
		}
		ConnectionStatus.WithLabelValues(string(s)).Set(v)
	}
}
