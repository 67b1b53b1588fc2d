package config

import (
	"time"

	redisclient "github.com/vietddude/streamchat/internal/infra/redis"
	"github.com/vietddude/streamchat/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Completion CompletionConfig   `yaml:"completion"`
	Retry      RetryConfig        `yaml:"retry"`
	Connection ConnectionConfig   `yaml:"connection"`
	Storage    StorageConfig      `yaml:"storage"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the health server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CompletionConfig holds the completion endpoint and model settings.
type CompletionConfig struct {
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	FallbackModels   []string      `yaml:"fallback_models"`
	Temperature      float64       `yaml:"temperature"`
	MaxTokens        int           `yaml:"max_tokens"`
	FirstByteTimeout time.Duration `yaml:"first_byte_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
}

// RetryConfig holds the per-turn recovery budget and backoff.
type RetryConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	MaxFallbackAttempts int           `yaml:"max_fallback_attempts"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	// Jitter is the backoff jitter fraction; unset means 0.1.
	Jitter              *float64      `yaml:"jitter"`
	KeepRatio           float64       `yaml:"keep_ratio"`
}

// ConnectionConfig holds connectivity probe settings.
type ConnectionConfig struct {
	// ProbeKind is "http", "grpc" or "none".
	ProbeKind     string        `yaml:"probe"`
	ProbeURL      string        `yaml:"probe_url"`
	GRPCTarget    string        `yaml:"grpc_target"`
	GRPCService   string        `yaml:"grpc_service"`
	GRPCTLS       bool          `yaml:"grpc_tls"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// StorageConfig selects the transcript backend.
type StorageConfig struct {
	// Backend is "memory", "postgres", "redis" or "http".
	Backend    string        `yaml:"backend"`
	ReplaceURL string        `yaml:"replace_url"`
	Timeout    time.Duration `yaml:"timeout"`
	// Retention prunes transcripts and attempts older than this. 0 keeps everything.
	Retention  time.Duration `yaml:"retention"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendHTTP     = "http"
)

// Probe kinds.
const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
	ProbeNone = "none"
)
