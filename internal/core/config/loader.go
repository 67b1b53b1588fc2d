package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding environment variables, and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Completion.Temperature == 0 {
		c.Completion.Temperature = 0.7
	}
	if c.Completion.MaxTokens == 0 {
		c.Completion.MaxTokens = 2048
	}
	if c.Completion.FirstByteTimeout == 0 {
		c.Completion.FirstByteTimeout = 30 * time.Second
	}
	if c.Completion.IdleTimeout == 0 {
		c.Completion.IdleTimeout = 60 * time.Second
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.MaxFallbackAttempts == 0 {
		c.Retry.MaxFallbackAttempts = 2
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Retry.KeepRatio == 0 {
		c.Retry.KeepRatio = 0.7
	}

	if c.Connection.ProbeKind == "" {
		if c.Connection.ProbeURL != "" {
			c.Connection.ProbeKind = ProbeHTTP
		} else {
			c.Connection.ProbeKind = ProbeNone
		}
	}
	if c.Connection.ProbeInterval == 0 {
		c.Connection.ProbeInterval = 30 * time.Second
	}
	if c.Connection.ProbeTimeout == 0 {
		c.Connection.ProbeTimeout = 5 * time.Second
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate reports invalid combinations.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Completion.URL == "" {
		errs = append(errs, errors.New("completion.url is required"))
	}
	if c.Completion.Model == "" {
		errs = append(errs, errors.New("completion.model is required"))
	}
	if c.Retry.KeepRatio <= 0 || c.Retry.KeepRatio > 1 {
		errs = append(errs, fmt.Errorf("retry.keep_ratio must be in (0, 1], got %v", c.Retry.KeepRatio))
	}
	if j := c.Retry.Jitter; j != nil && (*j < 0 || *j > 1) {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0, 1], got %v", *j))
	}

	switch c.Connection.ProbeKind {
	case ProbeNone:
	case ProbeHTTP:
		if c.Connection.ProbeURL == "" {
			errs = append(errs, errors.New("connection.probe_url is required for http probe"))
		}
	case ProbeGRPC:
		if c.Connection.GRPCTarget == "" {
			errs = append(errs, errors.New("connection.grpc_target is required for grpc probe"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown connection.probe %q", c.Connection.ProbeKind))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres storage"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for redis storage"))
		}
	case BackendHTTP:
		if c.Storage.ReplaceURL == "" {
			errs = append(errs, errors.New("storage.replace_url is required for http storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
