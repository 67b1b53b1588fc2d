package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config defines backoff behavior.
type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64 // jitter upper bound as a fraction of the delay, 0 disables it
	MaxAttempts int
}

// DefaultConfig provides sensible defaults.
// 1s, 2s, 4s, 8s, 16s, 30s (+ up to 10% jitter)
var DefaultConfig = Config{
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	JitterRatio: 0.1,
	MaxAttempts: 3,
}

// Scheduler computes bounded exponential backoff. It holds no mutable
// state, so one value can be shared by any number of sessions.
type Scheduler struct {
	cfg Config

	// Rand returns a uniform value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// NewScheduler creates a scheduler, filling zero fields from DefaultConfig.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.JitterRatio < 0 {
		cfg.JitterRatio = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	return &Scheduler{cfg: cfg, Rand: rand.Float64}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// MaxAttempts returns the configured attempt budget.
func (s *Scheduler) MaxAttempts() int { return s.cfg.MaxAttempts }

// BaseDelayFor returns the un-jittered delay for attempt (1-indexed):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (s *Scheduler) BaseDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(s.cfg.MaxDelay) || math.IsInf(delay, 1) {
		return s.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// NextDelay returns the wait before attempt, including jitter in
// [0, delay*JitterRatio].
func (s *Scheduler) NextDelay(attempt int) time.Duration {
	delay := s.BaseDelayFor(attempt)
	if s.cfg.JitterRatio == 0 {
		return delay
	}
	r := s.Rand
	if r == nil {
		r = rand.Float64
	}
	jitter := time.Duration(r() * s.cfg.JitterRatio * float64(delay))
	return delay + jitter
}

// ShouldRetry reports whether attempt still fits in maxAttempts.
func (s *Scheduler) ShouldRetry(attempt, maxAttempts int) bool {
	return attempt <= maxAttempts
}
