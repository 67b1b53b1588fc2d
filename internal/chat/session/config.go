package session

import (
	"time"

	"github.com/vietddude/streamchat/internal/chat/recovery"
	"github.com/vietddude/streamchat/internal/chat/retry"
)

// Config is the explicit per-session configuration. Updates go through
// Session.Configure.
type Config struct {
	Model          string
	FallbackModels []string
	Temperature    float64
	MaxTokens      int

	// MaxAttempts is the per-turn recovery budget shared by retries,
	// model switches and context reductions.
	MaxAttempts         int
	MaxFallbackAttempts int
	KeepRatio           float64

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

// DefaultConfig returns defaults for model.
func DefaultConfig(model string) Config {
	return Config{
		Model:               model,
		Temperature:         0.7,
		MaxTokens:           2048,
		MaxAttempts:         retry.DefaultConfig.MaxAttempts,
		MaxFallbackAttempts: recovery.DefaultMaxFallbackAttempts,
		KeepRatio:           recovery.DefaultKeepRatio,
		BaseDelay:           retry.DefaultConfig.BaseDelay,
		MaxDelay:            retry.DefaultConfig.MaxDelay,
		JitterRatio:         retry.DefaultConfig.JitterRatio,
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

func (c Config) orchestrator() *recovery.Orchestrator {
	sched := retry.NewScheduler(retry.Config{
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		JitterRatio: c.JitterRatio,
		MaxAttempts: c.MaxAttempts,
	})
	return recovery.New(recovery.Config{
		FallbackModels:      c.FallbackModels,
		MaxFallbackAttempts: c.MaxFallbackAttempts,
		KeepRatio:           c.KeepRatio,
	}, sched)
}

func (c Config) clone() Config {
	c.FallbackModels = append([]string(nil), c.FallbackModels...)
	return c
}
