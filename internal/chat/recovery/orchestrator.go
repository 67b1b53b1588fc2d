// Package recovery decides what a chat session does after a failed attempt.
package recovery

import (
	"math"

	"github.com/vietddude/streamchat/internal/chat/retry"
	"github.com/vietddude/streamchat/internal/core/domain"
)

const (
	// DefaultMaxFallbackAttempts bounds model switches per episode.
	DefaultMaxFallbackAttempts = 2

	// DefaultKeepRatio is the share of history kept by context reduction.
	DefaultKeepRatio = 0.7

	minKeptMessages = 2
)

// Config holds orchestrator settings.
type Config struct {
	// FallbackModels are tried in order, cheapest and fastest first.
	FallbackModels      []string
	MaxFallbackAttempts int
	KeepRatio           float64
}

// Orchestrator maps a classified error and the session state to one
// recovery decision. It is stateless and safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	scheduler *retry.Scheduler
}

// New creates an orchestrator.
func New(cfg Config, scheduler *retry.Scheduler) *Orchestrator {
	if cfg.MaxFallbackAttempts <= 0 {
		cfg.MaxFallbackAttempts = DefaultMaxFallbackAttempts
	}
	if cfg.KeepRatio <= 0 || cfg.KeepRatio > 1 {
		cfg.KeepRatio = DefaultKeepRatio
	}
	if scheduler == nil {
		scheduler = retry.NewScheduler(retry.DefaultConfig)
	}
	cfg.FallbackModels = append([]string(nil), cfg.FallbackModels...)
	return &Orchestrator{cfg: cfg, scheduler: scheduler}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	c := o.cfg
	c.FallbackModels = append([]string(nil), o.cfg.FallbackModels...)
	return c
}

// Scheduler returns the backoff scheduler.
func (o *Orchestrator) Scheduler() *retry.Scheduler { return o.scheduler }

// Decide returns the next action for err. Every action other than
// surface_error consumes one unit of the per-turn budget, so once
// state.RetryCount reaches the budget nothing but surface_error is legal.
func (o *Orchestrator) Decide(err domain.ChatError, state domain.SessionState) domain.RecoveryDecision {
	maxAttempts := o.scheduler.MaxAttempts()
	if state.RetryCount >= maxAttempts {
		return surface()
	}

	switch err.Kind {
	case domain.KindContextTooLong:
		if !state.ContextReduced {
			return domain.RecoveryDecision{Action: domain.ActionReduceContext}
		}
	case domain.KindServiceUnavailable, domain.KindRateLimited:
		if model, ok := o.nextFallback(state); ok {
			return domain.RecoveryDecision{Action: domain.ActionSwitchModel, TargetModel: model}
		}
	}

	next := state.RetryCount + 1
	if err.Retryable && o.scheduler.ShouldRetry(next, maxAttempts) {
		delay := o.scheduler.NextDelay(next)
		if err.RetryAfter > delay {
			delay = err.RetryAfter
		}
		return domain.RecoveryDecision{Action: domain.ActionRetry, Delay: delay}
	}

	return surface()
}

// nextFallback picks the first configured model not used this episode.
// A link that is already known to be down will not be fixed by another
// model, so switching only happens while the connection looks online.
func (o *Orchestrator) nextFallback(state domain.SessionState) (string, bool) {
	if state.FallbackAttempts >= o.cfg.MaxFallbackAttempts {
		return "", false
	}
	if state.Connection != "" && state.Connection != domain.ConnectionOnline {
		return "", false
	}
	for _, m := range o.cfg.FallbackModels {
		if m == state.CurrentModel || state.HasTried(m) {
			continue
		}
		return m, true
	}
	return "", false
}

func surface() domain.RecoveryDecision {
	return domain.RecoveryDecision{Action: domain.ActionSurfaceError}
}

// ReduceContext keeps the earliest message plus the most recent ones so
// that ceil(len*ratio) messages remain, never fewer than two. The input
// is not modified.
func ReduceContext(messages []domain.Message, ratio float64) []domain.Message {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultKeepRatio
	}

	keep := int(math.Ceil(float64(len(messages)) * ratio))
	if keep < minKeptMessages {
		keep = minKeptMessages
	}
	if len(messages) <= keep {
		return domain.CloneMessages(messages)
	}

	out := make([]domain.Message, 0, keep)
	out = append(out, messages[0])
	out = append(out, messages[len(messages)-(keep-1):]...)
	return out
}

// Reduce applies ReduceContext with the configured ratio.
func (o *Orchestrator) Reduce(messages []domain.Message) []domain.Message {
	return ReduceContext(messages, o.cfg.KeepRatio)
}
