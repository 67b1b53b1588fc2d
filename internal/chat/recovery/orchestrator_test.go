package recovery

import (
	"testing"
	"time"

	"github.com/vietddude/streamchat/internal/chat/classifier"
	"github.com/vietddude/streamchat/internal/chat/retry"
	"github.com/vietddude/streamchat/internal/core/domain"
)

func newTestOrchestrator(fallbacks ...string) *Orchestrator {
	s := retry.NewScheduler(retry.Config{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	})
	return New(Config{FallbackModels: fallbacks}, s)
}

func chatErr(kind domain.ErrorKind) domain.ChatError {
	retryable := kind != domain.KindAuthError && kind != domain.KindUnknown
	return domain.ChatError{
		Kind:             kind,
		Retryable:        retryable,
		SuggestedActions: classifier.SuggestedActions(kind),
	}
}

func TestDecide_RateLimitedHonorsRetryAfter(t *testing.T) {
	o := newTestOrchestrator()

	err := chatErr(domain.KindRateLimited)
	err.RetryAfter = 5 * time.Second
	err.HasRetryAfter = true

	d := o.Decide(err, domain.NewSessionState("gpt-main", domain.ConnectionOnline))
	if d.Action != domain.ActionRetry {
		t.Fatalf("expected retry, got %s", d.Action)
	}
	if d.Delay < 5*time.Second {
		t.Errorf("expected delay >= 5s, got %v", d.Delay)
	}
}

func TestDecide_BackoffWinsOverSmallHint(t *testing.T) {
	o := newTestOrchestrator()

	err := chatErr(domain.KindServiceUnavailable)
	state := domain.NewSessionState("m", domain.ConnectionOnline)
	state.RetryCount = 2

	d := o.Decide(err, state)
	if d.Action != domain.ActionRetry {
		t.Fatalf("expected retry, got %s", d.Action)
	}
	// Third attempt: 1s * 2^2.
	if d.Delay != 4*time.Second {
		t.Errorf("expected 4s, got %v", d.Delay)
	}
}

func TestDecide_ReduceContextOncePerEpisode(t *testing.T) {
	o := newTestOrchestrator()
	state := domain.NewSessionState("m", domain.ConnectionOnline)
	err := chatErr(domain.KindContextTooLong)

	d := o.Decide(err, state)
	if d.Action != domain.ActionReduceContext {
		t.Fatalf("expected reduce_context, got %s", d.Action)
	}
	if d.Delay != 0 {
		t.Errorf("reduce_context should run immediately, got %v", d.Delay)
	}

	state.ContextReduced = true
	state.RetryCount = 1
	d = o.Decide(err, state)
	if d.Action == domain.ActionReduceContext {
		t.Fatal("reduce_context returned twice in one episode")
	}
	if d.Action != domain.ActionRetry {
		t.Errorf("expected fall through to retry, got %s", d.Action)
	}

	state.RetryCount = 3
	d = o.Decide(err, state)
	if d.Action != domain.ActionSurfaceError {
		t.Errorf("expected surface_error once exhausted, got %s", d.Action)
	}
}

func TestDecide_SwitchModel(t *testing.T) {
	tests := []struct {
		name      string
		kind      domain.ErrorKind
		current   string
		tried     []string
		fallbacks int
		conn      domain.ConnectionStatus
		want      domain.RecoveryAction
		target    string
	}{
		{
			name:    "service unavailable picks first fallback",
			kind:    domain.KindServiceUnavailable,
			current: "primary",
			tried:   []string{"primary"},
			conn:    domain.ConnectionOnline,
			want:    domain.ActionSwitchModel,
			target:  "fast",
		},
		{
			name:    "rate limited skips tried models",
			kind:    domain.KindRateLimited,
			current: "fast",
			tried:   []string{"primary", "fast"},
			conn:    domain.ConnectionOnline,
			want:    domain.ActionSwitchModel,
			target:  "cheap",
		},
		{
			name:      "fallback budget spent",
			kind:      domain.KindServiceUnavailable,
			current:   "cheap",
			tried:     []string{"primary", "fast"},
			fallbacks: 2,
			conn:      domain.ConnectionOnline,
			want:      domain.ActionRetry,
		},
		{
			name:    "all fallbacks tried",
			kind:    domain.KindServiceUnavailable,
			current: "cheap",
			tried:   []string{"primary", "fast", "cheap"},
			conn:    domain.ConnectionOnline,
			want:    domain.ActionRetry,
		},
		{
			name:    "degraded link retries instead",
			kind:    domain.KindServiceUnavailable,
			current: "primary",
			tried:   []string{"primary"},
			conn:    domain.ConnectionDegraded,
			want:    domain.ActionRetry,
		},
		{
			name:    "offline never switches",
			kind:    domain.KindNetworkOffline,
			current: "primary",
			tried:   []string{"primary"},
			conn:    domain.ConnectionOnline,
			want:    domain.ActionRetry,
		},
	}

	o := newTestOrchestrator("fast", "cheap")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := domain.NewSessionState(tt.current, tt.conn)
			state.TriedModels = tt.tried
			state.FallbackAttempts = tt.fallbacks

			d := o.Decide(chatErr(tt.kind), state)
			if d.Action != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, d.Action)
			}
			if d.TargetModel != tt.target {
				t.Errorf("expected target %q, got %q", tt.target, d.TargetModel)
			}
		})
	}
}

func TestDecide_NonRetryableSurfaces(t *testing.T) {
	o := newTestOrchestrator("fast")
	state := domain.NewSessionState("m", domain.ConnectionOnline)

	for _, kind := range []domain.ErrorKind{domain.KindAuthError, domain.KindUnknown} {
		d := o.Decide(chatErr(kind), state)
		if d.Action != domain.ActionSurfaceError {
			t.Errorf("%s: expected surface_error, got %s", kind, d.Action)
		}
		if d.Reissues() {
			t.Errorf("%s: surface_error must not reissue", kind)
		}
	}
}

func TestDecide_BudgetGate(t *testing.T) {
	o := newTestOrchestrator("fast")
	state := domain.NewSessionState("m", domain.ConnectionOnline)
	state.RetryCount = 3

	for _, kind := range domain.ErrorKinds {
		d := o.Decide(chatErr(kind), state)
		if d.Action != domain.ActionSurfaceError {
			t.Errorf("%s: expected surface_error at budget, got %s", kind, d.Action)
		}
	}
}

func msgs(n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := range out {
		out[i] = domain.Message{ID: string(rune('a' + i)), Role: domain.RoleUser}
	}
	return out
}

func TestReduceContext(t *testing.T) {
	tests := []struct {
		name  string
		in    int
		ratio float64
		want  []string
	}{
		{name: "empty", in: 0, ratio: 0.7, want: []string{}},
		{name: "single", in: 1, ratio: 0.7, want: []string{"a"}},
		{name: "two kept", in: 2, ratio: 0.7, want: []string{"a", "b"}},
		{name: "three stays three", in: 3, ratio: 0.7, want: []string{"a", "b", "c"}},
		{name: "ten keeps seven", in: 10, ratio: 0.7, want: []string{"a", "e", "f", "g", "h", "i", "j"}},
		{name: "floor of two", in: 5, ratio: 0.1, want: []string{"a", "e"}},
		{name: "bad ratio uses default", in: 10, ratio: 0, want: []string{"a", "e", "f", "g", "h", "i", "j"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := msgs(tt.in)
			out := ReduceContext(in, tt.ratio)

			if len(out) != len(tt.want) {
				t.Fatalf("expected %d messages, got %d", len(tt.want), len(out))
			}
			for i, id := range tt.want {
				if out[i].ID != id {
					t.Errorf("index %d: expected %s, got %s", i, id, out[i].ID)
				}
			}
			if len(in) != tt.in {
				t.Error("input was modified")
			}
		})
	}
}
