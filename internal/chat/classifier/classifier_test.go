package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

type statusErr struct {
	code       int
	retryAfter time.Duration
	hasHint    bool
	body       string
}

func (e *statusErr) Error() string { return fmt.Sprintf("http %d: %s", e.code, e.body) }

func (e *statusErr) HTTPStatus() int { return e.code }

func (e *statusErr) RetryAfter() (time.Duration, bool) { return e.retryAfter, e.hasHint }

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name      string
		err       error
		kind      domain.ErrorKind
		severity  domain.Severity
		retryable bool
	}{
		{"nil", nil, domain.KindUnknown, domain.SeverityMedium, false},
		{"offline sentinel", fmt.Errorf("%w: dial tcp", ErrOffline), domain.KindNetworkOffline, domain.SeverityHigh, true},
		{"connection refused", fmt.Errorf("send request: %w", refused), domain.KindNetworkOffline, domain.SeverityHigh, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, domain.KindNetworkOffline, domain.SeverityHigh, true},
		{"429", &statusErr{code: 429}, domain.KindRateLimited, domain.SeverityMedium, true},
		{"500", &statusErr{code: 500}, domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"502", &statusErr{code: 502}, domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"503", &statusErr{code: 503}, domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"504", &statusErr{code: 504}, domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"stream aborted", fmt.Errorf("%w: idle timeout", ErrStreamAborted), domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), domain.KindServiceUnavailable, domain.SeverityMedium, true},
		{"context length body", &statusErr{code: 400, body: "This model's maximum context length is 8192 tokens"}, domain.KindContextTooLong, domain.SeverityMedium, true},
		{"413", &statusErr{code: 413}, domain.KindContextTooLong, domain.SeverityMedium, true},
		{"plain context error", errors.New("context_length_exceeded"), domain.KindContextTooLong, domain.SeverityMedium, true},
		{"401", &statusErr{code: 401}, domain.KindAuthError, domain.SeverityCritical, false},
		{"403", &statusErr{code: 403}, domain.KindAuthError, domain.SeverityCritical, false},
		{"400 generic", &statusErr{code: 400, body: "bad request"}, domain.KindUnknown, domain.SeverityMedium, false},
		{"opaque", errors.New("boom"), domain.KindUnknown, domain.SeverityMedium, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Fatalf("Classify(%v).Kind = %s, want %s", tt.err, got.Kind, tt.kind)
			}
			if got.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", got.Severity, tt.severity)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.UserMessage == "" {
				t.Error("user message must always be set")
			}
			if len(got.SuggestedActions) == 0 {
				t.Error("suggested actions must always be set")
			}
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// A 503 whose body talks about context length is still service_unavailable.
	got := Classify(&statusErr{code: 503, body: "maximum context length"})
	if got.Kind != domain.KindServiceUnavailable {
		t.Errorf("expected service_unavailable, got %s", got.Kind)
	}

	// Offline beats everything.
	got = Classify(fmt.Errorf("%w: %w", ErrOffline, &statusErr{code: 429}))
	if got.Kind != domain.KindNetworkOffline {
		t.Errorf("expected network_offline, got %s", got.Kind)
	}
}

func TestClassify_RetryAfter(t *testing.T) {
	got := Classify(&statusErr{code: 429, retryAfter: 2 * time.Second, hasHint: true})
	if got.RetryAfter != 2*time.Second {
		t.Errorf("expected hinted 2s, got %v", got.RetryAfter)
	}

	got = Classify(&statusErr{code: 429})
	if got.RetryAfter != DefaultRetryAfter {
		t.Errorf("expected default %v, got %v", DefaultRetryAfter, got.RetryAfter)
	}
	if got.StatusCode != 429 {
		t.Errorf("expected raw status to be kept, got %d", got.StatusCode)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := &statusErr{code: 502, body: "upstream"}
	a, b := Classify(err), Classify(err)
	if a.Kind != b.Kind || a.Message != b.Message || a.Severity != b.Severity {
		t.Errorf("classification differs between calls: %+v vs %+v", a, b)
	}
}

func TestSuggestedActions(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want []domain.RecoveryAction
	}{
		{domain.KindRateLimited, []domain.RecoveryAction{domain.ActionRetry, domain.ActionSwitchModel}},
		{domain.KindContextTooLong, []domain.RecoveryAction{domain.ActionReduceContext, domain.ActionRetry}},
		{domain.KindAuthError, []domain.RecoveryAction{domain.ActionSurfaceError}},
	}

	for _, tt := range tests {
		got := SuggestedActions(tt.kind)
		if len(got) != len(tt.want) {
			t.Fatalf("SuggestedActions(%s) = %v, want %v", tt.kind, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SuggestedActions(%s)[%d] = %s, want %s", tt.kind, i, got[i], tt.want[i])
			}
		}
	}

	// Every kind has a table entry and a template.
	for _, kind := range domain.ErrorKinds {
		if _, ok := suggestedActions[kind]; !ok {
			t.Errorf("missing suggested actions for %s", kind)
		}
		if _, ok := userMessages[kind]; !ok {
			t.Errorf("missing user message for %s", kind)
		}
	}
}
