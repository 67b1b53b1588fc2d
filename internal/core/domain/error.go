package domain

import (
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure classes a chat turn can hit.
type ErrorKind string

const (
	KindNetworkOffline     ErrorKind = "network_offline"
	KindRateLimited        ErrorKind = "rate_limited"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindContextTooLong     ErrorKind = "context_too_long"
	KindAuthError          ErrorKind = "auth_error"
	KindUnknown            ErrorKind = "unknown"
)

// ErrorKinds lists every kind, in classification priority order.
var ErrorKinds = []ErrorKind{
	KindNetworkOffline,
	KindRateLimited,
	KindServiceUnavailable,
	KindContextTooLong,
	KindAuthError,
	KindUnknown,
}

// Severity grades how disruptive an error is for the user.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ChatError is the classified, caller-facing form of any failure.
// It is a value: once built by the classifier it is never modified.
type ChatError struct {
	Kind             ErrorKind
	Severity         Severity
	Message          string // technical detail
	UserMessage      string // templated, non-technical
	Retryable        bool
	RetryAfter       time.Duration // zero when the remote gave no hint
	HasRetryAfter    bool
	SuggestedActions []RecoveryAction
	StatusCode       int // raw HTTP status, 0 if none
}

// Error implements the error interface.
func (e ChatError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Suggests reports whether action is among the suggested actions.
func (e ChatError) Suggests(action RecoveryAction) bool {
	for _, a := range e.SuggestedActions {
		if a == action {
			return true
		}
	}
	return false
}
