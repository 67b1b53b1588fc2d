// Package classifier maps raw transport and stream failures onto the
// closed set of domain.ChatError kinds.
package classifier

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

var (
	// ErrOffline marks a failure that happened while the platform reported no connectivity.
	ErrOffline = errors.New("network offline")

	// ErrStreamAborted marks a stream that ended before the remote closed it cleanly.
	ErrStreamAborted = errors.New("stream aborted")
)

// DefaultRetryAfter is used for rate limiting when the remote sends no hint.
const DefaultRetryAfter = 60 * time.Second

// StatusCoder is implemented by errors that carry an HTTP response status.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterHinter is implemented by errors that carry a server retry hint.
type RetryAfterHinter interface {
	RetryAfter() (time.Duration, bool)
}

// contextPatterns are substrings that providers use when the input does
// not fit the model.
var contextPatterns = []string{
	"context length",
	"context_length_exceeded",
	"context window",
	"maximum context",
	"too many tokens",
	"token limit",
	"prompt is too long",
	"input is too long",
	"payload too large",
	"request too large",
	"request entity too large",
}

var suggestedActions = map[domain.ErrorKind][]domain.RecoveryAction{
	domain.KindNetworkOffline:     {domain.ActionRetry},
	domain.KindRateLimited:        {domain.ActionRetry, domain.ActionSwitchModel},
	domain.KindServiceUnavailable: {domain.ActionRetry, domain.ActionSwitchModel},
	domain.KindContextTooLong:     {domain.ActionReduceContext, domain.ActionRetry},
	domain.KindAuthError:          {domain.ActionSurfaceError},
	domain.KindUnknown:            {domain.ActionSurfaceError},
}

var userMessages = map[domain.ErrorKind]string{
	domain.KindNetworkOffline:     "You appear to be offline. We'll retry when the connection is back.",
	domain.KindRateLimited:        "The assistant is receiving too many requests. Please wait a moment.",
	domain.KindServiceUnavailable: "The assistant is temporarily unavailable. Please try again shortly.",
	domain.KindContextTooLong:     "This conversation is too long for the model. Try starting a new one.",
	domain.KindAuthError:          "Your session has expired or you don't have access. Please sign in again.",
	domain.KindUnknown:            "Something went wrong. Please try again.",
}

// SuggestedActions returns the fixed action set for kind.
func SuggestedActions(kind domain.ErrorKind) []domain.RecoveryAction {
	actions, ok := suggestedActions[kind]
	if !ok {
		actions = suggestedActions[domain.KindUnknown]
	}
	return append([]domain.RecoveryAction(nil), actions...)
}

// UserMessage returns the non-technical template for kind.
func UserMessage(kind domain.ErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[domain.KindUnknown]
}

// Classify determines the ChatError for a raw failure. It never panics and
// returns KindUnknown for nil.
func Classify(err error) domain.ChatError {
	if err == nil {
		return build(domain.KindUnknown, "no error", 0)
	}

	msg := err.Error()
	status := statusOf(err)

	// 1. Offline
	if isOffline(err) {
		return build(domain.KindNetworkOffline, msg, status)
	}

	// 2. Rate limited
	if status == http.StatusTooManyRequests {
		ce := build(domain.KindRateLimited, msg, status)
		ce.RetryAfter = DefaultRetryAfter
		var hinter RetryAfterHinter
		if errors.As(err, &hinter) {
			if d, ok := hinter.RetryAfter(); ok && d >= 0 {
				ce.RetryAfter = d
			}
		}
		ce.HasRetryAfter = true
		return ce
	}

	// 3. Service unavailable or aborted stream
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return build(domain.KindServiceUnavailable, msg, status)
	}
	if isStreamAbort(err) {
		return build(domain.KindServiceUnavailable, msg, status)
	}

	// 4. Context too long
	if status == http.StatusRequestEntityTooLarge || containsAny(strings.ToLower(msg), contextPatterns...) {
		return build(domain.KindContextTooLong, msg, status)
	}

	// 5. Auth
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return build(domain.KindAuthError, msg, status)
	}

	return build(domain.KindUnknown, msg, status)
}

func build(kind domain.ErrorKind, msg string, status int) domain.ChatError {
	ce := domain.ChatError{
		Kind:             kind,
		Message:          msg,
		UserMessage:      UserMessage(kind),
		SuggestedActions: SuggestedActions(kind),
		StatusCode:       status,
	}

	switch kind {
	case domain.KindNetworkOffline:
		ce.Severity = domain.SeverityHigh
		ce.Retryable = true
	case domain.KindRateLimited, domain.KindServiceUnavailable, domain.KindContextTooLong:
		ce.Severity = domain.SeverityMedium
		ce.Retryable = true
	case domain.KindAuthError:
		ce.Severity = domain.SeverityCritical
		ce.Retryable = false
	default:
		ce.Severity = domain.SeverityMedium
		ce.Retryable = false
	}
	return ce
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

func isOffline(err error) bool {
	if errors.Is(err, ErrOffline) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isStreamAbort(err error) bool {
	if errors.Is(err, ErrStreamAborted) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
