package session

import (
	"errors"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

// Phase is an alias for domain.Phase for internal use.
type Phase = domain.Phase

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// ValidTransitions defines allowed phase transitions.
// Key is the current phase, value is the list of valid next phases.
// Reset bypasses the table and always lands in idle.
var ValidTransitions = map[Phase][]Phase{
	domain.PhaseIdle: {domain.PhaseConnecting},
	domain.PhaseConnecting: {
		domain.PhaseStreaming,
		domain.PhaseCompleted,
		domain.PhaseErroring,
		domain.PhaseIdle,
	},
	domain.PhaseStreaming: {
		domain.PhaseCompleted,
		domain.PhaseErroring,
		domain.PhaseIdle,
	},
	domain.PhaseCompleted:  {domain.PhaseConnecting, domain.PhaseIdle},
	domain.PhaseErroring:   {domain.PhaseRecovering, domain.PhaseErrored},
	domain.PhaseRecovering: {domain.PhaseConnecting, domain.PhaseIdle},
	domain.PhaseErrored:    {domain.PhaseConnecting, domain.PhaseIdle},
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to Phase) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a phase change with metadata.
type Transition struct {
	From      Phase
	To        Phase
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to Phase, reason string, now time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// PhaseDescription returns a human-readable description of a phase.
func PhaseDescription(p Phase) string {
	switch p {
	case domain.PhaseIdle:
		return "Idle - waiting for input"
	case domain.PhaseConnecting:
		return "Connecting - request sent, waiting for the response"
	case domain.PhaseStreaming:
		return "Streaming - receiving the assistant reply"
	case domain.PhaseCompleted:
		return "Completed - last turn finished"
	case domain.PhaseErroring:
		return "Erroring - classifying a failed attempt"
	case domain.PhaseRecovering:
		return "Recovering - waiting to re-issue the turn"
	case domain.PhaseErrored:
		return "Errored - recovery exhausted, waiting for the user"
	default:
		return "Unknown phase"
	}
}
