package domain

import "time"

// RecoveryAction is what the session does next after a failed attempt.
type RecoveryAction string

const (
	ActionRetry         RecoveryAction = "retry"
	ActionSwitchModel   RecoveryAction = "switch_model"
	ActionReduceContext RecoveryAction = "reduce_context"
	ActionSurfaceError  RecoveryAction = "surface_error"
)

// RecoveryDecision is produced per failure and never persisted.
type RecoveryDecision struct {
	Action      RecoveryAction
	Delay       time.Duration
	TargetModel string
}

// Reissues reports whether executing the decision sends the turn again.
func (d RecoveryDecision) Reissues() bool {
	return d.Action != ActionSurfaceError
}
