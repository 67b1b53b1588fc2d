package domain

import "time"

// AttemptStatus is the outcome of one request attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptCancelled AttemptStatus = "cancelled"
)

// Attempt records a single network request made for a turn.
type Attempt struct {
	ID              string        `json:"id"               db:"id"`
	ConversationKey string        `json:"conversation_key" db:"conversation_key"`
	TurnID          string        `json:"turn_id"          db:"turn_id"`
	Number          int           `json:"number"           db:"attempt_number"`
	Model           string        `json:"model"            db:"model"`
	Status          AttemptStatus `json:"status"           db:"status"`
	ErrorKind       ErrorKind     `json:"error_kind"       db:"error_kind"`
	ErrorMessage    string        `json:"error_message"    db:"error_message"`
	StartedAt       time.Time     `json:"started_at"       db:"started_at"`
	EndedAt         time.Time     `json:"ended_at"         db:"ended_at"`
}

// Latency is the wall time of the attempt.
func (a Attempt) Latency() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}
