package domain

// Phase is the session state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseStreaming  Phase = "streaming"
	PhaseCompleted  Phase = "completed"
	PhaseErroring   Phase = "erroring"
	PhaseRecovering Phase = "recovering"
	PhaseErrored    Phase = "errored"
)

// Busy reports whether a stream is open or being opened.
func (p Phase) Busy() bool {
	return p == PhaseConnecting || p == PhaseStreaming
}

// ConnectionStatus is the network reachability as seen by the connection monitor.
type ConnectionStatus string

const (
	ConnectionOnline   ConnectionStatus = "online"
	ConnectionOffline  ConnectionStatus = "offline"
	ConnectionDegraded ConnectionStatus = "degraded"
)

// SessionState is everything a chat session owns.
type SessionState struct {
	Messages         []Message
	Phase            Phase
	CurrentModel     string
	RetryCount       int
	FallbackAttempts int
	TriedModels      []string
	ContextReduced   bool
	LastError        *ChatError
	Connection       ConnectionStatus
	ConversationID   string
}

// NewSessionState returns the initial state for a conversation.
func NewSessionState(model string, conn ConnectionStatus) SessionState {
	return SessionState{
		Phase:        PhaseIdle,
		CurrentModel: model,
		Connection:   conn,
	}
}

// HasTried reports whether model was already used during the current episode.
func (s SessionState) HasTried(model string) bool {
	for _, m := range s.TriedModels {
		if m == model {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s SessionState) Clone() SessionState {
	c := s
	c.Messages = CloneMessages(s.Messages)
	if s.TriedModels != nil {
		c.TriedModels = append([]string(nil), s.TriedModels...)
	}
	if s.LastError != nil {
		e := *s.LastError
		e.SuggestedActions = append([]RecoveryAction(nil), s.LastError.SuggestedActions...)
		c.LastError = &e
	}
	return c
}
