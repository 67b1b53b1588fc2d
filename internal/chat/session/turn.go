package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/streamchat/internal/chat/classifier"
	"github.com/vietddude/streamchat/internal/chat/metrics"
	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/completion"
)

// turn tracks the requests made for one user message.
type turn struct {
	id          string
	attempt     int
	started     time.Time
	gotChunk    bool
	assistantID string
}

// streamHandler forwards stream progress to the loop.
type streamHandler struct {
	s   *Session
	gen uint64
}

func (h streamHandler) OnOpen(meta completion.Meta) {
	h.s.post(func() { h.s.onOpen(h.gen, meta) })
}

func (h streamHandler) OnChunk(text string) {
	h.s.post(func() { h.s.onChunk(h.gen, text) })
}

// startTurn begins a new episode for the last user message.
func (s *Session) startTurn(reason string) {
	s.state.RetryCount = 0
	s.state.FallbackAttempts = 0
	s.state.TriedModels = nil
	s.state.ContextReduced = false
	s.state.LastError = nil
	s.state.CurrentModel = s.cfg.Model

	s.turn = &turn{id: uuid.NewString()}
	s.issue(reason)
}

// issue opens one stream for the current turn.
func (s *Session) issue(reason string) {
	s.setPhase(domain.PhaseConnecting, reason)

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	model := s.state.CurrentModel
	if !s.state.HasTried(model) {
		s.state.TriedModels = append(s.state.TriedModels, model)
	}

	s.turn.attempt++
	s.turn.started = s.clock.Now()
	s.turn.gotChunk = false
	s.turn.assistantID = ""

	payload := s.state.Messages
	if s.state.ContextReduced {
		payload = s.orch.Reduce(payload)
	}

	req := completion.Request{
		Messages:       domain.ToWire(payload),
		Model:          model,
		Temperature:    s.cfg.Temperature,
		MaxTokens:      s.cfg.MaxTokens,
		ConversationID: s.state.ConversationID,
	}

	s.log.Debug("Issuing completion request",
		"turn", s.turn.id,
		"attempt", s.turn.attempt,
		"model", model,
		"messages", len(req.Messages),
		"reduced", s.state.ContextReduced,
	)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		err := s.streamer.Stream(ctx, req, streamHandler{s: s, gen: gen})
		s.post(func() { s.onStreamEnd(gen, err) })
	}()
}

func (s *Session) onOpen(gen uint64, meta completion.Meta) {
	if gen != s.gen {
		return
	}

	if meta.ConversationID != "" && s.state.ConversationID == "" {
		s.state.ConversationID = meta.ConversationID
		s.log.Info("Conversation created", "conversation_id", meta.ConversationID)
		s.emit(Event{Type: EventConversation, ConversationID: meta.ConversationID})
	}
	if s.state.Phase == domain.PhaseConnecting {
		s.setPhase(domain.PhaseStreaming, "stream opened")
	}
}

func (s *Session) onChunk(gen uint64, text string) {
	if gen != s.gen {
		return
	}
	if s.state.Phase == domain.PhaseConnecting {
		s.setPhase(domain.PhaseStreaming, "first chunk")
	}

	now := s.clock.Now()
	idx := s.assistantIndex()
	if idx < 0 {
		msg := domain.NewMessage(domain.RoleAssistant, "", now)
		msg.IsStreaming = true
		s.state.Messages = append(s.state.Messages, msg)
		s.turn.assistantID = msg.ID
		idx = len(s.state.Messages) - 1
	}
	if !s.turn.gotChunk {
		s.turn.gotChunk = true
		metrics.TimeToFirstChunk.WithLabelValues(s.state.CurrentModel).Observe(now.Sub(s.turn.started).Seconds())
	}

	s.state.Messages[idx].Content += text
	s.emit(Event{Type: EventChunk, MessageID: s.turn.assistantID, Chunk: text, Attempt: s.turn.attempt})
}

func (s *Session) onStreamEnd(gen uint64, err error) {
	if gen != s.gen {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	switch {
	case err == nil:
		s.complete()
	case errors.Is(err, context.Canceled):
		// Cancellation is never a failure of the remote.
		s.recordAttempt(domain.AttemptCancelled, nil)
		s.finishPartial()
		s.setPhase(domain.PhaseIdle, "stream cancelled")
	default:
		s.fail(err)
	}
}

func (s *Session) complete() {
	now := s.clock.Now()
	idx := s.assistantIndex()
	if idx < 0 {
		msg := domain.NewMessage(domain.RoleAssistant, "", now)
		s.state.Messages = append(s.state.Messages, msg)
		s.turn.assistantID = msg.ID
		idx = len(s.state.Messages) - 1
	}
	s.state.Messages[idx].IsStreaming = false
	msg := s.state.Messages[idx]

	model := s.state.CurrentModel
	metrics.StreamDuration.WithLabelValues(model).Observe(now.Sub(s.turn.started).Seconds())
	metrics.AttemptsTotal.WithLabelValues(model, string(domain.AttemptSucceeded)).Inc()
	metrics.TurnsTotal.WithLabelValues("completed").Inc()
	s.recordAttempt(domain.AttemptSucceeded, nil)

	s.log.Info("Turn completed",
		"turn", s.turn.id,
		"attempts", s.turn.attempt,
		"model", model,
		"chars", len(msg.Content),
	)

	s.state.RetryCount = 0
	s.state.FallbackAttempts = 0
	s.state.TriedModels = nil
	s.state.ContextReduced = false
	s.state.LastError = nil

	s.setPhase(domain.PhaseCompleted, "stream finished")
	s.emit(Event{Type: EventComplete, MessageID: msg.ID, Message: &msg, Attempt: s.turn.attempt})
	s.persistTranscript("turn completed")
}

func (s *Session) fail(err error) {
	// The platform's offline signal outranks a generic transport error.
	var sc classifier.StatusCoder
	if s.state.Connection == domain.ConnectionOffline && !errors.As(err, &sc) {
		err = fmt.Errorf("%w: %w", classifier.ErrOffline, err)
	}

	ce := classifier.Classify(err)
	model := s.state.CurrentModel

	s.log.Warn("Completion attempt failed",
		"turn", s.turn.id,
		"attempt", s.turn.attempt,
		"model", model,
		"kind", ce.Kind,
		"status", ce.StatusCode,
		"error", ce.Message,
	)
	metrics.ErrorsTotal.WithLabelValues(string(ce.Kind)).Inc()
	metrics.AttemptsTotal.WithLabelValues(model, string(domain.AttemptFailed)).Inc()
	s.recordAttempt(domain.AttemptFailed, &ce)

	s.state.LastError = &ce
	s.setPhase(domain.PhaseErroring, string(ce.Kind))

	decision := s.orch.Decide(ce, s.state)
	metrics.RecoveryDecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
	errCopy := ce
	s.emit(Event{Type: EventRecovery, Decision: &decision, Error: &errCopy, Attempt: s.turn.attempt})

	if !decision.Reissues() {
		s.surface(ce)
		return
	}

	s.dropPartial()
	s.state.RetryCount++
	switch decision.Action {
	case domain.ActionSwitchModel:
		s.state.CurrentModel = decision.TargetModel
		s.state.FallbackAttempts++
	case domain.ActionReduceContext:
		s.state.ContextReduced = true
	}
	s.setPhase(domain.PhaseRecovering, string(decision.Action))

	s.log.Info("Recovering turn",
		"turn", s.turn.id,
		"action", decision.Action,
		"delay", decision.Delay,
		"model", s.state.CurrentModel,
		"retry_count", s.state.RetryCount,
	)

	if decision.Delay <= 0 {
		s.issue(string(decision.Action))
		return
	}

	gen := s.gen
	s.timer = s.clock.AfterFunc(decision.Delay, func() {
		s.post(func() { s.onTimer(gen) })
	})
}

func (s *Session) onTimer(gen uint64) {
	if gen != s.gen || s.state.Phase != domain.PhaseRecovering {
		return
	}
	s.timer = nil
	s.issue("backoff elapsed")
}

func (s *Session) surface(ce domain.ChatError) {
	s.finishPartial()
	s.setPhase(domain.PhaseErrored, "recovery exhausted")
	metrics.TurnsTotal.WithLabelValues("errored").Inc()

	s.log.Error("Turn failed",
		"turn", s.turn.id,
		"attempts", s.turn.attempt,
		"kind", ce.Kind,
		"error", ce.Message,
	)
	s.emit(Event{Type: EventError, Error: &ce, Attempt: s.turn.attempt})
}

// assistantIndex locates the assistant message of the current attempt.
func (s *Session) assistantIndex() int {
	if s.turn == nil || s.turn.assistantID == "" {
		return -1
	}
	for i := len(s.state.Messages) - 1; i >= 0; i-- {
		if s.state.Messages[i].ID == s.turn.assistantID {
			return i
		}
	}
	return -1
}

// dropPartial removes the assistant message of a failed attempt.
func (s *Session) dropPartial() {
	if idx := s.assistantIndex(); idx >= 0 {
		s.state.Messages = append(s.state.Messages[:idx:idx], s.state.Messages[idx+1:]...)
	}
	if s.turn != nil {
		s.turn.assistantID = ""
	}
}

// finishPartial keeps whatever arrived and marks it final.
func (s *Session) finishPartial() {
	if idx := s.assistantIndex(); idx >= 0 {
		s.state.Messages[idx].IsStreaming = false
	}
}
