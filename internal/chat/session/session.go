// Package session implements the streaming chat session.
//
// A Session is an actor: one goroutine owns the SessionState and every
// public method hands it a closure, returning once the request has been
// validated. Stream progress and backoff timers re-enter the same
// goroutine tagged with a generation number, and anything from an older
// generation is dropped. Stopping or superseding a turn bumps the
// generation, so an abandoned stream or timer can never touch state.
//
// Progress is reported through events (see Subscribe and Handlers).
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/streamchat/internal/chat/connection"
	"github.com/vietddude/streamchat/internal/chat/metrics"
	"github.com/vietddude/streamchat/internal/chat/recovery"
	"github.com/vietddude/streamchat/internal/core/clock"
	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/completion"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// Streamer opens one completion stream. It must return ctx.Err() once ctx
// is cancelled.
type Streamer interface {
	Stream(ctx context.Context, req completion.Request, h completion.Handler) error
}

// ConnectionMonitor is the read-only view of connection status.
type ConnectionMonitor interface {
	Status() domain.ConnectionStatus
	Subscribe(fn func(connection.Transition)) func()
}

// Deps are the collaborators of a session. Only Streamer is required.
type Deps struct {
	Streamer    Streamer
	Monitor     ConnectionMonitor
	Transcripts storage.TranscriptWriter
	Attempts    storage.AttemptRecorder
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Session is a single conversation with the completion endpoint.
type Session struct {
	streamer    Streamer
	transcripts storage.TranscriptWriter
	attempts    storage.AttemptRecorder
	clock       clock.Clock
	log         *slog.Logger

	cmds      chan func()
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup

	events       *emitter
	persist      *persister
	unsubMonitor func()

	// Owned by the loop goroutine.
	cfg      Config
	orch     *recovery.Orchestrator
	state    domain.SessionState
	gen      uint64
	cancel   context.CancelFunc
	timer    clock.Timer
	turn     *turn
	localKey string

	// Written by the loop before done is closed.
	final domain.SessionState
}

// New creates a session and starts its loop. Call Close to release it.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Streamer == nil {
		return nil, ErrNoStreamer
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	conn := domain.ConnectionOnline
	if deps.Monitor != nil {
		conn = deps.Monitor.Status()
	}

	cfg = cfg.clone()
	s := &Session{
		streamer:    deps.Streamer,
		transcripts: deps.Transcripts,
		attempts:    deps.Attempts,
		clock:       deps.Clock,
		log:         deps.Logger.With("component", "session"),
		cmds:        make(chan func()),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		cfg:         cfg,
		orch:        cfg.orchestrator(),
		state:       domain.NewSessionState(cfg.Model, conn),
		localKey:    uuid.NewString(),
	}
	s.events = newEmitter()
	s.persist = newPersister(s.log)
	metrics.SetConnectionStatus(conn)

	go s.run()

	if deps.Monitor != nil {
		s.unsubMonitor = deps.Monitor.Subscribe(func(t connection.Transition) {
			s.post(func() { s.onConnection(t.To) })
		})
	}
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.closing:
			s.cancelActive()
			s.finishPartial()
			s.final = s.state.Clone()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the loop has exited.
func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and returns its result.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	return <-errc
}

// Subscribe registers fn for every event and returns a function that
// removes it. Events arrive in publication order on a single goroutine
// that is not the session loop, so fn may call session methods. It must
// not call Close.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.events.subscribe(fn)
}

// SubscribeHandlers registers named callbacks.
func (s *Session) SubscribeHandlers(h Handlers) func() {
	return s.events.subscribe(h.Handle)
}

// Send appends a user message and starts a new turn.
func (s *Session) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return s.do(func() error {
		if s.state.Phase.Busy() {
			return ErrBusy
		}
		s.cancelActive()

		msg := domain.NewMessage(domain.RoleUser, text, s.clock.Now())
		s.state.Messages = append(s.state.Messages, msg)
		s.startTurn("send")
		return nil
	})
}

// Edit replaces the content of a user message, discards everything after
// it and starts a new turn from there.
func (s *Session) Edit(messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return s.do(func() error {
		if s.state.Phase.Busy() {
			return ErrBusy
		}

		idx := s.indexOf(messageID)
		if idx < 0 {
			return ErrMessageNotFound
		}
		if s.state.Messages[idx].Role != domain.RoleUser {
			return ErrNotUserMessage
		}
		s.cancelActive()

		msgs := domain.CloneMessages(s.state.Messages[:idx+1])
		msgs[idx].Content = text
		msgs[idx].IsEdited = true
		s.state.Messages = msgs

		s.persistTranscript("message edited")
		s.startTurn("edit")
		return nil
	})
}

// Regenerate re-issues the latest user turn, dropping its previous answer.
func (s *Session) Regenerate() error {
	return s.do(func() error {
		if s.state.Phase.Busy() {
			return ErrBusy
		}

		idx := s.lastUserIndex()
		if idx < 0 {
			return ErrNothingToRegenerate
		}
		s.cancelActive()

		s.state.Messages = domain.CloneMessages(s.state.Messages[:idx+1])
		s.startTurn("regenerate")
		return nil
	})
}

// Reload is Regenerate; it is also how a user retries an errored turn.
func (s *Session) Reload() error {
	return s.Regenerate()
}

// Stop cancels the open stream or pending backoff. Content received so far
// is kept. No error event is emitted.
func (s *Session) Stop() error {
	return s.do(func() error {
		if s.state.Phase == domain.PhaseIdle {
			return nil
		}

		if s.cancel != nil || s.timer != nil {
			if s.cancel != nil {
				s.recordAttempt(domain.AttemptCancelled, nil)
			}
			metrics.TurnsTotal.WithLabelValues("stopped").Inc()
		}
		s.cancelActive()
		s.finishPartial()
		s.setPhase(domain.PhaseIdle, "stopped")
		return nil
	})
}

// Reset clears history and state, cancelling any stream or timer.
func (s *Session) Reset() error {
	return s.do(func() error {
		s.cancelActive()

		from := s.state.Phase
		s.state = domain.NewSessionState(s.cfg.Model, s.state.Connection)
		s.turn = nil
		s.localKey = uuid.NewString()

		now := s.clock.Now()
		if from != domain.PhaseIdle {
			t := NewTransition(from, domain.PhaseIdle, "reset", now)
			s.emit(Event{Type: EventPhase, Transition: &t})
		}
		s.emit(Event{Type: EventReset})
		return nil
	})
}

// Configure replaces the configuration. A model change applies now when no
// turn is in flight, otherwise from the next turn.
func (s *Session) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.clone()
	return s.do(func() error {
		s.cfg = cfg
		s.orch = cfg.orchestrator()

		switch s.state.Phase {
		case domain.PhaseConnecting, domain.PhaseStreaming, domain.PhaseRecovering:
		default:
			s.state.CurrentModel = cfg.Model
		}
		s.log.Info("Session reconfigured", "model", cfg.Model, "fallbacks", cfg.FallbackModels)
		return nil
	})
}

// Config returns the current configuration.
func (s *Session) Config() Config {
	var cfg Config
	if err := s.do(func() error {
		cfg = s.cfg.clone()
		return nil
	}); err != nil {
		return Config{}
	}
	return cfg
}

// State returns a deep copy of the session state.
func (s *Session) State() domain.SessionState {
	var st domain.SessionState
	if err := s.do(func() error {
		st = s.state.Clone()
		return nil
	}); err != nil {
		return s.final.Clone()
	}
	return st
}

// ConversationKey is the key transcripts are stored under: the remote
// conversation ID once known, otherwise a local identifier.
func (s *Session) ConversationKey() string {
	var key string
	if err := s.do(func() error {
		key = s.key()
		return nil
	}); err != nil {
		return ""
	}
	return key
}

// Close cancels any activity, waits for pending persistence and event
// delivery, and stops the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.unsubMonitor != nil {
			s.unsubMonitor()
		}
		close(s.closing)
		<-s.done
		s.workers.Wait()
		s.persist.close()
		s.events.close()
	})
	return nil
}

func (s *Session) key() string {
	if s.state.ConversationID != "" {
		return s.state.ConversationID
	}
	return s.localKey
}

func (s *Session) indexOf(id string) int {
	for i, m := range s.state.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) lastUserIndex() int {
	for i := len(s.state.Messages) - 1; i >= 0; i-- {
		if s.state.Messages[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}

func (s *Session) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = s.clock.Now()
	}
	s.events.publish(e)
}

func (s *Session) setPhase(to domain.Phase, reason string) {
	from := s.state.Phase
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		s.log.Error("Invalid phase transition", "from", from, "to", to, "reason", reason, "error", ErrInvalidTransition)
		return
	}

	s.state.Phase = to
	t := NewTransition(from, to, reason, s.clock.Now())
	s.log.Debug("Phase changed", "from", from, "to", to, "reason", reason)
	s.emit(Event{Type: EventPhase, Transition: &t})
}

func (s *Session) onConnection(status domain.ConnectionStatus) {
	if s.state.Connection == status {
		return
	}
	s.state.Connection = status
	metrics.SetConnectionStatus(status)
	s.emit(Event{Type: EventConnection, Connection: status})
}

// cancelActive stops the open stream and pending timer and retires their
// generation.
func (s *Session) cancelActive() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}
