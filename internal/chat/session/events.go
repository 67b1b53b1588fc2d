package session

import (
	"slices"
	"sync"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

// EventType identifies what an Event reports.
type EventType string

const (
	// EventPhase reports a phase transition.
	EventPhase EventType = "phase"
	// EventChunk reports text appended to the streaming assistant message.
	EventChunk EventType = "chunk"
	// EventComplete reports the finished assistant message of a turn.
	EventComplete EventType = "complete"
	// EventError reports a terminal, user-facing failure.
	EventError EventType = "error"
	// EventConnection reports a connection status change.
	EventConnection EventType = "connection"
	// EventRecovery reports a recovery decision taken after a failed attempt.
	EventRecovery EventType = "recovery"
	// EventConversation reports the identifier assigned by the remote.
	EventConversation EventType = "conversation"
	// EventReset reports that history and state were cleared.
	EventReset EventType = "reset"
)

// Event is a discrete state change published by a Session.
type Event struct {
	Type EventType
	Time time.Time

	Transition     *Transition
	MessageID      string
	Chunk          string
	Message        *domain.Message
	Error          *domain.ChatError
	Decision       *domain.RecoveryDecision
	Connection     domain.ConnectionStatus
	ConversationID string
	Attempt        int
}

// Handlers adapts named callbacks to an event subscription.
type Handlers struct {
	OnChunk        func(messageID, text string)
	OnComplete     func(msg domain.Message)
	OnError        func(err domain.ChatError)
	OnStatusChange func(from, to domain.Phase)
	OnConnection   func(status domain.ConnectionStatus)
}

// Handle dispatches e to the matching callback.
func (h Handlers) Handle(e Event) {
	switch e.Type {
	case EventChunk:
		if h.OnChunk != nil {
			h.OnChunk(e.MessageID, e.Chunk)
		}
	case EventComplete:
		if h.OnComplete != nil && e.Message != nil {
			h.OnComplete(*e.Message)
		}
	case EventError:
		if h.OnError != nil && e.Error != nil {
			h.OnError(*e.Error)
		}
	case EventPhase:
		if h.OnStatusChange != nil && e.Transition != nil {
			h.OnStatusChange(e.Transition.From, e.Transition.To)
		}
	case EventConnection:
		if h.OnConnection != nil {
			h.OnConnection(e.Connection)
		}
	}
}

// emitter delivers events to subscribers in publication order on its own
// goroutine, so publishing never blocks and handlers may call back into
// the session.
type emitter struct {
	mu      sync.Mutex
	queue   []Event
	subs    map[int]func(Event)
	nextID  int
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newEmitter() *emitter {
	e := &emitter{
		subs:    make(map[int]func(Event)),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) publish(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) run() {
	defer close(e.stopped)

	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, ev := range batch {
			e.dispatch(ev)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-e.wake
		}
	}
}

func (e *emitter) dispatch(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	// Subscription order.
	slices.Sort(ids)
	for _, id := range ids {
		e.mu.Lock()
		fn, ok := e.subs[id]
		e.mu.Unlock()
		if ok {
			fn(ev)
		}
	}
}

// close delivers what is queued, then stops the dispatcher.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.stopped
}
