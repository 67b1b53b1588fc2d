package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/streamchat/internal/core/domain"
)

const (
	persistQueueSize = 64
	persistTimeout   = 10 * time.Second
)

type persistJob struct {
	name string
	run  func(ctx context.Context) error
}

// persister runs best-effort writes in submission order off the loop.
type persister struct {
	jobs chan persistJob
	done chan struct{}
	log  *slog.Logger
}

func newPersister(log *slog.Logger) *persister {
	p := &persister{
		jobs: make(chan persistJob, persistQueueSize),
		done: make(chan struct{}),
		log:  log,
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.run(ctx); err != nil {
			p.log.Warn("Persistence failed", "job", job.name, "error", err)
		}
		cancel()
	}
}

// submit never blocks; a full queue drops the job.
func (p *persister) submit(name string, fn func(ctx context.Context) error) {
	select {
	case p.jobs <- persistJob{name: name, run: fn}:
	default:
		p.log.Warn("Persistence queue full, dropping write", "job", name)
	}
}

func (p *persister) close() {
	close(p.jobs)
	<-p.done
}

func (s *Session) persistTranscript(reason string) {
	if s.transcripts == nil {
		return
	}
	key := s.key()
	msgs := domain.CloneMessages(s.state.Messages)
	s.persist.submit("transcript: "+reason, func(ctx context.Context) error {
		return s.transcripts.Replace(ctx, key, msgs)
	})
}

func (s *Session) recordAttempt(status domain.AttemptStatus, ce *domain.ChatError) {
	if s.attempts == nil || s.turn == nil {
		return
	}

	a := domain.Attempt{
		ID:              uuid.NewString(),
		ConversationKey: s.key(),
		TurnID:          s.turn.id,
		Number:          s.turn.attempt,
		Model:           s.state.CurrentModel,
		Status:          status,
		StartedAt:       s.turn.started,
		EndedAt:         s.clock.Now(),
	}
	if ce != nil {
		a.ErrorKind = ce.Kind
		a.ErrorMessage = ce.Message
	}
	s.persist.submit("attempt", func(ctx context.Context) error {
		return s.attempts.Record(ctx, a)
	})
}
