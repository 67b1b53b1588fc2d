package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

type MemoryStorage struct {
	transcripts map[string][]domain.Message
	attempts    map[string][]domain.Attempt
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		transcripts: make(map[string][]domain.Message),
		attempts:    make(map[string][]domain.Attempt),
	}
}

// -----------------------------------------------------------------------------
// Transcript Repository
// -----------------------------------------------------------------------------

type TranscriptRepo struct {
	store *MemoryStorage
}

var (
	_ storage.TranscriptRepository = (*TranscriptRepo)(nil)
	_ storage.Pruner               = (*TranscriptRepo)(nil)
)

func NewTranscriptRepo(store *MemoryStorage) *TranscriptRepo {
	return &TranscriptRepo{store: store}
}

func (r *TranscriptRepo) Replace(ctx context.Context, key string, messages []domain.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.transcripts[key] = domain.CloneMessages(messages)
	return nil
}

func (r *TranscriptRepo) Load(ctx context.Context, key string) ([]domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	msgs, ok := r.store.transcripts[key]
	if !ok {
		return nil, storage.ErrTranscriptNotFound
	}
	return domain.CloneMessages(msgs), nil
}

func (r *TranscriptRepo) Delete(ctx context.Context, key string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.transcripts, key)
	return nil
}

// DeleteOlderThan drops transcripts whose newest message predates cutoff.
func (r *TranscriptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, msgs := range r.store.transcripts {
		if len(msgs) == 0 || newest(msgs).Before(cutoff) {
			delete(r.store.transcripts, key)
			n++
		}
	}
	return n, nil
}

func newest(msgs []domain.Message) time.Time {
	var t time.Time
	for _, m := range msgs {
		if m.CreatedAt.After(t) {
			t = m.CreatedAt
		}
	}
	return t
}

// -----------------------------------------------------------------------------
// Attempt Repository
// -----------------------------------------------------------------------------

type AttemptRepo struct {
	store *MemoryStorage
}

var (
	_ storage.AttemptRepository = (*AttemptRepo)(nil)
	_ storage.Pruner            = (*AttemptRepo)(nil)
)

func NewAttemptRepo(store *MemoryStorage) *AttemptRepo {
	return &AttemptRepo{store: store}
}

func (r *AttemptRepo) Record(ctx context.Context, attempt domain.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.attempts[attempt.ConversationKey] = append(r.store.attempts[attempt.ConversationKey], attempt)
	return nil
}

func (r *AttemptRepo) ListByConversation(ctx context.Context, key string) ([]domain.Attempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := append([]domain.Attempt(nil), r.store.attempts[key]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// DeleteOlderThan drops attempts that ended before cutoff.
func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, list := range r.store.attempts {
		kept := list[:0]
		for _, a := range list {
			if a.EndedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(r.store.attempts, key)
		} else {
			r.store.attempts[key] = kept
		}
	}
	return n, nil
}
