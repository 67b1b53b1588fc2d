package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/streamchat/internal/core/domain"
)

var (
	// ErrTranscriptNotFound is returned when no transcript is stored under a key
	ErrTranscriptNotFound = errors.New("transcript not found")
)

// TranscriptWriter persists the full message list of a conversation
type TranscriptWriter interface {
	// Replace overwrites the stored transcript with messages
	Replace(ctx context.Context, key string, messages []domain.Message) error
}

// TranscriptRepository handles transcript storage operations
type TranscriptRepository interface {
	TranscriptWriter

	// Load retrieves the stored transcript in conversation order
	Load(ctx context.Context, key string) ([]domain.Message, error)

	// Delete removes a transcript
	Delete(ctx context.Context, key string) error
}

// AttemptRecorder persists request attempts
type AttemptRecorder interface {
	// Record saves one attempt
	Record(ctx context.Context, attempt domain.Attempt) error
}

// AttemptRepository handles attempt log queries
type AttemptRepository interface {
	AttemptRecorder

	// ListByConversation returns attempts ordered by start time
	ListByConversation(ctx context.Context, key string) ([]domain.Attempt, error)
}

// Pruner removes data older than a cutoff
type Pruner interface {
	// DeleteOlderThan deletes entries last touched before cutoff and returns how many went
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
