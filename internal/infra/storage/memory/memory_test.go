package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

func TestTranscriptRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewTranscriptRepo(NewMemoryStorage())

	_, err := repo.Load(ctx, "c1")
	require.ErrorIs(t, err, storage.ErrTranscriptNotFound)

	now := time.Now()
	msgs := []domain.Message{
		domain.NewMessage(domain.RoleUser, "Hello", now),
		domain.NewMessage(domain.RoleAssistant, "Hi there", now),
	}
	require.NoError(t, repo.Replace(ctx, "c1", msgs))

	// Stored copy is independent of the caller's slice.
	msgs[0].Content = "changed"

	got, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Hello", got[0].Content)

	require.NoError(t, repo.Replace(ctx, "c1", got[:1]))
	got, err = repo.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, repo.Delete(ctx, "c1"))
	_, err = repo.Load(ctx, "c1")
	require.ErrorIs(t, err, storage.ErrTranscriptNotFound)
}

func TestAttemptRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewAttemptRepo(NewMemoryStorage())
	base := time.Now()

	require.NoError(t, repo.Record(ctx, domain.Attempt{ID: "b", ConversationKey: "c1", Number: 2, StartedAt: base.Add(time.Second)}))
	require.NoError(t, repo.Record(ctx, domain.Attempt{ID: "a", ConversationKey: "c1", Number: 1, StartedAt: base}))
	require.NoError(t, repo.Record(ctx, domain.Attempt{ID: "x", ConversationKey: "c2", Number: 1, StartedAt: base}))

	got, err := repo.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "b", got[1].ID)

	got, err = repo.ListByConversation(ctx, "none")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	transcripts := NewTranscriptRepo(store)
	attempts := NewAttemptRepo(store)

	now := time.Now()
	old := now.Add(-48 * time.Hour)

	require.NoError(t, transcripts.Replace(ctx, "stale", []domain.Message{domain.NewMessage(domain.RoleUser, "a", old)}))
	require.NoError(t, transcripts.Replace(ctx, "fresh", []domain.Message{
		domain.NewMessage(domain.RoleUser, "a", old),
		domain.NewMessage(domain.RoleAssistant, "b", now),
	}))
	require.NoError(t, attempts.Record(ctx, domain.Attempt{ID: "1", ConversationKey: "c", EndedAt: old}))
	require.NoError(t, attempts.Record(ctx, domain.Attempt{ID: "2", ConversationKey: "c", EndedAt: now}))

	cutoff := now.Add(-24 * time.Hour)

	n, err := transcripts.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = transcripts.Load(ctx, "stale")
	require.ErrorIs(t, err, storage.ErrTranscriptNotFound)
	_, err = transcripts.Load(ctx, "fresh")
	require.NoError(t, err)

	n, err = attempts.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	got, err := attempts.ListByConversation(ctx, "c")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "2", got[0].ID)
}
