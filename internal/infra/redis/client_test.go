package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("STREAMCHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STREAMCHAT_TEST_REDIS_URL not set")
	}
	c, err := NewClient(Config{URL: url, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(Config{URL: "not a url"})
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "streamchat:transcript:abc", transcriptKey("abc"))
	require.Equal(t, "streamchat:attempts:abc", attemptsKey("abc"))
}

func TestTranscriptRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	_, err := c.Load(ctx, key)
	require.ErrorIs(t, err, storage.ErrTranscriptNotFound)

	msgs := []domain.Message{
		domain.NewMessage(domain.RoleUser, "Hello", time.Now()),
		domain.NewMessage(domain.RoleAssistant, "Hi there", time.Now()),
	}
	require.NoError(t, c.Replace(ctx, key, msgs))

	got, err := c.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, msgs[1].ID, got[1].ID)

	ttl, err := c.TTL(ctx, key)
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Minute)
}

func TestAttemptLog(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Record(ctx, domain.Attempt{
			ID:              uuid.NewString(),
			ConversationKey: key,
			Number:          i,
			Status:          domain.AttemptFailed,
			ErrorKind:       domain.KindServiceUnavailable,
		}))
	}

	got, err := c.ListByConversation(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, a := range got {
		require.Equal(t, i+1, a.Number)
	}
}
