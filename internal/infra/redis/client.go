package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// DefaultTTL is how long transcripts live without being touched.
const DefaultTTL = 7 * 24 * time.Hour

// Client stores transcripts and attempt logs in Redis.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

var (
	_ storage.TranscriptRepository = (*Client)(nil)
	_ storage.AttemptRepository    = (*Client)(nil)
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func transcriptKey(key string) string {
	return fmt.Sprintf("streamchat:transcript:%s", key)
}

func attemptsKey(key string) string {
	return fmt.Sprintf("streamchat:attempts:%s", key)
}

// Replace overwrites the transcript and refreshes its TTL.
func (c *Client) Replace(ctx context.Context, key string, messages []domain.Message) error {
	if messages == nil {
		messages = []domain.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := c.rdb.Set(ctx, transcriptKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Load retrieves the transcript.
func (c *Client) Load(ctx context.Context, key string) ([]domain.Message, error) {
	data, err := c.rdb.Get(ctx, transcriptKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return msgs, nil
}

// Delete removes the transcript and its attempt log.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, transcriptKey(key), attemptsKey(key)).Err()
}

// Record appends an attempt to the conversation's log.
func (c *Client) Record(ctx context.Context, a domain.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	key := attemptsKey(a.ConversationKey)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// ListByConversation returns attempts in the order they were recorded.
func (c *Client) ListByConversation(ctx context.Context, key string) ([]domain.Attempt, error) {
	items, err := c.rdb.LRange(ctx, attemptsKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	out := make([]domain.Attempt, 0, len(items))
	for _, item := range items {
		var a domain.Attempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// TTL returns the remaining lifetime of a transcript.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, transcriptKey(key)).Result()
}
