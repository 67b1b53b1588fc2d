// Package httpstore writes transcripts to the remote message-replace endpoint.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/streamchat/internal/core/domain"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

// Config configures the store.
type Config struct {
	// BaseURL is joined with /conversations/{key}/messages.
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
	BaseDelay  time.Duration
}

// Store implements storage.TranscriptWriter with HTTP PUT.
type Store struct {
	base       string
	apiKey     string
	maxRetries uint64
	baseDelay  time.Duration
	client     *http.Client
	log        *slog.Logger
}

var _ storage.TranscriptWriter = (*Store)(nil)

// New creates a store.
func New(cfg Config) (*Store, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid replace url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Store{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        slog.Default().With("component", "httpstore"),
	}, nil
}

type replaceBody struct {
	Messages []replaceMessage `json:"messages"`
}

type replaceMessage struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	IsEdited  bool        `json:"isEdited"`
}

// Replace PUTs the full message list. Server errors and transport
// failures are retried with exponential backoff; 4xx responses are not.
func (s *Store) Replace(ctx context.Context, key string, messages []domain.Message) error {
	body := replaceBody{Messages: make([]replaceMessage, len(messages))}
	for i, m := range messages {
		body.Messages[i] = replaceMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsEdited:  m.IsEdited,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/messages", s.base, url.PathEscape(key))
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.baseDelay))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.put(ctx, endpoint, payload)
		if err != nil {
			s.log.Debug("Replace messages failed", "key", key, "attempt", attempt, "error", err)
		}
		return err
	})
}

func (s *Store) put(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("replace messages: %w", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.RetryableError(fmt.Errorf("replace messages: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	default:
		return fmt.Errorf("replace messages: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
