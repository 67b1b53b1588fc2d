package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vietddude/streamchat/internal/chat/classifier"
	"github.com/vietddude/streamchat/internal/core/domain"
)

type recorder struct {
	mu     sync.Mutex
	meta   []Meta
	chunks []string
}

func (r *recorder) OnOpen(m Meta) {
	r.mu.Lock()
	r.meta = append(r.meta, m)
	r.mu.Unlock()
}

func (r *recorder) OnChunk(s string) {
	r.mu.Lock()
	r.chunks = append(r.chunks, s)
	r.mu.Unlock()
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.chunks, "")
}

func sse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	f := w.(http.Flusher)
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
		f.Flush()
	}
}

func testRequest() Request {
	return Request{
		Messages:    []domain.WireMessage{{Role: domain.RoleUser, Content: "Hello"}},
		Model:       "gpt-test",
		Temperature: 0.7,
		MaxTokens:   256,
	}
}

func TestStream_RequestShape(t *testing.T) {
	var (
		gotBody   map[string]any
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		sse(w, "[DONE]")
	}))
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, c.Stream(context.Background(), testRequest(), &recorder{}))

	require.Equal(t, "gpt-test", gotBody["model"])
	require.Equal(t, 0.7, gotBody["temperature"])
	require.Equal(t, float64(256), gotBody["maxTokens"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"role": "user", "content": "Hello"}, msgs[0])

	require.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	require.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	_, present := gotHeader[http.CanonicalHeaderKey(ConversationHeader)]
	require.True(t, present, "conversation header must be sent even when empty")
}

func TestStream_EventStreamShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ConversationHeader, "conv-42")
		sse(w,
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hi"}}]}`,
			`{"content":" there"}`,
			`!`,
			"[DONE]",
			`{"content":"ignored"}`,
		)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := NewClient(Options{URL: srv.URL})
	require.NoError(t, c.Stream(context.Background(), testRequest(), rec))

	require.Equal(t, []string{"Hi", " there", "!"}, rec.chunks)
	require.Len(t, rec.meta, 1)
	require.Equal(t, "conv-42", rec.meta[0].ConversationID)
}

func TestStream_ErrorPayload(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter)
		wantMsg string
	}{
		{
			name: "error object in data",
			write: func(w http.ResponseWriter) {
				sse(w, `{"choices":[{"delta":{"content":"par"}}]}`,
					`{"error":{"message":"maximum context length exceeded","code":"context_length_exceeded"}}`)
			},
			wantMsg: "maximum context length exceeded",
		},
		{
			name: "error event",
			write: func(w http.ResponseWriter) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: error\ndata: {\"message\":\"overloaded\"}\n\n")
			},
			wantMsg: "overloaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.write(w)
			}))
			defer srv.Close()

			err := NewClient(Options{URL: srv.URL}).Stream(context.Background(), testRequest(), &recorder{})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestStream_ContextErrorClassifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`)
	}))
	defer srv.Close()

	err := NewClient(Options{URL: srv.URL}).Stream(context.Background(), testRequest(), &recorder{})
	require.Equal(t, domain.KindContextTooLong, classifier.Classify(err).Kind)
}

func TestStream_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		f := w.(http.Flusher)
		// "héllo" with the é split across two writes.
		parts := [][]byte{[]byte("h\xc3"), []byte("\xa9llo"), []byte(" wörld")}
		for _, p := range parts {
			_, _ = w.Write(p)
			f.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	require.NoError(t, NewClient(Options{URL: srv.URL}).Stream(context.Background(), testRequest(), rec))

	require.Equal(t, "héllo wörld", rec.text())
	for _, c := range rec.chunks {
		require.True(t, strings.ToValidUTF8(c, "?") == c, "chunk %q is not valid UTF-8", c)
	}
}

func TestStream_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		body       string
		wantKind   domain.ErrorKind
		wantAfter  time.Duration
		wantHinted bool
	}{
		{
			name:       "429 with seconds",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "2"},
			wantKind:   domain.KindRateLimited,
			wantAfter:  2 * time.Second,
			wantHinted: true,
		},
		{
			name:       "429 with milliseconds",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"retry-after-ms": "1500", "Retry-After": "9"},
			wantKind:   domain.KindRateLimited,
			wantAfter:  1500 * time.Millisecond,
			wantHinted: true,
		},
		{
			name:     "401",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"invalid api key"}}`,
			wantKind: domain.KindAuthError,
		},
		{
			name:     "503",
			status:   http.StatusServiceUnavailable,
			wantKind: domain.KindServiceUnavailable,
		},
		{
			name:     "400 context",
			status:   http.StatusBadRequest,
			body:     `{"message":"prompt is too long"}`,
			wantKind: domain.KindContextTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			rec := &recorder{}
			err := NewClient(Options{URL: srv.URL}).Stream(context.Background(), testRequest(), rec)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.status, se.HTTPStatus())
			after, ok := se.RetryAfter()
			require.Equal(t, tt.wantHinted, ok)
			require.Equal(t, tt.wantAfter, after)
			require.Empty(t, rec.meta, "OnOpen must not run for a failed response")

			ce := classifier.Classify(err)
			require.Equal(t, tt.wantKind, ce.Kind)
			require.Equal(t, tt.status, ce.StatusCode)
		})
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"content":"Hi"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &recorder{}
	c := NewClient(Options{URL: srv.URL, IdleTimeout: 50 * time.Millisecond})
	err := c.Stream(context.Background(), testRequest(), rec)

	require.ErrorIs(t, err, classifier.ErrStreamAborted)
	require.Equal(t, "Hi", rec.text())
	require.Equal(t, domain.KindServiceUnavailable, classifier.Classify(err).Kind)
}

func TestStream_CancelIsNotAnError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"content":"partial"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	h := HandlerFuncs{
		Chunk: func(s string) {
			rec.OnChunk(s)
			cancel()
		},
	}

	c := NewClient(Options{URL: srv.URL})
	err := c.Stream(ctx, testRequest(), h)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.Equal(t, "partial", rec.text())

	requests, failures := c.Stats()
	require.Equal(t, int64(1), requests)
	require.Zero(t, failures)
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", now.Add(3*time.Second).Format(http.TimeFormat))

	d, ok := parseRetryAfter(h, now)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	h.Set("Retry-After", "garbage")
	_, ok = parseRetryAfter(h, now)
	require.False(t, ok)
}

func TestSplitUTF8(t *testing.T) {
	tests := []struct {
		in       string
		complete string
		rest     string
	}{
		{in: "abc", complete: "abc"},
		{in: "a\xc3", complete: "a", rest: "\xc3"},
		{in: "a\xe2\x82", complete: "a", rest: "\xe2\x82"},
		{in: "a\xe2\x82\xac", complete: "a\xe2\x82\xac"},
		{in: "", complete: ""},
	}
	for _, tt := range tests {
		c, r := splitUTF8([]byte(tt.in))
		require.Equal(t, tt.complete, string(c))
		require.Equal(t, tt.rest, string(r))
	}
}
