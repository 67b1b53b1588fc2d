// Package completion streams chat completions over HTTP.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/vietddude/streamchat/internal/chat/classifier"
	"github.com/vietddude/streamchat/internal/core/domain"
)

// ConversationHeader carries the remote conversation identifier in both
// directions.
const ConversationHeader = "X-Conversation-ID"

const (
	maxErrorBody   = 4 * 1024
	plainChunkSize = 4 * 1024
)

var errIdle = errors.New("idle timeout")

// Request is one completion call.
type Request struct {
	Messages    []domain.WireMessage `json:"messages"`
	Model       string               `json:"model"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"maxTokens"`

	// ConversationID is sent as a header, empty before the remote assigns one.
	ConversationID string `json:"-"`
}

// Meta describes an accepted response before any content arrives.
type Meta struct {
	StatusCode     int
	ConversationID string
	ContentType    string
}

// Handler receives stream progress. Calls happen on the goroutine running
// Stream, in order.
type Handler interface {
	OnOpen(meta Meta)
	OnChunk(text string)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open  func(Meta)
	Chunk func(string)
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen(meta Meta) {
	if h.Open != nil {
		h.Open(meta)
	}
}

// OnChunk implements Handler.
func (h HandlerFuncs) OnChunk(text string) {
	if h.Chunk != nil {
		h.Chunk(text)
	}
}

// Options configures a Client.
type Options struct {
	URL    string
	APIKey string

	// FirstByteTimeout bounds the wait for response headers.
	FirstByteTimeout time.Duration
	// IdleTimeout bounds the gap between two reads of the body. Zero disables it.
	IdleTimeout time.Duration

	HTTPClient *http.Client
}

// Client talks to one completion endpoint.
type Client struct {
	url         string
	apiKey      string
	idleTimeout time.Duration
	httpClient  *http.Client
	log         *slog.Logger

	requestCount atomic.Int64
	failureCount atomic.Int64
}

// NewClient creates a completion client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			// No overall timeout; a stream may legitimately run for minutes.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: opts.FirstByteTimeout,
			},
		}
	}
	return &Client{
		url:         opts.URL,
		apiKey:      opts.APIKey,
		idleTimeout: opts.IdleTimeout,
		httpClient:  httpClient,
		log:         slog.Default().With("component", "completion"),
	}
}

// Stats returns request counters.
func (c *Client) Stats() (requests, failures int64) {
	return c.requestCount.Load(), c.failureCount.Load()
}

// Stream posts req and feeds the response to h until the stream ends.
// It returns nil on a clean end, ctx.Err() when ctx is cancelled, and a
// transport, *StatusError or *APIError otherwise.
func (c *Client) Stream(ctx context.Context, req Request, h Handler) error {
	c.requestCount.Add(1)
	err := c.stream(ctx, req, h)
	if err != nil && ctx.Err() == nil {
		c.failureCount.Add(1)
	}
	return err
}

func (c *Client) stream(parent context.Context, req Request, h Handler) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, text/plain")
	httpReq.Header.Set(ConversationHeader, req.ConversationID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("Opening stream", "model", req.Model, "messages", len(req.Messages))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	meta := Meta{
		StatusCode:     resp.StatusCode,
		ConversationID: resp.Header.Get(ConversationHeader),
		ContentType:    resp.Header.Get("Content-Type"),
	}
	h.OnOpen(meta)

	var reader io.Reader = resp.Body
	if c.idleTimeout > 0 {
		w := newWatchdog(resp.Body, c.idleTimeout, func() { cancel(errIdle) })
		defer w.stop()
		reader = w
	}

	if isEventStream(meta.ContentType) {
		err = readEvents(reader, h)
	} else {
		err = readPlain(reader, h)
	}

	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(context.Cause(ctx), errIdle) {
		return fmt.Errorf("%w: no data for %s", classifier.ErrStreamAborted, c.idleTimeout)
	}
	return err
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       errorMessage(raw),
	}
	se.retryAfter, se.hasRetryAfter = parseRetryAfter(resp.Header, time.Now())
	return se
}

// errorMessage extracts error.message from a JSON body, or returns the
// trimmed body.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if apiErr := decodeAPIError(envelope.Error); apiErr != nil {
			return apiErr.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/event-stream"
}

// streamPayload covers the data shapes accepted inside an event stream.
type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Content *string         `json:"content"`
	Error   json.RawMessage `json:"error"`
}

func readEvents(r io.Reader, h Handler) error {
	scanner := newSSEScanner(r)
	for scanner.Next() {
		ev := scanner.Event()
		data := ev.Data

		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}
		if ev.Type == "error" {
			if apiErr := decodeAPIError(json.RawMessage(data)); apiErr != nil {
				return apiErr
			}
			return &APIError{Message: data}
		}

		text, err := decodeData(data)
		if err != nil {
			return err
		}
		if text != "" {
			h.OnChunk(text)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// decodeData returns the text carried by one data payload. Payloads that
// are not JSON objects are plain text.
func decodeData(data string) (string, error) {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "{") {
		return data, nil
	}

	var p streamPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return data, nil
	}
	if apiErr := decodeAPIError(p.Error); apiErr != nil {
		return "", apiErr
	}
	if len(p.Choices) > 0 {
		return p.Choices[0].Delta.Content, nil
	}
	if p.Content != nil {
		return *p.Content, nil
	}
	return "", nil
}

// decodeAPIError accepts {"message","type","code"} objects or bare strings.
func decodeAPIError(raw json.RawMessage) *APIError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return &APIError{Message: s}
	}

	var obj struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return &APIError{Message: string(raw)}
	}

	apiErr := &APIError{Message: obj.Message, Type: obj.Type}
	if len(obj.Code) > 0 && string(obj.Code) != "null" {
		var code string
		if json.Unmarshal(obj.Code, &code) != nil {
			code = string(obj.Code)
		}
		apiErr.Code = code
	}
	if apiErr.Message == "" {
		apiErr.Message = string(raw)
	}
	return apiErr
}

// readPlain forwards a chunked text body, never splitting a UTF-8 sequence.
func readPlain(r io.Reader, h Handler) error {
	buf := make([]byte, plainChunkSize)
	var pending []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := splitUTF8(pending)
			if len(complete) > 0 {
				h.OnChunk(string(complete))
			}
			pending = append(pending[:0], rest...)
		}
		if err == io.EOF {
			if len(pending) > 0 {
				h.OnChunk(string(pending))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte sequence, and the remainder.
func splitUTF8(b []byte) (complete, rest []byte) {
	// A rune is at most utf8.UTFMax bytes, so only the tail needs checking.
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return b, nil
			}
			return b[:i], b[i:]
		}
	}
	return b, nil
}

// watchdog fires onIdle when no Read completes within timeout.
type watchdog struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newWatchdog(r io.Reader, timeout time.Duration, onIdle func()) *watchdog {
	return &watchdog{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onIdle),
	}
}

func (w *watchdog) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.timer.Reset(w.timeout)
	}
	return n, err
}

func (w *watchdog) stop() {
	w.timer.Stop()
}
