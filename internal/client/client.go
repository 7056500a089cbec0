// Package client talks to the chat-completion endpoint (POST /api/chat).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/stream"
)

// ErrNetwork marks transport failures before a response arrived.
var ErrNetwork = errors.New("chat endpoint unreachable")

// HTTPError is a non-2xx answer from the endpoint.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.Status, e.Message)
}

// FragmentSource yields response fragments until io.EOF or a terminal error.
// Text and Received report what has arrived so far.
type FragmentSource interface {
	Recv() (string, error)
	Text() string
	Received() bool
	Close() error
}

// Request is the JSON body sent to the endpoint.
type Request struct {
	Messages []chat.Message `json:"messages"`
}

// Response is the whole-body variant of a reply.
type Response struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client posts transcripts to the chat endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client for the endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{url: url, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint address.
func (c *Client) URL() string {
	return c.url
}

// Open sends the transcript and returns a source over the reply. The caller must
// Close the source. ctx bounds the whole exchange, including stream reads.
func (c *Client) Open(ctx context.Context, transcript chat.Conversation) (FragmentSource, error) {
	messages := transcript.Clone()
	body, err := json.Marshal(Request{Messages: messages})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create request")
	}
	requestID := requestIDFrom(ctx)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	logger := log.With().Str("request_id", requestID).Str("url", c.url).Logger()
	logger.Debug().Int("messages", len(messages)).Msg("sending chat request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		httpErr := &HTTPError{Status: resp.StatusCode, Message: errorMessage(respBody)}
		logger.Warn().Int("status", resp.StatusCode).Msg("chat endpoint rejected request")
		return nil, httpErr
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		defer resp.Body.Close()
		return decodeWhole(resp.Body)
	}

	logger.Debug().Msg("chat stream opened")
	return &streamSource{reader: stream.NewReader(resp.Body), body: resp.Body}, nil
}

type streamSource struct {
	reader *stream.Reader
	body   io.Closer
}

func (s *streamSource) Recv() (string, error) {
	return s.reader.Recv()
}

func (s *streamSource) Text() string {
	return s.reader.Text()
}

func (s *streamSource) Received() bool {
	return s.reader.Received()
}

func (s *streamSource) Close() error {
	return s.body.Close()
}

// wholeSource replays a non-streaming reply as a single fragment.
type wholeSource struct {
	content string
	sent    bool
}

func (w *wholeSource) Recv() (string, error) {
	if w.sent {
		return "", io.EOF
	}
	w.sent = true
	return w.content, nil
}

func (w *wholeSource) Text() string {
	if !w.sent {
		return ""
	}
	return w.content
}

func (w *wholeSource) Received() bool {
	return w.sent
}

func (w *wholeSource) Close() error {
	return nil
}

func decodeWhole(body io.Reader) (FragmentSource, error) {
	var payload Response
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid response from server")
	}
	if payload.Error != "" {
		return nil, &stream.ServerError{Message: payload.Error}
	}
	if payload.Content == "" {
		return nil, stream.ErrEmptyResponse
	}
	return &wholeSource{content: payload.Content}, nil
}

func errorMessage(body []byte) string {
	var payload Response
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

type requestIDKey struct{}

// WithRequestID makes Open send id as X-Request-ID instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
