// Package conversation drives one user/assistant exchange at a time against the
// chat endpoint and keeps the session collection consistent with storage.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/events"
	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/service/session"
	"github.com/zhouzirui/faustus/internal/stream"
)

// DefaultTimeout bounds a whole exchange, from request to the last fragment.
const DefaultTimeout = 2 * time.Minute

// ErrorPrefix starts every user-visible failure notice.
const ErrorPrefix = "Sorry, there was an error: "

var (
	ErrInvalidInput = errors.New("message is blank")
	ErrBusy         = errors.New("an exchange is already in flight")
	ErrTimeout      = errors.New("chat exchange timed out")
)

// Opener starts a reply stream for a transcript.
type Opener interface {
	Open(ctx context.Context, transcript chat.Conversation) (client.FragmentSource, error)
}

// Saver persists a snapshot of the whole collection.
type Saver interface {
	Save(ctx context.Context, snapshot session.Snapshot) error
}

// Loader reads a previously saved snapshot.
type Loader interface {
	Load(ctx context.Context) (session.Snapshot, bool, error)
}

// Controller owns the session collection and serializes exchanges. Presentation
// adapters call its methods and observe it through an events.Sink.
type Controller struct {
	mu       sync.Mutex
	sessions *session.Collection
	state    State

	// version numbers snapshots in the order they were taken under mu.
	version   uint64
	persistMu sync.Mutex
	saved     uint64

	opener  Opener
	saver   Saver
	sink    events.Sink
	timeout time.Duration
}

// Option customises a Controller.
type Option func(*Controller)

// WithSink sets the notification sink.
func WithSink(sink events.Sink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithTimeout bounds each exchange; zero or negative disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		c.timeout = timeout
	}
}

// New builds a controller over sessions.
func New(sessions *session.Collection, opener Opener, saver Saver, opts ...Option) *Controller {
	if sessions == nil {
		sessions = session.New()
	}
	c := &Controller{
		sessions: sessions,
		opener:   opener,
		saver:    saver,
		sink:     events.NullSink{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadSessions restores the saved collection, or starts a fresh one when
// nothing was saved.
func LoadSessions(ctx context.Context, loader Loader) (*session.Collection, error) {
	snapshot, ok, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return session.New(), nil
	}
	return session.Restore(snapshot)
}

// State returns the current exchange state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot copies the in-memory collection.
func (c *Controller) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Serialize()
}

// Summaries lists conversations for a sidebar.
func (c *Controller) Summaries() []session.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Summaries()
}

// Active returns the active index and a copy of its transcript.
func (c *Controller) Active() (int, chat.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.ActiveIndex(), c.sessions.Active()
}

// SendMessage runs one exchange: the user message is appended right away, the
// reply is streamed, and both are committed and saved only if the reply
// completes. Any failure removes the user message again. A storage failure
// after commit returns a *store.StorageError together with the reply.
func (c *Controller) SendMessage(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrInvalidInput
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return chat.Message{}, ErrBusy
	}
	c.state = Sending
	userMsg := chat.UserMessage(text)
	c.sessions.AppendMessage(userMsg)
	transcript := c.sessions.Active()
	active := c.sessions.ActiveIndex()
	c.mu.Unlock()

	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Int("conversation", active).Logger()
	c.publish(events.Event{Type: events.TypeState, RequestID: requestID, State: Sending.String(), ActiveIndex: active})

	exchangeCtx := client.WithRequestID(ctx, requestID)
	cancel := func() {}
	if c.timeout > 0 {
		exchangeCtx, cancel = context.WithTimeout(exchangeCtx, c.timeout)
	}
	defer cancel()

	reply, err := c.exchange(exchangeCtx, requestID, active, transcript, logger)
	if err != nil {
		if errors.Is(exchangeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
		}
		c.rollback(requestID, active, userMsg, err, logger)
		return chat.Message{}, err
	}

	return reply, c.finalize(ctx, requestID, active, reply, logger)
}

func (c *Controller) exchange(ctx context.Context, requestID string, active int, transcript chat.Conversation, logger zerolog.Logger) (chat.Message, error) {
	src, err := c.opener.Open(ctx, transcript)
	if err != nil {
		return chat.Message{}, err
	}
	defer src.Close()

	c.setState(Streaming)
	c.publish(events.Event{Type: events.TypeState, RequestID: requestID, State: Streaming.String(), ActiveIndex: active})
	logger.Debug().Msg("streaming reply")

	// The in-progress reply lives in the source until it is final.
	for {
		_, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.Message{}, err
		}
		c.publish(events.Event{Type: events.TypeFragment, RequestID: requestID, ActiveIndex: active, Content: src.Text()})
	}
	if !src.Received() {
		return chat.Message{}, stream.ErrEmptyResponse
	}
	return chat.AssistantMessage(src.Text()), nil
}

func (c *Controller) finalize(ctx context.Context, requestID string, active int, reply chat.Message, logger zerolog.Logger) error {
	c.mu.Lock()
	c.state = Finalizing
	c.sessions.AppendMessage(reply)
	pending := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(events.Event{Type: events.TypeState, RequestID: requestID, State: Finalizing.String(), ActiveIndex: active})

	saveErr := c.persist(ctx, pending)

	c.setState(Idle)
	c.publish(events.Event{Type: events.TypeCommitted, RequestID: requestID, ActiveIndex: active, Content: reply.Content})
	if saveErr != nil {
		logger.Warn().Err(saveErr).Msg("exchange committed but not saved")
		c.publish(events.Event{
			Type:        events.TypeStorageWarning,
			RequestID:   requestID,
			ActiveIndex: active,
			Error:       "History may not survive a reload: " + saveErr.Error(),
		})
		return saveErr
	}
	logger.Debug().Int("reply_length", len(reply.Content)).Msg("exchange committed")
	return nil
}

func (c *Controller) rollback(requestID string, active int, userMsg chat.Message, cause error, logger zerolog.Logger) {
	c.setState(RollingBack)
	c.publish(events.Event{Type: events.TypeState, RequestID: requestID, State: RollingBack.String(), ActiveIndex: active})

	c.mu.Lock()
	if conv := c.sessions.Active(); len(conv) > 0 && conv[len(conv)-1] == userMsg {
		c.sessions.RemoveLastMessage()
	}
	c.state = Idle
	c.mu.Unlock()

	logger.Warn().Err(cause).Msg("exchange rolled back")
	c.publish(events.Event{Type: events.TypeRolledBack, RequestID: requestID, ActiveIndex: active, Error: UserNotice(cause)})
}

// CreateSession appends an empty conversation, activates it and saves.
func (c *Controller) CreateSession(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	index := c.sessions.Create()
	pending := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(events.Event{Type: events.TypeSessions, ActiveIndex: index})
	return index, c.persist(ctx, pending)
}

// SwitchSession activates the conversation at index and returns it for replay.
func (c *Controller) SwitchSession(index int) (chat.Conversation, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	conv, err := c.sessions.SwitchTo(index)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.publish(events.Event{Type: events.TypeSessions, ActiveIndex: index})
	return conv, nil
}

// DeleteSession removes the active conversation unless it is the only one.
func (c *Controller) DeleteSession(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return false, ErrBusy
	}
	deleted, err := c.sessions.Delete(c.sessions.ActiveIndex())
	active := c.sessions.ActiveIndex()
	var pending pendingSave
	if deleted {
		pending = c.snapshotLocked()
	}
	c.mu.Unlock()
	if err != nil || !deleted {
		return false, err
	}

	c.publish(events.Event{Type: events.TypeSessions, ActiveIndex: active})
	return true, c.persist(ctx, pending)
}

type pendingSave struct {
	snapshot session.Snapshot
	version  uint64
}

// snapshotLocked copies the collection at a point where no exchange is half
// applied. c.mu must be held.
func (c *Controller) snapshotLocked() pendingSave {
	c.version++
	return pendingSave{snapshot: c.sessions.Serialize(), version: c.version}
}

// persist saves p unless a newer snapshot was saved first.
func (c *Controller) persist(ctx context.Context, p pendingSave) error {
	if c.saver == nil {
		return nil
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if p.version <= c.saved {
		return nil
	}
	if err := c.saver.Save(ctx, p.snapshot); err != nil {
		return err
	}
	c.saved = p.version
	return nil
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Controller) publish(e events.Event) {
	if err := c.sink.Publish(e); err != nil {
		log.Debug().Err(err).Str("event_type", string(e.Type)).Msg("event sink rejected notification")
	}
}

// UserNotice renders err as the message shown to the user.
func UserNotice(err error) string {
	var httpErr *client.HTTPError
	var serverErr *stream.ServerError
	switch {
	case errors.As(err, &httpErr):
		return ErrorPrefix + httpErr.Error()
	case errors.As(err, &serverErr):
		return ErrorPrefix + serverErr.Error()
	case errors.Is(err, stream.ErrEmptyResponse):
		return ErrorPrefix + "Invalid response from server"
	case errors.Is(err, ErrTimeout):
		return ErrorPrefix + "the server took too long to answer"
	case errors.Is(err, client.ErrNetwork):
		return ErrorPrefix + "could not reach the chat server"
	default:
		return ErrorPrefix + err.Error()
	}
}
