// Package events carries controller state changes to presentation adapters.
package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// Type names a notification.
type Type string

const (
	// TypeState reports a controller state transition.
	TypeState Type = "state"
	// TypeFragment carries the in-progress assistant text after each fragment.
	TypeFragment Type = "fragment"
	// TypeCommitted reports a finalized exchange.
	TypeCommitted Type = "committed"
	// TypeRolledBack reports a discarded exchange and the user-visible reason.
	TypeRolledBack Type = "rolled_back"
	// TypeSessions reports a create, switch or delete.
	TypeSessions Type = "sessions"
	// TypeStorageWarning reports a committed exchange that could not be saved.
	TypeStorageWarning Type = "storage_warning"
)

// Event is one notification. Fields not relevant to Type stay empty.
type Event struct {
	Type        Type   `json:"type"`
	RequestID   string `json:"requestId,omitempty"`
	State       string `json:"state,omitempty"`
	ActiveIndex int    `json:"activeIndex"`
	Content     string `json:"content,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Sink receives controller notifications on the controller's goroutine.
type Sink interface {
	Publish(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Publish(e Event) error {
	return f(e)
}

// NullSink drops every event.
type NullSink struct{}

func (NullSink) Publish(Event) error {
	return nil
}

// Multi fans an event out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Publish(e Event) error {
	var first error
	for _, sink := range m {
		if err := sink.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WatermillSink publishes events as JSON messages on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillSink publishes to topic on publisher.
func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (w *WatermillSink) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("failed to publish event")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(e.Type)).Msg("published event")
	return nil
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = NullSink{}
	_ Sink = Multi(nil)
	_ Sink = (*WatermillSink)(nil)
)
