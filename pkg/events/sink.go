// Package events carries SessionManager notifications over watermill so that
// front-ends (TUI, websocket clients, persistence) can consume them
// independently of the goroutine running the turn.
package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// TopicForConv computes the event topic for a conversation.
func TopicForConv(convID string) string { return "itinerary:" + convID }

// WatermillSink publishes chat events as JSON messages on the conversation topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ chat.EventSink = &WatermillSink{}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (s *WatermillSink) PublishEvent(e chat.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal chat event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("conv_id", e.ConvID)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "publish chat event to %s", s.topic)
	}
	return nil
}

// DecodeEvent parses a message produced by WatermillSink.
func DecodeEvent(msg *message.Message) (chat.Event, error) {
	var e chat.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return chat.Event{}, errors.Wrap(err, "decode chat event")
	}
	return e, nil
}

// MultiSink fans events out to several sinks. Every sink is called even if an
// earlier one fails; the first error is returned.
type MultiSink struct {
	sinks []chat.EventSink
}

var _ chat.EventSink = &MultiSink{}

// NewMultiSink skips nil sinks.
func NewMultiSink(sinks ...chat.EventSink) *MultiSink {
	filtered := make([]chat.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) PublishEvent(e chat.Event) error {
	var first error
	for _, s := range m.sinks {
		if err := s.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("component", "events").Str("event", string(e.Type)).Msg("sink failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
