// Package redisstream builds the watermill transport that carries chat events.
// Without Redis it falls back to an in-process pub/sub.
package redisstream

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/events"
)

// Transport owns the publisher and hands out subscribers.
type Transport struct {
	settings  Settings
	logger    watermill.LoggerAdapter
	publisher message.Publisher

	client *redis.Client
	mem    *gochannel.GoChannel

	mu          sync.Mutex
	subscribers []message.Subscriber
}

// Build constructs a Transport backed by Redis Streams when enabled.
func Build(s Settings) (*Transport, error) {
	logger := events.NewWatermillLogger(log.Logger)
	t := &Transport{settings: s, logger: logger}
	if !s.Enabled {
		t.mem = events.NewInMemoryPubSub()
		t.publisher = t.mem
		return t, nil
	}

	t.client = redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     t.client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = t.client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	t.publisher = pub
	log.Info().Str("component", "redisstream").Str("addr", s.Addr).Msg("using redis streams transport")
	return t, nil
}

func (t *Transport) Publisher() message.Publisher { return t.publisher }

func (t *Transport) Enabled() bool { return t.settings.Enabled }

// Subscriber returns a subscriber for the given consumer group. Each distinct
// group receives every message; consumers sharing a group split them. The
// in-memory transport always fans out.
func (t *Transport) Subscriber(group string) (message.Subscriber, error) {
	if t.mem != nil {
		return t.mem, nil
	}
	if group == "" {
		group = t.settings.Group
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        t.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      t.settings.Consumer,
	}, t.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "create redis stream subscriber for group %s", group)
	}
	t.mu.Lock()
	t.subscribers = append(t.subscribers, sub)
	t.mu.Unlock()
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($) if
// it doesn't exist, so that a new subscriber does not replay the stream.
func (t *Transport) EnsureGroupAtTail(ctx context.Context, stream, group string) error {
	if t.client == nil {
		return nil
	}
	err := t.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (t *Transport) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	t.mu.Lock()
	subs := t.subscribers
	t.subscribers = nil
	t.mu.Unlock()
	for _, s := range subs {
		keep(s.Close())
	}
	keep(t.publisher.Close())
	if t.client != nil {
		keep(t.client.Close())
	}
	return first
}
