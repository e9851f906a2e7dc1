package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Forwarder subscribes to a conversation topic and hands decoded events to a
// callback, in arrival order.
type Forwarder struct {
	subscriber message.Subscriber
	topic      string
	onEvent    func(chat.Event)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewForwarder(subscriber message.Subscriber, topic string, onEvent func(chat.Event)) *Forwarder {
	return &Forwarder{
		subscriber: subscriber,
		topic:      topic,
		onEvent:    onEvent,
	}
}

// Start subscribes and returns once the subscription is established; events
// are then delivered from a background goroutine.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := f.subscriber.Subscribe(runCtx, f.topic)
	if err != nil {
		cancel()
		return err
	}
	f.cancel = cancel
	f.running = true
	f.done = make(chan struct{})
	go f.consume(ch, f.done)
	log.Debug().Str("component", "events").Str("topic", f.topic).Msg("forwarder started")
	return nil
}

// Run starts the forwarder and blocks until ctx is cancelled or the
// subscription closes.
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		f.Stop()
		<-done
		return nil
	case <-done:
		return nil
	}
}

// Stop cancels the subscription.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = nil
}

func (f *Forwarder) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Forwarder) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		e, err := DecodeEvent(msg)
		if err != nil {
			log.Warn().Err(err).Str("component", "events").Str("topic", f.topic).Msg("failed to decode event")
			msg.Ack()
			continue
		}
		if f.onEvent != nil {
			f.onEvent(e)
		}
		msg.Ack()
	}
	f.mu.Lock()
	f.running = false
	f.cancel = nil
	f.mu.Unlock()
	log.Debug().Str("component", "events").Str("topic", f.topic).Msg("forwarder stopped")
}
