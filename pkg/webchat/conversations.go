package webchat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/bootstrap"
	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/events"
)

// Transport is the event bus conversations publish to and websocket clients
// are fed from. *redisstream.Transport implements it.
type Transport interface {
	Publisher() message.Publisher
	Subscriber(group string) (message.Subscriber, error)
	EnsureGroupAtTail(ctx context.Context, stream, group string) error
}

// Conversation is one planning session served over HTTP.
type Conversation struct {
	ID        string
	Manager   *chat.SessionManager
	CreatedAt time.Time

	pool      *ConnectionPool
	forwarder *events.Forwarder
}

// ConvManager owns the conversations of the server.
type ConvManager struct {
	ctx       context.Context
	client    chat.RemoteChatClient
	doc       *bootstrap.Document
	transport Transport
	extra     chat.EventSink

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewConvManager creates a registry. extra, if non-nil, receives every event in
// addition to the transport (used for transcript persistence).
func NewConvManager(ctx context.Context, client chat.RemoteChatClient, doc *bootstrap.Document, transport Transport, extra chat.EventSink) *ConvManager {
	return &ConvManager{
		ctx:       ctx,
		client:    client,
		doc:       doc,
		transport: transport,
		extra:     extra,
		convs:     map[string]*Conversation{},
	}
}

func (cm *ConvManager) Get(convID string) (*Conversation, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.convs[convID]
	return c, ok
}

// GetOrCreate returns the conversation, creating it (and its event
// subscription) when needed. An empty id creates a new conversation.
func (cm *ConvManager) GetOrCreate(convID string) (*Conversation, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		convID = uuid.NewString()
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if c, ok := cm.convs[convID]; ok {
		return c, nil
	}

	topic := events.TopicForConv(convID)
	group := "ws-" + convID
	if err := cm.transport.EnsureGroupAtTail(cm.ctx, topic, group); err != nil {
		return nil, err
	}
	sub, err := cm.transport.Subscriber(group)
	if err != nil {
		return nil, err
	}

	c := &Conversation{
		ID:        convID,
		CreatedAt: time.Now(),
		pool:      NewConnectionPool(convID),
	}
	c.forwarder = events.NewForwarder(sub, topic, c.pool.BroadcastEvent)
	if err := c.forwarder.Start(cm.ctx); err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}
	sink := events.NewMultiSink(events.NewWatermillSink(cm.transport.Publisher(), topic), cm.extra)
	c.Manager = chat.NewSessionManager(cm.client, cm.doc.Session, cm.doc.Template,
		chat.WithSink(sink), chat.WithConversationID(convID))

	cm.convs[convID] = c
	log.Info().Str("component", "webchat").Str("conv_id", convID).Msg("conversation created")
	return c, nil
}

// List returns the conversations, oldest first.
func (cm *ConvManager) List() []*Conversation {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*Conversation, 0, len(cm.convs))
	for _, c := range cm.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close ends every conversation.
func (cm *ConvManager) Close() {
	cm.mu.Lock()
	convs := cm.convs
	cm.convs = map[string]*Conversation{}
	cm.mu.Unlock()
	for _, c := range convs {
		c.Manager.Close()
		c.forwarder.Stop()
		c.pool.CloseAll()
	}
}
