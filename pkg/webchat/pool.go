package webchat

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// ConnectionPool holds the websocket clients attached to one conversation.
// Writes are serialized by the pool; a client whose write fails is dropped.
type ConnectionPool struct {
	convID string
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

func NewConnectionPool(convID string) *ConnectionPool {
	return &ConnectionPool{
		convID: convID,
		conns:  map[*websocket.Conn]struct{}{},
	}
}

func (cp *ConnectionPool) Add(conn *websocket.Conn) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.conns[conn] = struct{}{}
}

func (cp *ConnectionPool) Remove(conn *websocket.Conn) {
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

// BroadcastEvent sends e to every attached client.
func (cp *ConnectionPool) BroadcastEvent(e chat.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", cp.convID).Msg("marshal event")
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		cp.writeLocked(conn, data)
	}
}

// SendEvent sends e to a single attached client.
func (cp *ConnectionPool) SendEvent(conn *websocket.Conn, e chat.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", cp.convID).Msg("marshal event")
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; ok {
		cp.writeLocked(conn, data)
	}
}

func (cp *ConnectionPool) writeLocked(conn *websocket.Conn, data []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws send failed, dropping connection")
		delete(cp.conns, conn)
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		_ = conn.Close()
		delete(cp.conns, conn)
	}
}
