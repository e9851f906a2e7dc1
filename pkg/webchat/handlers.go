package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

type startRequest struct {
	ConvID  string       `json:"conv_id"`
	Profile chat.Profile `json:"profile"`
}

type sendRequest struct {
	ConvID string `json:"conv_id"`
	Text   string `json:"text"`
}

type convRequest struct {
	ConvID string `json:"conv_id"`
}

// StatusResponse describes a conversation.
type StatusResponse struct {
	ConvID  string          `json:"conv_id"`
	State   chat.State      `json:"state"`
	Profile *chat.Profile   `json:"profile,omitempty"`
	History chat.History    `json:"history"`
	Error   *chat.ErrorInfo `json:"error,omitempty"`
}

func statusOf(c *Conversation) StatusResponse {
	resp := StatusResponse{
		ConvID:  c.ID,
		State:   c.Manager.State(),
		History: c.Manager.History(),
	}
	if p, ok := c.Manager.Profile(); ok {
		resp.Profile = &p
	}
	if e := c.Manager.LastError(); e != nil {
		resp.Error = &chat.ErrorInfo{Kind: e.Kind, Message: e.Error(), Credential: e.Credential}
	}
	if resp.History == nil {
		resp.History = chat.History{}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{"error": err.Error()}
	if k := chat.KindOf(err); k != "" {
		body["kind"] = k
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

// Handlers serves the HTTP API on top of a ConvManager. Operations run in the
// background under the server context; clients follow progress over /ws.
type Handlers struct {
	ctx      context.Context
	convs    *ConvManager
	upgrader websocket.Upgrader
}

func NewHandlers(ctx context.Context, convs *ConvManager) *Handlers {
	return &Handlers{
		ctx:   ctx,
		convs: convs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Mount registers the API routes on mux.
func (h *Handlers) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/api/start", h.handleStart)
	mux.HandleFunc("/api/send", h.handleSend)
	mux.HandleFunc("/api/retry", h.handleRetry)
	mux.HandleFunc("/api/interrupt", h.handleInterrupt)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/questions", h.handleQuestions)
	mux.HandleFunc("/api/conversations", h.handleConversations)
	mux.HandleFunc("/ws", h.handleWS)
}

func (h *Handlers) background(c *Conversation, op string, f func(ctx context.Context) error) {
	go func() {
		if err := f(h.ctx); err != nil && !errors.Is(err, chat.ErrSuperseded) {
			log.Debug().Err(err).Str("component", "webchat").Str("conv_id", c.ID).Str("op", op).Msg("operation ended with error")
		}
	}()
}

func (h *Handlers) lookup(w http.ResponseWriter, convID string) (*Conversation, bool) {
	c, ok := h.convs.Get(strings.TrimSpace(convID))
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("unknown conversation %q", convID))
		return nil, false
	}
	return c, true
}

func (h *Handlers) handleStart(w http.ResponseWriter, req *http.Request) {
	var in startRequest
	if !decode(w, req, &in) {
		return
	}
	if err := in.Profile.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.convs.GetOrCreate(in.ConvID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	p := in.Profile
	h.background(c, "start", func(ctx context.Context) error { return c.Manager.Start(ctx, p) })
	writeJSON(w, http.StatusAccepted, map[string]string{"conv_id": c.ID})
}

func (h *Handlers) handleSend(w http.ResponseWriter, req *http.Request) {
	var in sendRequest
	if !decode(w, req, &in) {
		return
	}
	c, ok := h.lookup(w, in.ConvID)
	if !ok {
		return
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing text"))
		return
	}
	if st := c.Manager.State(); st != chat.StateReady {
		writeError(w, http.StatusConflict, errors.Errorf("conversation is %s", st))
		return
	}
	h.background(c, "send", func(ctx context.Context) error { return c.Manager.Send(ctx, text) })
	writeJSON(w, http.StatusAccepted, map[string]string{"conv_id": c.ID})
}

func (h *Handlers) handleRetry(w http.ResponseWriter, req *http.Request) {
	var in convRequest
	if !decode(w, req, &in) {
		return
	}
	c, ok := h.lookup(w, in.ConvID)
	if !ok {
		return
	}
	if st := c.Manager.State(); st != chat.StateFailed {
		writeError(w, http.StatusConflict, errors.Errorf("conversation is %s", st))
		return
	}
	h.background(c, "retry", c.Manager.Retry)
	writeJSON(w, http.StatusAccepted, map[string]string{"conv_id": c.ID})
}

func (h *Handlers) handleInterrupt(w http.ResponseWriter, req *http.Request) {
	var in convRequest
	if !decode(w, req, &in) {
		return
	}
	c, ok := h.lookup(w, in.ConvID)
	if !ok {
		return
	}
	c.Manager.Interrupt()
	writeJSON(w, http.StatusAccepted, map[string]string{"conv_id": c.ID})
}

func (h *Handlers) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c, ok := h.lookup(w, req.URL.Query().Get("conv_id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(c))
}

func (h *Handlers) handleQuestions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.convs.doc.Questions)
}

func (h *Handlers) handleConversations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	convs := h.convs.List()
	out := make([]StatusResponse, 0, len(convs))
	for _, c := range convs {
		s := statusOf(c)
		s.History = nil
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWS attaches a websocket client to a conversation, creating it if
// needed. The client first receives the current history, then every event.
func (h *Handlers) handleWS(w http.ResponseWriter, req *http.Request) {
	c, err := h.convs.GetOrCreate(req.URL.Query().Get("conv_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c.pool.Add(conn)
	c.pool.SendEvent(conn, chat.Event{
		Type:    chat.EventHistory,
		ConvID:  c.ID,
		State:   c.Manager.State(),
		History: c.Manager.History(),
	})
	log.Debug().Str("component", "webchat").Str("conv_id", c.ID).Int("clients", c.pool.Count()).Msg("websocket attached")

	go func() {
		defer c.pool.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
