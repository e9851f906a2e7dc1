package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrSuperseded is returned by an operation whose session was replaced by a
// later Start (or Close) before it finished.
var ErrSuperseded = errors.New("chat session superseded")

// turn is the accumulator of one in-flight (or last failed) turn.
type turn struct {
	gen        uint64
	utterance  string
	userIndex  int
	modelIndex int
	reply      strings.Builder
	fragments  int
}

// SessionManager owns the chat session lifecycle, the session handle and the
// message history. Operations are expected to be serialized by the caller; the
// manager rejects overlapping Send/Retry calls with KindSessionNotReady and lets
// Start supersede whatever is in flight.
type SessionManager struct {
	client   RemoteChatClient
	config   SessionConfig
	template string
	sink     EventSink
	convID   string

	mu      sync.Mutex
	state   State
	session Session
	history History
	profile *Profile
	turn    *turn
	gen     uint64
	cancel  context.CancelFunc
	seq     uint64
	lastErr *Error
}

type ManagerOption func(*SessionManager)

// WithSink sets the sink that receives history, state and error events.
func WithSink(sink EventSink) ManagerOption {
	return func(m *SessionManager) {
		m.sink = sink
	}
}

// WithConversationID sets the id stamped on every event. Defaults to a random UUID.
func WithConversationID(id string) ManagerOption {
	return func(m *SessionManager) {
		if id != "" {
			m.convID = id
		}
	}
}

// NewSessionManager creates a manager in StateUninitialized. template is the
// bootstrap utterance template rendered from the profile on Start.
func NewSessionManager(client RemoteChatClient, cfg SessionConfig, template string, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		client:   client,
		config:   cfg,
		template: template,
		convID:   uuid.NewString(),
		state:    StateUninitialized,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ConversationID returns the id stamped on emitted events.
func (m *SessionManager) ConversationID() string { return m.convID }

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the message history.
func (m *SessionManager) History() History {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Clone()
}

// Profile returns the last profile passed to Start.
func (m *SessionManager) Profile() (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return Profile{}, false
	}
	return *m.profile, true
}

// SessionID returns the id of the live session handle, or "".
func (m *SessionManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID()
}

// LastError returns the failure that moved the manager into StateFailed.
func (m *SessionManager) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed {
		return nil
	}
	return m.lastErr
}

// Start discards any previous session, opens a new one and runs the bootstrap
// turn rendered from p. It blocks until the bootstrap reply has been streamed.
func (m *SessionManager) Start(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("conv_id", m.convID).Msg("rejecting invalid profile")
		return err
	}

	m.mu.Lock()
	m.supersedeLocked()
	gen := m.gen
	m.history = nil
	m.profile = &p
	m.lastErr = nil
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.setStateLocked(StateInitializing)
	m.publishHistoryLocked()
	m.mu.Unlock()

	log.Info().Str("component", "chat").Str("conv_id", m.convID).Str("model", m.config.Model).Msg("opening chat session")
	sess, err := m.client.OpenSession(runCtx, m.config)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		cancel()
		log.Debug().Str("component", "chat").Str("conv_id", m.convID).Msg("session open superseded")
		return ErrSuperseded
	}
	if err == nil && sess == nil {
		err = errors.New("remote client returned no session")
	}
	if err != nil {
		cancel()
		m.cancel = nil
		e := newError(KindSessionInitFailed, err, "could not open chat session")
		m.failLocked(e)
		m.mu.Unlock()
		return e
	}
	m.session = sess
	m.setStateLocked(StateReady)
	utterance := RenderBootstrap(m.template, p)
	t, hist := m.beginTurnLocked(utterance)
	m.mu.Unlock()

	log.Info().Str("component", "chat").Str("conv_id", m.convID).Str("session_id", sess.ID()).Msg("chat session opened")
	return m.runTurn(runCtx, cancel, sess, t, hist)
}

// Send appends text as a user message and streams the reply. It fails with
// KindSessionNotReady unless the manager is in StateReady.
func (m *SessionManager) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	if m.state != StateReady {
		st := m.state
		m.mu.Unlock()
		e := newError(KindSessionNotReady, nil, "cannot send while session is %s", st)
		log.Warn().Str("component", "chat").Str("conv_id", m.convID).Stringer("state", st).Msg("send rejected")
		return e
	}
	sess := m.session
	if sess == nil {
		m.mu.Unlock()
		return newError(KindSessionNotReady, nil, "no open session")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	t, hist := m.beginTurnLocked(text)
	m.mu.Unlock()

	return m.runTurn(runCtx, cancel, sess, t, hist)
}

// Retry recovers from StateFailed. With a live session it replays the failed
// turn, dropping any partial reply; without one it restarts with the last
// profile.
func (m *SessionManager) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFailed {
		e := newError(KindSessionNotReady, nil, "nothing to retry while session is %s", m.state)
		m.mu.Unlock()
		return e
	}

	if m.session == nil || m.turn == nil {
		p := m.profile
		m.mu.Unlock()
		if p == nil {
			return newError(KindSessionNotReady, nil, "no profile to restart the session with")
		}
		log.Info().Str("component", "chat").Str("conv_id", m.convID).Msg("retrying session start")
		return m.Start(ctx, *p)
	}

	prev := m.turn
	m.history = m.history[:prev.userIndex+1]
	t := &turn{
		gen:        m.gen,
		utterance:  prev.utterance,
		userIndex:  prev.userIndex,
		modelIndex: -1,
	}
	m.turn = t
	m.lastErr = nil
	sess := m.session
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.setStateLocked(StateAwaitingResponse)
	m.publishHistoryLocked()
	hist := m.history.Clone()
	m.mu.Unlock()

	log.Info().Str("component", "chat").Str("conv_id", m.convID).Int("user_index", t.userIndex).Msg("retrying turn")
	return m.runTurn(runCtx, cancel, sess, t, hist)
}

// Interrupt cancels the in-flight open or turn. The interrupted operation
// fails and can be retried.
func (m *SessionManager) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Close invalidates the current session. In-flight operations return
// ErrSuperseded and their late fragments are dropped. A started manager is left
// in StateFailed, from which Retry reopens a session with the last profile.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supersedeLocked()
	if m.state == StateUninitialized {
		return
	}
	m.lastErr = newError(KindSessionNotReady, ErrSuperseded, "session closed")
	m.setStateLocked(StateFailed)
}

func (m *SessionManager) supersedeLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.session = nil
	m.turn = nil
}

// beginTurnLocked appends the user message and opens the turn accumulator. It
// returns the history snapshot handed to the remote client.
func (m *SessionManager) beginTurnLocked(utterance string) (*turn, History) {
	m.history = append(m.history, Message{Role: RoleUser, Content: utterance})
	t := &turn{
		gen:        m.gen,
		utterance:  utterance,
		userIndex:  len(m.history) - 1,
		modelIndex: -1,
	}
	m.turn = t
	m.setStateLocked(StateAwaitingResponse)
	m.publishHistoryLocked()
	return t, m.history.Clone()
}

func (m *SessionManager) runTurn(ctx context.Context, cancel context.CancelFunc, sess Session, t *turn, hist History) error {
	defer cancel()

	var streamErr error
	for fragment, err := range m.client.StreamTurn(ctx, sess, t.utterance, hist) {
		if err != nil {
			streamErr = err
			break
		}
		if !m.fold(t, fragment) {
			log.Debug().Str("component", "chat").Str("conv_id", m.convID).Msg("dropping fragments of superseded turn")
			return ErrSuperseded
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrentLocked(t) {
		return ErrSuperseded
	}
	m.cancel = nil
	if streamErr != nil {
		e := newError(KindStreamFailed, streamErr, "response stream failed after %d fragment(s)", t.fragments)
		m.failLocked(e)
		return e
	}

	m.turn = nil
	m.setStateLocked(StateReady)
	m.publishLocked(Event{Type: EventTurnCompleted, History: m.history.Clone()})
	log.Debug().Str("component", "chat").Str("conv_id", m.convID).Int("fragments", t.fragments).Msg("turn completed")
	return nil
}

// fold appends one fragment to the turn's reply. It returns false if the turn
// no longer belongs to the current session.
func (m *SessionManager) fold(t *turn, fragment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrentLocked(t) {
		return false
	}
	t.fragments++
	t.reply.WriteString(fragment)
	if t.modelIndex < 0 {
		m.history = append(m.history, Message{Role: RoleModel})
		t.modelIndex = len(m.history) - 1
	}
	m.history[t.modelIndex].Content = t.reply.String()
	m.publishHistoryLocked()
	return true
}

func (m *SessionManager) isCurrentLocked(t *turn) bool {
	return m.turn == t && t.gen == m.gen
}

func (m *SessionManager) failLocked(e *Error) {
	m.lastErr = e
	log.Error().Err(e.Err).Str("component", "chat").Str("conv_id", m.convID).
		Str("kind", string(e.Kind)).Bool("credential", e.Credential).Msg(e.Message)
	m.setStateLocked(StateFailed)
	m.publishLocked(Event{Type: EventError, Error: infoFromError(e), History: m.history.Clone()})
}

func (m *SessionManager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	log.Debug().Str("component", "chat").Str("conv_id", m.convID).
		Stringer("from", m.state).Stringer("to", s).Msg("state transition")
	m.state = s
	m.publishLocked(Event{Type: EventState})
}

func (m *SessionManager) publishHistoryLocked() {
	m.publishLocked(Event{Type: EventHistory, History: m.history.Clone()})
}

func (m *SessionManager) publishLocked(e Event) {
	if m.sink == nil {
		return
	}
	m.seq++
	e.ConvID = m.convID
	e.Seq = m.seq
	e.State = m.state
	e.Time = time.Now()
	if m.session != nil {
		e.SessionID = m.session.ID()
	}
	if m.profile != nil && e.Type != EventHistory {
		p := *m.profile
		e.Profile = &p
	}
	if err := m.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("conv_id", m.convID).Str("event", string(e.Type)).Msg("event sink failed")
	}
}
