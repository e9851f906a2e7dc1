package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/remote/scripted"
)

const testTemplate = "Plan a trip to {destination} ({dateRange}) for {partySize} people, budget {budget}, style {style}, interests {interests}."

var testProfile = chat.Profile{
	Destination: "Tokyo",
	DateRange:   "3/1-3/5",
	PartySize:   2,
	Budget:      500000,
	Style:       "backpacking",
	Interests:   "food",
}

var testConfig = chat.SessionConfig{Model: "test-model", SystemInstruction: "be helpful", Temperature: ptr[float32](0.7)}

func ptr[T any](v T) *T { return &v }

type recordingSink struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recordingSink) PublishEvent(e chat.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) ofType(t chat.EventType) []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newManager(t *testing.T, client *scripted.Client) (*chat.SessionManager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	m := chat.NewSessionManager(client, testConfig, testTemplate, chat.WithSink(sink), chat.WithConversationID("conv-1"))
	return m, sink
}

func bootstrap() string {
	return chat.RenderBootstrap(testTemplate, testProfile)
}

func TestStart_StreamsBootstrapReply(t *testing.T) {
	client := scripted.New(scripted.WithTurns(scripted.Turn{Fragments: []string{"Hel", "lo!"}}))
	m, sink := newManager(t, client)
	require.Equal(t, chat.StateUninitialized, m.State())

	err := m.Start(context.Background(), testProfile)
	require.NoError(t, err)

	require.Equal(t, chat.StateReady, m.State())
	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: bootstrap()},
		{Role: chat.RoleModel, Content: "Hello!"},
	}, m.History())

	opened := client.Opened()
	require.Len(t, opened, 1)
	require.Equal(t, testConfig, opened[0])

	// one history event per fragment, each carrying the full history
	var partials []string
	for _, e := range sink.ofType(chat.EventHistory) {
		if last, ok := e.History.Last(); ok && last.Role == chat.RoleModel {
			partials = append(partials, last.Content)
		}
	}
	require.Equal(t, []string{"Hel", "Hello!"}, partials)
	require.Len(t, sink.ofType(chat.EventTurnCompleted), 1)
	for _, e := range sink.events {
		require.Equal(t, "conv-1", e.ConvID)
	}
}

func TestTurn_FoldsFragmentsIntoSingleMessage(t *testing.T) {
	cases := []struct {
		name      string
		fragments []string
		want      string
		wantModel bool
	}{
		{name: "none", fragments: nil, wantModel: false},
		{name: "single", fragments: []string{"Only"}, want: "Only", wantModel: true},
		{name: "many", fragments: []string{"a", "b", "", "c d", " e"}, want: "abc d e", wantModel: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := scripted.New(scripted.WithTurns(
				scripted.Turn{Fragments: []string{"intro"}},
				scripted.Turn{Fragments: tc.fragments},
			))
			m, _ := newManager(t, client)
			require.NoError(t, m.Start(context.Background(), testProfile))
			require.NoError(t, m.Send(context.Background(), "next"))
			require.Equal(t, chat.StateReady, m.State())

			h := m.History()
			if !tc.wantModel {
				require.Len(t, h, 3)
				require.Equal(t, chat.Message{Role: chat.RoleUser, Content: "next"}, h[2])
				return
			}
			require.Len(t, h, 4)
			require.Equal(t, chat.Message{Role: chat.RoleModel, Content: tc.want}, h[3])
		})
	}
}

func TestSend_NeverAppendsToPreviousTurn(t *testing.T) {
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"first ", "reply"}},
		scripted.Turn{Fragments: []string{"second ", "reply"}},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))
	require.NoError(t, m.Send(context.Background(), "Any cheap flights?"))

	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: bootstrap()},
		{Role: chat.RoleModel, Content: "first reply"},
		{Role: chat.RoleUser, Content: "Any cheap flights?"},
		{Role: chat.RoleModel, Content: "second reply"},
	}, m.History())

	calls := client.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "Any cheap flights?", calls[1].Utterance)
	// the full history including the new user message is supplied as context
	require.Len(t, calls[1].History, 3)
	require.Equal(t, calls[0].SessionID, calls[1].SessionID)
}

func TestSend_RejectedWhenNotReady(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		m, sink := newManager(t, scripted.New())
		err := m.Send(context.Background(), "hello")
		require.True(t, chat.IsKind(err, chat.KindSessionNotReady))
		require.Empty(t, m.History())
		require.Equal(t, chat.StateUninitialized, m.State())
		require.Empty(t, sink.events)
	})

	t.Run("while awaiting response", func(t *testing.T) {
		source := make(chan string)
		client := scripted.New(scripted.WithTurns(
			scripted.Turn{Fragments: []string{"ready"}},
			scripted.Turn{Source: source},
		))
		m, _ := newManager(t, client)
		require.NoError(t, m.Start(context.Background(), testProfile))

		done := make(chan error, 1)
		go func() { done <- m.Send(context.Background(), "first") }()
		require.Eventually(t, func() bool { return m.State() == chat.StateAwaitingResponse }, time.Second, time.Millisecond)

		before := m.History()
		err := m.Send(context.Background(), "Any cheap flights?")
		require.True(t, chat.IsKind(err, chat.KindSessionNotReady))
		require.Equal(t, before, m.History())
		require.Equal(t, chat.StateAwaitingResponse, m.State())

		source <- "ok"
		close(source)
		require.NoError(t, <-done)
		require.Equal(t, chat.StateReady, m.State())
	})
}

func TestStart_DropsFragmentsOfSupersededSession(t *testing.T) {
	stale := make(chan string)
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"old reply"}},
		scripted.Turn{Source: stale, IgnoreCancel: true},
		scripted.Turn{Fragments: []string{"New"}},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "in flight") }()
	require.Eventually(t, func() bool { return m.State() == chat.StateAwaitingResponse }, time.Second, time.Millisecond)

	osaka := testProfile
	osaka.Destination = "Osaka"
	require.NoError(t, m.Start(context.Background(), osaka))

	stale <- "late fragment"
	close(stale)
	require.ErrorIs(t, <-done, chat.ErrSuperseded)

	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: chat.RenderBootstrap(testTemplate, osaka)},
		{Role: chat.RoleModel, Content: "New"},
	}, m.History())
	require.Equal(t, chat.StateReady, m.State())
	require.Len(t, client.Opened(), 2)
}

func TestStart_CancelsInFlightStream(t *testing.T) {
	blocked := make(chan string)
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"hi"}},
		scripted.Turn{Source: blocked},
		scripted.Turn{Fragments: []string{"fresh"}},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "in flight") }()
	require.Eventually(t, func() bool { return m.State() == chat.StateAwaitingResponse }, time.Second, time.Millisecond)

	require.NoError(t, m.Start(context.Background(), testProfile))
	select {
	case err := <-done:
		require.ErrorIs(t, err, chat.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight stream was not cancelled")
	}
	require.Equal(t, "fresh", m.History()[1].Content)
}

func TestStreamFailure_RetainsPartialAndRetryRebuilds(t *testing.T) {
	boom := errors.New("connection reset")
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"Welcome"}},
		scripted.Turn{Fragments: []string{"Sure, "}, Err: boom},
		scripted.Turn{Fragments: []string{"Sure, ", "here are three."}},
	))
	m, sink := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	err := m.Send(context.Background(), "Any cheap flights?")
	require.True(t, chat.IsKind(err, chat.KindStreamFailed))
	require.ErrorIs(t, err, boom)
	require.Equal(t, chat.StateFailed, m.State())
	last, _ := m.History().Last()
	require.Equal(t, chat.Message{Role: chat.RoleModel, Content: "Sure, "}, last)
	require.NotNil(t, m.LastError())
	require.Equal(t, chat.KindStreamFailed, m.LastError().Kind)

	errEvents := sink.ofType(chat.EventError)
	require.Len(t, errEvents, 1)
	require.Equal(t, chat.KindStreamFailed, errEvents[0].Error.Kind)
	require.False(t, errEvents[0].Error.Credential)

	require.NoError(t, m.Retry(context.Background()))
	require.Equal(t, chat.StateReady, m.State())
	require.Nil(t, m.LastError())
	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: bootstrap()},
		{Role: chat.RoleModel, Content: "Welcome"},
		{Role: chat.RoleUser, Content: "Any cheap flights?"},
		{Role: chat.RoleModel, Content: "Sure, here are three."},
	}, m.History())

	calls := client.Calls()
	require.Len(t, calls, 3)
	require.Equal(t, "Any cheap flights?", calls[2].Utterance)
	require.Len(t, calls[2].History, 3)
	require.Len(t, client.Opened(), 1)
}

func TestStreamFailure_BeforeFirstFragment(t *testing.T) {
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Err: errors.New("503 unavailable")},
	))
	m, _ := newManager(t, client)

	err := m.Start(context.Background(), testProfile)
	require.True(t, chat.IsKind(err, chat.KindStreamFailed))
	require.Equal(t, chat.History{{Role: chat.RoleUser, Content: bootstrap()}}, m.History())
	require.NotEmpty(t, m.SessionID())

	client.AddTurns(scripted.Turn{Fragments: []string{"Back"}})
	require.NoError(t, m.Retry(context.Background()))
	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: bootstrap()},
		{Role: chat.RoleModel, Content: "Back"},
	}, m.History())
	// the bootstrap turn is replayed on the same session
	require.Len(t, client.Opened(), 1)
}

func TestRetry_AfterInitFailureRestartsOnce(t *testing.T) {
	client := scripted.New(
		scripted.WithOpenErrors(errors.New("dial tcp: connection refused")),
		scripted.WithTurns(scripted.Turn{Fragments: []string{"Hi there"}}),
	)
	m, _ := newManager(t, client)

	err := m.Start(context.Background(), testProfile)
	require.True(t, chat.IsKind(err, chat.KindSessionInitFailed))
	require.Equal(t, chat.StateFailed, m.State())
	require.Empty(t, m.History())
	require.Empty(t, m.SessionID())

	require.NoError(t, m.Retry(context.Background()))
	h := m.History()
	users := 0
	for _, msg := range h {
		if msg.Role == chat.RoleUser {
			users++
			require.Equal(t, bootstrap(), msg.Content)
		}
	}
	require.Equal(t, 1, users)
	require.Equal(t, chat.Message{Role: chat.RoleModel, Content: "Hi there"}, h[len(h)-1])
	require.Len(t, client.Opened(), 2)
}

func TestClose_SendRejectedAndRetryReopens(t *testing.T) {
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"Welcome"}},
		scripted.Turn{Fragments: []string{"Welcome back"}},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	m.Close()
	require.Equal(t, chat.StateFailed, m.State())
	require.Empty(t, m.SessionID())

	err := m.Send(context.Background(), "still there?")
	require.True(t, chat.IsKind(err, chat.KindSessionNotReady))
	require.Len(t, client.Calls(), 1)

	require.NoError(t, m.Retry(context.Background()))
	require.Equal(t, chat.StateReady, m.State())
	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: bootstrap()},
		{Role: chat.RoleModel, Content: "Welcome back"},
	}, m.History())
	require.Len(t, client.Opened(), 2)
}

func TestClose_DuringTurnLeavesRecoverableState(t *testing.T) {
	blocked := make(chan string)
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"hi"}},
		scripted.Turn{Source: blocked},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "in flight") }()
	require.Eventually(t, func() bool { return m.State() == chat.StateAwaitingResponse }, time.Second, time.Millisecond)

	m.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, chat.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight stream was not cancelled")
	}
	require.Equal(t, chat.StateFailed, m.State())
	require.True(t, chat.IsKind(m.Send(context.Background(), "again"), chat.KindSessionNotReady))
}

func TestClose_BeforeStartKeepsUninitialized(t *testing.T) {
	m, sink := newManager(t, scripted.New())
	m.Close()
	require.Equal(t, chat.StateUninitialized, m.State())
	require.Empty(t, sink.ofType(chat.EventState))
}

func TestRetry_RejectedUnlessFailed(t *testing.T) {
	m, _ := newManager(t, scripted.New())
	err := m.Retry(context.Background())
	require.True(t, chat.IsKind(err, chat.KindSessionNotReady))

	require.NoError(t, m.Start(context.Background(), testProfile))
	err = m.Retry(context.Background())
	require.True(t, chat.IsKind(err, chat.KindSessionNotReady))
}

func TestStart_RejectsIncompleteProfile(t *testing.T) {
	client := scripted.New()
	m, sink := newManager(t, client)

	p := testProfile
	p.Budget = 0
	err := m.Start(context.Background(), p)
	require.True(t, chat.IsKind(err, chat.KindInvalidProfileField))
	require.Equal(t, chat.StateUninitialized, m.State())
	require.Empty(t, client.Opened())
	require.Empty(t, sink.events)
}

func TestInitFailure_CredentialClassification(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		credential bool
	}{
		{name: "entity not found", err: errors.New("Error 404: Requested entity was not found."), credential: true},
		{name: "bad key", err: errors.New("googleapi: API key not valid. Please pass a valid API key."), credential: true},
		{name: "marked", err: chat.ErrCredential(errors.New("status 401")), credential: true},
		{name: "network", err: errors.New("dial tcp: i/o timeout"), credential: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := scripted.New(scripted.WithOpenErrors(tc.err))
			m, sink := newManager(t, client)

			err := m.Start(context.Background(), testProfile)
			var ce *chat.Error
			require.True(t, errors.As(err, &ce))
			require.Equal(t, chat.KindSessionInitFailed, ce.Kind)
			require.Equal(t, tc.credential, ce.Credential)
			require.Equal(t, tc.credential, chat.IsCredentialError(err))

			errEvents := sink.ofType(chat.EventError)
			require.Len(t, errEvents, 1)
			require.Equal(t, tc.credential, errEvents[0].Error.Credential)
			require.NotNil(t, errEvents[0].Profile)
		})
	}
}

func TestInterrupt_FailsTurnAndAllowsRetry(t *testing.T) {
	blocked := make(chan string)
	client := scripted.New(scripted.WithTurns(
		scripted.Turn{Fragments: []string{"hello"}},
		scripted.Turn{Source: blocked},
		scripted.Turn{Fragments: []string{"done"}},
	))
	m, _ := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "slow one") }()
	require.Eventually(t, func() bool { return m.State() == chat.StateAwaitingResponse }, time.Second, time.Millisecond)

	m.Interrupt()
	err := <-done
	require.True(t, chat.IsKind(err, chat.KindStreamFailed))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, chat.StateFailed, m.State())

	require.NoError(t, m.Retry(context.Background()))
	last, _ := m.History().Last()
	require.Equal(t, chat.Message{Role: chat.RoleModel, Content: "done"}, last)
}

func TestStateEvents_FollowLifecycle(t *testing.T) {
	client := scripted.New(scripted.WithTurns(scripted.Turn{Fragments: []string{"x"}}))
	m, sink := newManager(t, client)
	require.NoError(t, m.Start(context.Background(), testProfile))

	var states []chat.State
	for _, e := range sink.ofType(chat.EventState) {
		states = append(states, e.State)
	}
	require.Equal(t, []chat.State{
		chat.StateInitializing,
		chat.StateReady,
		chat.StateAwaitingResponse,
		chat.StateReady,
	}, states)

	var last uint64
	for _, e := range sink.events {
		require.Greater(t, e.Seq, last)
		last = e.Seq
	}
}
