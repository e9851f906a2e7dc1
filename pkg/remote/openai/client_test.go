package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "x",
				"object":  "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": c}}},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamTurn_YieldsDeltas(t *testing.T) {
	srv := sseServer(t, []string{"Hel", "lo", "!"})
	defer srv.Close()

	c := New("sk-test", srv.URL)
	s, err := c.OpenSession(context.Background(), chat.SessionConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	var got []string
	for f, err := range c.StreamTurn(context.Background(), s, "hi", []chat.Message{{Role: chat.RoleUser, Content: "hi"}}) {
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Equal(t, []string{"Hel", "lo", "!"}, got)
}

func TestStreamTurn_StopsWhenConsumerBreaks(t *testing.T) {
	srv := sseServer(t, []string{"a", "b", "c"})
	defer srv.Close()

	c := New("sk-test", srv.URL)
	s, err := c.OpenSession(context.Background(), chat.SessionConfig{Model: "m"})
	require.NoError(t, err)

	n := 0
	for range c.StreamTurn(context.Background(), s, "hi", nil) {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestStreamTurn_UnauthorizedIsCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	c := New("sk-bad", srv.URL)
	s, err := c.OpenSession(context.Background(), chat.SessionConfig{Model: "m"})
	require.NoError(t, err)

	var streamErr error
	for _, err := range c.StreamTurn(context.Background(), s, "hi", nil) {
		streamErr = err
	}
	require.Error(t, streamErr)
	require.True(t, chat.IsCredentialError(streamErr))
}

func TestOpenSession_MissingKey(t *testing.T) {
	_, err := New("", "").OpenSession(context.Background(), chat.SessionConfig{Model: "m"})
	require.Error(t, err)
	require.True(t, chat.IsCredentialError(err))
}

func TestBuildRequest_MapsRolesAndSampling(t *testing.T) {
	req := BuildRequest(chat.SessionConfig{
		Model:             "gpt-4o",
		SystemInstruction: "plan trips",
		Temperature:       ptr[float32](0.5),
		TopP:              ptr[float32](0.9),
		MaxOutputTokens:   256,
	}, []chat.Message{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleModel, Content: "b"},
	})
	require.Equal(t, "gpt-4o", req.Model)
	require.True(t, req.Stream)
	require.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, "user", req.Messages[1].Role)
	require.Equal(t, "assistant", req.Messages[2].Role)
	require.InDelta(t, 0.5, req.Temperature, 0.0001)
}

func TestBuildRequest_KeepsExplicitZeroTemperature(t *testing.T) {
	req := BuildRequest(chat.SessionConfig{Model: "m", Temperature: ptr[float32](0)}, nil)
	require.Greater(t, req.Temperature, float32(0))
	require.Less(t, req.Temperature, float32(1e-30))
	require.Zero(t, req.TopP)

	unset := BuildRequest(chat.SessionConfig{Model: "m"}, nil)
	require.Zero(t, unset.Temperature)
}

func TestRetry_UsesReplacedAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		payload, _ := json.Marshal(map[string]any{
			"id":      "x",
			"object":  "chat.completion.chunk",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": "Konnichiwa"}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New("sk-bad", srv.URL)
	m := chat.NewSessionManager(c, chat.SessionConfig{Model: "m"}, "go to {destination}")
	profile := chat.Profile{Destination: "Tokyo", DateRange: "May", PartySize: 1, Budget: 100, Style: "slow", Interests: "food"}

	err := m.Start(context.Background(), profile)
	require.True(t, chat.IsKind(err, chat.KindStreamFailed))
	require.True(t, m.LastError().Credential)

	c.SetAPIKey("sk-good")
	require.NoError(t, m.Retry(context.Background()))
	require.Equal(t, chat.StateReady, m.State())
	require.Equal(t, chat.History{
		{Role: chat.RoleUser, Content: "go to Tokyo"},
		{Role: chat.RoleModel, Content: "Konnichiwa"},
	}, m.History())
}

func ptr[T any](v T) *T { return &v }
