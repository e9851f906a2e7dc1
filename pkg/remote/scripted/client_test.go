package scripted

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

func collect(t *testing.T, c *Client, s chat.Session, utterance string) string {
	t.Helper()
	var b strings.Builder
	for f, err := range c.StreamTurn(context.Background(), s, utterance, nil) {
		require.NoError(t, err)
		b.WriteString(f)
	}
	return b.String()
}

func TestEchoReply_TruncatesByRune(t *testing.T) {
	c := New()
	s, err := c.OpenSession(context.Background(), chat.SessionConfig{Model: "m"})
	require.NoError(t, err)

	reply := collect(t, c, s, strings.Repeat("東京", 60))
	require.True(t, utf8.ValidString(reply))
	require.Contains(t, reply, strings.Repeat("東京", 40)+"...")
}

func TestStreamTurn_ReplaysScriptThenFallback(t *testing.T) {
	c := New(WithTurns(Turn{Fragments: []string{"a", "b"}}))
	s, err := c.OpenSession(context.Background(), chat.SessionConfig{Model: "m"})
	require.NoError(t, err)

	require.Equal(t, "ab", collect(t, c, s, "first"))
	require.Contains(t, collect(t, c, s, "second"), `"second"`)

	calls := c.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, s.ID(), calls[0].SessionID)
}
