package cmds

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/persistence/transcript"
)

func TestTranscriptMarkdown_SkipsBootstrapUtterance(t *testing.T) {
	md := TranscriptMarkdown(transcript.Snapshot{
		ConvID:    "c1",
		Profile:   &chat.Profile{Destination: "Lima", DateRange: "June", PartySize: 3, Budget: 900, Style: "slow", Interests: "ceviche"},
		State:     chat.StateFailed,
		LastError: "stream broke",
		UpdatedAt: time.Unix(0, 0),
		History: chat.History{
			{Role: chat.RoleUser, Content: "I am planning a trip..."},
			{Role: chat.RoleModel, Content: "Day 1: Miraflores"},
			{Role: chat.RoleUser, Content: "more food"},
		},
	})
	require.Contains(t, md, "# Trip to Lima")
	require.Contains(t, md, "- Travellers: 3")
	require.Contains(t, md, "**Last error:** stream broke")
	require.Contains(t, md, "## Planner\n\nDay 1: Miraflores")
	require.Contains(t, md, "## You\n\nmore food")
	require.NotContains(t, md, "I am planning")
}

func TestWriteSummaries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummaries(&buf, nil))
	require.Equal(t, "no transcripts\n", buf.String())

	buf.Reset()
	require.NoError(t, writeSummaries(&buf, []transcript.Summary{{
		ConvID: "c1", Destination: "Oslo", State: chat.StateReady, MessageCount: 2, UpdatedAt: time.Unix(0, 0).UTC(),
	}}))
	require.Contains(t, buf.String(), "c1  Oslo")
	require.Contains(t, buf.String(), "ready")
	require.Contains(t, buf.String(), "2 msgs")
}
