package cmds

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/config"
	"github.com/go-go-golems/itinerary/pkg/persistence/transcript"
)

func NewTranscriptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Inspect saved planning conversations",
	}
	cmd.AddCommand(newTranscriptsListCommand(), newTranscriptsShowCommand())
	return cmd
}

func openStore() (*transcript.Store, error) {
	s, err := config.Load()
	if err != nil {
		return nil, err
	}
	if s.TranscriptDB == "" {
		return nil, errors.New("no transcript database configured (--transcript-db)")
	}
	return transcript.OpenFile(s.TranscriptDB)
}

func newTranscriptsListCommand() *cobra.Command {
	var (
		limit       int
		since       time.Duration
		destination string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			q := transcript.Query{Limit: limit, Destination: destination}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			sums, err := store.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeSummaries(cmd.OutOrStdout(), sums)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of conversations")
	cmd.Flags().DurationVar(&since, "since", 0, "Only conversations updated within this duration")
	cmd.Flags().StringVar(&destination, "destination", "", "Filter by destination substring")
	return cmd
}

func writeSummaries(w io.Writer, sums []transcript.Summary) error {
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "no transcripts")
		return err
	}
	for _, s := range sums {
		dest := s.Destination
		if dest == "" {
			dest = "-"
		}
		_, err := fmt.Fprintf(w, "%s  %-20s  %-17s  %3d msgs  %s\n",
			s.ConvID, dest, s.State, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return nil
}

func newTranscriptsShowCommand() *cobra.Command {
	var (
		raw   bool
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "show <conv-id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snap, ok, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("transcript %s not found", args[0])
			}

			md := TranscriptMarkdown(snap)
			out := md
			if !raw {
				out, err = glamour.Render(md, "dark")
				if err != nil {
					return errors.Wrap(err, "render transcript")
				}
			}
			if _, err := fmt.Fprint(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if stats {
				return writeStats(cmd.OutOrStdout(), snap.History)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without rendering")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print token statistics")
	return cmd
}

// TranscriptMarkdown formats a stored conversation as markdown.
func TranscriptMarkdown(snap transcript.Snapshot) string {
	var sb strings.Builder
	title := "Trip plan"
	if snap.Profile != nil && snap.Profile.Destination != "" {
		title = "Trip to " + snap.Profile.Destination
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if p := snap.Profile; p != nil {
		fmt.Fprintf(&sb, "- Dates: %s\n- Travellers: %d\n- Budget: %d\n- Style: %s\n- Interests: %s\n\n",
			p.DateRange, p.PartySize, p.Budget, p.Style, p.Interests)
	}
	fmt.Fprintf(&sb, "_%s, updated %s_\n\n", snap.State, snap.UpdatedAt.Format(time.RFC1123))
	if snap.LastError != "" {
		fmt.Fprintf(&sb, "> **Last error:** %s\n\n", snap.LastError)
	}
	for i, m := range snap.History {
		if i == 0 && m.Role == chat.RoleUser {
			// bootstrap utterance is already summarized by the profile
			continue
		}
		who := "Planner"
		if m.Role == chat.RoleUser {
			who = "You"
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", who, strings.TrimSpace(m.Content))
	}
	return sb.String()
}

func writeStats(w io.Writer, h chat.History) error {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return errors.Wrap(err, "load token encoding")
	}
	var user, model int
	for _, m := range h {
		n := len(enc.Encode(m.Content, nil, nil))
		if m.Role == chat.RoleUser {
			user += n
		} else {
			model += n
		}
	}
	_, err = fmt.Fprintf(w, "Statistics:\n  Messages: %d\n  User tokens: %d\n  Planner tokens: %d\n", len(h), user, model)
	return err
}
