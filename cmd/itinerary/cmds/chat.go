package cmds

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/config"
	"github.com/go-go-golems/itinerary/pkg/events"
	"github.com/go-go-golems/itinerary/pkg/ui"
)

type chatFlags struct {
	plain       bool
	destination string
	dates       string
	partySize   int
	budget      int
	style       string
	interests   string
}

// profile returns the profile given on the command line, or nil when the
// user should be asked.
func (f chatFlags) profile() (*chat.Profile, error) {
	if f.destination == "" && f.dates == "" && f.partySize == 0 && f.budget == 0 && f.style == "" && f.interests == "" {
		return nil, nil
	}
	p := chat.Profile{
		Destination: f.destination,
		DateRange:   f.dates,
		PartySize:   f.partySize,
		Budget:      f.budget,
		Style:       f.style,
		Interests:   f.interests,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func NewChatCommand() *cobra.Command {
	f := chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Plan a trip interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.profile()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			if f.plain || !isatty.IsTerminal(os.Stdout.Fd()) {
				return runPlain(ctx, a, p)
			}
			return runTUI(ctx, a, p)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.plain, "plain", false, "Line-oriented mode instead of the full-screen UI")
	fl.StringVar(&f.destination, "destination", "", "Trip destination")
	fl.StringVar(&f.dates, "dates", "", "Travel dates")
	fl.IntVar(&f.partySize, "party-size", 0, "Number of travellers")
	fl.IntVar(&f.budget, "budget", 0, "Total budget")
	fl.StringVar(&f.style, "style", "", "Travel style")
	fl.StringVar(&f.interests, "interests", "", "Interests")
	return cmd
}

func runPlain(ctx context.Context, a *app, p *chat.Profile) error {
	convID := uuid.NewString()
	topic := events.TopicForConv(convID)
	sink := events.NewMultiSink(
		ui.NewPrinter(os.Stdout),
		events.NewWatermillSink(a.transport.Publisher(), topic),
		a.transcriptSink(),
	)
	m := chat.NewSessionManager(a.client, a.doc.Session, a.doc.Template,
		chat.WithSink(sink), chat.WithConversationID(convID))
	defer m.Close()

	s := &ui.PlainSession{
		Ctrl:        m,
		Doc:         a.doc,
		Credentials: a.credentials(),
		Profile:     p,
		In:          os.Stdin,
		Out:         os.Stdout,
	}
	return s.Run(ctx)
}

func runTUI(ctx context.Context, a *app, p *chat.Profile) error {
	// the screen belongs to bubbletea
	if a.settings.LogFile == "" {
		viper.Set("log-file", filepath.Join(config.Dir(), "itinerary.log"))
		if err := clay.InitLogger(); err != nil {
			return err
		}
	}

	convID := uuid.NewString()
	topic := events.TopicForConv(convID)
	group := "tui-" + convID
	if err := a.transport.EnsureGroupAtTail(ctx, topic, group); err != nil {
		return err
	}
	sub, err := a.transport.Subscriber(group)
	if err != nil {
		return err
	}

	sink := events.NewMultiSink(events.NewWatermillSink(a.transport.Publisher(), topic), a.transcriptSink())
	m := chat.NewSessionManager(a.client, a.doc.Session, a.doc.Template,
		chat.WithSink(sink), chat.WithConversationID(convID))
	defer m.Close()

	opts := []ui.Option{}
	if c := a.credentials(); c != nil {
		opts = append(opts, ui.WithCredentials(c))
	}
	if p != nil {
		opts = append(opts, ui.WithProfile(*p))
	}

	eg, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(ui.New(ctx, m, a.doc, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	fwd := events.NewForwarder(sub, topic, ui.ForwardFunc(program))
	if err := fwd.Start(ctx); err != nil {
		return errors.Wrap(err, "subscribe to session events")
	}

	eg.Go(func() error { return fwd.Run(ctx) })
	eg.Go(func() error {
		defer cancel()
		_, err := program.Run()
		m.Close()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	err = eg.Wait()
	log.Debug().Str("component", "chat").Str("conv_id", convID).Msg("chat ended")
	return err
}
