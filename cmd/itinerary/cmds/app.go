// Package cmds holds the itinerary subcommands.
package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/itinerary/pkg/bootstrap"
	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/config"
	"github.com/go-go-golems/itinerary/pkg/persistence/transcript"
	"github.com/go-go-golems/itinerary/pkg/redisstream"
	"github.com/go-go-golems/itinerary/pkg/remote"
)

// app bundles what every command that talks to the planner needs.
type app struct {
	settings  config.Settings
	doc       *bootstrap.Document
	client    chat.RemoteChatClient
	transport *redisstream.Transport
	store     *transcript.Store
}

func newApp() (*app, error) {
	s, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{settings: s}

	if s.Bootstrap != "" {
		a.doc, err = bootstrap.Load(s.Bootstrap)
	} else {
		a.doc, err = bootstrap.Default()
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session configuration")
	}

	a.client, err = remote.New(s.Remote)
	if err != nil {
		return nil, err
	}

	a.transport, err = redisstream.Build(s.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "build event transport")
	}

	if s.TranscriptDB != "" {
		if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
			log.Warn().Err(err).Str("component", "app").Msg("could not create config directory")
		}
		a.store, err = transcript.OpenFile(s.TranscriptDB)
		if err != nil {
			_ = a.transport.Close()
			return nil, errors.Wrap(err, "open transcript store")
		}
	}
	return a, nil
}

// transcriptSink is nil when transcripts are disabled.
func (a *app) transcriptSink() chat.EventSink {
	if a.store == nil {
		return nil
	}
	return transcript.NewSink(a.store)
}

func (a *app) credentials() remote.CredentialSetter {
	c, _ := a.client.(remote.CredentialSetter)
	return c
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Str("component", "app").Msg("closing transcript store")
		}
	}
	if err := a.transport.Close(); err != nil {
		log.Warn().Err(err).Str("component", "app").Msg("closing event transport")
	}
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
