package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"
	"golang.org/x/term"

	"github.com/go-go-golems/itinerary/pkg/bootstrap"
	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/remote"
)

// PlainSession runs the line-oriented front-end. Replies are printed by a
// Printer registered as a sink on the controller.
type PlainSession struct {
	Ctrl        Controller
	Doc         *bootstrap.Document
	Credentials remote.CredentialSetter
	Profile     *chat.Profile
	In          io.Reader
	Out         io.Writer
	// ReadSecret reads an API key without echo. Defaults to term.ReadPassword
	// on stdin when stdin is a terminal.
	ReadSecret func() (string, error)

	ui *input.UI
	in *eofReader
}

// eofReader remembers that the underlying reader is exhausted; go-input
// reports EOF as an empty answer.
type eofReader struct {
	r   io.Reader
	eof bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.eof = true
	}
	return n, err
}

func (s *PlainSession) ask(query string, opts *input.Options) (string, error) {
	if s.ui == nil {
		s.in = &eofReader{r: s.In}
		s.ui = &input.UI{Writer: s.Out, Reader: s.in}
	}
	answer, err := s.ui.Ask(query, opts)
	if s.in.eof && answer == "" {
		return "", io.EOF
	}
	return answer, err
}

// AskProfile asks every profile question on the line, repeating a question
// until its answer is valid.
func (s *PlainSession) AskProfile() (chat.Profile, error) {
	answers := make(map[string]string, len(s.Doc.Questions))
	for _, q := range s.Doc.Questions {
		for {
			a, err := s.ask(q.Title, &input.Options{
				Required:     true,
				HideOrder:    true,
				ValidateFunc: q.ValidateAnswer,
			})
			if errors.Is(err, io.EOF) || errors.Is(err, input.ErrInterrupted) {
				return chat.Profile{}, errors.Wrapf(err, "ask %s", q.Field)
			}
			if err != nil {
				_, _ = fmt.Fprintf(s.Out, "  %s\n", err)
				continue
			}
			answers[q.Field] = a
			break
		}
	}
	return bootstrap.ProfileFromAnswers(answers)
}

// Run asks for the profile (unless set), starts the session and then reads
// one utterance per line until EOF or /quit.
func (s *PlainSession) Run(ctx context.Context) error {
	p := s.Profile
	if p == nil {
		answered, err := s.AskProfile()
		if err != nil {
			return err
		}
		p = &answered
	}
	_, _ = fmt.Fprintf(s.Out, "Planning a trip to %s. Type /retry after a failure, /quit to leave.\n", p.Destination)

	err := s.Ctrl.Start(ctx, *p)
	for {
		if err := s.handle(ctx, err); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		line, readErr := s.ask("you", &input.Options{HideOrder: true})
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, input.ErrInterrupted) {
				return nil
			}
			return errors.Wrap(readErr, "read input")
		}
		switch strings.TrimSpace(line) {
		case "":
			err = nil
		case "/quit", "/exit":
			return nil
		case "/retry":
			err = s.Ctrl.Retry(ctx)
		default:
			err = s.Ctrl.Send(ctx, line)
		}
	}
}

// handle reports an operation error. A credential failure prompts for a new
// key and retries; other failures are left for /retry.
func (s *PlainSession) handle(ctx context.Context, err error) error {
	for err != nil {
		if errors.Is(err, chat.ErrSuperseded) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			return nil
		}
		var ce *chat.Error
		if !errors.As(err, &ce) {
			return err
		}
		if ce.Kind == chat.KindSessionNotReady {
			_, _ = fmt.Fprintln(s.Out, ce.Error())
			return nil
		}
		if !ce.Credential || s.Credentials == nil {
			return nil
		}
		key, readErr := s.readSecret()
		if readErr != nil {
			log.Debug().Err(readErr).Str("component", "ui").Msg("no API key entered")
			return nil
		}
		s.Credentials.SetAPIKey(key)
		err = s.Ctrl.Retry(ctx)
	}
	return nil
}

func (s *PlainSession) readSecret() (string, error) {
	_, _ = fmt.Fprint(s.Out, "The API key was rejected. New API key (empty to skip): ")
	var (
		key string
		err error
	)
	switch {
	case s.ReadSecret != nil:
		key, err = s.ReadSecret()
	case isatty.IsTerminal(os.Stdin.Fd()):
		var b []byte
		b, err = term.ReadPassword(int(os.Stdin.Fd()))
		key = string(b)
	default:
		key, err = s.ask("", &input.Options{HideOrder: true})
	}
	_, _ = fmt.Fprintln(s.Out)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty API key")
	}
	return key, nil
}
