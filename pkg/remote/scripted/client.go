// Package scripted provides a RemoteChatClient that replays canned replies.
// It backs the tests and the offline "scripted" provider.
package scripted

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Turn scripts the reply to one StreamTurn call.
type Turn struct {
	// Fragments are yielded in order.
	Fragments []string
	// Source, if set, is drained after Fragments until it is closed.
	Source <-chan string
	// Err ends the stream after all fragments have been yielded.
	Err error
	// Delay is waited before each fragment of Fragments.
	Delay time.Duration
	// IgnoreCancel keeps yielding after ctx is cancelled, like a misbehaving
	// transport would.
	IgnoreCancel bool
}

// Call records one StreamTurn invocation.
type Call struct {
	SessionID string
	Utterance string
	History   []chat.Message
}

type session struct{ id string }

func (s *session) ID() string { return s.id }

// Client replays scripted turns. When the script is exhausted, replies come
// from the fallback function.
type Client struct {
	mu       sync.Mutex
	openErrs []error
	turns    []Turn
	fallback func(utterance string) Turn
	opened   []chat.SessionConfig
	calls    []Call
}

var _ chat.RemoteChatClient = &Client{}

type Option func(*Client)

// WithTurns appends scripted turns, consumed one per StreamTurn call.
func WithTurns(turns ...Turn) Option {
	return func(c *Client) {
		c.turns = append(c.turns, turns...)
	}
}

// WithOpenErrors makes the next OpenSession calls fail with the given errors,
// in order. A nil entry lets that call succeed.
func WithOpenErrors(errs ...error) Option {
	return func(c *Client) {
		c.openErrs = append(c.openErrs, errs...)
	}
}

// WithFallback sets the reply used once the scripted turns are exhausted.
func WithFallback(f func(utterance string) Turn) Option {
	return func(c *Client) {
		c.fallback = f
	}
}

func New(opts ...Option) *Client {
	c := &Client{fallback: EchoReply(0)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddTurns appends more scripted turns.
func (c *Client) AddTurns(turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// FailNextOpen makes the next OpenSession call fail with err.
func (c *Client) FailNextOpen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErrs = append(c.openErrs, err)
}

// Opened returns the configurations of all OpenSession calls.
func (c *Client) Opened() []chat.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.SessionConfig(nil), c.opened...)
}

// Calls returns all recorded StreamTurn calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Client) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, cfg)
	if len(c.openErrs) > 0 {
		err := c.openErrs[0]
		c.openErrs = c.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{id: uuid.NewString()}, nil
}

func (c *Client) StreamTurn(ctx context.Context, s chat.Session, utterance string, history []chat.Message) iter.Seq2[string, error] {
	c.mu.Lock()
	c.calls = append(c.calls, Call{
		SessionID: s.ID(),
		Utterance: utterance,
		History:   append([]chat.Message(nil), history...),
	})
	var t Turn
	if len(c.turns) > 0 {
		t = c.turns[0]
		c.turns = c.turns[1:]
	} else {
		t = c.fallback(utterance)
	}
	c.mu.Unlock()

	return func(yield func(string, error) bool) {
		cancelled := func() bool {
			return !t.IgnoreCancel && ctx.Err() != nil
		}
		for _, f := range t.Fragments {
			if t.Delay > 0 {
				timer := time.NewTimer(t.Delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					if !t.IgnoreCancel {
						yield("", ctx.Err())
						return
					}
				}
			}
			if cancelled() {
				yield("", ctx.Err())
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if t.Source != nil {
			done := ctx.Done()
			if t.IgnoreCancel {
				done = nil
			}
		drain:
			for {
				select {
				case f, ok := <-t.Source:
					if !ok {
						break drain
					}
					if !yield(f, nil) {
						return
					}
				case <-done:
					yield("", ctx.Err())
					return
				}
			}
		}
		if t.Err != nil {
			yield("", t.Err)
		}
	}
}

// EchoReply returns a fallback that answers with a canned acknowledgement,
// streamed word by word with the given delay between words.
func EchoReply(delay time.Duration) func(string) Turn {
	return func(utterance string) Turn {
		first := strings.TrimSpace(strings.SplitN(utterance, "\n", 2)[0])
		if r := []rune(first); len(r) > 80 {
			first = string(r[:80]) + "..."
		}
		text := fmt.Sprintf("You said: %q. This is a scripted reply, configure a real provider to plan a trip.", first)
		words := strings.SplitAfter(text, " ")
		return Turn{Fragments: words, Delay: delay}
	}
}
