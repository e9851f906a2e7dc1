// Package openai implements chat.RemoteChatClient for OpenAI-compatible chat
// completion endpoints. The endpoint is stateless: every turn sends the system
// instruction and the full history.
package openai

import (
	"context"
	"io"
	"iter"
	"math"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Client talks to an OpenAI-compatible API.
type Client struct {
	mu      sync.Mutex
	apiKey  string
	baseURL string
	client  *goopenai.Client
}

var _ chat.RemoteChatClient = &Client{}

// New creates a client. An empty baseURL uses the OpenAI default.
func New(apiKey, baseURL string) *Client {
	return &Client{apiKey: apiKey, baseURL: baseURL}
}

// SetAPIKey replaces the credential used for subsequent sessions.
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.client = nil
}

func (c *Client) sdk() (*goopenai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, chat.ErrCredential(errors.New("openai: no API key configured"))
	}
	cfg := goopenai.DefaultConfig(c.apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	c.client = goopenai.NewClientWithConfig(cfg)
	return c.client, nil
}

type session struct {
	id     string
	config chat.SessionConfig
	owner  *Client
}

func (s *session) ID() string { return s.id }

// OpenSession only validates the credential locally; the API has no session
// object to create.
func (c *Client) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	if _, err := c.sdk(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{id: uuid.NewString(), config: cfg, owner: c}, nil
}

// BuildRequest converts the session configuration and history into a
// streaming chat completion request.
func BuildRequest(cfg chat.SessionConfig, history []chat.Message) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if cfg.SystemInstruction != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: cfg.SystemInstruction,
		})
	}
	for _, m := range history {
		role := goopenai.ChatMessageRoleUser
		if m.Role == chat.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	req := goopenai.ChatCompletionRequest{
		Model:     cfg.Model,
		Messages:  msgs,
		MaxTokens: int(cfg.MaxOutputTokens),
		Stream:    true,
	}
	if cfg.Temperature != nil {
		req.Temperature = explicitZero(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		req.TopP = explicitZero(*cfg.TopP)
	}
	return req
}

// explicitZero maps 0 to the smallest positive float32, which go-openai sends
// instead of omitting the field.
func explicitZero(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func (c *Client) StreamTurn(ctx context.Context, s chat.Session, utterance string, history []chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sess, ok := s.(*session)
		if !ok {
			yield("", errors.Errorf("openai: foreign session %T", s))
			return
		}
		// resolved per turn so a key replaced after a credential failure is used on retry
		client, err := sess.owner.sdk()
		if err != nil {
			yield("", err)
			return
		}
		if len(history) == 0 {
			history = []chat.Message{{Role: chat.RoleUser, Content: utterance}}
		}
		stream, err := client.CreateChatCompletionStream(ctx, BuildRequest(sess.config, history))
		if err != nil {
			yield("", classify(errors.Wrap(err, "openai: opening stream")))
			return
		}
		defer func() {
			if err := stream.Close(); err != nil {
				log.Debug().Err(err).Str("component", "openai").Msg("closing stream")
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", classify(errors.Wrap(err, "openai: receiving chunk")))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return chat.ErrCredential(err)
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return chat.ErrCredential(err)
		}
	}
	if chat.IsCredentialError(err) {
		return chat.ErrCredential(err)
	}
	return err
}
