// Package gemini implements chat.RemoteChatClient on top of the Gemini API
// chat sessions. Conversation memory lives in the SDK chat object, so the
// history passed to StreamTurn is only used to rebuild that object after the
// API key was replaced.
package gemini

import (
	"context"
	"iter"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Client opens Gemini chat sessions.
type Client struct {
	mu      sync.Mutex
	apiKey  string
	baseURL string
	client  *genai.Client
}

var _ chat.RemoteChatClient = &Client{}

type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// New creates a client for the Gemini Developer API. The underlying SDK client
// is created lazily so that a missing key only fails when a session is opened.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetAPIKey replaces the credential used for subsequent turns.
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.client = nil
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, chat.ErrCredential(errors.New("gemini: no API key configured"))
	}
	cfg := &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "gemini: creating client")
	}
	c.client = client
	return client, nil
}

type session struct {
	id     string
	config chat.SessionConfig

	mu   sync.Mutex
	sdk  *genai.Client
	chat *genai.Chat
}

func (s *session) ID() string { return s.id }

// GenerateConfig maps a chat.SessionConfig onto the SDK configuration.
func GenerateConfig(cfg chat.SessionConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Temperature != nil {
		gc.Temperature = genai.Ptr(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		gc.TopP = genai.Ptr(*cfg.TopP)
	}
	if cfg.TopK != nil {
		gc.TopK = genai.Ptr(float32(*cfg.TopK))
	}
	if cfg.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = cfg.MaxOutputTokens
	}
	return gc
}

// Contents converts chat history into SDK contents.
func Contents(history []chat.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func (c *Client) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := client.Chats.Create(ctx, cfg.Model, GenerateConfig(cfg), nil)
	if err != nil {
		return nil, classify(errors.Wrap(err, "gemini: creating chat"))
	}
	s := &session{id: uuid.NewString(), config: cfg, sdk: client, chat: ch}
	log.Debug().Str("component", "gemini").Str("session_id", s.id).Str("model", cfg.Model).Msg("chat created")
	return s, nil
}

// chatFor returns the session's chat, recreated from history when the API key
// changed since it was opened.
func (c *Client) chatFor(ctx context.Context, s *session, utterance string, history []chat.Message) (*genai.Chat, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if client == s.sdk {
		return s.chat, nil
	}

	prior := history
	if n := len(prior); n > 0 && prior[n-1].Role == chat.RoleUser && prior[n-1].Content == utterance {
		prior = prior[:n-1]
	}
	ch, err := client.Chats.Create(ctx, s.config.Model, GenerateConfig(s.config), Contents(prior))
	if err != nil {
		return nil, classify(errors.Wrap(err, "gemini: recreating chat"))
	}
	log.Debug().Str("component", "gemini").Str("session_id", s.id).Int("history", len(prior)).Msg("chat recreated with new credentials")
	s.sdk, s.chat = client, ch
	return ch, nil
}

func (c *Client) StreamTurn(ctx context.Context, s chat.Session, utterance string, history []chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		gs, ok := s.(*session)
		if !ok {
			yield("", errors.Errorf("gemini: foreign session %T", s))
			return
		}
		ch, err := c.chatFor(ctx, gs, utterance, history)
		if err != nil {
			yield("", err)
			return
		}
		for resp, err := range ch.SendMessageStream(ctx, genai.Part{Text: utterance}) {
			if err != nil {
				yield("", classify(errors.Wrap(err, "gemini: streaming reply")))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// classify marks errors that the Gemini API returns for rejected keys or
// unknown models so the session manager reports them as credential failures.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && credentialStatus(apiErr.Code) {
		return chat.ErrCredential(err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && credentialStatus(apiErrPtr.Code) {
		return chat.ErrCredential(err)
	}
	if chat.IsCredentialError(err) {
		return chat.ErrCredential(err)
	}
	return err
}

func credentialStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
