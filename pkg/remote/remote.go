// Package remote selects the RemoteChatClient implementation for a provider.
package remote

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/itinerary/pkg/chat"
	"github.com/go-go-golems/itinerary/pkg/remote/gemini"
	"github.com/go-go-golems/itinerary/pkg/remote/openai"
	"github.com/go-go-golems/itinerary/pkg/remote/scripted"
)

const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderScripted = "scripted"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api-key"`
	BaseURL  string `mapstructure:"base-url"`
	// ScriptedDelay paces the word-by-word replies of the scripted provider.
	ScriptedDelay time.Duration `mapstructure:"scripted-delay"`
}

// CredentialSetter is implemented by clients whose API key can be replaced
// after a credential failure.
type CredentialSetter interface {
	SetAPIKey(apiKey string)
}

// New builds the client for s.Provider. When no API key is configured the
// provider's conventional environment variable is consulted.
func New(s Settings) (chat.RemoteChatClient, error) {
	switch strings.ToLower(s.Provider) {
	case ProviderGemini, "":
		key := firstNonEmpty(s.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		return gemini.New(key, gemini.WithBaseURL(s.BaseURL)), nil
	case ProviderOpenAI:
		key := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		return openai.New(key, s.BaseURL), nil
	case ProviderScripted:
		return scripted.New(scripted.WithFallback(scripted.EchoReply(s.ScriptedDelay))), nil
	default:
		return nil, errors.Errorf("unsupported provider %q", s.Provider)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
