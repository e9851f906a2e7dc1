// Package config declares the itinerary flags and decodes them, together with
// ITINERARY_* environment variables and ~/.itinerary/config.yaml, into one
// Settings value. Viper, the config file and the logging flags are set up by
// clay.InitViper.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/itinerary/pkg/redisstream"
	"github.com/go-go-golems/itinerary/pkg/remote"
)

const AppName = "itinerary"

// Settings is everything the commands read from configuration.
type Settings struct {
	Remote remote.Settings      `mapstructure:",squash"`
	Redis  redisstream.Settings `mapstructure:",squash"`

	// Bootstrap is an optional YAML file overriding the embedded session document.
	Bootstrap string `mapstructure:"bootstrap"`
	// TranscriptDB is the sqlite file transcripts are saved to. Empty disables saving.
	TranscriptDB string `mapstructure:"transcript-db"`
	// LogFile is the --log-file flag registered by clay.
	LogFile string `mapstructure:"log-file"`
}

// Dir returns ~/.itinerary.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, "."+AppName)
}

// DefaultTranscriptDB is the transcript database used when none is configured.
func DefaultTranscriptDB() string { return filepath.Join(Dir(), "transcripts.db") }

// AddFlags registers the persistent flags shared by every command. It must run
// before clay.InitViper so that the flags get bound.
func AddFlags(rootCmd *cobra.Command) {
	pf := rootCmd.PersistentFlags()

	pf.String("provider", remote.ProviderGemini, "Chat provider (gemini, openai, scripted)")
	pf.String("api-key", "", "API key for the provider")
	pf.String("base-url", "", "Override the provider API endpoint")
	pf.Duration("scripted-delay", 0, "Delay between words of the scripted provider")

	rs := redisstream.DefaultSettings()
	pf.Bool("redis-enabled", rs.Enabled, "Carry events over Redis Streams")
	pf.String("redis-addr", rs.Addr, "Redis address host:port")
	pf.String("redis-group", rs.Group, "Redis consumer group")
	pf.String("redis-consumer", rs.Consumer, "Redis consumer name")

	pf.String("bootstrap", "", "YAML file overriding the session configuration and questions")
	pf.String("transcript-db", DefaultTranscriptDB(), "SQLite file for saved transcripts (empty to disable)")
}

// Load decodes the current viper state.
func Load() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	return s, nil
}
