package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_FlagsAndEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ITINERARY_REDIS_ADDR", "redis:6379")

	root := &cobra.Command{Use: AppName}
	AddFlags(root)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--provider", "openai", "--transcript-db", "/tmp/t.db", "--scripted-delay", "20ms"}))

	// mirrors what clay.InitViper sets up
	viper.SetEnvPrefix(AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	require.NoError(t, viper.BindPFlags(root.PersistentFlags()))

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "openai", s.Remote.Provider)
	require.Equal(t, 20*time.Millisecond, s.Remote.ScriptedDelay)
	require.Equal(t, "redis:6379", s.Redis.Addr)
	require.Equal(t, "itinerary", s.Redis.Group)
	require.Equal(t, "/tmp/t.db", s.TranscriptDB)
	require.False(t, s.Redis.Enabled)
	require.Empty(t, s.LogFile)
}

func TestLoad_ConfigFileValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader("provider: scripted\nredis-enabled: true\nlog-file: /tmp/itinerary.log\n")))

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "scripted", s.Remote.Provider)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "/tmp/itinerary.log", s.LogFile)
}
